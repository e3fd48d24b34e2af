// Package config resolves the runtime settings of a verification run into
// a single immutable value.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by Resolve.
const (
	EnvDBHost      = "DB_HOST"
	EnvDBPort      = "DB_PORT"
	EnvDBName      = "DB_NAME"
	EnvDBUser      = "DB_USER"
	EnvDBPassword  = "DB_PASSWD"
	EnvAPIHost     = "API_HOST"
	EnvAPIPort     = "API_PORT"
	EnvAPIBaseURL  = "API_BASE_URL"
	EnvSecretsFile = "SECRETS_FILE"
)

// RequiredEnv lists the variables that must be present for the database
// dependent checks to make sense.
var RequiredEnv = []string{EnvDBHost, EnvDBName, EnvDBUser, EnvDBPassword}

const (
	DefaultDBHost       = "localhost"
	DefaultDBPort       = 5432
	DefaultDBName       = "opi_lc"
	DefaultDBUser       = "indexer"
	DefaultAPIHost      = "127.0.0.1"
	DefaultAPIPort      = 3003
	DefaultAPIPrefix    = "/v1/brc20"
	DefaultTablePrefix  = "brc20"
	DefaultSecretsName  = ".env"

	DefaultVerifyLoadRequests = 10
	DefaultTestLoadRequests   = 5
)

// Env is a snapshot of environment variables.
type Env map[string]string

// EnvFromOS snapshots the current process environment.
func EnvFromOS() Env {
	return EnvFromList(os.Environ())
}

// EnvFromList parses KEY=VALUE pairs.
func EnvFromList(pairs []string) Env {
	env := make(Env, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	return env
}

// Timeouts groups the local deadlines of a run. There is no global run timeout.
type Timeouts struct {
	Startup      time.Duration // Wait for the readiness marker
	PollInterval time.Duration // Delay between health probes
	PollDeadline time.Duration // Give up health polling after this
	Grace        time.Duration // Wait for the service to exit after SIGTERM
	Request      time.Duration // Per HTTP request
	Connection   time.Duration // Database connect/ping
}

// DefaultTimeouts mirrors the values the deployment scripts have always used.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Startup:      30 * time.Second,
		PollInterval: 100 * time.Millisecond,
		PollDeadline: 10 * time.Second,
		Grace:        2 * time.Second,
		Request:      10 * time.Second,
		Connection:   5 * time.Second,
	}
}

type DBConfig struct {
	Host        string
	Port        int
	Name        string
	User        string
	Password    string
	TablePrefix string
}

// DSN returns a postgres connection URI.
func (d DBConfig) DSN(connectTimeout time.Duration) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if connectTimeout > 0 {
		q := url.Values{}
		q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Table returns the fully qualified table name for suffix.
func (d DBConfig) Table(suffix string) string {
	if d.TablePrefix == "" {
		return suffix
	}
	return d.TablePrefix + "_" + suffix
}

type APIConfig struct {
	Host       string
	Port       int
	BaseURL    string
	PathPrefix string
}

// ServiceConfig describes how to spawn the service under test.
type ServiceConfig struct {
	Command      string
	Args         []string
	Dir          string
	ReadyMarkers []string
}

// Config holds every setting of a run. It is created once by Resolve and
// must not be mutated afterwards.
type Config struct {
	DB           DBConfig
	API          APIConfig
	Service      ServiceConfig
	SecretsFile  string
	Timeouts     Timeouts
	LoadRequests int // Zero selects the default of the plan

	env     Env
	missing []string
}

// Options carries the flag-level inputs of Resolve.
type Options struct {
	ServiceDir     string
	ServiceCommand string
	ServiceArgs    []string
	ReadyMarkers   []string
	SecretsFile    string
	APIPathPrefix  string
	TablePrefix    string
	LoadRequests   int
	Timeouts       Timeouts
}

// Resolve builds a Config from env. An explicit opts.SecretsFile wins over
// SECRETS_FILE. Values from the secrets file are used
// as fallbacks and never override env. Absent required variables do not
// fail resolution; they are reported by Missing so that the checks needing
// them can fail on their own.
func Resolve(env Env, opts Options) (*Config, error) {
	serviceDir := opts.ServiceDir
	if serviceDir == "" {
		serviceDir = "."
	}
	absDir, err := filepath.Abs(serviceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve service dir %q: %w", serviceDir, err)
	}

	secretsFile := opts.SecretsFile
	if secretsFile == "" {
		secretsFile = env[EnvSecretsFile]
	}
	if secretsFile == "" {
		secretsFile = filepath.Join(absDir, DefaultSecretsName)
	}

	merged, err := mergeSecrets(env, secretsFile)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SecretsFile:  secretsFile,
		Timeouts:     withDefaultTimeouts(opts.Timeouts),
		LoadRequests: opts.LoadRequests,
		env:          merged,
	}
	if cfg.LoadRequests < 0 {
		return nil, fmt.Errorf("load requests must not be negative, got %d", cfg.LoadRequests)
	}

	for _, key := range RequiredEnv {
		if merged[key] == "" {
			cfg.missing = append(cfg.missing, key)
		}
	}

	dbPort, err := intValue(merged, EnvDBPort, DefaultDBPort)
	if err != nil {
		return nil, err
	}
	cfg.DB = DBConfig{
		Host:        stringValue(merged, EnvDBHost, DefaultDBHost),
		Port:        dbPort,
		Name:        stringValue(merged, EnvDBName, DefaultDBName),
		User:        stringValue(merged, EnvDBUser, DefaultDBUser),
		Password:    merged[EnvDBPassword],
		TablePrefix: opts.TablePrefix,
	}
	if cfg.DB.TablePrefix == "" {
		cfg.DB.TablePrefix = DefaultTablePrefix
	}

	apiPort, err := intValue(merged, EnvAPIPort, DefaultAPIPort)
	if err != nil {
		return nil, err
	}
	apiHost := stringValue(merged, EnvAPIHost, DefaultAPIHost)
	baseURL := merged[EnvAPIBaseURL]
	if baseURL == "" {
		baseURL = "http://" + net.JoinHostPort(apiHost, strconv.Itoa(apiPort))
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", EnvAPIBaseURL, baseURL, err)
	}
	cfg.API = APIConfig{
		Host:       apiHost,
		Port:       apiPort,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		PathPrefix: opts.APIPathPrefix,
	}
	if cfg.API.PathPrefix == "" {
		cfg.API.PathPrefix = DefaultAPIPrefix
	}

	cfg.Service = ServiceConfig{
		Command:      opts.ServiceCommand,
		Args:         append([]string(nil), opts.ServiceArgs...),
		Dir:          absDir,
		ReadyMarkers: append([]string(nil), opts.ReadyMarkers...),
	}
	if cfg.Service.Command == "" {
		cfg.Service.Command = "node"
		if len(cfg.Service.Args) == 0 {
			cfg.Service.Args = []string{"api.js"}
		}
	}
	if len(cfg.Service.ReadyMarkers) == 0 {
		cfg.Service.ReadyMarkers = []string{"listening", "started"}
	}

	return cfg, nil
}

// Missing returns the required variables that were absent, in RequiredEnv order.
func (c *Config) Missing() []string {
	return append([]string(nil), c.missing...)
}

// Lookup returns the resolved value of an environment variable.
func (c *Config) Lookup(key string) (string, bool) {
	v, ok := c.env[key]
	return v, ok
}

// SensitiveVars returns the sorted names of variables that look like they
// hold secrets.
func (c *Config) SensitiveVars() []string {
	var names []string
	for k := range c.env {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "pass") || strings.Contains(lower, "secret") || strings.Contains(lower, "key") {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// ServiceEnv returns the environment for the spawned service: the resolved
// environment plus the listen port and test mode overrides.
func (c *Config) ServiceEnv() []string {
	overrides := map[string]string{
		"PORT":     strconv.Itoa(c.API.Port),
		"NODE_ENV": "test",
	}
	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		if _, ok := overrides[k]; !ok {
			keys = append(keys, k)
		}
	}
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := overrides[k]
		if !ok {
			v = c.env[k]
		}
		out = append(out, k+"="+v)
	}
	return out
}

// URL joins the API base URL, the path prefix and an endpoint name.
func (c *Config) URL(endpoint string) string {
	return c.API.BaseURL + c.API.PathPrefix + "/" + strings.TrimLeft(endpoint, "/")
}

func mergeSecrets(env Env, path string) (Env, error) {
	merged := make(Env, len(env))
	for k, v := range env {
		merged[k] = v
	}
	secrets, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return merged, nil
		}
		return nil, fmt.Errorf("failed to parse secrets file %s: %w", path, err)
	}
	for k, v := range secrets {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return merged, nil
}

func stringValue(env Env, key, def string) string {
	if v := env[key]; v != "" {
		return v
	}
	return def
}

func intValue(env Env, key string, def int) (int, error) {
	v := env[key]
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, v)
	}
	return n, nil
}

func withDefaultTimeouts(t Timeouts) Timeouts {
	d := DefaultTimeouts()
	if t.Startup <= 0 {
		t.Startup = d.Startup
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.PollDeadline <= 0 {
		t.PollDeadline = d.PollDeadline
	}
	if t.Grace <= 0 {
		t.Grace = d.Grace
	}
	if t.Request <= 0 {
		t.Request = d.Request
	}
	if t.Connection <= 0 {
		t.Connection = d.Connection
	}
	return t
}
