package checks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/opi-lc/opi-verifier/apiclient"
	"github.com/opi-lc/opi-verifier/config"
	"github.com/opi-lc/opi-verifier/db"
	"github.com/opi-lc/opi-verifier/poller"
	"github.com/opi-lc/opi-verifier/supervisor"
	"github.com/opi-lc/opi-verifier/types"
)

const (
	readyScript  = `echo "api listening on port $PORT"; exec sleep 30`
	silentScript = `echo "connecting to database"; exec sleep 30`
	chainTip     = 850000
)

// fakeAPI implements the documented HTTP contract of the BRC-20 API.
type fakeAPI struct {
	mu        sync.Mutex
	overrides map[string]func(w http.ResponseWriter, r *http.Request)

	ipCalls  atomic.Int32
	failIPAt atomic.Int32 // 1-based call number of the ip endpoint that returns 500

	// down reports whether the service behind the API has been stopped.
	// Requests then have their connection dropped.
	down func() bool
}

func (f *fakeAPI) override(endpoint string, h func(w http.ResponseWriter, r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overrides == nil {
		f.overrides = make(map[string]func(w http.ResponseWriter, r *http.Request))
	}
	f.overrides[endpoint] = h
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.down != nil && f.down() {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		http.Error(w, "service stopped", http.StatusServiceUnavailable)
		return
	}
	endpoint, ok := strings.CutPrefix(r.URL.Path, config.DefaultAPIPrefix+"/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	f.mu.Lock()
	h := f.overrides[endpoint]
	f.mu.Unlock()
	if h != nil {
		h(w, r)
		return
	}

	q := r.URL.Query()
	switch endpoint {
	case apiclient.EndpointIP:
		if n, at := f.ipCalls.Add(1), f.failIPAt.Load(); at > 0 && n == at {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "127.0.0.1")
	case apiclient.EndpointDBVersion:
		fmt.Fprint(w, "3")
	case apiclient.EndpointEventHashVersion:
		fmt.Fprint(w, "2")
	case apiclient.EndpointBlockHeight:
		fmt.Fprint(w, strconv.Itoa(chainTip))
	case apiclient.EndpointBalanceOnBlock:
		if q.Get("block_height") == "" || q.Get("pkscript") == "" || q.Get("ticker") == "" {
			http.Error(w, "missing parameters", http.StatusBadRequest)
			return
		}
		if !validHeight(q.Get("block_height")) {
			http.Error(w, "block_height out of range", http.StatusBadRequest)
			return
		}
		// no balance data for the sample ticker
		http.Error(w, "no data", http.StatusBadRequest)
	case apiclient.EndpointCurrentBalance:
		if q.Get("address") == "" || q.Get("ticker") == "" {
			http.Error(w, "missing parameters", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"error":null,"result":{"overall_balance":"0"}}`)
	case apiclient.EndpointActivityOnBlock:
		if !validHeight(q.Get("block_height")) {
			http.Error(w, "invalid block height", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error":null,"result":[]}`)
	default:
		http.NotFound(w, r)
	}
}

func validHeight(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0 && n <= chainTip
}

// fakeDB is an in-memory Prober.
type fakeDB struct {
	tables     map[string]bool
	version    db.IndexerVersion
	eventTypes []string
	rowCounts  map[string]int64
	connectErr error
}

var _ db.Prober = (*fakeDB)(nil)

func newHealthyDB() *fakeDB {
	tables := make(map[string]bool)
	for _, suffix := range config.DefaultExpectations().Tables {
		tables[config.DefaultTablePrefix+"_"+suffix] = true
	}
	return &fakeDB{
		tables:     tables,
		version:    db.IndexerVersion{DBVersion: 3, EventHashVersion: 2},
		eventTypes: []string{"deploy-inscribe", "mint-inscribe", "transfer-inscribe", "transfer-transfer"},
	}
}

func (f *fakeDB) Now(ctx context.Context) (time.Time, error) {
	if f.connectErr != nil {
		return time.Time{}, f.connectErr
	}
	return time.Now(), nil
}

func (f *fakeDB) TableExists(ctx context.Context, table string) (bool, error) {
	if f.connectErr != nil {
		return false, f.connectErr
	}
	return f.tables[table], nil
}

func (f *fakeDB) IndexerVersion(ctx context.Context) (db.IndexerVersion, error) {
	if f.connectErr != nil {
		return db.IndexerVersion{}, f.connectErr
	}
	return f.version, nil
}

func (f *fakeDB) EventTypes(ctx context.Context) ([]string, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.eventTypes, nil
}

func (f *fakeDB) RowCount(ctx context.Context, table string) (int64, error) {
	if f.connectErr != nil {
		return 0, f.connectErr
	}
	if !f.tables[table] {
		return 0, types.NewSchemaError("relation %q does not exist", table)
	}
	return f.rowCounts[table], nil
}

func (f *fakeDB) Close() {}

type fixtureOpts struct {
	env          []string // Extra or overriding KEY=VALUE pairs
	dropEnv      []string
	script       string
	startup      time.Duration
	secretsMode  os.FileMode
	skipFiles    []string
	apiURL       string // Overrides the fake API
	loadRequests int
}

type fixture struct {
	suite *Suite
	cfg   *config.Config
	api   *fakeAPI
	db    *fakeDB
	sup   *supervisor.Supervisor
	dir   string
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	logger := log.NewLogger(log.DiscardHandler())

	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	apiURL := srv.URL
	if opts.apiURL != "" {
		apiURL = opts.apiURL
	}

	dir := t.TempDir()
	files := map[string]string{
		"api.js":               "require('express')",
		"package.json":         `{"name":"brc20-api"}`,
		".env":                 "API_KEY=from-secrets-file\n",
		"tests/test_config.js": "module.exports = {}",
		"node_modules/.keep":   "",
	}
	skip := make(map[string]bool)
	for _, f := range opts.skipFiles {
		skip[f] = true
	}
	for name, content := range files {
		if skip[name] {
			continue
		}
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	if opts.secretsMode != 0 && !skip[".env"] {
		require.NoError(t, os.Chmod(filepath.Join(dir, ".env"), opts.secretsMode))
	}

	envPairs := []string{
		"PATH=" + os.Getenv("PATH"),
		"DB_HOST=db.internal",
		"DB_NAME=opi_lc",
		"DB_USER=indexer",
		"DB_PASSWD=hunter2",
		"API_BASE_URL=" + apiURL,
	}
	env := config.EnvFromList(append(envPairs, opts.env...))
	for _, k := range opts.dropEnv {
		delete(env, k)
	}

	script := opts.script
	if script == "" {
		script = readyScript
	}
	startup := opts.startup
	if startup == 0 {
		startup = 5 * time.Second
	}

	cfg, err := config.Resolve(env, config.Options{
		ServiceDir:     dir,
		ServiceCommand: "/bin/sh",
		ServiceArgs:    []string{"-c", script},
		LoadRequests:   opts.loadRequests,
		Timeouts: config.Timeouts{
			Startup:      startup,
			PollInterval: 10 * time.Millisecond,
			PollDeadline: 300 * time.Millisecond,
			Grace:        time.Second,
			Request:      2 * time.Second,
		},
	})
	require.NoError(t, err)

	fdb := newHealthyDB()
	sup := supervisor.New(supervisor.Config{Log: logger, Output: &strings.Builder{}})
	t.Cleanup(func() {
		_ = sup.StopAll(context.Background(), 100*time.Millisecond)
	})

	suite := NewSuite(Deps{
		Config:       cfg,
		Expectations: config.DefaultExpectations(),
		Supervisor:   sup,
		Poller:       poller.New(poller.Config{Log: logger}),
		API: apiclient.New(apiclient.Config{
			BaseURL:    cfg.API.BaseURL,
			PathPrefix: cfg.API.PathPrefix,
			Timeout:    cfg.Timeouts.Request,
			Log:        logger,
		}),
		DB:  fdb,
		Log: logger,
	})
	// the API only answers while the service started by the suite is up
	api.down = func() bool {
		h := suite.currentHandle()
		return h != nil && h.State() != supervisor.StateReady
	}
	return &fixture{suite: suite, cfg: cfg, api: api, db: fdb, sup: sup, dir: dir}
}

// failures maps failed check names to their kinds.
func failures(phases []types.PhaseResult) map[string]types.ErrorKind {
	out := make(map[string]types.ErrorKind)
	for _, p := range phases {
		for _, r := range p.Failures() {
			out[r.Name] = r.Kind
		}
	}
	return out
}
