package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Expectations describes what a production deployment is supposed to look
// like. Values absent from the YAML file keep their defaults.
type Expectations struct {
	APIPort       int      `yaml:"api_port"`
	DBName        string   `yaml:"db_name"`
	DBUser        string   `yaml:"db_user"`
	Tables        []string `yaml:"tables"`
	EventTypes    []string `yaml:"event_types"`
	Dependencies  []string `yaml:"dependencies"`   // Paths that prove dependencies are installed
	RequiredFiles []string `yaml:"required_files"` // Paths relative to the service dir
}

func DefaultExpectations() Expectations {
	return Expectations{
		APIPort: DefaultAPIPort,
		DBName:  DefaultDBName,
		DBUser:  DefaultDBUser,
		Tables: []string{
			"indexer_version",
			"block_hashes",
			"events",
			"event_types",
			"historic_balances",
		},
		EventTypes: []string{
			"deploy-inscribe",
			"mint-inscribe",
			"transfer-inscribe",
			"transfer-transfer",
		},
		Dependencies:  []string{"package.json", "node_modules"},
		RequiredFiles: []string{"api.js", "package.json", ".env", "tests/test_config.js"},
	}
}

// LoadExpectations reads path on top of the defaults. An empty path returns
// the defaults.
func LoadExpectations(path string) (Expectations, error) {
	exp := DefaultExpectations()
	if path == "" {
		return exp, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return Expectations{}, fmt.Errorf("failed to read expectations file: %w", err)
	}
	if err := yaml.Unmarshal(contents, &exp); err != nil {
		return Expectations{}, fmt.Errorf("failed to parse expectations file %s: %w", path, err)
	}
	if err := exp.Validate(); err != nil {
		return Expectations{}, fmt.Errorf("invalid expectations file %s: %w", path, err)
	}
	return exp, nil
}

func (e Expectations) Validate() error {
	if e.APIPort <= 0 || e.APIPort > 65535 {
		return fmt.Errorf("api_port %d out of range", e.APIPort)
	}
	if e.DBName == "" {
		return fmt.Errorf("db_name is required")
	}
	if e.DBUser == "" {
		return fmt.Errorf("db_user is required")
	}
	if len(e.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}
	return nil
}
