package checks

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/opi-lc/opi-verifier/runner"
	"github.com/opi-lc/opi-verifier/types"
)

// EnvironmentVariables fails when any required variable is absent.
func (s *Suite) EnvironmentVariables() runner.Check {
	return runner.Check{
		Name: "Environment Variables",
		Run: func(ctx context.Context) error {
			if missing := s.cfg.Missing(); len(missing) > 0 {
				return types.NewConfigError("missing required environment variables: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func (s *Suite) DatabaseConnection() runner.Check {
	return runner.Check{
		Name: "Database Connection",
		Run: func(ctx context.Context) error {
			if err := s.requireDB(); err != nil {
				return err
			}
			now, err := s.db.Now(ctx)
			if err != nil {
				return err
			}
			s.log.Debug("Database connected", "server_time", now)
			return nil
		},
	}
}

// DatabaseSchema fails listing every expected table that does not exist.
func (s *Suite) DatabaseSchema() runner.Check {
	return runner.Check{
		Name: "Database Schema Validation",
		Run: func(ctx context.Context) error {
			if err := s.requireDB(); err != nil {
				return err
			}
			var missing []string
			for _, suffix := range s.exp.Tables {
				table := s.cfg.DB.Table(suffix)
				exists, err := s.db.TableExists(ctx, table)
				if err != nil {
					return err
				}
				if !exists {
					missing = append(missing, table)
				}
			}
			if len(missing) > 0 {
				return types.NewSchemaError("missing required tables: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

// IndexerVersion checks that the version row exists and holds positive
// versions.
func (s *Suite) IndexerVersion() runner.Check {
	return runner.Check{
		Name: "Database Version Row",
		Run: func(ctx context.Context) error {
			if err := s.requireDB(); err != nil {
				return err
			}
			v, err := s.db.IndexerVersion(ctx)
			if err != nil {
				return err
			}
			if v.DBVersion <= 0 || v.EventHashVersion <= 0 {
				return types.NewAssertionError("expected positive versions, got db_version=%d event_hash_version=%d", v.DBVersion, v.EventHashVersion)
			}
			return nil
		},
	}
}

func (s *Suite) EventTypes() runner.Check {
	return runner.Check{
		Name: "Event Types",
		Run: func(ctx context.Context) error {
			if err := s.requireDB(); err != nil {
				return err
			}
			have, err := s.db.EventTypes(ctx)
			if err != nil {
				return err
			}
			var missing []string
			for _, want := range s.exp.EventTypes {
				if !slices.Contains(have, want) {
					missing = append(missing, want)
				}
			}
			if len(missing) > 0 {
				return types.NewSchemaError("missing event types: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

// TableRowCounts counts the rows of the block hash and event tables. Empty
// tables pass; only a failing count does not.
func (s *Suite) TableRowCounts() runner.Check {
	return runner.Check{
		Name: "Table Row Counts",
		Run: func(ctx context.Context) error {
			if err := s.requireDB(); err != nil {
				return err
			}
			for _, suffix := range []string{"block_hashes", "events"} {
				table := s.cfg.DB.Table(suffix)
				n, err := s.db.RowCount(ctx, table)
				if err != nil {
					return err
				}
				if n < 0 {
					return types.NewAssertionError("%s reported a negative row count: %d", table, n)
				}
				s.log.Debug("Counted table rows", "table", table, "rows", n)
			}
			return nil
		},
	}
}

// SecretsFilePermissions requires the secrets file to be readable by its
// owner only.
func (s *Suite) SecretsFilePermissions(name string) runner.Check {
	return runner.Check{
		Name: name,
		Run: func(ctx context.Context) error {
			info, err := os.Stat(s.cfg.SecretsFile)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return types.NewSecurityError("secrets file %s does not exist", s.cfg.SecretsFile)
				}
				return types.NewSecurityError("cannot stat secrets file: %v", err)
			}
			mode := info.Mode().Perm()
			if mode != 0o600 && mode != 0o400 {
				return types.NewSecurityError("%s has insecure permissions: %o", filepath.Base(s.cfg.SecretsFile), mode)
			}
			return nil
		},
	}
}

// ServiceDependencies checks that the service's dependencies are installed.
func (s *Suite) ServiceDependencies() runner.Check {
	return runner.Check{
		Name: "Service Dependencies",
		Run: func(ctx context.Context) error {
			for _, dep := range s.exp.Dependencies {
				if _, err := os.Stat(filepath.Join(s.cfg.Service.Dir, dep)); err != nil {
					return types.NewConfigError("%s not found in %s", dep, s.cfg.Service.Dir)
				}
			}
			return nil
		},
	}
}
