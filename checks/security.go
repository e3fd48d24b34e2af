package checks

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/opi-lc/opi-verifier/runner"
	"github.com/opi-lc/opi-verifier/types"
)

// SensitiveVariables requires every variable whose name looks like a
// secret to be non-empty. Values are never logged.
func (s *Suite) SensitiveVariables() runner.Check {
	return runner.Check{
		Name: "Environment Variable Security",
		Run: func(ctx context.Context) error {
			names := s.cfg.SensitiveVars()
			for _, name := range names {
				if v, _ := s.cfg.Lookup(name); v == "" {
					return types.NewSecurityError("sensitive environment variable %s is not properly set", name)
				}
			}
			s.log.Debug("Sensitive variables secured", "count", len(names))
			return nil
		},
	}
}

func (s *Suite) PortConfiguration() runner.Check {
	return runner.Check{
		Name: "Port Configuration",
		Run: func(ctx context.Context) error {
			if s.cfg.API.Port != s.exp.APIPort {
				return types.NewConfigError("expected port %d, got %d", s.exp.APIPort, s.cfg.API.Port)
			}
			return nil
		},
	}
}

func (s *Suite) DatabaseConfiguration() runner.Check {
	return runner.Check{
		Name: "Database Configuration",
		Run: func(ctx context.Context) error {
			if s.cfg.DB.Name != s.exp.DBName {
				return types.NewConfigError("expected database '%s', got '%s'", s.exp.DBName, s.cfg.DB.Name)
			}
			if s.cfg.DB.User != s.exp.DBUser {
				return types.NewConfigError("expected user '%s', got '%s'", s.exp.DBUser, s.cfg.DB.User)
			}
			return nil
		},
	}
}

// RequiredFiles checks that the files a deployment needs are present in
// the service directory.
func (s *Suite) RequiredFiles() runner.Check {
	return runner.Check{
		Name: "Service Readiness Check",
		Run: func(ctx context.Context) error {
			var missing []string
			for _, file := range s.exp.RequiredFiles {
				if _, err := os.Stat(filepath.Join(s.cfg.Service.Dir, file)); err != nil {
					missing = append(missing, file)
				}
			}
			if len(missing) > 0 {
				return types.NewConfigError("missing required files: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}
