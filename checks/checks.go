// Package checks holds the concrete deployment checks and the phase plans
// of the test and verify runs.
package checks

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/opi-lc/opi-verifier/apiclient"
	"github.com/opi-lc/opi-verifier/config"
	"github.com/opi-lc/opi-verifier/db"
	"github.com/opi-lc/opi-verifier/poller"
	"github.com/opi-lc/opi-verifier/supervisor"
	"github.com/opi-lc/opi-verifier/types"
)

// Query values used by the functional endpoint checks.
const (
	sampleBlockHeight  = "800000"
	beyondTipHeight    = "999999999"
	samplePkScript     = "001234567890abcdef"
	sampleTicker       = "TEST"
	sampleWallet       = "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"
	serviceProcessName = "api"
)

// Deps are the collaborators the checks talk to. DB may be nil when the
// database configuration could not be turned into a pool; the database
// checks then fail with a config error.
type Deps struct {
	Config       *config.Config
	Expectations config.Expectations
	Supervisor   *supervisor.Supervisor
	Poller       *poller.Poller
	API          *apiclient.Client
	DB           db.Prober
	Log          log.Logger
}

// Suite builds check plans over one set of dependencies. It holds the
// handle of the service it started so later checks can use and stop it.
type Suite struct {
	cfg  *config.Config
	exp  config.Expectations
	sup  *supervisor.Supervisor
	poll *poller.Poller
	api  *apiclient.Client
	db   db.Prober
	log  log.Logger

	mu     sync.Mutex
	handle *supervisor.Handle
}

func NewSuite(deps Deps) *Suite {
	if deps.Log == nil {
		deps.Log = log.Root()
	}
	return &Suite{
		cfg:  deps.Config,
		exp:  deps.Expectations,
		sup:  deps.Supervisor,
		poll: deps.Poller,
		api:  deps.API,
		db:   deps.DB,
		log:  deps.Log,
	}
}

func (s *Suite) setHandle(h *supervisor.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

func (s *Suite) currentHandle() *supervisor.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// StopService stops the service started by the startup check, if any. It
// is safe to call any number of times.
func (s *Suite) StopService(ctx context.Context) error {
	h := s.currentHandle()
	if h == nil {
		return nil
	}
	return s.sup.Stop(ctx, h, s.cfg.Timeouts.Grace)
}

func (s *Suite) requireDB() error {
	if s.db == nil {
		return types.NewConfigError("database is not configured")
	}
	return nil
}
