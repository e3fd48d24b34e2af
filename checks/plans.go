package checks

import (
	"context"
	"net/http"
	"net/url"

	"github.com/opi-lc/opi-verifier/apiclient"
	"github.com/opi-lc/opi-verifier/config"
	"github.com/opi-lc/opi-verifier/runner"
	"github.com/opi-lc/opi-verifier/types"
)

// Plan returns the phases of mode.
func (s *Suite) Plan(mode types.Mode) []runner.Phase {
	if mode == types.ModeTest {
		return s.TestPlan()
	}
	return s.VerifyPlan()
}

// VerifyPlan is the three phase deployment verification.
func (s *Suite) VerifyPlan() []runner.Phase {
	return []runner.Phase{
		{
			Name: "Phase 1: Environment and Infrastructure",
			Checks: []runner.Check{
				s.EnvironmentVariables(),
				s.DatabaseConnection(),
				s.DatabaseSchema(),
				s.SecretsFilePermissions("Security File Permissions"),
				s.ServiceDependencies(),
			},
		},
		{
			Name: "Phase 2: API Service",
			Checks: []runner.Check{
				s.ServiceStartup(),
				s.HealthEndpoints(),
				s.APIFunctionality(),
				s.ErrorHandling(),
				s.ConcurrentRequests(s.loadRequests(config.DefaultVerifyLoadRequests)),
			},
			Cleanup: s.StopService,
		},
		{
			Name: "Phase 3: Security and Production Readiness",
			Checks: []runner.Check{
				s.SensitiveVariables(),
				s.PortConfiguration(),
				s.DatabaseConfiguration(),
				s.RequiredFiles(),
			},
		},
	}
}

// TestPlan is the granular test run: every endpoint contract is its own
// check and the database content is inspected as well.
func (s *Suite) TestPlan() []runner.Phase {
	return []runner.Phase{
		{
			Name: "Phase 1: Environment and Configuration Tests",
			Checks: []runner.Check{
				s.EnvironmentVariables(),
				s.DatabaseConnection(),
				s.DatabaseSchema(),
				s.IndexerVersion(),
				s.EventTypes(),
				s.TableRowCounts(),
				s.ServiceDependencies(),
			},
		},
		{
			Name: "Phase 2: API Service Tests",
			Checks: []runner.Check{
				s.ServiceStartup(),
				s.ReadinessProbe(),
				s.IPEndpoint(),
				s.IntegerEndpoint("Database Version Endpoint", apiclient.EndpointDBVersion, 1),
				s.IntegerEndpoint("Event Hash Version Endpoint", apiclient.EndpointEventHashVersion, 1),
				s.IntegerEndpoint("Block Height Endpoint", apiclient.EndpointBlockHeight, 0),
				s.StatusCheck("Balance On Block", apiclient.EndpointBalanceOnBlock,
					balanceParams(sampleBlockHeight), http.StatusOK, http.StatusBadRequest),
				s.StatusCheck("Balance Beyond Chain Tip", apiclient.EndpointBalanceOnBlock,
					balanceParams(beyondTipHeight), http.StatusBadRequest),
				s.StatusCheck("Current Wallet Balance", apiclient.EndpointCurrentBalance,
					url.Values{"address": {sampleWallet}, "ticker": {sampleTicker}}, http.StatusOK, http.StatusBadRequest),
				s.ActivityEndpoint(),
				s.StatusCheck("Activity Invalid Block Height", apiclient.EndpointActivityOnBlock,
					url.Values{"block_height": {beyondTipHeight}}, http.StatusBadRequest),
				s.ErrorHandling(),
				s.ConcurrentRequests(s.loadRequests(config.DefaultTestLoadRequests)),
				s.GracefulShutdown(),
			},
			Cleanup: s.StopService,
		},
		{
			Name: "Phase 3: Security and Configuration Tests",
			Checks: []runner.Check{
				s.SensitiveVariables(),
				s.SecretsFilePermissions("File Permission Security"),
				s.PortConfiguration(),
				s.DatabaseConfiguration(),
				s.RequiredFiles(),
			},
		},
	}
}

func (s *Suite) loadRequests(def int) int {
	if s.cfg.LoadRequests > 0 {
		return s.cfg.LoadRequests
	}
	return def
}

// Close releases the service if a run ended without its cleanup.
func (s *Suite) Close(ctx context.Context) error {
	return s.StopService(ctx)
}
