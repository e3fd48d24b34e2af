package checks

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opi-lc/opi-verifier/apiclient"
	"github.com/opi-lc/opi-verifier/runner"
	"github.com/opi-lc/opi-verifier/types"
)

func run(t *testing.T, c runner.Check) error {
	t.Helper()
	return c.Run(context.Background())
}

func TestBalanceOnBlock(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	s := f.suite

	sample := s.StatusCheck("sample", apiclient.EndpointBalanceOnBlock, balanceParams(sampleBlockHeight), http.StatusOK, http.StatusBadRequest)
	beyond := s.StatusCheck("beyond", apiclient.EndpointBalanceOnBlock, balanceParams(beyondTipHeight), http.StatusBadRequest)

	// 400 for the sample query means "no data" and passes
	require.NoError(t, run(t, sample))
	require.NoError(t, run(t, beyond))

	f.api.override(apiclient.EndpointBalanceOnBlock, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":null,"result":{"overall_balance":"0"}}`))
	})
	require.NoError(t, run(t, sample))

	err := run(t, beyond)
	require.Error(t, err)
	assert.Equal(t, types.KindAssertion, types.KindOf(err))
	assert.Equal(t, "balance_on_block returned unexpected status: 200", err.Error())

	f.api.override(apiclient.EndpointBalanceOnBlock, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	assert.Error(t, run(t, sample))
}

func TestActivityOnBlock(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	check := f.suite.ActivityEndpoint()
	require.NoError(t, run(t, check))

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "result not array", body: `{"error":null,"result":{}}`, want: "activity_on_block result is not an array"},
		{name: "result null", body: `{"error":null,"result":null}`, want: "activity_on_block result is not an array"},
		{name: "missing error", body: `{"result":[]}`, want: "activity_on_block response has no error field"},
		{name: "missing result", body: `{"error":null}`, want: "activity_on_block response has no result field"},
		{name: "not json", body: `<html>`, want: "activity_on_block returned invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.api.override(apiclient.EndpointActivityOnBlock, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			err := run(t, check)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, types.KindAssertion, types.KindOf(err))
		})
	}
}

func TestErrorHandling(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	check := f.suite.ErrorHandling()
	require.NoError(t, run(t, check))

	f.api.override(apiclient.EndpointUnknown, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	err := run(t, check)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent_endpoint: expected status 404, got 200")
}

func TestMissingParametersReturn400(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.api.override(apiclient.EndpointBalanceOnBlock, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	err := run(t, f.suite.ErrorHandling())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "balance_on_block: expected status 400, got 200")
}

func TestIntegerEndpoints(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	s := f.suite

	require.NoError(t, run(t, s.IntegerEndpoint("db", apiclient.EndpointDBVersion, 1)))
	require.NoError(t, run(t, s.IntegerEndpoint("height", apiclient.EndpointBlockHeight, 0)))
	require.NoError(t, run(t, s.IPEndpoint()))

	f.api.override(apiclient.EndpointDBVersion, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0"))
	})
	err := run(t, s.IntegerEndpoint("db", apiclient.EndpointDBVersion, 1))
	assert.EqualError(t, err, "db_version: expected at least 1, got 0")

	f.api.override(apiclient.EndpointBlockHeight, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tip"))
	})
	err = run(t, s.IntegerEndpoint("height", apiclient.EndpointBlockHeight, 0))
	assert.EqualError(t, err, `block_height: expected an integer, got "tip"`)

	f.api.override(apiclient.EndpointIP, func(w http.ResponseWriter, r *http.Request) {})
	assert.EqualError(t, run(t, s.IPEndpoint()), "ip: empty response")
}

func TestConcurrentRequestsOneServerError(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.api.failIPAt.Store(7)

	err := run(t, f.suite.ConcurrentRequests(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 10 concurrent requests failed")
	assert.Contains(t, err.Error(), "expected status 200, got 500")
}

func TestLoadRequestsOverride(t *testing.T) {
	f := newFixture(t, fixtureOpts{loadRequests: 3})
	assert.Equal(t, 3, f.suite.loadRequests(10))

	f = newFixture(t, fixtureOpts{})
	assert.Equal(t, 10, f.suite.loadRequests(10))
}

func TestDatabaseChecks(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	s := f.suite

	require.NoError(t, run(t, s.DatabaseSchema()))
	require.NoError(t, run(t, s.IndexerVersion()))
	require.NoError(t, run(t, s.EventTypes()))

	delete(f.db.tables, "brc20_events")
	delete(f.db.tables, "brc20_historic_balances")
	err := run(t, s.DatabaseSchema())
	assert.EqualError(t, err, "missing required tables: brc20_events, brc20_historic_balances")
	assert.Equal(t, types.KindSchema, types.KindOf(err))

	f.db.eventTypes = []string{"deploy-inscribe", "mint-inscribe"}
	assert.EqualError(t, run(t, s.EventTypes()), "missing event types: transfer-inscribe, transfer-transfer")

	f.db.version.EventHashVersion = 0
	assert.Equal(t, types.KindAssertion, types.KindOf(run(t, s.IndexerVersion())))

	s.db = nil
	assert.Equal(t, types.KindConfig, types.KindOf(run(t, s.DatabaseConnection())))
}

func TestTableRowCounts(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	s := f.suite

	// empty tables are fine
	require.NoError(t, run(t, s.TableRowCounts()))

	f.db.rowCounts = map[string]int64{"brc20_block_hashes": 850000, "brc20_events": 1200}
	require.NoError(t, run(t, s.TableRowCounts()))

	delete(f.db.tables, "brc20_events")
	err := run(t, s.TableRowCounts())
	require.Error(t, err)
	assert.Equal(t, types.KindSchema, types.KindOf(err))
	assert.Contains(t, err.Error(), "brc20_events")

	f.db.connectErr = types.NewConnectivityError("connection refused")
	assert.Equal(t, types.KindConnectivity, types.KindOf(run(t, s.TableRowCounts())))

	s.db = nil
	assert.Equal(t, types.KindConfig, types.KindOf(run(t, s.TableRowCounts())))
}

func TestSecretsFilePermissions(t *testing.T) {
	f := newFixture(t, fixtureOpts{secretsMode: 0o400})
	require.NoError(t, run(t, f.suite.SecretsFilePermissions("perms")))

	f = newFixture(t, fixtureOpts{secretsMode: 0o644})
	err := run(t, f.suite.SecretsFilePermissions("perms"))
	assert.EqualError(t, err, ".env has insecure permissions: 644")
	assert.Equal(t, types.KindSecurity, types.KindOf(err))

	f = newFixture(t, fixtureOpts{skipFiles: []string{".env"}})
	err = run(t, f.suite.SecretsFilePermissions("perms"))
	assert.Equal(t, types.KindSecurity, types.KindOf(err))
	assert.Contains(t, err.Error(), "does not exist")
}

func TestSensitiveVariables(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, run(t, f.suite.SensitiveVariables()))

	f = newFixture(t, fixtureOpts{env: []string{"JWT_SECRET="}})
	err := run(t, f.suite.SensitiveVariables())
	assert.EqualError(t, err, "sensitive environment variable JWT_SECRET is not properly set")
	assert.Equal(t, types.KindSecurity, types.KindOf(err))
}

func TestConfigurationExpectations(t *testing.T) {
	f := newFixture(t, fixtureOpts{env: []string{"API_PORT=8080", "DB_NAME=other"}})

	assert.EqualError(t, run(t, f.suite.PortConfiguration()), "expected port 3003, got 8080")
	assert.EqualError(t, run(t, f.suite.DatabaseConfiguration()), "expected database 'opi_lc', got 'other'")
}

func TestRequiredFilesAndDependencies(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, run(t, f.suite.RequiredFiles()))
	require.NoError(t, run(t, f.suite.ServiceDependencies()))

	f = newFixture(t, fixtureOpts{skipFiles: []string{"api.js", "tests/test_config.js", "node_modules/.keep"}})
	assert.EqualError(t, run(t, f.suite.RequiredFiles()), "missing required files: api.js, tests/test_config.js")
	err := run(t, f.suite.ServiceDependencies())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node_modules not found")
}

func TestEnvironmentVariables(t *testing.T) {
	f := newFixture(t, fixtureOpts{dropEnv: []string{"DB_HOST", "DB_PASSWD"}})
	err := run(t, f.suite.EnvironmentVariables())
	assert.EqualError(t, err, "missing required environment variables: DB_HOST, DB_PASSWD")
	assert.Equal(t, types.KindConfig, types.KindOf(err))
}

func TestGracefulShutdownEscalation(t *testing.T) {
	f := newFixture(t, fixtureOpts{script: `trap "" TERM; echo listening; while :; do sleep 0.1; done`})
	s := f.suite

	require.NoError(t, run(t, s.ServiceStartup()))
	start := time.Now()
	err := run(t, s.GracefulShutdown())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ignored SIGTERM")
	assert.Less(t, time.Since(start), 5*time.Second)

	// cleanup after the recorded stop is a no-op
	require.NoError(t, s.StopService(context.Background()))
}

func TestGracefulShutdownStopsServing(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	s := f.suite

	require.NoError(t, run(t, s.ServiceStartup()))
	_, err := s.api.Get(context.Background(), apiclient.EndpointIP, nil)
	require.NoError(t, err)

	require.NoError(t, run(t, s.GracefulShutdown()))
	_, err = s.api.Get(context.Background(), apiclient.EndpointIP, nil)
	assert.Equal(t, types.KindConnectivity, types.KindOf(err))
}

func TestGracefulShutdownStillServing(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.api.down = nil

	require.NoError(t, run(t, f.suite.ServiceStartup()))
	err := run(t, f.suite.GracefulShutdown())
	assert.EqualError(t, err, "service still answers requests after shutdown")
	assert.Equal(t, types.KindAssertion, types.KindOf(err))
}

func TestServiceStartupSpawnError(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.cfg.Service.Command = "/nonexistent/node"

	err := run(t, f.suite.ServiceStartup())
	require.Error(t, err)
	assert.Equal(t, types.KindStartup, types.KindOf(err))
}
