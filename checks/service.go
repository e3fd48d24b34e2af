package checks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opi-lc/opi-verifier/apiclient"
	"github.com/opi-lc/opi-verifier/runner"
	"github.com/opi-lc/opi-verifier/supervisor"
	"github.com/opi-lc/opi-verifier/types"
)

// ServiceStartup spawns the API and waits for its readiness marker.
func (s *Suite) ServiceStartup() runner.Check {
	return runner.Check{
		Name: "API Service Startup",
		Run: func(ctx context.Context) error {
			svc := s.cfg.Service
			h, err := s.sup.Start(ctx, supervisor.Spec{
				Name:           serviceProcessName,
				Command:        svc.Command,
				Args:           svc.Args,
				Dir:            svc.Dir,
				Env:            s.cfg.ServiceEnv(),
				Ready:          supervisor.MarkerPredicate(svc.ReadyMarkers...),
				StartupTimeout: s.cfg.Timeouts.Startup,
			})
			switch {
			case err == nil:
				s.setHandle(h)
				return nil
			case errors.Is(err, supervisor.ErrStartupTimeout):
				return types.NewStartupError("server failed to start within %s", s.cfg.Timeouts.Startup)
			case ctx.Err() != nil:
				return err
			default:
				return &types.CheckError{Kind: types.KindStartup, Err: err}
			}
		},
	}
}

// ReadinessProbe polls the ip endpoint until it answers, independently of
// the process output.
func (s *Suite) ReadinessProbe() runner.Check {
	return runner.Check{
		Name: "Readiness Probe",
		Run: func(ctx context.Context) error {
			t := s.cfg.Timeouts
			out, err := s.poll.Poll(ctx, s.api.URL(apiclient.EndpointIP), t.PollInterval, t.PollDeadline)
			if err != nil {
				return err
			}
			if !out.Ready() {
				return types.NewConnectivityError("%s", out)
			}
			return nil
		},
	}
}

// HealthEndpoints requires a 2xx from every health endpoint.
func (s *Suite) HealthEndpoints() runner.Check {
	return runner.Check{
		Name: "Health Check Endpoints",
		Run: func(ctx context.Context) error {
			for _, endpoint := range []string{
				apiclient.EndpointIP,
				apiclient.EndpointDBVersion,
				apiclient.EndpointEventHashVersion,
				apiclient.EndpointBlockHeight,
			} {
				res, err := s.api.Get(ctx, endpoint, nil)
				if err != nil {
					return err
				}
				if res.Status < 200 || res.Status > 299 {
					return types.NewAssertionError("%s failed: %d", endpoint, res.Status)
				}
			}
			return nil
		},
	}
}

func (s *Suite) IPEndpoint() runner.Check {
	return runner.Check{
		Name: "IP Endpoint",
		Run: func(ctx context.Context) error {
			res, err := s.api.Expect(ctx, apiclient.EndpointIP, nil, http.StatusOK)
			if err != nil {
				return err
			}
			if res.Text() == "" {
				return types.NewAssertionError("ip: empty response")
			}
			return nil
		},
	}
}

// IntegerEndpoint checks that endpoint returns an integer of at least min.
func (s *Suite) IntegerEndpoint(name, endpoint string, min int64) runner.Check {
	return runner.Check{
		Name: name,
		Run: func(ctx context.Context) error {
			res, err := s.api.Expect(ctx, endpoint, nil, http.StatusOK)
			if err != nil {
				return err
			}
			n, err := strconv.ParseInt(res.Text(), 10, 64)
			if err != nil {
				return types.NewAssertionError("%s: expected an integer, got %q", endpoint, res.Text())
			}
			if n < min {
				return types.NewAssertionError("%s: expected at least %d, got %d", endpoint, min, n)
			}
			return nil
		},
	}
}

// StatusCheck calls endpoint with params and accepts any of the given
// statuses.
func (s *Suite) StatusCheck(name, endpoint string, params url.Values, accepted ...int) runner.Check {
	return runner.Check{
		Name: name,
		Run: func(ctx context.Context) error {
			return s.expectOneOf(ctx, endpoint, params, accepted...)
		},
	}
}

func (s *Suite) ActivityEndpoint() runner.Check {
	return runner.Check{
		Name: "Activity On Block",
		Run: func(ctx context.Context) error {
			return s.checkActivity(ctx)
		},
	}
}

// APIFunctionality exercises the balance and activity endpoints. A balance
// 400 means there is no data, which is not a fault.
func (s *Suite) APIFunctionality() runner.Check {
	return runner.Check{
		Name: "API Functionality Tests",
		Run: func(ctx context.Context) error {
			if err := s.expectOneOf(ctx, apiclient.EndpointBalanceOnBlock, balanceParams(sampleBlockHeight), http.StatusOK, http.StatusBadRequest); err != nil {
				return err
			}
			return s.checkActivity(ctx)
		},
	}
}

// ErrorHandling checks the 404 and missing parameter contracts.
func (s *Suite) ErrorHandling() runner.Check {
	return runner.Check{
		Name: "Error Handling Tests",
		Run: func(ctx context.Context) error {
			if _, err := s.api.Expect(ctx, apiclient.EndpointUnknown, nil, http.StatusNotFound); err != nil {
				return err
			}
			_, err := s.api.Expect(ctx, apiclient.EndpointBalanceOnBlock, nil, http.StatusBadRequest)
			return err
		},
	}
}

// ConcurrentRequests issues n parallel requests to the ip endpoint.
func (s *Suite) ConcurrentRequests(n int) runner.Check {
	return runner.LoadCheck("Concurrent Request Handling", n, n, func(ctx context.Context, i int) error {
		_, err := s.api.Expect(ctx, apiclient.EndpointIP, nil, http.StatusOK)
		return err
	})
}

// GracefulShutdown stops the service and fails if it had to be killed.
func (s *Suite) GracefulShutdown() runner.Check {
	return runner.Check{
		Name: "Graceful Shutdown",
		Run: func(ctx context.Context) error {
			h := s.currentHandle()
			if h == nil || h.State() != supervisor.StateReady {
				return types.NewStartupError("service is not running")
			}
			start := time.Now()
			if err := s.sup.Stop(ctx, h, s.cfg.Timeouts.Grace); err != nil {
				return err
			}
			if h.Killed() {
				return types.NewAssertionError("service ignored SIGTERM and was killed after %s", s.cfg.Timeouts.Grace)
			}
			if _, err := s.api.Get(ctx, apiclient.EndpointIP, nil); err == nil {
				return types.NewAssertionError("service still answers requests after shutdown")
			} else if types.KindOf(err) != types.KindConnectivity {
				return err
			}
			s.log.Debug("Service shut down", "elapsed", time.Since(start))
			return nil
		},
	}
}

func (s *Suite) expectOneOf(ctx context.Context, endpoint string, params url.Values, accepted ...int) error {
	res, err := s.api.Get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	for _, status := range accepted {
		if res.Status == status {
			return nil
		}
	}
	return types.NewAssertionError("%s returned unexpected status: %d", endpoint, res.Status)
}

func (s *Suite) checkActivity(ctx context.Context) error {
	res, err := s.api.Expect(ctx, apiclient.EndpointActivityOnBlock, url.Values{"block_height": {sampleBlockHeight}}, http.StatusOK)
	if err != nil {
		return err
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return types.NewAssertionError("activity_on_block returned invalid JSON: %v", err)
	}
	if _, ok := body["error"]; !ok {
		return types.NewAssertionError("activity_on_block response has no error field")
	}
	result, ok := body["result"]
	if !ok {
		return types.NewAssertionError("activity_on_block response has no result field")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(result, &items); err != nil || items == nil {
		return types.NewAssertionError("activity_on_block result is not an array")
	}
	return nil
}

func balanceParams(height string) url.Values {
	return url.Values{
		"block_height": {height},
		"pkscript":     {samplePkScript},
		"ticker":       {sampleTicker},
	}
}
