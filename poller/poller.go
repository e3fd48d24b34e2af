// Package poller probes an HTTP endpoint until it answers with a 2xx status
// or a deadline passes.
//
// The poller is an independent readiness signal: a process may print its
// readiness marker before the listener accepts connections, or the other way
// round. Network errors, redirects and non-2xx responses all count as "not
// ready yet" and are retried after the poll interval.
package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Status is the terminal state of a poll.
type Status string

const (
	StatusReady    Status = "ready"
	StatusTimedOut Status = "timed-out"
)

// Outcome describes how a poll ended. A timeout is a reportable outcome,
// not an error.
type Outcome struct {
	Status     Status
	Attempts   int
	LastReason string // Why the last failed attempt was not ready
	Elapsed    time.Duration
}

// Ready reports whether the endpoint answered with a 2xx status.
func (o Outcome) Ready() bool {
	return o.Status == StatusReady
}

func (o Outcome) String() string {
	if o.Ready() {
		return fmt.Sprintf("ready after %d attempt(s) in %s", o.Attempts, o.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("not ready after %d attempt(s) in %s: %s", o.Attempts, o.Elapsed.Round(time.Millisecond), o.LastReason)
}

type Config struct {
	Log    log.Logger
	Client *http.Client
}

type Poller struct {
	log    log.Logger
	client *http.Client
}

func New(cfg Config) *Poller {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		// fresh connection state on every probe
		transport.DisableKeepAlives = true
		cfg.Client = &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Poller{log: cfg.Log, client: cfg.Client}
}

// Poll issues GET requests against url every interval until one returns a
// 2xx status or deadline has elapsed. At least one attempt is made. The
// returned error is non-nil only when ctx is cancelled.
func (p *Poller) Poll(ctx context.Context, url string, interval, deadline time.Duration) (Outcome, error) {
	start := time.Now()
	expires := start.Add(deadline)
	var out Outcome

	for {
		out.Attempts++
		attemptCtx, cancel := context.WithDeadline(ctx, expires)
		ok, reason := p.probe(attemptCtx, url)
		cancel()
		out.Elapsed = time.Since(start)

		if ok {
			out.Status = StatusReady
			out.LastReason = ""
			p.log.Debug("Endpoint ready", "url", url, "attempts", out.Attempts, "elapsed", out.Elapsed)
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			out.LastReason = reason
			return out, context.Cause(ctx)
		}
		out.LastReason = reason
		p.log.Debug("Endpoint not ready", "url", url, "attempt", out.Attempts, "reason", reason)

		if !time.Now().Add(interval).Before(expires) {
			// the next attempt would start past the deadline
			out.Status = StatusTimedOut
			out.Elapsed = time.Since(start)
			return out, nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			out.Elapsed = time.Since(start)
			return out, context.Cause(ctx)
		}
	}
}

func (p *Poller) probe(ctx context.Context, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("User-Agent", "opi-verifier-probe")
	req.Header.Set("Accept", "*/*")

	res, err := p.client.Do(req)
	if err != nil {
		// timeouts and refused connections are both just "not ready"
		return false, err.Error()
	}
	defer res.Body.Close()
	if _, err = io.Copy(io.Discard, res.Body); err != nil {
		return false, err.Error()
	}
	if res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices {
		return true, ""
	}
	return false, fmt.Sprintf("probe failed with status code %d", res.StatusCode)
}
