package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/opi-lc/opi-verifier/types"
)

// RequestFunc issues the i-th sub-request of a load check.
type RequestFunc func(ctx context.Context, i int) error

type subResult struct {
	index int
	err   error
}

// LoadCheck builds a check that issues n requests with at most concurrency
// of them in flight. All requests settle before the check resolves; the
// check fails if any request failed.
func LoadCheck(name string, n, concurrency int, fn RequestFunc) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context) error {
			if n <= 0 {
				return types.NewConfigError("load check needs at least one request, got %d", n)
			}
			limit := concurrency
			if limit <= 0 || limit > n {
				limit = n
			}

			p := pool.NewWithResults[subResult]().
				WithContext(ctx).
				WithMaxGoroutines(limit)
			for i := 0; i < n; i++ {
				p.Go(func(ctx context.Context) (subResult, error) {
					// failures are data here so that every request is collected
					return subResult{index: i, err: safeRequest(ctx, fn, i)}, nil
				})
			}
			results, err := p.Wait()
			if err != nil {
				return fmt.Errorf("load check did not settle: %w", err)
			}
			return summarize(n, results)
		},
	}
}

func safeRequest(ctx context.Context, fn RequestFunc, i int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("request panicked: %v", rec)
		}
	}()
	return fn(ctx, i)
}

func summarize(n int, results []subResult) error {
	sort.Slice(results, func(a, b int) bool {
		return results[a].index < results[b].index
	})

	var failures []string
	var firstErr error
	for _, res := range results {
		if res.err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = res.err
		}
		failures = append(failures, fmt.Sprintf("#%d: %v", res.index, res.err))
	}
	if len(failures) == 0 {
		return nil
	}

	kind := types.KindOf(firstErr)
	return &types.CheckError{
		Kind: kind,
		Err:  fmt.Errorf("%d of %d concurrent requests failed: %s", len(failures), n, strings.Join(failures, "; ")),
	}
}
