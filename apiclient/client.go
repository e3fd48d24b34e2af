// Package apiclient is a thin HTTP client for the BRC-20 API under test.
package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/opi-lc/opi-verifier/types"
)

// maxBodySize caps how much of a response body is kept.
const maxBodySize = 4 << 20

// Endpoint names relative to the API path prefix.
const (
	EndpointIP               = "ip"
	EndpointDBVersion        = "db_version"
	EndpointEventHashVersion = "event_hash_version"
	EndpointBlockHeight      = "block_height"
	EndpointBalanceOnBlock   = "balance_on_block"
	EndpointCurrentBalance   = "get_current_balance_of_wallet"
	EndpointActivityOnBlock  = "activity_on_block"
	EndpointUnknown          = "nonexistent_endpoint"
)

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Body   []byte
}

// Text returns the trimmed body.
func (r Response) Text() string {
	return strings.TrimSpace(string(r.Body))
}

type Config struct {
	BaseURL    string
	PathPrefix string
	Timeout    time.Duration
	Log        log.Logger
	HTTPClient *http.Client
}

type Client struct {
	base string
	http *http.Client
	log  log.Logger
}

func New(cfg Config) *Client {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.PathPrefix, "/"),
		http: cfg.HTTPClient,
		log:  cfg.Log,
	}
}

// URL returns the absolute URL of endpoint.
func (c *Client) URL(endpoint string) string {
	return strings.TrimRight(c.base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// Get requests endpoint with the given query. Any HTTP status is a
// successful call; transport failures are returned as connectivity errors.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (Response, error) {
	u := c.URL(endpoint)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return Response{}, &types.CheckError{
			Kind: types.KindConnectivity,
			Err:  fmt.Errorf("GET %s: %w", endpoint, err),
		}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return Response{}, &types.CheckError{
			Kind: types.KindConnectivity,
			Err:  fmt.Errorf("GET %s: reading body: %w", endpoint, err),
		}
	}
	c.log.Debug("API response", "endpoint", endpoint, "status", res.StatusCode, "bytes", len(body), "elapsed", time.Since(start))
	return Response{Status: res.StatusCode, Body: body}, nil
}

// Expect calls endpoint and fails with an assertion error unless the
// response status is want.
func (c *Client) Expect(ctx context.Context, endpoint string, params url.Values, want int) (Response, error) {
	res, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return res, err
	}
	if res.Status != want {
		return res, types.NewAssertionError("%s: expected status %d, got %d: %s", endpoint, want, res.Status, truncate(res.Text(), 200))
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
