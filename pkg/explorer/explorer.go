// Package explorer provides a Go client for Etherscan-compatible contract
// verification APIs.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrNetwork indicates a transport failure or a response that could not be
// decoded as an explorer envelope
var ErrNetwork = errors.New("explorer request failed")

// DefaultMinInterval is the minimum spacing between consecutive requests.
// Public explorer endpoints enforce 5 req/s per key; 200ms keeps every
// caller under that ceiling without tracking response latency.
const DefaultMinInterval = 200 * time.Millisecond

// Client is an explorer API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithMinInterval sets the minimum spacing between consecutive requests.
// A non-positive interval disables spacing entirely.
func WithMinInterval(d time.Duration) Option {
	return func(client *Client) {
		client.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// New creates a new explorer client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Every(DefaultMinInterval), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SourceRecord is one getsourcecode result entry. Raw holds the verbatim
// response body the record was decoded from, for auditing.
type SourceRecord struct {
	SourceCode           string `json:"SourceCode"`
	ABI                  string `json:"ABI"`
	ContractName         string `json:"ContractName"`
	CompilerVersion      string `json:"CompilerVersion"`
	OptimizationUsed     string `json:"OptimizationUsed"`
	Runs                 string `json:"Runs"`
	ConstructorArguments string `json:"ConstructorArguments"`
	EVMVersion           string `json:"EVMVersion"`
	Library              string `json:"Library"`
	LicenseType          string `json:"LicenseType"`
	Proxy                string `json:"Proxy"`
	Implementation       string `json:"Implementation"`
	SwarmSource          string `json:"SwarmSource"`

	Raw json.RawMessage `json:"-"`
}

// IsVerified reports whether the explorer holds verified source for the
// contract. Explorers answer unverified addresses with an empty SourceCode
// field, not an error.
func (r *SourceRecord) IsVerified() bool {
	return strings.TrimSpace(r.SourceCode) != ""
}

// IsProxy reports whether the explorer flagged the contract as a proxy
func (r *SourceRecord) IsProxy() bool {
	return r.Proxy == "1"
}

// ImplementationAddress returns the implementation address behind a proxy,
// or "" when the explorer reported none
func (r *SourceRecord) ImplementationAddress() string {
	return strings.TrimSpace(r.Implementation)
}

// envelope is the standard explorer response wrapper
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// GetSourceCode fetches the verified source record for a contract address.
// Each call issues exactly one HTTP request, spaced at least the configured
// minimum interval after the previous one whether that one succeeded or
// failed. Failures are never retried.
func (c *Client) GetSourceCode(ctx context.Context, address string) (*SourceRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getsourcecode")
	q.Set("address", address)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrNetwork, resp.StatusCode, resp.Status)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %v", ErrNetwork, err)
	}
	if env.Status != "1" {
		return nil, fmt.Errorf("%w: explorer returned %q", ErrNetwork, statusDetail(&env))
	}

	var records []SourceRecord
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return nil, fmt.Errorf("%w: decoding result: %v", ErrNetwork, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty result for %s", ErrNetwork, address)
	}

	rec := records[0]
	rec.Raw = body
	return &rec, nil
}

// statusDetail extracts the most useful text from a non-OK envelope. Rate
// limit and key errors carry the reason as a bare string in result.
func statusDetail(env *envelope) string {
	var s string
	if json.Unmarshal(env.Result, &s) == nil && s != "" {
		return s
	}
	return env.Message
}
