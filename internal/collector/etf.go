package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/3B132016/tws/internal/model"
)

const (
	DefaultETFBaseURL   = "https://findbillion-strategy.herokuapp.com"
	DefaultETFPath      = "/v2/strategy/etf_hold_reverse/"
	DefaultETFTimeout   = 30 * time.Second
	DefaultETFRateLimit = 2
)

// ETFClient asks the holdings service whether any ETF holds a security.
type ETFClient struct {
	baseURL string
	apiKey  string
	country string
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// ETFOption configures the ETFClient.
type ETFOption func(*ETFClient)

// WithETFBaseURL sets a custom base URL.
func WithETFBaseURL(baseURL string) ETFOption {
	return func(c *ETFClient) {
		c.baseURL = baseURL
	}
}

// WithETFHTTPClient sets a custom HTTP client.
func WithETFHTTPClient(hc *http.Client) ETFOption {
	return func(c *ETFClient) {
		c.client = hc
	}
}

// WithETFRateLimit sets the request rate in requests per second.
func WithETFRateLimit(rps float64) ETFOption {
	return func(c *ETFClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithProxy routes requests through an HTTP proxy.
func WithProxy(proxyURL string) ETFOption {
	return func(c *ETFClient) {
		if proxyURL == "" {
			return
		}
		if u, err := url.Parse(proxyURL); err == nil {
			c.client.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
}

// NewETFClient creates a client for the Taiwan market.
func NewETFClient(apiKey string, log zerolog.Logger, opts ...ETFOption) *ETFClient {
	c := &ETFClient{
		baseURL: DefaultETFBaseURL,
		apiKey:  apiKey,
		country: "tw",
		client:  &http.Client{Timeout: DefaultETFTimeout},
		limiter: rate.NewLimiter(rate.Limit(DefaultETFRateLimit), 1),
		log:     log.With().Str("component", "collector.etf").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the holding status of one security. A non-200 response is
// reported as ETFHoldError with the status code and no error; transport and
// decode failures are returned as errors.
func (c *ETFClient) Lookup(ctx context.Context, securityID string) (model.ETFHoldStatus, error) {
	status := model.ETFHoldStatus{SecurityID: securityID, State: model.ETFHoldError, CheckedAt: time.Now()}

	if err := c.limiter.Wait(ctx); err != nil {
		return status, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("stock_country", c.country)
	params.Set("stock_symbol", securityID)
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, DefaultETFPath, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return status, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return status, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return status, fmt.Errorf("read body: %w", err)
	}
	status.HTTPStatus = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Str("security", securityID).Int("status", resp.StatusCode).Msg("etf lookup failed")
		return status, nil
	}

	state, err := classifyETFResponse(body)
	if err != nil {
		return status, fmt.Errorf("decode %s: %w", securityID, err)
	}
	status.State = state
	c.log.Debug().Str("security", securityID).Str("state", string(state)).Msg("etf lookup")
	return status, nil
}

// LookupAll checks every security in order. Failed lookups are kept as
// ETFHoldError rows; only a cancelled context stops the loop.
func (c *ETFClient) LookupAll(ctx context.Context, securityIDs []string) ([]model.ETFHoldStatus, error) {
	out := make([]model.ETFHoldStatus, 0, len(securityIDs))
	for _, id := range securityIDs {
		st, err := c.Lookup(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			c.log.Warn().Err(err).Str("security", id).Msg("etf lookup error")
		}
		out = append(out, st)
	}
	return out, nil
}

// classifyETFResponse maps the service reply to a state: an object with
// the string status "0" or an empty list means no holder, any other object or a non-empty
// list means at least one holder.
func classifyETFResponse(body []byte) (model.ETFHoldState, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return model.ETFHoldNotFound, nil
	}
	switch body[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return "", err
		}
		if raw, ok := obj["status"]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil && s == "0" {
				return model.ETFHoldNotFound, nil
			}
		}
		return model.ETFHoldFound, nil
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(body, &arr); err != nil {
			return "", err
		}
		if len(arr) > 0 {
			return model.ETFHoldFound, nil
		}
		return model.ETFHoldNotFound, nil
	default:
		return model.ETFHoldNotFound, nil
	}
}
