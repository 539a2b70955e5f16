package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/roach88/orgsync/internal/model"
)

const (
	DefaultPageSize  = 1000
	DefaultPageDelay = 50 * time.Millisecond
)

// Client talks to the cloud directory platform.
//
// Thread-safety: a Client is safe for concurrent use once built.
type Client struct {
	baseURL   string
	appID     string
	http      *http.Client
	signer    Signer
	tokens    *TokenCache
	pageSize  int
	pageDelay time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger
	now       func() time.Time

	rootMu sync.Mutex
	root   *model.CloudDept
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSigner replaces the WPS-3 signer.
func WithSigner(s Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithPageSize sets the listing page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithPageDelay sets the pause between listing pages. Zero disables it.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

// WithRateLimit paces every call to at most perSecond requests.
// A non-positive rate leaves the client unlimited.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock sets the time source used for signing and token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client for the platform at baseURL.
func New(baseURL, appID, appKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		appID:     appID,
		http:      &http.Client{Timeout: 30 * time.Second},
		signer:    WPS3Signer{AppID: appID, AppKey: appKey},
		pageSize:  DefaultPageSize,
		pageDelay: DefaultPageDelay,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tokens = NewTokenCache(c.fetchToken, c.now)
	return c
}

// Tokens exposes the client's token cache.
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

type tokenResponse struct {
	CompanyToken string `json:"company_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var resp tokenResponse
	q := url.Values{"app_id": {c.appID}}
	if err := c.send(ctx, http.MethodGet, "/oauthapi/v3/inner/company/token", q, nil, &resp); err != nil {
		return "", 0, fmt.Errorf("fetch company token: %w", err)
	}
	if resp.CompanyToken == "" {
		return "", 0, fmt.Errorf("fetch company token: empty token")
	}
	c.logger.Info("company token refreshed", zap.Int64("expires_in", resp.ExpiresIn))
	return resp.CompanyToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

// call performs an authenticated request. An expired-token rejection
// refreshes the token and retries exactly once.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	err := c.callOnce(ctx, method, path, query, body, out)
	if IsTokenExpired(err) {
		c.logger.Info("company token rejected, refreshing", zap.String("path", path))
		c.tokens.Invalidate()
		err = c.callOnce(ctx, method, path, query, body, out)
	}
	return err
}

func (c *Client) callOnce(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("company_token", token)
	return c.send(ctx, method, path, q, body, out)
}

// send signs and executes one request and decodes the response into out.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var payload []byte
	var reader io.Reader
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	requestURI := path
	if len(query) > 0 {
		requestURI += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestURI, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)
	if c.signer != nil {
		c.signer.Sign(req, requestURI, payload, c.now())
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	c.logger.Debug("cloud request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return decodeResponse(resp.StatusCode, raw, out)
}

type envelope struct {
	Result *int   `json:"result"`
	Code   *int   `json:"code"`
	Msg    string `json:"msg"`
}

func decodeResponse(status int, raw []byte, out any) error {
	var env envelope
	jsonErr := json.Unmarshal(raw, &env)

	code := 0
	if env.Result != nil {
		code = *env.Result
	} else if env.Code != nil && status >= 300 {
		code = *env.Code
	}
	if status < 200 || status >= 300 || code != 0 {
		msg := env.Msg
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &APIError{Status: status, Code: code, Message: msg, Body: string(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if jsonErr != nil {
		return fmt.Errorf("decode response: %w", jsonErr)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// listPaged walks an offset/limit listing until a short page is returned.
// field names the JSON array holding the page items.
func listPaged[T any](ctx context.Context, c *Client, path string, query url.Values, field string) ([]T, error) {
	all := []T{}
	for offset := 0; ; offset += c.pageSize {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(c.pageSize))

		var page map[string]json.RawMessage
		if err := c.call(ctx, http.MethodGet, path, q, nil, &page); err != nil {
			return nil, err
		}
		var items []T
		if raw, ok := page[field]; ok && len(raw) > 0 {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("decode %s: %w", field, err)
			}
		}
		all = append(all, items...)
		if len(items) < c.pageSize {
			return all, nil
		}
		if c.pageDelay > 0 {
			time.Sleep(c.pageDelay)
		}
	}
}
