// Package feishu is a thin client for the Feishu/Lark open platform endpoints
// the assistant calls: auth, IM messages and calendar v4.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://open.feishu.cn/open-apis"

// maxErrorBody caps how much of a failed response is kept for error text.
const maxErrorBody = 2048

// APIError is returned for non-2xx responses and for 2xx responses whose
// envelope carries a non-zero code.
type APIError struct {
	Status int
	Code   int
	Msg    string
	Body   string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("feishu api error: status %d, code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("feishu api error: status %d: %s", e.Status, e.Body)
}

type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithRateLimit paces outbound calls to perSecond requests with an equal burst.
// Zero or negative disables pacing.
func WithRateLimit(perSecond int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type request struct {
	method string
	path   string
	query  url.Values
	bearer string
	body   any
}

// envelope is the common response wrapper. Endpoints that put their payload
// under "data" decode into envelope[T]; the auth/v3 endpoints return fields at
// the top level and use their own types.
type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type codeOnly struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().
			Err(err).
			Str("method", r.method).
			Str("path", r.path).
			Dur("elapsed", elapsed).
			Msg("feishu request error")
		return fmt.Errorf("feishu request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var head codeOnly
	_ = json.Unmarshal(raw, &head)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || head.Code != 0 {
		log.Warn().
			Str("method", r.method).
			Str("path", r.path).
			Int("status", resp.StatusCode).
			Int("code", head.Code).
			Str("msg", head.Msg).
			Dur("elapsed", elapsed).
			Msg("feishu request failed")
		return &APIError{
			Status: resp.StatusCode,
			Code:   head.Code,
			Msg:    head.Msg,
			Body:   truncate(string(raw), maxErrorBody),
		}
	}

	log.Debug().
		Str("method", r.method).
		Str("path", r.path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("feishu request ok")

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
