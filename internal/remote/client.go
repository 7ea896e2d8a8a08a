// Package remote talks to the hosted relational store that holds the
// authoritative copy of every collection.
package remote

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

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Config holds connection settings for the REST endpoint.
type Config struct {
	URL       string        // project base URL, e.g. https://xyz.example.co
	APIKey    string        // sent as apikey and bearer token
	Timeout   time.Duration // per request
	RateLimit float64       // requests per second, 0 = unlimited
	Burst     int
}

// Client is a PostgREST-style client for the remote store.
type Client struct {
	base       *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Status, e.Body)
}

// Temporary reports whether retrying the request later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Filter is a PostgREST horizontal filter: column=op.value.
type Filter struct {
	Column string
	Op     string
	Value  string
}

// Eq filters rows where column equals value.
func Eq(column, value string) Filter {
	return Filter{Column: column, Op: "eq", Value: value}
}

// Lt filters rows where column is less than value.
func Lt(column, value string) Filter {
	return Filter{Column: column, Op: "lt", Value: value}
}

// Gt filters rows where column is greater than value.
func Gt(column, value string) Filter {
	return Filter{Column: column, Op: "gt", Value: value}
}

// Neq filters rows where column differs from value.
func Neq(column, value string) Filter {
	return Filter{Column: column, Op: "neq", Value: value}
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches a key sent as the Idempotency-Key header on
// every write made with ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// NewClient creates a new Client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse remote url")
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("remote url must be http(s): %q", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// Select returns every row of collection matching filters, ordered by id.
func (c *Client) Select(ctx context.Context, collection string, filters ...Filter) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "id")
	for _, f := range filters {
		q.Add(f.Column, f.Op+"."+f.Value)
	}

	var rows []json.RawMessage
	if err := c.do(ctx, "select "+collection, http.MethodGet, tablePath(collection), q, nil, nil, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return rows, nil
}

// Insert adds record, which may be a single object or an array of objects.
// PostgREST inserts an array in one statement, so either every row is
// written or none.
func (c *Client) Insert(ctx context.Context, collection string, record json.RawMessage) error {
	h := http.Header{}
	h.Set("Prefer", "return=minimal")
	return c.do(ctx, "insert "+collection, http.MethodPost, tablePath(collection), nil, h, record, nil)
}

// Upsert inserts record or merges it into the existing row with the same
// id. Replaying the same upsert is harmless.
func (c *Client) Upsert(ctx context.Context, collection string, record json.RawMessage) error {
	q := url.Values{}
	q.Set("on_conflict", "id")
	h := http.Header{}
	h.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	return c.do(ctx, "upsert "+collection, http.MethodPost, tablePath(collection), q, h, record, nil)
}

// Update patches the row with the given id.
func (c *Client) Update(ctx context.Context, collection, key string, patch json.RawMessage) error {
	q := url.Values{}
	q.Set("id", "eq."+key)
	h := http.Header{}
	h.Set("Prefer", "return=minimal")
	return c.do(ctx, "update "+collection, http.MethodPatch, tablePath(collection), q, h, patch, nil)
}

// Delete removes the row with the given id. A missing row is not an error.
func (c *Client) Delete(ctx context.Context, collection, key string) error {
	q := url.Values{}
	q.Set("id", "eq."+key)
	err := c.do(ctx, "delete "+collection, http.MethodDelete, tablePath(collection), q, nil, nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// RPC calls a remote procedure with args encoded as JSON and decodes the
// result into out when out is non-nil.
func (c *Client) RPC(ctx context.Context, fn string, args interface{}, out interface{}) error {
	body, err := json.Marshal(args)
	if err != nil {
		return errors.Wrapf(err, "encode %s args", fn)
	}
	return c.do(ctx, "rpc "+fn, http.MethodPost, "/rest/v1/rpc/"+fn, nil, nil, body, out)
}

// Ping checks that the endpoint is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodHead, "/rest/v1/", nil, nil, nil, nil)
}

func tablePath(collection string) string {
	return "/rest/v1/" + collection
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, h http.Header, body []byte, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "%s: rate limit wait", op)
	}

	req, err := c.createRequest(ctx, method, path, q, body)
	if err != nil {
		return errors.Wrapf(err, "%s: build request", op)
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s request failed", op)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrapf(err, "%s: decode response", op)
	}
	return nil
}

// createRequest builds an authenticated request against the base URL.
func (c *Client) createRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if key := IdempotencyKey(ctx); key != "" && method != http.MethodGet && method != http.MethodHead {
		req.Header.Set("Idempotency-Key", key)
	}
	return req, nil
}
