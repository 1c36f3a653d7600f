// Package leadsapi is a client for the CRM lead service: paged lead
// listing per loan type, the status taxonomy, and the loan type catalog.
package leadsapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/resilience"
)

// DefaultPageSize is the page size requested when ListOptions leaves it unset.
const DefaultPageSize = 500

// maxPages bounds a listing in case the service keeps returning full pages.
const maxPages = 200

// Client defines the lead service operations.
type Client interface {
	// ListLeads returns every raw record of a loan type segment.
	ListLeads(ctx context.Context, segment string, opts ListOptions) (*ListResponse, error)
	// GetStatusTaxonomy returns the main status / sub-status hierarchy.
	GetStatusTaxonomy(ctx context.Context) ([]model.StatusNode, error)
	// ListLoanTypes returns the loan type identifiers.
	ListLoanTypes(ctx context.Context) ([]string, error)
}

// ListOptions narrows a listing.
type ListOptions struct {
	// Scope is the visibility scope ("all", "team", "own"). Empty omits it.
	Scope    string
	PageSize int
	// Filters are passed through as query parameters.
	Filters map[string]string
}

// ListResponse is a complete listing.
type ListResponse struct {
	Items []json.RawMessage `json:"items"`
	Total int               `json:"total"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the request rate (per second) and burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = NewAdaptiveLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithPageSize sets the page size used when ListOptions leaves it unset.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

type httpClient struct {
	baseURL  string
	token    string
	http     *http.Client
	limiter  *AdaptiveLimiter
	pageSize int
}

// NewClient creates a lead service client.
func NewClient(baseURL, token string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  NewAdaptiveLimiter(5, 5),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs one rate-limited GET. Transient statuses and transport
// failures come back as *resilience.TransientError; retrying is the
// caller's decision.
func (c *httpClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "leadsapi: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, resilience.NewTransientError(eris.Wrapf(err, "leadsapi: GET %s", path), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "leadsapi: read response body"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.OnRateLimit()
		return nil, resilience.NewTransientError(eris.Errorf("leadsapi: GET %s: status 429", path), resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("leadsapi: GET %s: status %d: %s", path, resp.StatusCode, snippet(body)), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("leadsapi: GET %s: status %d: %s", path, resp.StatusCode, snippet(body))
	}
	c.limiter.OnSuccess()
	return body, nil
}

func (c *httpClient) ListLeads(ctx context.Context, segment string, opts ListOptions) (*ListResponse, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	out := &ListResponse{Items: []json.RawMessage{}}
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		for k, v := range opts.Filters {
			q.Set(k, v)
		}
		q.Set("loan_type", segment)
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(pageSize))
		if opts.Scope != "" {
			q.Set("scope", opts.Scope)
		}

		body, err := c.get(ctx, "/leads", q)
		if err != nil {
			return nil, err
		}
		items, total := parseLeadPage(body)
		out.Items = append(out.Items, items...)
		if total > out.Total {
			out.Total = total
		}

		if len(items) < pageSize || (total > 0 && len(out.Items) >= total) {
			break
		}
	}
	if out.Total < len(out.Items) {
		out.Total = len(out.Items)
	}

	zap.L().Debug("leadsapi: listed leads",
		zap.String("segment", segment),
		zap.Int("items", len(out.Items)),
		zap.Int("total", out.Total),
	)
	return out, nil
}

// parseLeadPage accepts a bare array or an object carrying the records
// under items, leads or data.
func parseLeadPage(body []byte) ([]json.RawMessage, int) {
	doc := gjson.ParseBytes(body)
	list := doc
	if !doc.IsArray() {
		for _, k := range []string{"items", "leads", "data"} {
			if v := doc.Get(k); v.IsArray() {
				list = v
				break
			}
		}
	}
	if !list.IsArray() {
		return nil, 0
	}
	var items []json.RawMessage
	list.ForEach(func(_, v gjson.Result) bool {
		if v.IsObject() {
			items = append(items, json.RawMessage(v.Raw))
		}
		return true
	})
	total := int(doc.Get("total").Int())
	if total == 0 {
		total = int(doc.Get("pagination.total").Int())
	}
	return items, total
}

func (c *httpClient) GetStatusTaxonomy(ctx context.Context) ([]model.StatusNode, error) {
	body, err := c.get(ctx, "/statuses", nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		doc = doc.Get("statuses")
	}

	var nodes []model.StatusNode
	doc.ForEach(func(_, v gjson.Result) bool {
		name := firstString(v, "name", "main_status", "status")
		if name == "" {
			return true
		}
		node := model.StatusNode{Name: name, SubStatuses: []string{}}
		subs := v.Get("sub_statuses")
		if !subs.Exists() {
			subs = v.Get("subStatuses")
		}
		subs.ForEach(func(_, s gjson.Result) bool {
			if sub := firstString(s, "name", "sub_status"); sub != "" {
				node.SubStatuses = append(node.SubStatuses, sub)
			} else if s.Type == gjson.String && strings.TrimSpace(s.Str) != "" {
				node.SubStatuses = append(node.SubStatuses, strings.TrimSpace(s.Str))
			}
			return true
		})
		nodes = append(nodes, node)
		return true
	})
	return nodes, nil
}

func (c *httpClient) ListLoanTypes(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, "/loan-types", nil)
	if err != nil {
		return nil, err
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		doc = doc.Get("loan_types")
	}

	out := []string{}
	doc.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			if s := strings.TrimSpace(v.Str); s != "" {
				out = append(out, s)
			}
			return true
		}
		if s := firstString(v, "_id", "id", "name"); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out, nil
}

func firstString(v gjson.Result, keys ...string) string {
	if !v.IsObject() {
		return ""
	}
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k).String()); s != "" {
			return s
		}
	}
	return ""
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
