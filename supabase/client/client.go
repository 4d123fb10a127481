// Package client provides a Supabase client for the social graph service.
// It covers the PostgREST query surface (filters, ordering, range
// pagination, exact counts, single-row reads, inserts and deletes) and the
// Realtime websocket channel used for change notifications.
package client

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
	"time"

	"github.com/mindlog/social_layer/internal/httputil"
)

// maxResponseBytes caps PostgREST response bodies.
const maxResponseBytes = 8 << 20

// Client is a Supabase REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

// BaseURL returns the project URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIKey returns the key used for the apikey header.
func (c *Client) APIKey() string {
	return c.apiKey
}

// =============================================================================
// Database Operations (PostgREST)
// =============================================================================

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client: c,
		table:  table,
		method: http.MethodGet,
	}
}

// QueryBuilder builds PostgREST queries.
type QueryBuilder struct {
	client      *Client
	table       string
	method      string
	columns     string
	filters     [][2]string
	orders      []string
	limit       int
	offset      int
	single      bool
	count       string // exact, planned, estimated
	head        bool
	body        any
	upsert      bool
	onConflict  string
	accessToken string
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.method = http.MethodGet
	q.columns = columns
	return q
}

func (q *QueryBuilder) addFilter(column, expr string) *QueryBuilder {
	q.filters = append(q.filters, [2]string{column, expr})
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	return q.addFilter(column, "eq."+formatValue(value))
}

// Neq adds a not-equal filter.
func (q *QueryBuilder) Neq(column string, value any) *QueryBuilder {
	return q.addFilter(column, "neq."+formatValue(value))
}

// Gt adds a greater-than filter.
func (q *QueryBuilder) Gt(column string, value any) *QueryBuilder {
	return q.addFilter(column, "gt."+formatValue(value))
}

// Lt adds a less-than filter.
func (q *QueryBuilder) Lt(column string, value any) *QueryBuilder {
	return q.addFilter(column, "lt."+formatValue(value))
}

// In adds an IN filter.
func (q *QueryBuilder) In(column string, values []any) *QueryBuilder {
	strValues := make([]string, len(values))
	for i, v := range values {
		strValues[i] = quoteListValue(formatValue(v))
	}
	return q.addFilter(column, "in.("+strings.Join(strValues, ",")+")")
}

// InStrings adds an IN filter over string values.
func (q *QueryBuilder) InStrings(column string, values []string) *QueryBuilder {
	anyValues := make([]any, len(values))
	for i, v := range values {
		anyValues[i] = v
	}
	return q.In(column, anyValues)
}

// Is adds an IS filter (for NULL, TRUE, FALSE).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	return q.addFilter(column, "is."+formatValue(value))
}

// Order adds an ORDER BY clause.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, fmt.Sprintf("%s.%s", column, dir))
	return q
}

// Limit sets the LIMIT.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Offset sets the OFFSET.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Range selects rows from..to inclusive.
func (q *QueryBuilder) Range(from, to int) *QueryBuilder {
	q.offset = from
	q.limit = to - from + 1
	return q
}

// Single expects exactly one row. A missing row surfaces as ErrNoRows.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

// Count includes count in response.
func (q *QueryBuilder) Count(countType string) *QueryBuilder {
	q.count = countType
	return q
}

// Head issues a HEAD request so only the count is transferred.
func (q *QueryBuilder) Head() *QueryBuilder {
	q.head = true
	return q
}

// WithToken runs the request with a user access token so row level security
// applies to that user.
func (q *QueryBuilder) WithToken(token string) *QueryBuilder {
	q.accessToken = token
	return q
}

// Insert inserts data into the table.
func (q *QueryBuilder) Insert(data any) *QueryBuilder {
	q.method = http.MethodPost
	q.body = data
	q.upsert = false
	return q
}

// Upsert upserts data into the table.
func (q *QueryBuilder) Upsert(data any, onConflict string) *QueryBuilder {
	q.method = http.MethodPost
	q.body = data
	q.upsert = true
	q.onConflict = onConflict
	return q
}

// Update patches rows matching the filters.
func (q *QueryBuilder) Update(data any) *QueryBuilder {
	q.method = http.MethodPatch
	q.body = data
	return q
}

// Delete removes rows matching the filters. Zero matching rows is not an error.
func (q *QueryBuilder) Delete() *QueryBuilder {
	q.method = http.MethodDelete
	return q
}

// Execute runs the query. Non-2xx responses are returned as *APIError.
func (q *QueryBuilder) Execute(ctx context.Context) (*Response, error) {
	req, err := q.buildRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := q.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp, nil
}

// ExecuteInto runs the query and unmarshals the body into dest.
func (q *QueryBuilder) ExecuteInto(ctx context.Context, dest any) error {
	resp, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	if err := resp.JSON(dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// ExecuteCount runs a head-only exact count.
func (q *QueryBuilder) ExecuteCount(ctx context.Context) (int, error) {
	q.method = http.MethodGet
	q.head = true
	if q.count == "" {
		q.count = "exact"
	}
	resp, err := q.Execute(ctx)
	if err != nil {
		return 0, err
	}
	if resp.Count == nil {
		return 0, fmt.Errorf("count missing from response")
	}
	return *resp.Count, nil
}

func (q *QueryBuilder) buildRequest(ctx context.Context) (*http.Request, error) {
	reqURL := fmt.Sprintf("%s/rest/v1/%s", q.client.baseURL, url.PathEscape(q.table))

	params := url.Values{}
	if q.method == http.MethodGet && q.columns != "" {
		params.Set("select", q.columns)
	}
	for _, f := range q.filters {
		params.Add(f[0], f[1])
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		params.Set("offset", strconv.Itoa(q.offset))
	}
	if q.upsert && q.onConflict != "" {
		params.Set("on_conflict", q.onConflict)
	}
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var body io.Reader
	if q.body != nil {
		data, err := json.Marshal(q.body)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := q.method
	if method == http.MethodGet && q.head {
		method = http.MethodHead
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	q.client.setHeaders(req, q.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.single {
		req.Header.Set("Accept", "application/vnd.pgrst.object+json")
	}

	var prefer []string
	switch q.method {
	case http.MethodPost:
		if q.upsert {
			prefer = append(prefer, "resolution=merge-duplicates")
		}
		prefer = append(prefer, "return=representation")
	case http.MethodPatch, http.MethodDelete:
		prefer = append(prefer, "return=minimal")
	}
	if q.count != "" {
		prefer = append(prefer, "count="+q.count)
	}
	if len(prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(prefer, ","))
	}

	return req, nil
}

// =============================================================================
// RPC (Stored Procedures)
// =============================================================================

// RPC calls a stored procedure.
func (c *Client) RPC(ctx context.Context, fn string, params any) (*Response, error) {
	reqURL := fmt.Sprintf("%s/rest/v1/rpc/%s", c.baseURL, fn)

	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setHeaders(req, "")
	if params != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp, nil
}

// =============================================================================
// Response Types
// =============================================================================

// Response is a generic API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	// Count is parsed from Content-Range when a count was requested.
	Count *int
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Error returns an *APIError if the response indicates failure.
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{StatusCode: r.StatusCode}
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
		Hint    string `json:"hint"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &errResp); err == nil {
		apiErr.Code = errResp.Code
		apiErr.Message = errResp.Message
		if apiErr.Message == "" {
			apiErr.Message = errResp.Error
		}
		apiErr.Details = errResp.Details
		apiErr.Hint = errResp.Hint
	}
	return apiErr
}

// parseContentRange reads the total from "0-19/57" or "*/57".
func parseContentRange(header string) *int {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return nil
	}
	total := header[idx+1:]
	if total == "*" {
		return nil
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return nil
	}
	return &n
}

// =============================================================================
// Internal Methods
// =============================================================================

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("apikey", c.apiKey)
	bearer := c.apiKey
	if accessToken != "" {
		bearer = accessToken
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if id := GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
		Count:      parseContentRange(resp.Header.Get("Content-Range")),
	}, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// quoteListValue quotes values that contain PostgREST list delimiters.
func quoteListValue(v string) string {
	if strings.ContainsAny(v, ",()\" ") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}
