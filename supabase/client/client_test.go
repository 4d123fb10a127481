package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(Config{URL: server.URL, APIKey: "anon-key"})
	require.NoError(t, err)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{APIKey: "k"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x"})
	assert.Error(t, err)
}

func TestSelectBuildsFilters(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`[{"follower_id":"a"}]`))
	})

	var rows []map[string]any
	err := c.From("follows").
		Select("follower_id,created_at").
		Eq("following_id", "u1").
		InStrings("follower_id", []string{"a", "b,c"}).
		Order("created_at", false).
		Limit(20).
		Offset(40).
		ExecuteInto(context.Background(), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	q := got.URL.Query()
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/rest/v1/follows", got.URL.Path)
	assert.Equal(t, "follower_id,created_at", q.Get("select"))
	assert.Equal(t, "eq.u1", q.Get("following_id"))
	assert.Equal(t, `in.(a,"b,c")`, q.Get("follower_id"))
	assert.Equal(t, "created_at.desc", q.Get("order"))
	assert.Equal(t, "20", q.Get("limit"))
	assert.Equal(t, "40", q.Get("offset"))
	assert.Equal(t, "anon-key", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", got.Header.Get("Authorization"))
}

func TestWithTokenOverridesBearer(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := c.From("blocks").Select("*").WithToken("user-jwt").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer user-jwt", auth)
}

func TestExecuteCountUsesHead(t *testing.T) {
	var method, prefer string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		prefer = r.Header.Get("Prefer")
		w.Header().Set("Content-Range", "*/57")
		w.WriteHeader(http.StatusOK)
	})

	n, err := c.From("notifications").Select("id").Eq("user_id", "u1").Is("read_at", nil).ExecuteCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 57, n)
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "count=exact", prefer)
}

func TestParseContentRange(t *testing.T) {
	assert.Equal(t, 12, *parseContentRange("0-11/12"))
	assert.Equal(t, 0, *parseContentRange("*/0"))
	assert.Nil(t, parseContentRange("0-11/*"))
	assert.Nil(t, parseContentRange(""))
}

func TestSingleNoRows(t *testing.T) {
	var accept string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusNotAcceptable)
		_, _ = w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	_, err := c.From("profiles").Select("*").Eq("id", "nobody").Single().Execute(context.Background())
	require.Error(t, err)
	assert.True(t, IsNoRows(err))
	assert.False(t, IsUniqueViolation(err))
	assert.Equal(t, "application/vnd.pgrst.object+json", accept)
}

func TestInsertUniqueViolation(t *testing.T) {
	var body map[string]any
	var prefer string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		prefer = r.Header.Get("Prefer")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint"}`))
	})

	_, err := c.From("follows").Insert(map[string]any{"follower_id": "a", "following_id": "b"}).Execute(context.Background())
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.Equal(t, "a", body["follower_id"])
	assert.Equal(t, "return=representation", prefer)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Temporary())
	assert.Contains(t, apiErr.Error(), "23505")
}

func TestDeleteByFilters(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := c.From("follows").Delete().Eq("follower_id", "a").Eq("following_id", "b").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, got.Method)
	assert.Equal(t, "eq.a", got.URL.Query().Get("follower_id"))
	assert.Equal(t, "return=minimal", got.Header.Get("Prefer"))
	assert.Empty(t, got.URL.Query().Get("select"))
}

func TestServerErrorIsTemporary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.From("likes").Select("*").Execute(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Temporary())
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestRPC(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/ping", r.URL.Path)
		_, _ = w.Write([]byte(`"pong"`))
	})
	resp, err := c.RPC(context.Background(), "ping", map[string]any{"x": 1})
	require.NoError(t, err)
	var out string
	require.NoError(t, resp.JSON(&out))
	assert.Equal(t, "pong", out)
}
