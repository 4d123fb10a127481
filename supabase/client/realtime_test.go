package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// phoenixServer accepts one socket, acknowledges joins and pushes frames sent
// on push after the first join.
func phoenixServer(t *testing.T, joins chan<- []byte, push <-chan string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/v1/websocket", r.URL.Path)
		assert.Equal(t, "anon", r.URL.Query().Get("apikey"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for frame := range push {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			parsed := gjson.ParseBytes(msg)
			if parsed.Get("event").String() != "phx_join" {
				continue
			}
			joins <- msg
			ack := `{"topic":"` + parsed.Get("topic").String() + `","event":"phx_reply","ref":"` +
				parsed.Get("ref").String() + `","payload":{"status":"ok","response":{}}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRealtimePostgresChanges(t *testing.T) {
	joins := make(chan []byte, 1)
	push := make(chan string, 1)
	server := phoenixServer(t, joins, push)

	rt := NewRealtimeClient(server.URL, "anon")
	rt.SetAccessToken("user-jwt")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rt.Connect(ctx))
	defer rt.Disconnect()

	events := make(chan *RealtimeEvent, 1)
	ch, err := rt.SubscribeToPostgresChanges(ctx, PostgresChangesConfig{
		Table:  "notifications",
		Filter: "user_id=eq.u1",
	}, func(e *RealtimeEvent) { events <- e })
	require.NoError(t, err)
	assert.Equal(t, "realtime:public:notifications:user_id=eq.u1", ch.Topic())

	join := gjson.ParseBytes(<-joins)
	binding := join.Get("payload.config.postgres_changes.0")
	assert.Equal(t, "*", binding.Get("event").String())
	assert.Equal(t, "public", binding.Get("schema").String())
	assert.Equal(t, "notifications", binding.Get("table").String())
	assert.Equal(t, "user_id=eq.u1", binding.Get("filter").String())
	assert.Equal(t, "user-jwt", join.Get("payload.access_token").String())

	push <- `{"topic":"realtime:public:notifications:user_id=eq.u1","event":"postgres_changes","ref":null,` +
		`"payload":{"ids":[1],"data":{"type":"INSERT","schema":"public","table":"notifications",` +
		`"commit_timestamp":"2024-01-01T00:00:00Z","record":{"id":"n1","user_id":"u1"}}}}`

	select {
	case e := <-events:
		assert.Equal(t, "INSERT", e.Type)
		assert.Equal(t, "notifications", e.Table)
		assert.Equal(t, "n1", e.Record["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}

	require.NoError(t, ch.Unsubscribe(ctx))
}

func TestRealtimeSubscribeRequiresConnection(t *testing.T) {
	rt := NewRealtimeClient("https://project.supabase.co", "anon")
	assert.True(t, strings.HasPrefix(rt.url, "wss://project.supabase.co/realtime/v1/websocket"))
	err := rt.Channel("realtime:x").Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRealtimeDispatchIgnoresOtherTopics(t *testing.T) {
	rt := NewRealtimeClient("http://localhost", "anon")
	hits := make(chan string, 2)
	rt.Channel("realtime:a").OnInsert(func(e *RealtimeEvent) { hits <- "a" })

	rt.route([]byte(`{"topic":"realtime:b","event":"postgres_changes","payload":{"data":{"type":"INSERT"}}}`))
	rt.route([]byte(`{"topic":"realtime:a","event":"postgres_changes","payload":{"data":{"type":"UPDATE"}}}`))
	rt.route([]byte(`{"topic":"realtime:a","event":"INSERT","payload":{"record":{"id":"x"}}}`))

	select {
	case got := <-hits:
		assert.Equal(t, "a", got)
	case <-time.After(time.Second):
		t.Fatal("legacy insert not dispatched")
	}
	select {
	case <-hits:
		t.Fatal("unexpected dispatch")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRealtimeDoneClosesOnServerHangup(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	rt := NewRealtimeClient(server.URL, "anon")
	require.NoError(t, rt.Connect(context.Background()))

	select {
	case <-rt.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}
}
