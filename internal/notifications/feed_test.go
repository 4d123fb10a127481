package notifications

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mindlog/social_layer/internal/storage/memory"
	"github.com/mindlog/social_layer/supabase/client"
)

// realtimeServer acknowledges joins, forwards every frame it receives on
// frames and writes whatever is sent on push.
func realtimeServer(t *testing.T, frames chan<- gjson.Result, push <-chan string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
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
			if parsed.Get("event").String() == "heartbeat" {
				continue
			}
			frames <- parsed
			if parsed.Get("event").String() == "phx_join" {
				ack := `{"topic":"` + parsed.Get("topic").String() + `","event":"phx_reply","ref":"` +
					parsed.Get("ref").String() + `","payload":{"status":"ok","response":{}}}`
				if err := conn.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTrackerOverRealtime(t *testing.T) {
	frames := make(chan gjson.Result, 4)
	push := make(chan string, 1)
	server := realtimeServer(t, frames, push)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rt := client.NewRealtimeClient(server.URL, "anon")
	require.NoError(t, rt.Connect(ctx))
	defer rt.Disconnect()

	backend := memory.New()
	tr := NewTracker(backend, NewRealtimeFeed(rt), nil, nil)
	require.NoError(t, tr.SignIn(ctx, "u1"))
	assert.Equal(t, 0, tr.Count())

	join := <-frames
	assert.Equal(t, "phx_join", join.Get("event").String())
	assert.Equal(t, "realtime:public:notifications:user_id=eq.u1", join.Get("topic").String())
	assert.Equal(t, "user_id=eq.u1", join.Get("payload.config.postgres_changes.0.filter").String())

	for i := 0; i < 5; i++ {
		backend.AddNotification("u1", false)
	}
	push <- `{"topic":"realtime:public:notifications:user_id=eq.u1","event":"postgres_changes","ref":null,` +
		`"payload":{"data":{"type":"INSERT","schema":"public","table":"notifications","record":{"id":"n1","user_id":"u1"}}}}`

	require.Eventually(t, func() bool { return tr.Count() == 5 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, backend.Calls("CountUnread"))

	tr.SignOut()
	leave := <-frames
	assert.Equal(t, "phx_leave", leave.Get("event").String())
	assert.Equal(t, join.Get("topic").String(), leave.Get("topic").String())
}
