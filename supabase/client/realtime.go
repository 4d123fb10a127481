package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// ErrNotConnected is returned when a channel is used before Connect.
var ErrNotConnected = errors.New("realtime: not connected")

const defaultHeartbeat = 30 * time.Second

// RealtimeClient handles Supabase Realtime subscriptions over the Phoenix
// channel protocol.
type RealtimeClient struct {
	mu          sync.RWMutex
	writeMu     sync.Mutex
	url         string
	accessToken string
	heartbeat   time.Duration
	conn        *websocket.Conn
	channels    map[string]*Channel
	handlers    map[string][]EventHandler
	replies     map[string]chan reply
	done        chan struct{}
	ref         int
}

// EventHandler handles realtime events.
type EventHandler func(event *RealtimeEvent)

// RealtimeEvent is a postgres change delivered on a channel.
type RealtimeEvent struct {
	Topic           string
	Type            string // INSERT, UPDATE, DELETE
	Schema          string
	Table           string
	Record          map[string]any
	OldRecord       map[string]any
	CommitTimestamp string
}

type reply struct {
	status   string
	response string
}

// Channel represents a realtime channel.
type Channel struct {
	client  *RealtimeClient
	topic   string
	changes []PostgresChangesConfig
	joined  bool
	joinRef string
}

// PostgresChangesConfig configures a postgres_changes binding.
type PostgresChangesConfig struct {
	Event  string // INSERT, UPDATE, DELETE, *
	Schema string
	Table  string
	Filter string // Optional filter like "user_id=eq.1"
}

// NewRealtimeClient creates a realtime client for the project at supabaseURL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[5:]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[4:]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + url.QueryEscape(apiKey) + "&vsn=1.0.0"

	return &RealtimeClient{
		url:       wsURL,
		heartbeat: defaultHeartbeat,
		channels:  make(map[string]*Channel),
		handlers:  make(map[string][]EventHandler),
		replies:   make(map[string]chan reply),
		done:      make(chan struct{}),
	}
}

// SetAccessToken sets the user token sent with channel joins so row level
// security filters the change feed.
func (r *RealtimeClient) SetAccessToken(token string) {
	r.mu.Lock()
	r.accessToken = token
	r.mu.Unlock()
}

// SetHeartbeat overrides the heartbeat interval. Must be called before Connect.
func (r *RealtimeClient) SetHeartbeat(d time.Duration) {
	if d > 0 {
		r.heartbeat = d
	}
}

// Connect establishes the WebSocket connection.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.handleMessages(conn, r.done)
	go r.sendHeartbeats(r.done)

	return nil
}

// Done is closed when the connection is lost or closed.
func (r *RealtimeClient) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.done
}

// Disconnect closes the WebSocket connection and forgets all channels.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return nil
	}
	r.conn = nil
	r.channels = make(map[string]*Channel)
	r.handlers = make(map[string][]EventHandler)
	r.mu.Unlock()

	r.writeMu.Lock()
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	r.writeMu.Unlock()
	conn.Close()
	if err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}

// Channel returns or creates a channel.
func (r *RealtimeClient) Channel(topic string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[topic]; ok {
		return ch
	}

	ch := &Channel{
		client: r,
		topic:  topic,
	}
	r.channels[topic] = ch
	return ch
}

// Topic returns the channel topic.
func (c *Channel) Topic() string {
	return c.topic
}

// Subscribe joins the channel and waits for the server's reply.
func (c *Channel) Subscribe(ctx context.Context) error {
	r := c.client

	r.mu.Lock()
	if c.joined {
		r.mu.Unlock()
		return nil
	}
	if r.conn == nil {
		r.mu.Unlock()
		return ErrNotConnected
	}
	ref := r.nextRef()
	c.joinRef = ref
	changes := make([]map[string]any, 0, len(c.changes))
	for _, pc := range c.changes {
		binding := map[string]any{"event": pc.Event, "schema": pc.Schema, "table": pc.Table}
		if pc.Filter != "" {
			binding["filter"] = pc.Filter
		}
		changes = append(changes, binding)
	}
	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": changes,
		},
	}
	if r.accessToken != "" {
		payload["access_token"] = r.accessToken
	}
	wait := make(chan reply, 1)
	r.replies[ref] = wait
	r.mu.Unlock()

	msg := map[string]any{
		"topic":    c.topic,
		"event":    "phx_join",
		"payload":  payload,
		"ref":      ref,
		"join_ref": ref,
	}
	if err := r.write(msg); err != nil {
		r.dropReply(ref)
		return fmt.Errorf("send join: %w", err)
	}

	select {
	case rep := <-wait:
		if rep.status != "ok" {
			return fmt.Errorf("join %s rejected: %s", c.topic, rep.response)
		}
	case <-ctx.Done():
		r.dropReply(ref)
		return ctx.Err()
	}

	r.mu.Lock()
	c.joined = true
	r.mu.Unlock()
	return nil
}

// Unsubscribe leaves the channel and drops its handlers.
func (c *Channel) Unsubscribe(ctx context.Context) error {
	r := c.client

	r.mu.Lock()
	for key := range r.handlers {
		if strings.HasPrefix(key, c.topic+":") {
			delete(r.handlers, key)
		}
	}
	delete(r.channels, c.topic)
	if !c.joined || r.conn == nil {
		c.joined = false
		r.mu.Unlock()
		return nil
	}
	c.joined = false
	ref := r.nextRef()
	joinRef := c.joinRef
	r.mu.Unlock()

	msg := map[string]any{
		"topic":    c.topic,
		"event":    "phx_leave",
		"payload":  map[string]any{},
		"ref":      ref,
		"join_ref": joinRef,
	}
	if err := r.write(msg); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

// On registers an event handler. event is INSERT, UPDATE, DELETE or "*".
func (c *Channel) On(event string, handler EventHandler) *Channel {
	c.client.mu.Lock()
	defer c.client.mu.Unlock()

	key := c.topic + ":" + event
	c.client.handlers[key] = append(c.client.handlers[key], handler)
	return c
}

// OnInsert registers a handler for INSERT events.
func (c *Channel) OnInsert(handler EventHandler) *Channel {
	return c.On("INSERT", handler)
}

// OnUpdate registers a handler for UPDATE events.
func (c *Channel) OnUpdate(handler EventHandler) *Channel {
	return c.On("UPDATE", handler)
}

// OnDelete registers a handler for DELETE events.
func (c *Channel) OnDelete(handler EventHandler) *Channel {
	return c.On("DELETE", handler)
}

// OnAll registers a handler for every change type.
func (c *Channel) OnAll(handler EventHandler) *Channel {
	return c.On("*", handler)
}

func (r *RealtimeClient) handleMessages(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		for _, ch := range r.channels {
			ch.joined = false
		}
		r.mu.Unlock()
		close(done)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.route(message)
	}
}

func (r *RealtimeClient) route(message []byte) {
	msg := gjson.ParseBytes(message)
	topic := msg.Get("topic").String()

	switch event := msg.Get("event").String(); event {
	case "phx_reply":
		r.resolveReply(msg.Get("ref").String(), reply{
			status:   msg.Get("payload.status").String(),
			response: msg.Get("payload.response").Raw,
		})
	case "phx_error", "phx_close":
		r.mu.Lock()
		if ch, ok := r.channels[topic]; ok {
			ch.joined = false
		}
		r.mu.Unlock()
	case "postgres_changes":
		data := msg.Get("payload.data")
		r.dispatchEvent(parseChange(topic, data.Get("type").String(), data))
	case "INSERT", "UPDATE", "DELETE":
		r.dispatchEvent(parseChange(topic, event, msg.Get("payload")))
	}
}

func parseChange(topic, changeType string, data gjson.Result) *RealtimeEvent {
	event := &RealtimeEvent{
		Topic:           topic,
		Type:            changeType,
		Schema:          data.Get("schema").String(),
		Table:           data.Get("table").String(),
		CommitTimestamp: data.Get("commit_timestamp").String(),
	}
	if rec := data.Get("record"); rec.IsObject() {
		_ = json.Unmarshal([]byte(rec.Raw), &event.Record)
	}
	if old := data.Get("old_record"); old.IsObject() {
		_ = json.Unmarshal([]byte(old.Raw), &event.OldRecord)
	}
	return event
}

func (r *RealtimeClient) dispatchEvent(event *RealtimeEvent) {
	if event.Type == "" {
		return
	}

	r.mu.RLock()
	handlers := append([]EventHandler(nil), r.handlers[event.Topic+":"+event.Type]...)
	handlers = append(handlers, r.handlers[event.Topic+":*"]...)
	r.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

func (r *RealtimeClient) resolveReply(ref string, rep reply) {
	r.mu.Lock()
	wait, ok := r.replies[ref]
	delete(r.replies, ref)
	r.mu.Unlock()
	if ok {
		wait <- rep
	}
}

func (r *RealtimeClient) dropReply(ref string) {
	r.mu.Lock()
	delete(r.replies, ref)
	r.mu.Unlock()
}

func (r *RealtimeClient) sendHeartbeats(done chan struct{}) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			ref := r.nextRef()
			r.mu.Unlock()
			_ = r.write(map[string]any{
				"topic":   "phoenix",
				"event":   "heartbeat",
				"payload": map[string]any{},
				"ref":     ref,
			})
		}
	}
}

// nextRef must be called with r.mu held.
func (r *RealtimeClient) nextRef() string {
	r.ref++
	return strconv.Itoa(r.ref)
}

func (r *RealtimeClient) write(msg any) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// =============================================================================
// Postgres Changes Subscription
// =============================================================================

// SubscribeToPostgresChanges joins a channel bound to a table's change feed
// and delivers matching events to handler.
func (r *RealtimeClient) SubscribeToPostgresChanges(ctx context.Context, cfg PostgresChangesConfig, handler EventHandler) (*Channel, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = "*"
	}

	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	ch := r.Channel(topic)
	r.mu.Lock()
	ch.changes = append(ch.changes, cfg)
	r.mu.Unlock()
	ch.On(cfg.Event, handler)

	if err := ch.Subscribe(ctx); err != nil {
		_ = ch.Unsubscribe(context.Background())
		return nil, err
	}

	return ch, nil
}
