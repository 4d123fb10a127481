// Package notifications keeps the unread notification count of the signed-in
// user current.
package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/session"
	"github.com/mindlog/social_layer/internal/storage"
)

// Refresh triggers, used as metric labels.
const (
	TriggerSignIn     = "sign_in"
	TriggerRealtime   = "realtime"
	TriggerForeground = "foreground"
	TriggerManual     = "manual"
)

const backgroundRefreshTimeout = 10 * time.Second

// AppState is the lifecycle state of the host application.
type AppState string

const (
	AppActive     AppState = "active"
	AppInactive   AppState = "inactive"
	AppBackground AppState = "background"
)

// ChangeFeed delivers change notifications for one user's notification rows.
type ChangeFeed interface {
	// Watch calls onChange for every insert, update or delete until the
	// returned stop function is called.
	Watch(ctx context.Context, userID string, onChange func()) (stop func(), err error)
}

// State is what observers receive. Loaded is false while no user is signed
// in or before the first count arrived.
type State struct {
	UserID string `json:"user_id,omitempty"`
	Loaded bool   `json:"loaded"`
	Count  int    `json:"count"`
}

// Tracker holds the unread count for the current user. Every trigger runs
// the same refetch; a refetch replaces the count and never adjusts it.
// Triggers that arrive while a refetch is running are coalesced into one
// follow-up refetch.
type Tracker struct {
	counts  storage.NotificationStore
	feed    ChangeFeed
	metrics *metrics.Metrics
	log     *logrus.Entry

	mu         sync.Mutex
	state      State
	generation uint64
	stopFeed   func()
	running    bool
	pending    bool
	observers  map[int]func(State)
	nextObs    int
}

// NewTracker creates an idle Tracker. feed may be nil to disable realtime.
func NewTracker(counts storage.NotificationStore, feed ChangeFeed, m *metrics.Metrics, logger *logging.Logger) *Tracker {
	return &Tracker{
		counts:    counts,
		feed:      feed,
		metrics:   m,
		log:       logging.OrDiscard(logger).Component("notifications"),
		observers: make(map[int]func(State)),
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Count returns the unread count, zero when idle.
func (t *Tracker) Count() int {
	return t.State().Count
}

// Subscribe registers fn for state changes and returns the function that
// removes it.
func (t *Tracker) Subscribe(fn func(State)) func() {
	t.mu.Lock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

// SignIn starts tracking userID. Signing in the current user again only
// refreshes the count.
func (t *Tracker) SignIn(ctx context.Context, userID string) error {
	if userID == "" {
		t.SignOut()
		return nil
	}

	t.mu.Lock()
	if t.state.UserID == userID {
		t.mu.Unlock()
		return t.refresh(ctx, TriggerSignIn)
	}
	stop := t.resetLocked(userID)
	gen := t.generation
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	t.publish()

	if t.feed != nil {
		stopFeed, err := t.feed.Watch(ctx, userID, func() { t.refreshInBackground(TriggerRealtime) })
		if err != nil {
			t.log.WithContext(ctx).WithError(err).WithField("user_id", userID).Warn("realtime subscription failed; count updates on refresh only")
		} else {
			t.mu.Lock()
			if t.generation == gen {
				t.stopFeed = stopFeed
				stopFeed = nil
			}
			t.mu.Unlock()
			// The user changed while subscribing.
			if stopFeed != nil {
				stopFeed()
			}
		}
	}

	return t.refresh(ctx, TriggerSignIn)
}

// SignOut returns to idle, releases the realtime subscription and discards
// any refetch still running for the previous user.
func (t *Tracker) SignOut() {
	t.mu.Lock()
	if t.state.UserID == "" {
		t.mu.Unlock()
		return
	}
	stop := t.resetLocked("")
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	t.publish()
}

func (t *Tracker) resetLocked(userID string) (stop func()) {
	t.generation++
	stop = t.stopFeed
	t.stopFeed = nil
	t.running = false
	t.pending = false
	t.state = State{UserID: userID}
	return stop
}

// Refresh refetches the count. It is the explicit external trigger.
func (t *Tracker) Refresh(ctx context.Context) error {
	return t.refresh(ctx, TriggerManual)
}

// HandleAppState refetches when the app returns to the foreground.
func (t *Tracker) HandleAppState(ctx context.Context, prev, next AppState) error {
	if next != AppActive || (prev != AppInactive && prev != AppBackground) {
		return nil
	}
	return t.refresh(ctx, TriggerForeground)
}

// BindSession follows src: sign-in and token refresh track the user,
// sign-out returns to idle. The returned function stops following.
func (t *Tracker) BindSession(ctx context.Context, src session.Source) func() {
	unsubscribe := src.Subscribe(func(c session.Change) {
		switch c.Event {
		case session.SignedOut:
			t.SignOut()
		default:
			if setter, ok := t.feed.(interface{ SetAccessToken(string) }); ok && c.AccessToken != "" {
				setter.SetAccessToken(c.AccessToken)
			}
			if err := t.SignIn(ctx, c.UserID); err != nil {
				t.log.WithError(err).WithField("event", c.Event.String()).Warn("unread count refresh failed")
			}
		}
	})

	if userID, _ := src.Current(); userID != "" {
		if err := t.SignIn(ctx, userID); err != nil {
			t.log.WithError(err).Warn("unread count refresh failed")
		}
	} else {
		t.SignOut()
	}
	return unsubscribe
}

// Close signs out.
func (t *Tracker) Close() {
	t.SignOut()
}

func (t *Tracker) refreshInBackground(trigger string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()
		if err := t.refresh(ctx, trigger); err != nil {
			t.log.WithError(err).WithField("trigger", trigger).Warn("unread count refresh failed")
		}
	}()
}

func (t *Tracker) refresh(ctx context.Context, trigger string) error {
	t.mu.Lock()
	userID := t.state.UserID
	if userID == "" {
		t.mu.Unlock()
		return nil
	}
	if t.running {
		t.pending = true
		t.mu.Unlock()
		t.metrics.RecordTrackerEvent(trigger, "coalesced")
		return nil
	}
	t.running = true
	gen := t.generation
	t.mu.Unlock()

	for {
		count, err := t.counts.CountUnread(ctx, userID)

		t.mu.Lock()
		if t.generation != gen {
			t.mu.Unlock()
			t.metrics.RecordTrackerEvent(trigger, "stale")
			return nil
		}
		if err != nil {
			t.running = false
			t.pending = false
			t.mu.Unlock()
			t.metrics.RecordTrackerEvent(trigger, "failed")
			return err
		}
		changed := !t.state.Loaded || t.state.Count != count
		t.state.Count = count
		t.state.Loaded = true
		again := t.pending
		t.pending = false
		if !again {
			t.running = false
		}
		t.mu.Unlock()

		t.metrics.RecordTrackerEvent(trigger, "ok")
		if changed {
			t.publish()
		}
		if !again {
			return nil
		}
	}
}

func (t *Tracker) publish() {
	t.mu.Lock()
	state := t.state
	observers := make([]func(State), 0, len(t.observers))
	for _, fn := range t.observers {
		observers = append(observers, fn)
	}
	t.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}
