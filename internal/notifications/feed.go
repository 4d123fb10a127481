package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/mindlog/social_layer/internal/storage"
	"github.com/mindlog/social_layer/supabase/client"
)

const unsubscribeTimeout = 5 * time.Second

// RealtimeFeed watches the notifications table through Supabase Realtime.
type RealtimeFeed struct {
	rt *client.RealtimeClient
}

var _ ChangeFeed = (*RealtimeFeed)(nil)

// NewRealtimeFeed wraps a connected realtime client.
func NewRealtimeFeed(rt *client.RealtimeClient) *RealtimeFeed {
	return &RealtimeFeed{rt: rt}
}

// SetAccessToken updates the token used for channel joins.
func (f *RealtimeFeed) SetAccessToken(token string) {
	f.rt.SetAccessToken(token)
}

// Watch joins a postgres_changes channel filtered to userID's rows.
func (f *RealtimeFeed) Watch(ctx context.Context, userID string, onChange func()) (func(), error) {
	ch, err := f.rt.SubscribeToPostgresChanges(ctx, client.PostgresChangesConfig{
		Event:  "*",
		Schema: "public",
		Table:  storage.TableNotifications,
		Filter: "user_id=eq." + userID,
	}, func(*client.RealtimeEvent) { onChange() })
	if err != nil {
		return nil, fmt.Errorf("subscribe notifications for %s: %w", userID, err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		_ = ch.Unsubscribe(ctx)
	}, nil
}
