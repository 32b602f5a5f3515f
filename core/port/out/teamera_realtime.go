package out

import (
	"context"

	"teamera_server/core/domain"
)

// ChangeHandler is called for every notification of a subscription.
type ChangeHandler func(change domain.RowChange)

// Subscription is an open change-feed channel.
type Subscription interface {
	Close() error
}

// ChangeFeed opens filtered subscriptions on the backend change feed.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter domain.ChangeFilter, handler ChangeHandler) (Subscription, error)
}

// RealtimePort pushes events to connected API clients.
type RealtimePort interface {
	Subscribe(userID string) <-chan *domain.RealtimeEvent
	Unsubscribe(userID string, ch <-chan *domain.RealtimeEvent)
	Push(ctx context.Context, userID string, event *domain.RealtimeEvent) error
	ConnectedCount() int
	IsConnected(userID string) bool
}
