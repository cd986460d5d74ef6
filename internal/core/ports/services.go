package ports

import (
	"context"

	"github.com/samirrijal/planb/internal/core/domain"
)

// PlaceStore is what an interaction session needs from persistence.
type PlaceStore interface {
	FetchPlace(ctx context.Context, id string) (*domain.Place, error)
	SavePlace(ctx context.Context, place *domain.Place) (*domain.Place, error)
	DeletePlace(ctx context.Context, id string) error
}

// Renderer draws the map for one session.
type Renderer interface {
	SetMarkers(places []domain.Place)
	ShowPickerCursor(active bool)
	FlyTo(point domain.GeoPoint, zoom float64)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishPlaceEvent(ctx context.Context, event *domain.PlaceEvent) error
	PublishSessionState(ctx context.Context, sessionID string, data []byte) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribePlaceEvents(ctx context.Context, handler func(ctx context.Context, event *domain.PlaceEvent) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
