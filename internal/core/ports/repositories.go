package ports

import (
	"context"

	"github.com/samirrijal/planb/internal/core/domain"
)

// PlaceRepository persists places.
type PlaceRepository interface {
	Create(ctx context.Context, place *domain.Place) error
	Update(ctx context.Context, place *domain.Place) error
	// Upsert writes place matched by the given key. When insertMissing is
	// false an unmatched place is skipped and WriteNone is returned.
	Upsert(ctx context.Context, by domain.IdentifyBy, place *domain.Place, insertMissing bool) (domain.WriteOutcome, error)
	GetByID(ctx context.Context, id string) (*domain.Place, error)
	List(ctx context.Context, filter domain.PlaceFilter) ([]domain.Place, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) (int64, error)
	Categories(ctx context.Context) ([]domain.CategoryCount, error)

	// Maintenance.
	CountLegacyFields(ctx context.Context) (int64, error)
	RemoveLegacyFields(ctx context.Context) (int64, error)
	ListIDs(ctx context.Context) ([]string, error)
	UpdateGeometry(ctx context.Context, id string, point domain.GeoPoint, needsCorrection bool) error
	EnsureSpatialIndex(ctx context.Context) error
}
