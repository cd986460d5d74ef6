package usecases_test

import (
	"context"
	"errors"
	"sync"

	"github.com/samirrijal/planb/internal/core/domain"
)

// --- Mock PlaceRepository ---

type mockPlaceRepo struct {
	createFn     func(ctx context.Context, p *domain.Place) error
	updateFn     func(ctx context.Context, p *domain.Place) error
	upsertFn     func(ctx context.Context, by domain.IdentifyBy, p *domain.Place, insertMissing bool) (domain.WriteOutcome, error)
	getByIDFn    func(ctx context.Context, id string) (*domain.Place, error)
	listFn       func(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error)
	deleteFn     func(ctx context.Context, id string) error
	deleteAllFn  func(ctx context.Context) (int64, error)
	categoriesFn func(ctx context.Context) ([]domain.CategoryCount, error)
	countLegacy  int64
	removeLegacy int64
	ids          []string
	updateGeomFn func(ctx context.Context, id string, p domain.GeoPoint, needs bool) error
	indexCalls   int
}

func (m *mockPlaceRepo) Create(ctx context.Context, p *domain.Place) error {
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	return nil
}

func (m *mockPlaceRepo) Update(ctx context.Context, p *domain.Place) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, p)
	}
	return nil
}

func (m *mockPlaceRepo) Upsert(ctx context.Context, by domain.IdentifyBy, p *domain.Place, insertMissing bool) (domain.WriteOutcome, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, by, p, insertMissing)
	}
	return domain.WriteNone, nil
}

func (m *mockPlaceRepo) GetByID(ctx context.Context, id string) (*domain.Place, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPlaceRepo) List(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error) {
	if m.listFn != nil {
		return m.listFn(ctx, f)
	}
	return nil, nil
}

func (m *mockPlaceRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockPlaceRepo) DeleteAll(ctx context.Context) (int64, error) {
	if m.deleteAllFn != nil {
		return m.deleteAllFn(ctx)
	}
	return 0, nil
}

func (m *mockPlaceRepo) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	if m.categoriesFn != nil {
		return m.categoriesFn(ctx)
	}
	return nil, nil
}

func (m *mockPlaceRepo) CountLegacyFields(ctx context.Context) (int64, error) {
	return m.countLegacy, nil
}

func (m *mockPlaceRepo) RemoveLegacyFields(ctx context.Context) (int64, error) {
	return m.removeLegacy, nil
}

func (m *mockPlaceRepo) ListIDs(ctx context.Context) ([]string, error) { return m.ids, nil }

func (m *mockPlaceRepo) UpdateGeometry(ctx context.Context, id string, p domain.GeoPoint, needs bool) error {
	if m.updateGeomFn != nil {
		return m.updateGeomFn(ctx, id, p, needs)
	}
	return nil
}

func (m *mockPlaceRepo) EnsureSpatialIndex(ctx context.Context) error {
	m.indexCalls++
	return nil
}

// --- Mock CacheService ---

var errCacheMiss = errors.New("cache miss")

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (c *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return b, nil
}

func (c *mockCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mockCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	events []domain.PlaceEvent
}

func (p *mockPublisher) PublishPlaceEvent(ctx context.Context, ev *domain.PlaceEvent) error {
	p.events = append(p.events, *ev)
	return nil
}

func (p *mockPublisher) PublishSessionState(ctx context.Context, sessionID string, data []byte) error {
	return nil
}

func validPlace(id string, lon, lat float64) *domain.Place {
	return &domain.Place{
		ID: id,
		Properties: map[string]any{
			domain.PropName:        "Plose",
			domain.PropDescription: "Hütte",
			domain.PropCategory:    "Gasthaus",
		},
		Geometry: domain.GeoPoint{Lon: lon, Lat: lat},
	}
}
