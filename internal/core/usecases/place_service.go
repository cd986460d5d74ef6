package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/reconcile"
)

var tracer = otel.Tracer("github.com/samirrijal/planb/internal/core/usecases")

const (
	placeTTL         = 600 // 10 min for a single place
	categoriesTTL    = 300
	lastKnownGoodTTL = 7 * 24 * 3600

	categoriesCacheKey = "places:categories"
)

func placeCacheKey(id string) string { return "places:id:" + id }
func lastKnownGoodKey(id string) string { return "places:lkg:" + id }

// PlaceService handles place-related business logic. Every geometry it
// stores or returns has been through the reconcile engine.
type PlaceService struct {
	places ports.PlaceRepository
	cache  ports.CacheService
	events ports.EventPublisher
	engine *reconcile.Engine
	logger *slog.Logger
}

// NewPlaceService creates a new PlaceService. cache and events may be nil.
func NewPlaceService(places ports.PlaceRepository, cache ports.CacheService, events ports.EventPublisher, engine *reconcile.Engine) *PlaceService {
	return &PlaceService{
		places: places,
		cache:  cache,
		events: events,
		engine: engine,
		logger: slog.Default().With("component", "place_service"),
	}
}

// Engine returns the reconcile engine used by the service.
func (s *PlaceService) Engine() *reconcile.Engine { return s.engine }

// List returns places matching filter with display geometry.
func (s *PlaceService) List(ctx context.Context, filter domain.PlaceFilter) ([]domain.Place, error) {
	if strings.EqualFold(filter.Category, "all") {
		filter.Category = ""
	}
	places, err := s.places.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list places: %w", err)
	}
	for i := range places {
		s.forDisplay(&places[i])
	}
	return places, nil
}

// GetByID returns a single place. When the repository fails for a reason
// other than a missing record, the last copy served is returned instead.
func (s *PlaceService) GetByID(ctx context.Context, id string) (*domain.Place, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, placeCacheKey(id)); err == nil {
			var place domain.Place
			if err := json.Unmarshal(data, &place); err == nil {
				return &place, nil
			}
		}
	}

	place, err := s.places.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			if lkg := s.lastKnownGood(ctx, id); lkg != nil {
				s.logger.Warn("serving last known good place", "place_id", id, "error", err)
				return lkg, nil
			}
		}
		return nil, err
	}
	s.forDisplay(place)

	if s.cache != nil {
		if data, err := json.Marshal(place); err == nil {
			_ = s.cache.Set(ctx, placeCacheKey(id), data, placeTTL)
			_ = s.cache.Set(ctx, lastKnownGoodKey(id), data, lastKnownGoodTTL)
		}
	}
	return place, nil
}

func (s *PlaceService) lastKnownGood(ctx context.Context, id string) *domain.Place {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, lastKnownGoodKey(id))
	if err != nil {
		return nil
	}
	var place domain.Place
	if err := json.Unmarshal(data, &place); err != nil {
		return nil
	}
	return &place
}

// Create validates and stores a new place.
func (s *PlaceService) Create(ctx context.Context, place *domain.Place) (*domain.Place, error) {
	ctx, span := tracer.Start(ctx, "PlaceService.Create")
	defer span.End()

	if err := place.Validate(); err != nil {
		return nil, err
	}
	p := place.Clone()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("place.id", p.ID))
	s.prepare(&p)

	if err := s.places.Create(ctx, &p); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create place: %w", err)
	}
	s.afterWrite(ctx, domain.EventPlaceSaved, &p)
	return &p, nil
}

// Update validates and replaces an existing place.
func (s *PlaceService) Update(ctx context.Context, place *domain.Place) (*domain.Place, error) {
	ctx, span := tracer.Start(ctx, "PlaceService.Update")
	defer span.End()

	if place.ID == "" {
		return nil, fmt.Errorf("%w: missing id", domain.ErrInvalidPlace)
	}
	span.SetAttributes(attribute.String("place.id", place.ID))
	if err := place.Validate(); err != nil {
		return nil, err
	}
	p := place.Clone()
	s.prepare(&p)

	if err := s.places.Update(ctx, &p); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update place %s: %w", p.ID, err)
	}
	s.afterWrite(ctx, domain.EventPlaceSaved, &p)
	return &p, nil
}

// Delete removes a place.
func (s *PlaceService) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "PlaceService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("place.id", id))

	if err := s.places.Delete(ctx, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete place %s: %w", id, err)
	}
	s.Invalidate(ctx, id)
	s.publish(ctx, &domain.PlaceEvent{Type: domain.EventPlaceDeleted, PlaceID: id})
	return nil
}

// FetchPlace implements ports.PlaceStore.
func (s *PlaceService) FetchPlace(ctx context.Context, id string) (*domain.Place, error) {
	return s.GetByID(ctx, id)
}

// SavePlace implements ports.PlaceStore: places without an ID are created.
func (s *PlaceService) SavePlace(ctx context.Context, place *domain.Place) (*domain.Place, error) {
	if place.ID == "" {
		return s.Create(ctx, place)
	}
	return s.Update(ctx, place)
}

// DeletePlace implements ports.PlaceStore.
func (s *PlaceService) DeletePlace(ctx context.Context, id string) error {
	return s.Delete(ctx, id)
}

// Categories returns every category with its place count.
func (s *PlaceService) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, categoriesCacheKey); err == nil {
			var cats []domain.CategoryCount
			if err := json.Unmarshal(data, &cats); err == nil {
				return cats, nil
			}
		}
	}

	cats, err := s.places.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(cats); err == nil {
			_ = s.cache.Set(ctx, categoriesCacheKey, data, categoriesTTL)
		}
	}
	return cats, nil
}

// Reconcile reports how a point would be repaired.
func (s *PlaceService) Reconcile(p domain.GeoPoint) reconcile.Report {
	return s.engine.ReconcileWithReport(p)
}

// Invalidate drops cached copies of a place and the category counts.
func (s *PlaceService) Invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if id != "" {
		_ = s.cache.Delete(ctx, placeCacheKey(id))
	}
	_ = s.cache.Delete(ctx, categoriesCacheKey)
}

// HandlePlaceEvent keeps the cache coherent with writes made elsewhere.
func (s *PlaceService) HandlePlaceEvent(ctx context.Context, event *domain.PlaceEvent) error {
	s.Invalidate(ctx, event.PlaceID)
	return nil
}

// prepare reconciles the geometry before storage. A flag set earlier
// survives an unchanged geometry.
func (s *PlaceService) prepare(p *domain.Place) {
	report := s.engine.ReconcileWithReport(p.Geometry)
	if report.Changed() {
		s.logger.Info("reconciled place geometry",
			"place_id", p.ID,
			"outcome", report.Outcome.String(),
			"from", report.Original.String(),
			"to", report.Point.String(),
		)
		p.NeedsCorrection = report.NeedsManualCorrection()
	}
	p.Geometry = report.Point
}

func (s *PlaceService) forDisplay(p *domain.Place) {
	report := s.engine.ReconcileWithReport(p.Geometry)
	p.Geometry = report.Point
	if report.NeedsManualCorrection() {
		p.NeedsCorrection = true
	}
}

func (s *PlaceService) afterWrite(ctx context.Context, eventType string, p *domain.Place) {
	s.Invalidate(ctx, p.ID)
	s.publish(ctx, &domain.PlaceEvent{Type: eventType, PlaceID: p.ID, Place: p})
}

func (s *PlaceService) publish(ctx context.Context, event *domain.PlaceEvent) {
	if s.events == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	if err := s.events.PublishPlaceEvent(ctx, event); err != nil {
		s.logger.Warn("publish place event failed", "type", event.Type, "place_id", event.PlaceID, "error", err)
	}
}
