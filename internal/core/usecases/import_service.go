package usecases

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/reconcile"
)

// DefaultDelimiter is the field separator of spreadsheet exports.
const DefaultDelimiter = ';'

const newlineMarker = "[NEWLINE]"

// ProgressFunc is called after each imported row.
type ProgressFunc func(done, total int)

// ImportService bulk-loads places from tabular data.
type ImportService struct {
	places ports.PlaceRepository
	engine *reconcile.Engine
	events ports.EventPublisher
	cache  ports.CacheService
	logger *slog.Logger
}

// NewImportService creates a new ImportService. events and cache may be nil.
func NewImportService(places ports.PlaceRepository, engine *reconcile.Engine, events ports.EventPublisher, cache ports.CacheService) *ImportService {
	return &ImportService{
		places: places,
		engine: engine,
		events: events,
		cache:  cache,
		logger: slog.Default().With("component", "import_service"),
	}
}

// ParseCSV reads delimited text with a header row. Rows whose field count
// does not match the header are skipped and reported as warnings.
func ParseCSV(r io.Reader, delimiter rune) (rows []map[string]any, warnings []string, err error) {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	cr := csv.NewReader(r)
	cr.Comma = delimiter
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: no header row", domain.ErrInvalidImport)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidImport, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("row %d: %v", line, err))
			continue
		}
		if len(rec) != len(header) {
			warnings = append(warnings, fmt.Sprintf("row %d: expected %d fields, got %d", line, len(header), len(rec)))
			continue
		}
		row := make(map[string]any, len(header))
		for i, h := range header {
			row[h] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, warnings, fmt.Errorf("%w: no data rows", domain.ErrInvalidImport)
	}
	return rows, warnings, nil
}

// Import writes rows according to cfg. Row-level problems are collected in
// the result; only setup failures and cancellation return an error.
func (s *ImportService) Import(ctx context.Context, rows []map[string]any, cfg domain.ImportConfig, progress ProgressFunc) (*domain.ImportResult, error) {
	ctx, span := tracer.Start(ctx, "ImportService.Import")
	defer span.End()

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("import.mode", string(cfg.Mode)),
		attribute.String("import.identify_by", string(cfg.IdentifyBy)),
		attribute.Int("import.rows", len(rows)),
	)

	if cfg.Mode == domain.ImportInsert && cfg.DeleteExisting {
		n, err := s.places.DeleteAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("delete existing places: %w", err)
		}
		s.logger.Info("deleted existing places before import", "count", n)
	}

	result := &domain.ImportResult{Total: len(rows)}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.importRow(ctx, row, cfg, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", i+1, err))
		}
		if progress != nil {
			progress(i+1, len(rows))
		}
	}

	if err := s.places.EnsureSpatialIndex(ctx); err != nil {
		s.logger.Warn("ensure spatial index failed", "error", err)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, categoriesCacheKey)
	}
	if s.events != nil {
		ev := &domain.PlaceEvent{
			Type:      domain.EventPlaceImported,
			Count:     result.Inserted + result.Updated,
			Timestamp: time.Now().UTC(),
		}
		if err := s.events.PublishPlaceEvent(ctx, ev); err != nil {
			s.logger.Warn("publish import event failed", "error", err)
		}
	}

	s.logger.Info("import finished",
		"total", result.Total,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (s *ImportService) importRow(ctx context.Context, row map[string]any, cfg domain.ImportConfig, result *domain.ImportResult) error {
	place, err := s.RowToPlace(row)
	if err != nil {
		return err
	}

	if cfg.Mode == domain.ImportInsert {
		if place.ID == "" {
			place.ID = uuid.NewString()
		}
		if err := s.places.Create(ctx, &place); err != nil {
			return err
		}
		result.Inserted++
		return nil
	}

	if cfg.IdentifyBy == domain.IdentifyByID && place.ID == "" {
		if cfg.Mode == domain.ImportUpdate {
			return errors.New("row has no _id")
		}
		place.ID = uuid.NewString()
	}
	if cfg.IdentifyBy == domain.IdentifyByName && place.Name() == "" {
		return errors.New("row has no Name")
	}

	outcome, err := s.places.Upsert(ctx, cfg.IdentifyBy, &place, cfg.Mode == domain.ImportUpsert)
	if err != nil {
		return err
	}
	switch outcome {
	case domain.WriteInserted:
		result.Inserted++
	case domain.WriteUpdated:
		result.Updated++
	default:
		result.Skipped++
	}
	return nil
}

// RowToPlace converts one imported row. The _id column becomes the ID,
// longitude/latitude become the reconciled geometry, everything else is
// kept as a property with text normalized.
func (s *ImportService) RowToPlace(row map[string]any) (domain.Place, error) {
	place := domain.Place{Properties: make(map[string]any, len(row))}
	var pt domain.GeoPoint

	for k, v := range row {
		key := norm.NFC.String(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "_id", "id":
			place.ID = strings.TrimSpace(fmt.Sprint(v))
			if v == nil {
				place.ID = ""
			}
		case "longitude", "lon":
			f, err := coordinateValue(v)
			if err != nil {
				return domain.Place{}, fmt.Errorf("longitude: %w", err)
			}
			pt.Lon = f
		case "latitude", "lat":
			f, err := coordinateValue(v)
			if err != nil {
				return domain.Place{}, fmt.Errorf("latitude: %w", err)
			}
			pt.Lat = f
		case "needs_correction":
		default:
			if str, ok := v.(string); ok {
				v = cleanText(str)
			}
			place.Properties[key] = v
		}
	}

	report := s.engine.ReconcileWithReport(pt)
	place.Geometry = report.Point
	place.NeedsCorrection = report.NeedsManualCorrection()
	return place, nil
}

func coordinateValue(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case string:
		return reconcile.ParseLegacyCoordinate(x)
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	default:
		return 0, fmt.Errorf("unsupported coordinate value %T", v)
	}
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, newlineMarker, "\n")
	return norm.NFC.String(strings.TrimSpace(s))
}
