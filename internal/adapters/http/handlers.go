package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/interaction"
	"github.com/samirrijal/planb/internal/core/reconcile"
	"github.com/samirrijal/planb/internal/core/usecases"
	"github.com/samirrijal/planb/internal/pkg/geospatial"
	"github.com/samirrijal/planb/internal/pkg/metrics"
)

const (
	defaultRadiusMeters = 1000.0
	maxRadiusMeters     = 50000.0
)

// placeFilterFromQuery reads category, search and lat/lon/radius.
func placeFilterFromQuery(c *fiber.Ctx) (domain.PlaceFilter, error) {
	f := domain.PlaceFilter{
		Category: c.Query("category"),
		Search:   c.Query("search", c.Query("q")),
	}
	if len(f.Search) > 200 {
		return f, errors.New("search too long (max 200 characters)")
	}

	hasLat, hasLon := c.Query("lat") != "", c.Query("lon") != ""
	if hasLat != hasLon {
		return f, errors.New("lat and lon must be given together")
	}
	if hasLat {
		pt := domain.GeoPoint{Lon: c.QueryFloat("lon"), Lat: c.QueryFloat("lat")}
		if pt.Lat < -90 || pt.Lat > 90 || pt.Lon < -180 || pt.Lon > 180 {
			return f, errors.New("lat/lon out of range")
		}
		radius := c.QueryFloat("radius", defaultRadiusMeters)
		if radius <= 0 || radius > maxRadiusMeters {
			return f, fmt.Errorf("radius must be between 1 and %.0f meters", maxRadiusMeters)
		}
		f.Near = &pt
		f.RadiusMeters = radius
	}
	return f, nil
}

// ListPlacesHandler returns places, paginated, or as one FeatureCollection
// when format=geojson.
func ListPlacesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter, err := placeFilterFromQuery(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		places, err := deps.Places.List(c.UserContext(), filter)
		if err != nil {
			return errFromService(c, err)
		}

		if c.Query("format") == "geojson" {
			return c.JSON(domain.NewFeatureCollection(places))
		}

		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 100)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 500 {
			limit = 100
		}

		total := len(places)
		page := []domain.Place{}
		if offset < total {
			page = places[offset:min(offset+limit, total)]
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// GetPlaceHandler returns a single place by ID.
func GetPlaceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "place id is required")
		}

		place, err := deps.Places.GetByID(c.UserContext(), id)
		if err != nil {
			return errFromService(c, err)
		}

		c.Set("Cache-Control", "public, max-age=60")
		if c.Query("format") == "geojson" {
			return c.JSON(domain.NewFeature(*place))
		}
		return c.JSON(place)
	}
}

// placeFromFeature decodes a GeoJSON Feature request body.
func placeFromFeature(body []byte) (domain.Place, error) {
	var f domain.Feature
	if err := json.Unmarshal(body, &f); err != nil {
		return domain.Place{}, fmt.Errorf("%w: body is not a GeoJSON feature: %v", domain.ErrInvalidPlace, err)
	}
	if f.Type != "Feature" {
		return domain.Place{}, fmt.Errorf("%w: type must be Feature, got %q", domain.ErrInvalidPlace, f.Type)
	}
	if f.Geometry.Type != "Point" {
		return domain.Place{}, fmt.Errorf("%w: geometry must be a Point", domain.ErrInvalidPlace)
	}
	p, err := f.Place()
	if err != nil {
		return domain.Place{}, err
	}
	// echoed back from a previous response; the server owns this flag
	delete(p.Properties, "needs_correction")
	return p, nil
}

// CreatePlaceHandler stores a new place sent as a GeoJSON Feature.
func CreatePlaceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		place, err := placeFromFeature(c.Body())
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		saved, err := deps.Places.Create(c.UserContext(), &place)
		if err != nil {
			return errFromService(c, err)
		}

		c.Location("/v1/places/" + saved.ID)
		return c.Status(fiber.StatusCreated).JSON(domain.NewFeature(*saved))
	}
}

// UpdatePlaceHandler replaces a place. The path ID wins over any ID in the body.
func UpdatePlaceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		place, err := placeFromFeature(c.Body())
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		place.ID = c.Params("id")

		saved, err := deps.Places.Update(c.UserContext(), &place)
		if err != nil {
			return errFromService(c, err)
		}
		return c.JSON(domain.NewFeature(*saved))
	}
}

// DeletePlaceHandler removes a place.
func DeletePlaceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Places.Delete(c.UserContext(), c.Params("id")); err != nil {
			return errFromService(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// CategoriesHandler returns the category aggregation.
func CategoriesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cats, err := deps.Places.Categories(c.UserContext())
		if err != nil {
			return errFromService(c, err)
		}
		c.Set("Cache-Control", "public, max-age=300")
		return c.JSON(cats)
	}
}

// MarkersHandler serves every place as a FeatureCollection for map clients
// that predate /v1/places?format=geojson.
func MarkersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		places, err := deps.Places.List(c.UserContext(), domain.PlaceFilter{Category: c.Query("category")})
		if err != nil {
			return errFromService(c, err)
		}
		return c.JSON(domain.NewFeatureCollection(places))
	}
}

type importRequest struct {
	// Data is either CSV text or an array of row objects.
	Data      json.RawMessage     `json:"data"`
	Delimiter string              `json:"delimiter"`
	Config    domain.ImportConfig `json:"config"`
}

type importResponse struct {
	*domain.ImportResult
	Warnings []string `json:"warnings,omitempty"`
}

func parseDelimiter(s string) (rune, error) {
	if s == "" {
		return usecases.DefaultDelimiter, nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == '"' || r == '\n' || r == '\r' {
		return 0, fmt.Errorf("%w: invalid delimiter %q", domain.ErrInvalidImport, s)
	}
	return r, nil
}

// decodeImportData accepts CSV text or a JSON array of rows.
func decodeImportData(raw json.RawMessage, delimiter rune) ([]map[string]any, []string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, fmt.Errorf("%w: data is required", domain.ErrInvalidImport)
	}
	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidImport, err)
		}
		return usecases.ParseCSV(strings.NewReader(text), delimiter)
	case '[':
		var rows []map[string]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrInvalidImport, err)
		}
		return rows, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: data must be CSV text or an array of rows", domain.ErrInvalidImport)
	}
}

// ImportPlacesHandler bulk-imports places. It accepts a JSON envelope or a
// raw text/csv body configured through query parameters.
func ImportPlacesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var (
			rows     []map[string]any
			warnings []string
			cfg      domain.ImportConfig
		)

		if strings.HasPrefix(c.Get(fiber.HeaderContentType), "text/csv") {
			delim, err := parseDelimiter(c.Query("delimiter"))
			if err != nil {
				return errBadRequest(c, err.Error())
			}
			cfg = domain.ImportConfig{
				Mode:           domain.ImportMode(c.Query("mode")),
				IdentifyBy:     domain.IdentifyBy(c.Query("identifyBy")),
				DeleteExisting: c.QueryBool("deleteExisting"),
			}
			rows, warnings, err = usecases.ParseCSV(bytes.NewReader(c.Body()), delim)
			if err != nil {
				return errBadRequest(c, err.Error())
			}
		} else {
			var req importRequest
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return errBadRequest(c, "invalid request body")
			}
			delim, err := parseDelimiter(req.Delimiter)
			if err != nil {
				return errBadRequest(c, err.Error())
			}
			cfg = req.Config
			rows, warnings, err = decodeImportData(req.Data, delim)
			if err != nil {
				return errBadRequest(c, err.Error())
			}
		}

		res, err := deps.Imports.Import(c.UserContext(), rows, cfg, nil)
		metrics.ObserveImport(res)
		if err != nil {
			return errFromService(c, err)
		}
		return c.JSON(importResponse{ImportResult: res, Warnings: warnings})
	}
}

type reconcileRequest struct {
	Lon *float64 `json:"lon"`
	Lat *float64 `json:"lat"`
}

// ReconcileResponse is a reconciliation report plus area information.
type ReconcileResponse struct {
	reconcile.Report
	NeedsCorrection   bool    `json:"needs_correction"`
	WithinAllowedArea bool    `json:"within_allowed_area"`
	DistanceKm        float64 `json:"distance_km"`
}

// ReconcileHandler runs the reconciliation engine on one point.
func ReconcileHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req reconcileRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.Lon == nil || req.Lat == nil {
			return errBadRequest(c, "lon and lat are required")
		}

		report := deps.Places.Reconcile(domain.GeoPoint{Lon: *req.Lon, Lat: *req.Lat})
		engine := deps.Places.Engine()
		return c.JSON(ReconcileResponse{
			Report:            report,
			NeedsCorrection:   report.NeedsManualCorrection(),
			WithinAllowedArea: engine.IsWithinAllowedArea(report.Point),
			DistanceKm:        engine.DistanceToReference(report.Point),
		})
	}
}

// CleanupCoordinatesHandler strips legacy coordinate properties.
func CleanupCoordinatesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := deps.Maintenance.CleanupLegacyFields(c.UserContext())
		if err != nil {
			return errFromService(c, err)
		}
		return c.JSON(res)
	}
}

// RepairGeometryHandler reconciles and persists every stored geometry.
func RepairGeometryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		batch := c.QueryInt("batch_size", usecases.DefaultRepairBatchSize)
		if batch <= 0 || batch > 5000 {
			return errBadRequest(c, "batch_size must be between 1 and 5000")
		}
		res, err := deps.Maintenance.RepairAll(c.UserContext(), batch)
		if err != nil {
			return errFromService(c, err)
		}
		return c.JSON(res)
	}
}

// MapConfigResponse describes the allowed area to map clients.
type MapConfigResponse struct {
	Reference       domain.GeoPoint `json:"reference"`
	MaxDistanceKm   float64         `json:"max_distance_km"`
	DefaultZoom     float64         `json:"default_zoom"`
	DefaultCategory string          `json:"default_category,omitempty"`
	Bounds          domain.Bounds   `json:"bounds"`
}

// MapConfigHandler returns the reference point, D_max and session defaults.
func MapConfigHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		engine := deps.Places.Engine()
		ref := engine.Reference()

		var b domain.Bounds
		b.MinLat, b.MinLon, b.MaxLat, b.MaxLon = geospatial.BoundingBox(ref.Lat, ref.Lon, engine.MaxDistanceKm()*1000)

		zoom := deps.Map.DefaultZoom
		if zoom <= 0 {
			zoom = interaction.DefaultZoom
		}

		c.Set("Cache-Control", "public, max-age=3600")
		return c.JSON(MapConfigResponse{
			Reference:       ref,
			MaxDistanceKm:   engine.MaxDistanceKm(),
			DefaultZoom:     zoom,
			DefaultCategory: deps.Map.DefaultCategory,
			Bounds:          b,
		})
	}
}
