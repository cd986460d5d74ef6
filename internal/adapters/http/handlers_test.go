package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/planb/internal/adapters/http"
	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/reconcile"
	"github.com/samirrijal/planb/internal/core/usecases"
)

// ---- Mock repository ----

type mockPlaceRepo struct {
	createFn     func(ctx context.Context, p *domain.Place) error
	updateFn     func(ctx context.Context, p *domain.Place) error
	upsertFn     func(ctx context.Context, by domain.IdentifyBy, p *domain.Place, insertMissing bool) (domain.WriteOutcome, error)
	getByIDFn    func(ctx context.Context, id string) (*domain.Place, error)
	listFn       func(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error)
	deleteFn     func(ctx context.Context, id string) error
	categoriesFn func(ctx context.Context) ([]domain.CategoryCount, error)
	legacyCount  int64
	ids          []string
	geometries   map[string]domain.GeoPoint
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
func (m *mockPlaceRepo) DeleteAll(ctx context.Context) (int64, error) { return 0, nil }
func (m *mockPlaceRepo) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	if m.categoriesFn != nil {
		return m.categoriesFn(ctx)
	}
	return nil, nil
}
func (m *mockPlaceRepo) CountLegacyFields(ctx context.Context) (int64, error) {
	return m.legacyCount, nil
}
func (m *mockPlaceRepo) RemoveLegacyFields(ctx context.Context) (int64, error) {
	return m.legacyCount, nil
}
func (m *mockPlaceRepo) ListIDs(ctx context.Context) ([]string, error) { return m.ids, nil }
func (m *mockPlaceRepo) UpdateGeometry(ctx context.Context, id string, p domain.GeoPoint, needs bool) error {
	if m.geometries == nil {
		m.geometries = map[string]domain.GeoPoint{}
	}
	m.geometries[id] = p
	return nil
}
func (m *mockPlaceRepo) EnsureSpatialIndex(ctx context.Context) error { return nil }

// ---- Test helpers ----

func testEngine() *reconcile.Engine {
	return reconcile.New(reconcile.WithRandSource(rand.NewPCG(7, 7)))
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

func makeDeps(repo *mockPlaceRepo) *handler.Dependencies {
	engine := testEngine()
	return &handler.Dependencies{
		Places:      usecases.NewPlaceService(repo, nil, nil, engine),
		Imports:     usecases.NewImportService(repo, engine, nil, nil),
		Maintenance: usecases.NewMaintenanceService(repo, engine, nil, nil),
		Map:         handler.MapSettings{DefaultZoom: 14, DefaultCategory: "Hütte"},
	}
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func place(id, name string, lon, lat float64) domain.Place {
	return domain.Place{
		ID: id,
		Properties: map[string]any{
			domain.PropName:        name,
			domain.PropDescription: "Beschreibung " + name,
			domain.PropCategory:    "Hütte",
		},
		Geometry: domain.GeoPoint{Lon: lon, Lat: lat},
	}
}

func featureJSON(name string, lon, lat float64) string {
	return fmt.Sprintf(`{"type":"Feature","properties":{"Name":%q,"Beschreibung":"b","Kategorie":"Hütte"},"geometry":{"type":"Point","coordinates":[%v,%v]}}`,
		name, lon, lat)
}

func decodeError(t *testing.T, body io.Reader) handler.APIError {
	t.Helper()
	var apiErr handler.APIError
	if err := json.NewDecoder(body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return apiErr
}

// ---- Place listing ----

func TestListPlaces_Pagination(t *testing.T) {
	places := make([]domain.Place, 5)
	for i := range places {
		places[i] = place(fmt.Sprintf("p%d", i), fmt.Sprintf("Place %d", i), 11.566, 46.7165)
	}
	var got domain.PlaceFilter
	app := setupApp(makeDeps(&mockPlaceRepo{
		listFn: func(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error) {
			got = f
			return places, nil
		},
	}))

	req := httptest.NewRequest("GET", "/v1/places?category=H%C3%BCtte&offset=2&limit=2", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got.Category != "Hütte" {
		t.Errorf("expected category filter Hütte, got %q", got.Category)
	}

	var result struct {
		Data       []domain.Place     `json:"data"`
		Pagination handler.Pagination `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Pagination.Total != 5 || result.Pagination.Offset != 2 {
		t.Errorf("unexpected pagination %+v", result.Pagination)
	}
	if len(result.Data) != 2 || result.Data[0].ID != "p2" {
		t.Errorf("unexpected page %+v", result.Data)
	}

	link := resp.Header.Get("Link")
	for _, rel := range []string{`rel="first"`, `rel="prev"`, `rel="next"`, `rel="last"`} {
		if !strings.Contains(link, rel) {
			t.Errorf("expected %s in Link header, got %s", rel, link)
		}
	}
	if !strings.Contains(link, "category=") {
		t.Errorf("expected filters carried into links, got %s", link)
	}
}

func TestListPlaces_AllCategoryMeansNoFilter(t *testing.T) {
	var got domain.PlaceFilter
	app := setupApp(makeDeps(&mockPlaceRepo{
		listFn: func(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error) {
			got = f
			return nil, nil
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/places?category=all", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got.Category != "" {
		t.Errorf("expected no category filter, got %q", got.Category)
	}
}

func TestListPlaces_NearFilter(t *testing.T) {
	var got domain.PlaceFilter
	app := setupApp(makeDeps(&mockPlaceRepo{
		listFn: func(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error) {
			got = f
			return nil, nil
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/places?lat=46.7&lon=11.5&radius=2500", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got.Near == nil || got.Near.Lat != 46.7 || got.Near.Lon != 11.5 {
		t.Fatalf("unexpected near filter %+v", got.Near)
	}
	if got.RadiusMeters != 2500 {
		t.Errorf("expected radius 2500, got %v", got.RadiusMeters)
	}
}

func TestListPlaces_BadParams(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	for _, q := range []string{"lat=46.7", "lat=46.7&lon=11.5&radius=0", "lat=95&lon=11.5"} {
		resp, _ := app.Test(httptest.NewRequest("GET", "/v1/places?"+q, nil), -1)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestListPlaces_GeoJSONReconcilesSwappedAxes(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{
		listFn: func(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error) {
			return []domain.Place{place("p1", "Alm", 46.7165, 11.566)}, nil
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/places?format=geojson", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var fc domain.FeatureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Fatalf("unexpected collection %+v", fc)
	}
	coords := fc.Features[0].Geometry.Coordinates
	if coords[0] != 11.566 || coords[1] != 46.7165 {
		t.Errorf("expected swapped axes corrected, got %v", coords)
	}
}

// ---- Single place ----

func TestGetPlace_NotFound(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/places/missing", nil), -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if apiErr := decodeError(t, resp.Body); apiErr.Code != "not_found" {
		t.Errorf("expected not_found, got %q", apiErr.Code)
	}
}

func TestGetPlace_UnrecoverableIsFlagged(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Place, error) {
			p := place(id, "Weit weg", 2.35, 48.86)
			return &p, nil
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/places/p9?format=geojson", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var f domain.Feature
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.ID != "p9" {
		t.Errorf("expected _id p9, got %q", f.ID)
	}
	if f.Properties["needs_correction"] != true {
		t.Errorf("expected needs_correction flag, got %v", f.Properties)
	}
	pt := domain.GeoPoint{Lon: f.Geometry.Coordinates[0], Lat: f.Geometry.Coordinates[1]}
	if d := reconcile.DistanceKm(pt, reconcile.DefaultReference); d > 10 {
		t.Errorf("unrecoverable point must be placed near the reference, got %v (%.1f km)", pt, d)
	}
}

func TestGetPlace_InternalErrorIsMasked(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Place, error) {
			return nil, errors.New("connection refused")
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/places/p1", nil), -1)
	if resp.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	apiErr := decodeError(t, resp.Body)
	if strings.Contains(apiErr.Message, "connection refused") {
		t.Errorf("internal error leaked: %q", apiErr.Message)
	}
	if apiErr.RequestID == "" {
		t.Error("expected request id in error")
	}
}

func TestCreatePlace_ReconcilesAndReturnsFeature(t *testing.T) {
	var stored domain.Place
	app := setupApp(makeDeps(&mockPlaceRepo{
		createFn: func(ctx context.Context, p *domain.Place) error {
			stored = *p
			return nil
		},
	}))

	req := httptest.NewRequest("POST", "/v1/places", strings.NewReader(featureJSON("Alm", 46.7165, 11.566)))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	if stored.ID == "" {
		t.Fatal("expected generated id")
	}
	if stored.Geometry.Lon != 11.566 {
		t.Errorf("expected lon corrected to 11.566, got %v", stored.Geometry.Lon)
	}
	if loc := resp.Header.Get("Location"); loc != "/v1/places/"+stored.ID {
		t.Errorf("unexpected Location %q", loc)
	}
}

func TestCreatePlace_Invalid(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	bodies := map[string]string{
		"not json":       `{`,
		"wrong type":     `{"type":"FeatureCollection","features":[]}`,
		"missing name":   `{"type":"Feature","properties":{"Beschreibung":"b","Kategorie":"c"},"geometry":{"type":"Point","coordinates":[11.5,46.7]}}`,
		"bad coordinate": `{"type":"Feature","properties":{"Name":"a","Beschreibung":"b","Kategorie":"c"},"geometry":{"type":"Point","coordinates":[11.5]}}`,
	}
	for name, body := range bodies {
		req := httptest.NewRequest("POST", "/v1/places", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestUpdatePlace_UsesPathID(t *testing.T) {
	var updated domain.Place
	app := setupApp(makeDeps(&mockPlaceRepo{
		updateFn: func(ctx context.Context, p *domain.Place) error {
			updated = *p
			return nil
		},
	}))

	req := httptest.NewRequest("PUT", "/v1/places/p7", strings.NewReader(featureJSON("Neu", 11.57, 46.72)))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if updated.ID != "p7" || updated.Name() != "Neu" {
		t.Errorf("unexpected update %+v", updated)
	}
}

func TestUpdatePlace_NotFound(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{
		updateFn: func(ctx context.Context, p *domain.Place) error { return domain.ErrNotFound },
	}))

	req := httptest.NewRequest("PUT", "/v1/places/nope", strings.NewReader(featureJSON("Neu", 11.57, 46.72)))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeletePlace(t *testing.T) {
	var deleted string
	app := setupApp(makeDeps(&mockPlaceRepo{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("DELETE", "/v1/places/p3", nil), -1)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if deleted != "p3" {
		t.Errorf("expected p3 deleted, got %q", deleted)
	}
}

func TestCategories(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{
		categoriesFn: func(ctx context.Context) ([]domain.CategoryCount, error) {
			return []domain.CategoryCount{{Category: "Hütte", Count: 3}, {Category: "Quelle", Count: 1}}, nil
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/places/categories", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cats []domain.CategoryCount
	json.NewDecoder(resp.Body).Decode(&cats)
	if len(cats) != 2 || cats[0].Count != 3 {
		t.Errorf("unexpected categories %+v", cats)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}
}

// ---- Import ----

func TestImport_JSONEnvelopeWithCSV(t *testing.T) {
	var created []domain.Place
	app := setupApp(makeDeps(&mockPlaceRepo{
		createFn: func(ctx context.Context, p *domain.Place) error {
			created = append(created, *p)
			return nil
		},
	}))

	csv := "_id;Name;Beschreibung;Kategorie;longitude;latitude\n" +
		"a1;Alm;Erste[NEWLINE]Zeile;Hütte;11.566;46.7165\n" +
		"a2;Quelle;Wasser;Quelle;46.7165;11.566\n"
	body, _ := json.Marshal(map[string]any{"data": csv, "config": map[string]any{"mode": "insert"}})

	req := httptest.NewRequest("POST", "/v1/places/import", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}

	var res domain.ImportResult
	json.NewDecoder(resp.Body).Decode(&res)
	if res.Total != 2 || res.Inserted != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 places created, got %d", len(created))
	}
	if created[0].Properties[domain.PropDescription] != "Erste\nZeile" {
		t.Errorf("expected newline marker decoded, got %q", created[0].Properties[domain.PropDescription])
	}
	if created[1].Geometry.Lon != 11.566 {
		t.Errorf("expected swapped row corrected, got %v", created[1].Geometry)
	}
}

func TestImport_RowArray(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{
		upsertFn: func(ctx context.Context, by domain.IdentifyBy, p *domain.Place, insertMissing bool) (domain.WriteOutcome, error) {
			if by != domain.IdentifyByName || insertMissing {
				t.Errorf("unexpected upsert by=%s insertMissing=%v", by, insertMissing)
			}
			return domain.WriteUpdated, nil
		},
	}))

	body := `{"data":[{"Name":"Alm","longitude":11.566,"latitude":46.7165}],"config":{"mode":"update","identifyBy":"name"}}`
	req := httptest.NewRequest("POST", "/v1/places/import", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	var res domain.ImportResult
	json.NewDecoder(resp.Body).Decode(&res)
	if res.Updated != 1 {
		t.Errorf("expected 1 updated, got %+v", res)
	}
}

func TestImport_RawCSVBody(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	req := httptest.NewRequest("POST", "/v1/places/import?mode=insert&delimiter=,",
		strings.NewReader("Name,Beschreibung,Kategorie,longitude,latitude\nAlm,x,Hütte,11.566,46.7165\nkaputt\n"))
	req.Header.Set("Content-Type", "text/csv")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	var res struct {
		Inserted int      `json:"inserted"`
		Warnings []string `json:"warnings"`
	}
	json.NewDecoder(resp.Body).Decode(&res)
	if res.Inserted != 1 {
		t.Errorf("expected 1 inserted, got %d", res.Inserted)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected 1 warning for the short row, got %v", res.Warnings)
	}
}

func TestImport_BadInput(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	bodies := map[string]string{
		"no data":      `{"config":{"mode":"insert"}}`,
		"bad mode":     `{"data":[{"Name":"a"}],"config":{"mode":"replace"}}`,
		"bad data":     `{"data":42}`,
		"bad delim":    `{"data":"a;b","delimiter":"ab"}`,
		"header only":  `{"data":"Name;Kategorie"}`,
		"invalid json": `{`,
	}
	for name, body := range bodies {
		req := httptest.NewRequest("POST", "/v1/places/import", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 400 {
			t.Errorf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

// ---- Reconcile & maintenance ----

func TestReconcile(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	req := httptest.NewRequest("POST", "/v1/places/reconcile", strings.NewReader(`{"lon":46.7165,"lat":11.566}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res handler.ReconcileResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Point.Lon != 11.566 || res.Point.Lat != 46.7165 {
		t.Errorf("expected swapped point, got %v", res.Point)
	}
	if res.Outcome != reconcile.CorrectedAxis || res.Correction != reconcile.Swapped {
		t.Errorf("expected corrected_axis/swapped, got %s/%s", res.Outcome, res.Correction)
	}
	if !res.WithinAllowedArea || res.NeedsCorrection {
		t.Errorf("unexpected flags %+v", res)
	}
}

func TestReconcile_MissingAxis(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	req := httptest.NewRequest("POST", "/v1/places/reconcile", strings.NewReader(`{"lon":11.5}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCleanupCoordinates(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{legacyCount: 4}))

	resp, _ := app.Test(httptest.NewRequest("POST", "/v1/maintenance/cleanup-coordinates", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res domain.CleanupResult
	json.NewDecoder(resp.Body).Decode(&res)
	if res.DocumentsFound != 4 || res.DocumentsModified != 4 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRepairGeometry(t *testing.T) {
	stored := map[string]domain.Place{
		"ok":   place("ok", "Gut", 11.566, 46.7165),
		"swap": place("swap", "Vertauscht", 46.7165, 11.566),
		"far":  place("far", "Paris", 2.35, 48.86),
	}
	repo := &mockPlaceRepo{
		ids: []string{"ok", "swap", "far"},
		getByIDFn: func(ctx context.Context, id string) (*domain.Place, error) {
			p := stored[id]
			return &p, nil
		},
	}
	app := setupApp(makeDeps(repo))

	resp, _ := app.Test(httptest.NewRequest("POST", "/v1/maintenance/repair-geometry?batch_size=2", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res domain.RepairResult
	json.NewDecoder(resp.Body).Decode(&res)
	if res.Scanned != 3 || res.Corrected != 1 || res.Unrecoverable != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := repo.geometries["swap"]; got.Lon != 11.566 {
		t.Errorf("expected swap repaired, got %v", got)
	}
	if _, ok := repo.geometries["ok"]; ok {
		t.Error("unchanged geometry must not be written")
	}
}

func TestRepairGeometry_BadBatch(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	resp, _ := app.Test(httptest.NewRequest("POST", "/v1/maintenance/repair-geometry?batch_size=-1", nil), -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ---- Map config & deprecated markers ----

func TestMapConfig(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/map/config", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cfg handler.MapConfigResponse
	json.NewDecoder(resp.Body).Decode(&cfg)
	if cfg.Reference != reconcile.DefaultReference || cfg.MaxDistanceKm != 10 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.DefaultZoom != 14 || cfg.DefaultCategory != "Hütte" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !(cfg.Bounds.MinLat < 46.7165 && cfg.Bounds.MaxLat > 46.7165 && cfg.Bounds.MinLon < 11.566 && cfg.Bounds.MaxLon > 11.566) {
		t.Errorf("bounds do not contain the reference: %+v", cfg.Bounds)
	}
}

func TestMarkers_Deprecated(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{
		listFn: func(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error) {
			return []domain.Place{place("p1", "Alm", 11.566, 46.7165)}, nil
		},
	}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/markers", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Deprecation") != "true" {
		t.Error("expected Deprecation header")
	}
	if !strings.Contains(resp.Header.Get("Link"), "successor-version") {
		t.Errorf("expected successor link, got %q", resp.Header.Get("Link"))
	}
	var fc domain.FeatureCollection
	json.NewDecoder(resp.Body).Decode(&fc)
	if len(fc.Features) != 1 {
		t.Errorf("expected 1 feature, got %d", len(fc.Features))
	}
}

// ---- GraphQL ----

func TestGraphQL_PlacesAndReconcile(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{
		listFn: func(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error) {
			return []domain.Place{place("p1", "Alm", 11.566, 46.7165)}, nil
		},
	}))

	query := `{"query":"{ places { id name category geometry { lon lat } } reconcile(lon: 46.7165, lat: 11.566) { outcome correction point { lon } } }"}`
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(query))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Places []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Category string `json:"category"`
			} `json:"places"`
			Reconcile struct {
				Outcome string `json:"outcome"`
				Point   struct {
					Lon float64 `json:"lon"`
				} `json:"point"`
			} `json:"reconcile"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) > 0 {
		t.Fatalf("unexpected errors %v", result.Errors)
	}
	if len(result.Data.Places) != 1 || result.Data.Places[0].Name != "Alm" || result.Data.Places[0].Category != "Hütte" {
		t.Errorf("unexpected places %+v", result.Data.Places)
	}
	if result.Data.Reconcile.Outcome != "corrected_axis" || result.Data.Reconcile.Point.Lon != 11.566 {
		t.Errorf("unexpected reconcile %+v", result.Data.Reconcile)
	}
}

func TestGraphQL_EmptyQuery(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ---- System ----

func TestHealth_Returns200(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/health", nil), -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	if result["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", result["status"])
	}
	if v := resp.Header.Get("X-API-Version"); v != "1.0.0" {
		t.Errorf("expected X-API-Version 1.0.0, got %q", v)
	}
}

func TestReady_NoDB(t *testing.T) {
	// DB, NATS and Cache are nil
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/ready", nil), -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestETag_NotModified(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/v1/map/config", nil), -1)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest("GET", "/v1/map/config", nil)
	req.Header.Set("If-None-Match", `"other", `+etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
}

func TestWebSocket_RequiresUpgrade(t *testing.T) {
	app := setupApp(makeDeps(&mockPlaceRepo{}))

	resp, _ := app.Test(httptest.NewRequest("GET", "/ws", nil), -1)
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("expected 426, got %d", resp.StatusCode)
	}
}

// TestAccessLogMiddleware verifies structured access logging does not alter responses.
func TestAccessLogMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(handler.AccessLogMiddleware())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "test-req-123")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp.Body); !strings.Contains(string(body), "ok") {
		t.Errorf("expected response body to contain 'ok', got %s", body)
	}
}
