package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/planb/internal/core/domain"
)

const placeColumns = `id, properties,
	ST_X(location::geometry) AS lon,
	ST_Y(location::geometry) AS lat,
	needs_correction, created_at, updated_at`

const pointSQL = `ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography`

// PlaceRepo implements ports.PlaceRepository with pgx and PostGIS.
type PlaceRepo struct {
	db *DB
}

// NewPlaceRepo creates a new PlaceRepo.
func NewPlaceRepo(db *DB) *PlaceRepo {
	return &PlaceRepo{db: db}
}

func scanPlace(row pgx.Row) (*domain.Place, error) {
	var p domain.Place
	if err := row.Scan(
		&p.ID, &p.Properties,
		&p.Geometry.Lon, &p.Geometry.Lat,
		&p.NeedsCorrection, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if p.Properties == nil {
		p.Properties = map[string]any{}
	}
	return &p, nil
}

func props(p *domain.Place) map[string]any {
	if p.Properties == nil {
		return map[string]any{}
	}
	return p.Properties
}

// Create inserts a new place.
func (r *PlaceRepo) Create(ctx context.Context, p *domain.Place) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO places (id, properties, location, needs_correction)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2,
		        ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5)
		RETURNING id, created_at, updated_at
	`, p.ID, props(p), p.Geometry.Lon, p.Geometry.Lat, p.NeedsCorrection,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// Update replaces properties and geometry of an existing place.
func (r *PlaceRepo) Update(ctx context.Context, p *domain.Place) error {
	err := r.db.Pool.QueryRow(ctx, `
		UPDATE places
		SET properties = $2,
		    location = ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography,
		    needs_correction = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, p.ID, props(p), p.Geometry.Lon, p.Geometry.Lat, p.NeedsCorrection,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// Upsert writes p matched by id, name or exact coordinates.
func (r *PlaceRepo) Upsert(ctx context.Context, by domain.IdentifyBy, p *domain.Place, insertMissing bool) (domain.WriteOutcome, error) {
	if by == domain.IdentifyByID && insertMissing {
		var inserted bool
		err := r.db.Pool.QueryRow(ctx, `
			INSERT INTO places (id, properties, location, needs_correction)
			VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, $5)
			ON CONFLICT (id) DO UPDATE
			SET properties = EXCLUDED.properties,
			    location = EXCLUDED.location,
			    needs_correction = EXCLUDED.needs_correction,
			    updated_at = now()
			RETURNING (xmax = 0) AS inserted
		`, p.ID, props(p), p.Geometry.Lon, p.Geometry.Lat, p.NeedsCorrection).Scan(&inserted)
		if err != nil {
			return domain.WriteNone, err
		}
		if inserted {
			return domain.WriteInserted, nil
		}
		return domain.WriteUpdated, nil
	}

	var where string
	args := []any{props(p), p.Geometry.Lon, p.Geometry.Lat, p.NeedsCorrection}
	switch by {
	case domain.IdentifyByID:
		where = "id = $5"
		args = append(args, p.ID)
	case domain.IdentifyByName:
		where = "properties->>'Name' = $5"
		args = append(args, p.Name())
	case domain.IdentifyByCoordinates:
		where = "ST_X(location::geometry) = $2 AND ST_Y(location::geometry) = $3"
	default:
		return domain.WriteNone, fmt.Errorf("%w: unknown identifyBy %q", domain.ErrInvalidImport, by)
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE places
		SET properties = $1,
		    location = ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
		    needs_correction = $4,
		    updated_at = now()
		WHERE `+where, args...)
	if err != nil {
		return domain.WriteNone, err
	}
	if tag.RowsAffected() > 0 {
		return domain.WriteUpdated, nil
	}
	if !insertMissing {
		return domain.WriteNone, nil
	}
	if err := r.Create(ctx, p); err != nil {
		return domain.WriteNone, err
	}
	return domain.WriteInserted, nil
}

// GetByID returns a place by id.
func (r *PlaceRepo) GetByID(ctx context.Context, id string) (*domain.Place, error) {
	return scanPlace(r.db.Pool.QueryRow(ctx,
		`SELECT `+placeColumns+` FROM places WHERE id = $1`, id))
}

// List returns places matching the filter, ordered by name.
func (r *PlaceRepo) List(ctx context.Context, f domain.PlaceFilter) ([]domain.Place, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Category != "" {
		where = append(where, "properties->>'Kategorie' = "+arg(f.Category))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		where = append(where, fmt.Sprintf(
			"(properties->>'Name' ILIKE %s OR properties->>'Beschreibung' ILIKE %s)", p, p))
	}
	if f.Near != nil && f.RadiusMeters > 0 {
		where = append(where, fmt.Sprintf("ST_DWithin(location, "+pointSQL+", %s)",
			arg(f.Near.Lon), arg(f.Near.Lat), arg(f.RadiusMeters)))
	}

	query := `SELECT ` + placeColumns + ` FROM places`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY properties->>'Name', id`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	places := []domain.Place{}
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		places = append(places, *p)
	}
	return places, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Delete removes a place.
func (r *PlaceRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM places WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAll removes every place and returns how many were deleted.
func (r *PlaceRepo) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM places`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Categories aggregates places by category.
func (r *PlaceRepo) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT properties->>'Kategorie' AS category, count(*)
		FROM places
		WHERE COALESCE(properties->>'Kategorie', '') <> ''
		GROUP BY 1
		ORDER BY 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cats := []domain.CategoryCount{}
	for rows.Next() {
		var c domain.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// CountLegacyFields counts places still carrying legacy coordinate properties.
func (r *PlaceRepo) CountLegacyFields(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM places WHERE properties ? $1 OR properties ? $2
	`, domain.LegacyPropNorth, domain.LegacyPropEast).Scan(&n)
	return n, err
}

// RemoveLegacyFields strips legacy coordinate properties.
func (r *PlaceRepo) RemoveLegacyFields(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE places
		SET properties = properties - $1::text - $2::text, updated_at = now()
		WHERE properties ? $1 OR properties ? $2
	`, domain.LegacyPropNorth, domain.LegacyPropEast)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListIDs returns every place id.
func (r *PlaceRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id FROM places ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpdateGeometry writes a repaired point.
func (r *PlaceRepo) UpdateGeometry(ctx context.Context, id string, pt domain.GeoPoint, needsCorrection bool) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE places
		SET location = ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
		    needs_correction = $4,
		    updated_at = now()
		WHERE id = $1
	`, id, pt.Lon, pt.Lat, needsCorrection)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// EnsureSpatialIndex creates the location index if a bulk load dropped it.
func (r *PlaceRepo) EnsureSpatialIndex(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS places_location_gist ON places USING GIST (location)`)
	return err
}
