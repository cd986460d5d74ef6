package domain

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Well-known property keys. Everything else in Place.Properties is opaque.
const (
	PropName        = "Name"
	PropDescription = "Beschreibung"
	PropCategory    = "Kategorie"

	// Legacy coordinate copies written by older clients. Removed by maintenance.
	LegacyPropNorth = "Koordinate N"
	LegacyPropEast  = "Koordinate O"
)

// RequiredProperties must be present and non-empty on every stored place.
var RequiredProperties = []string{PropName, PropDescription, PropCategory}

// Place is a point of interest.
type Place struct {
	ID              string         `json:"id"`
	Properties      map[string]any `json:"properties"`
	Geometry        GeoPoint       `json:"geometry"`
	NeedsCorrection bool           `json:"needs_correction"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Name returns the display name, or "" when the place has none.
func (p *Place) Name() string {
	return p.stringProp(PropName)
}

// Category returns the category property.
func (p *Place) Category() string {
	return p.stringProp(PropCategory)
}

func (p *Place) stringProp(key string) string {
	if p == nil || p.Properties == nil {
		return ""
	}
	switch v := p.Properties[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a copy whose property map can be changed without affecting p.
func (p Place) Clone() Place {
	p.Properties = maps.Clone(p.Properties)
	if p.Properties == nil {
		p.Properties = map[string]any{}
	}
	return p
}

// Validate checks that all required properties are set.
func (p *Place) Validate() error {
	var missing []string
	for _, key := range RequiredProperties {
		if strings.TrimSpace(p.stringProp(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPlace, strings.Join(missing, ", "))
	}
	if !p.Geometry.IsFinite() {
		return fmt.Errorf("%w: geometry is not a finite point", ErrInvalidPlace)
	}
	return nil
}

// PlaceFilter narrows a place listing. Zero values mean "no filter".
type PlaceFilter struct {
	Category     string
	Search       string
	Near         *GeoPoint
	RadiusMeters float64
}

// CategoryCount is one row of the category aggregation.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Place event types published on the bus.
const (
	EventPlaceSaved    = "saved"
	EventPlaceDeleted  = "deleted"
	EventPlaceImported = "imported"
	EventPlaceRepaired = "repaired"
)

// PlaceEvent announces a change to stored places.
type PlaceEvent struct {
	Type      string    `json:"type"`
	PlaceID   string    `json:"place_id,omitempty"`
	Place     *Place    `json:"place,omitempty"`
	Count     int       `json:"count,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
