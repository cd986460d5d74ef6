package domain

// GeoJSON shapes used by the legacy marker endpoint and the import/create
// payloads that arrive as Features.

// PointGeometry is a GeoJSON Point.
type PointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Feature is a GeoJSON Feature carrying one place.
type Feature struct {
	Type       string         `json:"type"`
	ID         string         `json:"_id,omitempty"`
	Properties map[string]any `json:"properties"`
	Geometry   PointGeometry  `json:"geometry"`
}

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeature converts a place to a GeoJSON Feature.
func NewFeature(p Place) Feature {
	props := p.Properties
	if props == nil {
		props = map[string]any{}
	}
	if p.NeedsCorrection {
		props = cloneWith(props, "needs_correction", true)
	}
	return Feature{
		Type:       "Feature",
		ID:         p.ID,
		Properties: props,
		Geometry:   PointGeometry{Type: "Point", Coordinates: p.Geometry.Coordinates()},
	}
}

// NewFeatureCollection converts places to a FeatureCollection.
func NewFeatureCollection(places []Place) FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, len(places))}
	for _, p := range places {
		fc.Features = append(fc.Features, NewFeature(p))
	}
	return fc
}

// Place converts the feature back to a place.
func (f Feature) Place() (Place, error) {
	pt, err := PointFromCoordinates(f.Geometry.Coordinates)
	if err != nil {
		return Place{}, err
	}
	return Place{ID: f.ID, Properties: f.Properties, Geometry: pt}, nil
}

func cloneWith(m map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, val := range m {
		out[k] = val
	}
	out[key] = v
	return out
}
