package interaction

import (
	"fmt"
	"maps"
	"slices"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/reconcile"
)

// Mode is the top-level state of a session.
type Mode int

const (
	Browsing Mode = iota
	Viewing
	Editing
	Creating
	Picking
)

var modeNames = [...]string{
	Browsing: "browsing",
	Viewing:  "viewing",
	Editing:  "editing",
	Creating: "creating",
	Picking:  "picking",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(text []byte) error {
	i := slices.Index(modeNames[:], string(text))
	if i < 0 {
		return fmt.Errorf("unknown mode %q", text)
	}
	*m = Mode(i)
	return nil
}

// DefaultZoom is the initial map zoom level of a session.
const DefaultZoom = 14.0

// Pending holds form edits that have not been saved yet. Properties only
// contains fields the user changed; Geometry overrides the record's point.
type Pending struct {
	Properties     map[string]any    `json:"properties,omitempty"`
	Geometry       *domain.GeoPoint  `json:"geometry,omitempty"`
	GeometryReport *reconcile.Report `json:"geometry_report,omitempty"`
}

func (p Pending) withProperty(key string, value any) Pending {
	props := make(map[string]any, len(p.Properties)+1)
	maps.Copy(props, p.Properties)
	props[key] = value
	p.Properties = props
	return p
}

func (p Pending) withGeometry(r reconcile.Report) Pending {
	pt := r.Point
	p.Geometry = &pt
	p.GeometryReport = &r
	return p
}

// State is an immutable snapshot of one session. Every transition produces a
// new State; maps and pointers reachable from a published State are never
// written to again, so subscribers may keep them.
type State struct {
	Mode     Mode `json:"mode"`
	ResumeTo Mode `json:"resume_to"`

	PickerModeActive        bool             `json:"picker_mode_active"`
	LastSelectedCoordinates *domain.GeoPoint `json:"last_selected_coordinates,omitempty"`
	DetailPanelOpen         bool             `json:"detail_panel_open"`
	SelectedPlaceID         string           `json:"selected_place_id,omitempty"`
	SelectedPlaceName       string           `json:"selected_place_name,omitempty"`
	EditModeActive          bool             `json:"edit_mode_active"`
	MapZoomLevel            float64          `json:"map_zoom_level"`
	MapCenter               domain.GeoPoint  `json:"map_center"`

	Place          *domain.Place     `json:"place,omitempty"`
	GeometryReport *reconcile.Report `json:"geometry_report,omitempty"`
	Pending        Pending           `json:"pending"`
	Saving         bool              `json:"saving"`
	LastError      string            `json:"last_error,omitempty"`

	Markers        []domain.Place `json:"-"`
	MarkersVersion uint64         `json:"markers_version"`

	Version uint64 `json:"version"`
}

// FormProperties returns the record's properties overlaid with pending edits.
func (s State) FormProperties() map[string]any {
	out := map[string]any{}
	if s.Place != nil {
		maps.Copy(out, s.Place.Properties)
	}
	maps.Copy(out, s.Pending.Properties)
	return out
}

// EffectiveGeometry returns the pending geometry override if any, else the
// record's geometry. ok is false when no record is under inspection.
func (s State) EffectiveGeometry() (pt domain.GeoPoint, ok bool) {
	if s.Pending.Geometry != nil {
		return *s.Pending.Geometry, true
	}
	if s.Place != nil {
		return s.Place.Geometry, true
	}
	return domain.GeoPoint{}, false
}

// Consistent reports whether the flags agree with the mode.
func (s State) Consistent() bool {
	if s.PickerModeActive && s.DetailPanelOpen {
		return false
	}
	switch s.Mode {
	case Browsing:
		return !s.PickerModeActive && !s.DetailPanelOpen && !s.EditModeActive
	case Viewing:
		return s.DetailPanelOpen && !s.EditModeActive && s.Place != nil
	case Editing, Creating:
		return s.DetailPanelOpen && s.EditModeActive && s.Place != nil
	case Picking:
		return s.PickerModeActive && s.ResumeTo != Picking
	}
	return false
}
