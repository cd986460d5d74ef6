package interaction

import (
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/reconcile"
)

// BindRenderer keeps r in step with m: the picker cursor follows Picking,
// the camera flies to completed picks and newly selected places, and the
// marker layer is pushed whenever it changes. r receives the current state
// immediately. The returned func unsubscribes.
func BindRenderer(m *Machine, r ports.Renderer) (unsubscribe func()) {
	if r == nil {
		panic("interaction: nil Renderer")
	}
	b := &rendererBinding{engine: m.engine, r: r}
	return m.subscribeAndSync(b.apply)
}

type rendererBinding struct {
	engine *reconcile.Engine
	r      ports.Renderer
	prev   State
	primed bool
}

func (b *rendererBinding) apply(s State) {
	defer func() {
		b.prev = s
		b.primed = true
	}()

	if !b.primed {
		b.r.ShowPickerCursor(s.PickerModeActive)
		b.r.SetMarkers(s.Markers)
		return
	}

	if s.PickerModeActive != b.prev.PickerModeActive {
		b.r.ShowPickerCursor(s.PickerModeActive)
	}
	if s.MarkersVersion != b.prev.MarkersVersion {
		b.r.SetMarkers(s.Markers)
	}

	switch {
	case s.LastSelectedCoordinates != nil && s.LastSelectedCoordinates != b.prev.LastSelectedCoordinates:
		b.r.FlyTo(b.engine.Reconcile(*s.LastSelectedCoordinates), s.MapZoomLevel)
	case s.Place != nil && s.SelectedPlaceID != "" && s.SelectedPlaceID != b.prev.SelectedPlaceID:
		b.r.FlyTo(b.engine.Reconcile(s.Place.Geometry), s.MapZoomLevel)
	}
}
