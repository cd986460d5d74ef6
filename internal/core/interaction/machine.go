// Package interaction holds the per-session map interaction state machine.
//
// A Machine owns the only copy of a session's state. User gestures arrive as
// trigger methods; each accepted trigger replaces the state atomically and
// notifies every subscriber, in registration order, with the full snapshot.
// Triggers that make no sense in the current mode are ignored.
//
// Fetches, saves and deletes run through an Executor. Their completion
// handlers re-enter the machine and are dropped when a newer request has been
// issued or the session has moved on.
package interaction

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/reconcile"
)

// Subscriber receives every new state. It runs while the machine is locked
// and must not call back into the machine.
type Subscriber func(State)

// Executor runs asynchronous work. The default starts a goroutine.
type Executor func(task func())

// Observer is told about transitions and discarded results.
type Observer interface {
	Transition(trigger string, from, to Mode)
	StaleResult(kind string)
}

type nopObserver struct{}

func (nopObserver) Transition(string, Mode, Mode) {}
func (nopObserver) StaleResult(string)            {}

type subscription struct {
	id int
	fn Subscriber
}

// Machine is the interaction state machine of one session.
type Machine struct {
	mu      sync.Mutex
	state   State
	subs    []subscription
	nextSub int
	queued  []func()

	store           ports.PlaceStore
	engine          *reconcile.Engine
	exec            Executor
	observer        Observer
	logger          *slog.Logger
	defaultCategory string

	ctx    context.Context
	cancel context.CancelFunc

	fetchToken  uint64
	fetchCancel context.CancelFunc
	opToken     uint64
}

// Option configures a Machine.
type Option func(*Machine)

// WithExecutor replaces the goroutine executor.
func WithExecutor(exec Executor) Option {
	return func(m *Machine) { m.exec = exec }
}

// WithObserver installs a transition observer.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// WithLogger sets the logger used for ignored triggers and failed requests.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithDefaultCategory seeds new places with a category.
func WithDefaultCategory(category string) Option {
	return func(m *Machine) { m.defaultCategory = category }
}

// WithInitialZoom sets the starting zoom level.
func WithInitialZoom(zoom float64) Option {
	return func(m *Machine) { m.state.MapZoomLevel = zoom }
}

// WithContext sets the parent context of all store requests.
func WithContext(ctx context.Context) Option {
	return func(m *Machine) { m.ctx = ctx }
}

// New creates a Machine in the Browsing state centred on the engine's
// reference point. It panics if store or engine is nil.
func New(store ports.PlaceStore, engine *reconcile.Engine, opts ...Option) *Machine {
	if store == nil {
		panic("interaction: nil PlaceStore")
	}
	if engine == nil {
		panic("interaction: nil reconcile.Engine")
	}
	m := &Machine{
		store:    store,
		engine:   engine,
		exec:     func(task func()) { go task() },
		observer: nopObserver{},
		logger:   slog.Default(),
		ctx:      context.Background(),
		state: State{
			Mode:         Browsing,
			ResumeTo:     Browsing,
			MapZoomLevel: DefaultZoom,
			MapCenter:    engine.Reference(),
		},
	}
	for _, o := range opts {
		o(m)
	}
	m.ctx, m.cancel = context.WithCancel(m.ctx)
	return m
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for every future state. The returned func removes
// the subscription; it must not be called from inside a subscriber.
func (m *Machine) Subscribe(fn Subscriber) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addSubscriber(fn)
}

// subscribeAndSync registers fn and hands it the current state atomically.
func (m *Machine) subscribeAndSync(fn Subscriber) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	unsubscribe := m.addSubscriber(fn)
	fn(m.state)
	return unsubscribe
}

func (m *Machine) addSubscriber(fn Subscriber) func() {
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscription{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Close cancels in-flight requests; their results are discarded.
func (m *Machine) Close() {
	m.do(func() {
		m.invalidateFetch()
		m.opToken++
	})
	m.cancel()
}

// do runs fn under the lock, then hands queued work to the executor.
func (m *Machine) do(fn func()) {
	m.mu.Lock()
	fn()
	tasks := m.queued
	m.queued = nil
	m.mu.Unlock()

	for _, t := range tasks {
		m.exec(t)
	}
}

func (m *Machine) commit(trigger string, next State) {
	prev := m.state
	next.Version = prev.Version + 1
	m.state = next
	m.observer.Transition(trigger, prev.Mode, next.Mode)
	for _, s := range m.subs {
		s.fn(next)
	}
}

func (m *Machine) ignore(trigger string) {
	m.logger.Debug("ignoring trigger", "trigger", trigger, "mode", m.state.Mode.String())
}

func (m *Machine) stale(kind string) {
	m.observer.StaleResult(kind)
	m.logger.Debug("discarding stale result", "kind", kind, "mode", m.state.Mode.String())
}

func (m *Machine) invalidateFetch() {
	m.fetchToken++
	if m.fetchCancel != nil {
		m.fetchCancel()
		m.fetchCancel = nil
	}
}

// displayPlace returns a copy of p with its geometry reconciled. Stored
// places were reported when the store served them, so the hook stays quiet.
func (m *Machine) displayPlace(p domain.Place) (domain.Place, reconcile.Report) {
	out := p.Clone()
	report := m.engine.Inspect(p.Geometry)
	out.Geometry = report.Point
	out.NeedsCorrection = p.NeedsCorrection || report.NeedsManualCorrection()
	return out, report
}

// browsing returns the current state reset to Browsing. Camera, markers and
// the last picked point survive.
func (m *Machine) browsing() State {
	next := m.state
	next.Mode = Browsing
	next.ResumeTo = Browsing
	next.PickerModeActive = false
	next.DetailPanelOpen = false
	next.EditModeActive = false
	next.SelectedPlaceID = ""
	next.SelectedPlaceName = ""
	next.Place = nil
	next.GeometryReport = nil
	next.Pending = Pending{}
	next.Saving = false
	next.LastError = ""
	return next
}

func (m *Machine) startFetch(kind, id string, expect Mode) {
	m.invalidateFetch()
	token := m.fetchToken
	ctx, cancel := context.WithCancel(m.ctx)
	m.fetchCancel = cancel
	m.queued = append(m.queued, func() {
		defer cancel()
		place, err := m.store.FetchPlace(ctx, id)
		m.finishFetch(token, kind, id, expect, place, err)
	})
}

func (m *Machine) finishFetch(token uint64, kind, id string, expect Mode, place *domain.Place, err error) {
	m.do(func() {
		if token != m.fetchToken || m.state.Mode != expect || m.state.SelectedPlaceID != id {
			m.stale("fetch_" + kind)
			return
		}
		m.fetchCancel = nil
		if err != nil || place == nil {
			m.logger.Warn("fetching place failed, keeping in-memory record", "place_id", id, "error", err)
			return
		}
		display, report := m.displayPlace(*place)
		next := m.state
		next.Place = &display
		next.SelectedPlaceName = display.Name()
		next.GeometryReport = &report
		m.commit("fetch_"+kind, next)
	})
}

// SelectPlace opens the detail panel for place and refreshes it from the store.
func (m *Machine) SelectPlace(place domain.Place) {
	m.do(func() { m.selectPlace("select_place", place) })
}

func (m *Machine) selectPlace(trigger string, place domain.Place) {
	if (m.state.Mode != Browsing && m.state.Mode != Viewing) || place.ID == "" {
		m.ignore(trigger)
		return
	}
	m.opToken++
	display, report := m.displayPlace(place)
	next := m.browsing()
	next.Mode = Viewing
	next.DetailPanelOpen = true
	next.SelectedPlaceID = display.ID
	next.SelectedPlaceName = display.Name()
	next.Place = &display
	next.GeometryReport = &report
	m.commit(trigger, next)
	m.startFetch("select", display.ID, Viewing)
}

// Edit switches the shown place into edit mode and reloads the latest record.
// A coordinate picked while viewing is kept.
func (m *Machine) Edit() {
	m.do(func() {
		if m.state.Mode != Viewing || m.state.Place == nil || m.state.Saving {
			m.ignore("edit")
			return
		}
		next := m.state
		next.Mode = Editing
		next.EditModeActive = true
		next.LastError = ""
		m.commit("edit", next)
		m.startFetch("edit", next.SelectedPlaceID, Editing)
	})
}

// CreatePlace opens an empty form seeded with the default category and the
// reference point.
func (m *Machine) CreatePlace() {
	m.do(func() {
		if m.state.Mode != Browsing && m.state.Mode != Viewing {
			m.ignore("create_place")
			return
		}
		m.invalidateFetch()
		m.opToken++
		blank := domain.Place{Properties: map[string]any{}}
		if m.defaultCategory != "" {
			blank.Properties[domain.PropCategory] = m.defaultCategory
		}
		blank.Geometry = m.engine.Reference()
		display, report := m.displayPlace(blank)

		next := m.browsing()
		next.Mode = Creating
		next.DetailPanelOpen = true
		next.EditModeActive = true
		next.Place = &display
		next.GeometryReport = &report
		m.commit("create_place", next)
	})
}

// PickOnMap hides the panel and waits for a map or marker click.
func (m *Machine) PickOnMap() {
	m.do(func() {
		switch m.state.Mode {
		case Browsing, Viewing, Editing, Creating:
		default:
			m.ignore("pick_on_map")
			return
		}
		if m.state.Saving {
			m.ignore("pick_on_map")
			return
		}
		m.invalidateFetch()
		next := m.state
		next.ResumeTo = m.state.Mode
		next.Mode = Picking
		next.PickerModeActive = true
		next.DetailPanelOpen = false
		m.commit("pick_on_map", next)
	})
}

// MapClicked completes a pick with the clicked point. Outside Picking it
// does nothing.
func (m *Machine) MapClicked(point domain.GeoPoint) {
	m.do(func() {
		if m.state.Mode != Picking {
			m.ignore("map_clicked")
			return
		}
		m.completePick("map_clicked", m.engine.ReconcileWithReport(point))
	})
}

// MarkerClicked completes a pick with the marker's position while picking,
// and selects the marker's place while browsing or viewing.
func (m *Machine) MarkerClicked(placeID string) {
	m.do(func() {
		marker, ok := m.marker(placeID)
		if !ok {
			m.ignore("marker_clicked")
			return
		}
		switch m.state.Mode {
		case Picking:
			m.completePick("marker_clicked", m.engine.ReconcileWithReport(marker.Geometry))
		case Browsing, Viewing:
			m.selectPlace("marker_clicked", marker)
		default:
			m.ignore("marker_clicked")
		}
	})
}

func (m *Machine) marker(id string) (domain.Place, bool) {
	for _, p := range m.state.Markers {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Place{}, false
}

func (m *Machine) completePick(trigger string, report reconcile.Report) {
	pt := report.Point
	next := m.state
	next.LastSelectedCoordinates = &pt
	next.PickerModeActive = false
	next.Mode = m.state.ResumeTo
	next.ResumeTo = Browsing
	if next.Mode == Browsing {
		next.DetailPanelOpen = false
	} else {
		next.DetailPanelOpen = true
		next.Pending = next.Pending.withGeometry(report)
	}
	m.commit(trigger, next)
}

// CancelPick leaves Picking and restores the previous mode.
func (m *Machine) CancelPick() {
	m.do(func() {
		if m.state.Mode != Picking {
			m.ignore("cancel_pick")
			return
		}
		next := m.state
		next.Mode = m.state.ResumeTo
		next.ResumeTo = Browsing
		next.PickerModeActive = false
		next.DetailPanelOpen = next.Mode != Browsing
		m.commit("cancel_pick", next)
	})
}

func (m *Machine) editable() bool {
	return (m.state.Mode == Editing || m.state.Mode == Creating) && !m.state.Saving
}

// SetField records a pending change to one property.
func (m *Machine) SetField(key string, value any) {
	m.do(func() {
		if !m.editable() || key == "" {
			m.ignore("set_field")
			return
		}
		next := m.state
		next.Pending = next.Pending.withProperty(key, value)
		m.commit("set_field", next)
	})
}

// SetGeometry records a manually entered coordinate after reconciling it.
func (m *Machine) SetGeometry(point domain.GeoPoint) {
	m.do(func() {
		if !m.editable() {
			m.ignore("set_geometry")
			return
		}
		next := m.state
		next.Pending = next.Pending.withGeometry(m.engine.ReconcileWithReport(point))
		m.commit("set_geometry", next)
	})
}

// Save writes the form to the store. On success the session shows the saved
// record; on failure the form stays open with LastError set.
func (m *Machine) Save() {
	m.do(func() {
		if !m.editable() || m.state.Place == nil {
			m.ignore("save")
			return
		}
		record := m.state.Place.Clone()
		record.Properties = m.state.FormProperties()
		if geom, ok := m.state.EffectiveGeometry(); ok && m.state.Pending.Geometry != nil {
			report := m.engine.ReconcileWithReport(geom)
			record.Geometry = report.Point
			record.NeedsCorrection = report.NeedsManualCorrection()
		}

		m.opToken++
		token := m.opToken
		mode, id := m.state.Mode, m.state.SelectedPlaceID

		next := m.state
		next.Saving = true
		next.LastError = ""
		m.commit("save", next)

		ctx := m.ctx
		m.queued = append(m.queued, func() {
			saved, err := m.store.SavePlace(ctx, &record)
			if err == nil && saved == nil {
				saved = &record
			}
			m.finishSave(token, mode, id, saved, err)
		})
	})
}

func (m *Machine) finishSave(token uint64, mode Mode, id string, saved *domain.Place, err error) {
	m.do(func() {
		if token != m.opToken || m.state.Mode != mode || m.state.SelectedPlaceID != id {
			m.stale("save")
			return
		}
		next := m.state
		next.Saving = false
		if err != nil {
			m.logger.Warn("saving place failed", "place_id", id, "error", err)
			next.LastError = err.Error()
			m.commit("save_failed", next)
			return
		}
		display, report := m.displayPlace(*saved)
		next.Mode = Viewing
		next.EditModeActive = false
		next.DetailPanelOpen = true
		next.SelectedPlaceID = display.ID
		next.SelectedPlaceName = display.Name()
		next.Place = &display
		next.GeometryReport = &report
		next.Pending = Pending{}
		next.LastError = ""
		m.commit("save_succeeded", next)
	})
}

// CancelEdit drops pending edits. Editing returns to Viewing, Creating to
// Browsing.
func (m *Machine) CancelEdit() {
	m.do(func() {
		switch m.state.Mode {
		case Editing:
			m.opToken++
			next := m.state
			next.Mode = Viewing
			next.EditModeActive = false
			next.Pending = Pending{}
			next.Saving = false
			next.LastError = ""
			m.commit("cancel_edit", next)
		case Creating:
			m.opToken++
			m.commit("cancel_edit", m.browsing())
		default:
			m.ignore("cancel_edit")
		}
	})
}

// Delete removes the selected place from the store.
func (m *Machine) Delete() {
	m.do(func() {
		if (m.state.Mode != Viewing && m.state.Mode != Editing) || m.state.Saving || m.state.SelectedPlaceID == "" {
			m.ignore("delete")
			return
		}
		m.opToken++
		token := m.opToken
		mode, id := m.state.Mode, m.state.SelectedPlaceID

		next := m.state
		next.Saving = true
		next.LastError = ""
		m.commit("delete", next)

		ctx := m.ctx
		m.queued = append(m.queued, func() {
			err := m.store.DeletePlace(ctx, id)
			m.finishDelete(token, mode, id, err)
		})
	})
}

func (m *Machine) finishDelete(token uint64, mode Mode, id string, err error) {
	m.do(func() {
		if token != m.opToken || m.state.Mode != mode || m.state.SelectedPlaceID != id {
			m.stale("delete")
			return
		}
		if err != nil {
			m.logger.Warn("deleting place failed", "place_id", id, "error", err)
			next := m.state
			next.Saving = false
			next.LastError = err.Error()
			m.commit("delete_failed", next)
			return
		}
		next := m.browsing()
		next.Markers = withoutPlace(next.Markers, id)
		next.MarkersVersion++
		m.commit("delete_succeeded", next)
	})
}

func withoutPlace(places []domain.Place, id string) []domain.Place {
	out := make([]domain.Place, 0, len(places))
	for _, p := range places {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// ClosePanel returns to Browsing from any mode, discarding pending edits and
// in-flight results.
func (m *Machine) ClosePanel() {
	m.do(func() {
		s := m.state
		if s.Mode == Browsing && !s.DetailPanelOpen && !s.PickerModeActive && s.Place == nil {
			m.ignore("close_panel")
			return
		}
		m.invalidateFetch()
		m.opToken++
		m.commit("close_panel", m.browsing())
	})
}

// CameraChanged records the renderer's camera.
func (m *Machine) CameraChanged(zoom float64, center domain.GeoPoint) {
	m.do(func() {
		if math.IsNaN(zoom) || math.IsInf(zoom, 0) || zoom < 0 {
			m.ignore("camera_changed")
			return
		}
		c := m.engine.Reconcile(center)
		if zoom == m.state.MapZoomLevel && c == m.state.MapCenter {
			return
		}
		next := m.state
		next.MapZoomLevel = zoom
		next.MapCenter = c
		m.commit("camera_changed", next)
	})
}

// SetMarkers replaces the marker layer. Every geometry is reconciled.
func (m *Machine) SetMarkers(places []domain.Place) {
	markers := make([]domain.Place, 0, len(places))
	for _, p := range places {
		d, _ := m.displayPlace(p)
		markers = append(markers, d)
	}
	m.do(func() {
		next := m.state
		next.Markers = markers
		next.MarkersVersion++
		m.commit("set_markers", next)
	})
}
