package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	natsadapter "github.com/samirrijal/planb/internal/adapters/nats"
	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/interaction"
	"github.com/samirrijal/planb/internal/pkg/metrics"
)

// clientCommand is a gesture sent by the map client:
//
//	{"action":"marker_clicked","id":"42"}
//	{"action":"map_clicked","point":{"lon":11.56,"lat":46.71}}
//	{"action":"set_field","key":"Name","value":"Alm"}
type clientCommand struct {
	Action   string           `json:"action"`
	ID       string           `json:"id,omitempty"`
	Point    *domain.GeoPoint `json:"point,omitempty"`
	Key      string           `json:"key,omitempty"`
	Value    any              `json:"value,omitempty"`
	Zoom     float64          `json:"zoom,omitempty"`
	Category string           `json:"category,omitempty"`
}

// serverMessage is everything the server pushes to the client.
type serverMessage struct {
	Type      string                    `json:"type"` // session | state | render | error
	SessionID string                    `json:"session_id,omitempty"`
	State     *interaction.State        `json:"state,omitempty"`
	Command   string                    `json:"command,omitempty"` // set_markers | picker_cursor | fly_to
	Markers   *domain.FeatureCollection `json:"markers,omitempty"`
	Active    *bool                     `json:"active,omitempty"`
	Point     *domain.GeoPoint          `json:"point,omitempty"`
	Zoom      float64                   `json:"zoom,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

// wsRenderer turns renderer calls into render messages.
type wsRenderer struct {
	send func(serverMessage) error
}

func (r wsRenderer) SetMarkers(places []domain.Place) {
	fc := domain.NewFeatureCollection(places)
	_ = r.send(serverMessage{Type: "render", Command: "set_markers", Markers: &fc})
}

func (r wsRenderer) ShowPickerCursor(active bool) {
	_ = r.send(serverMessage{Type: "render", Command: "picker_cursor", Active: &active})
}

func (r wsRenderer) FlyTo(point domain.GeoPoint, zoom float64) {
	_ = r.send(serverMessage{Type: "render", Command: "fly_to", Point: &point, Zoom: zoom})
}

var errUnknownAction = errors.New("unknown action")

// dispatch applies one client command to the machine. Commands that need a
// point or id fail without touching the machine when it is missing.
func dispatch(m *interaction.Machine, cmd clientCommand) error {
	switch cmd.Action {
	case "marker_clicked":
		if cmd.ID == "" {
			return errors.New("id is required")
		}
		m.MarkerClicked(cmd.ID)
	case "edit":
		m.Edit()
	case "create_place":
		m.CreatePlace()
	case "pick_on_map":
		m.PickOnMap()
	case "map_clicked":
		if cmd.Point == nil {
			return errors.New("point is required")
		}
		m.MapClicked(*cmd.Point)
	case "cancel_pick":
		m.CancelPick()
	case "set_field":
		if cmd.Key == "" {
			return errors.New("key is required")
		}
		m.SetField(cmd.Key, cmd.Value)
	case "set_geometry":
		if cmd.Point == nil {
			return errors.New("point is required")
		}
		m.SetGeometry(*cmd.Point)
	case "save":
		m.Save()
	case "cancel_edit":
		m.CancelEdit()
	case "delete":
		m.Delete()
	case "close_panel":
		m.ClosePanel()
	case "camera_changed":
		if cmd.Point == nil {
			return errors.New("point is required")
		}
		m.CameraChanged(cmd.Zoom, *cmd.Point)
	default:
		return fmt.Errorf("%w: %q", errUnknownAction, cmd.Action)
	}
	return nil
}

// mapSession is one connected map client and its interaction machine.
type mapSession struct {
	id       string
	deps     *Dependencies
	machine  *interaction.Machine
	send     func(serverMessage) error
	logger   *slog.Logger
	category string
}

// loadMarkers replaces the marker layer with the places of the session's category.
func (s *mapSession) loadMarkers(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.deps.requestTimeout())
	defer cancel()
	places, err := s.deps.Places.List(ctx, domain.PlaceFilter{Category: s.category})
	if err != nil {
		return err
	}
	s.machine.SetMarkers(places)
	return nil
}

// selectPlace loads a place that is not on the marker layer and selects it.
func (s *mapSession) selectPlace(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.deps.requestTimeout())
	defer cancel()
	place, err := s.deps.Places.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.machine.SelectPlace(*place)
	return nil
}

// handle runs one client command.
func (s *mapSession) handle(ctx context.Context, cmd clientCommand) error {
	switch cmd.Action {
	case "select_place":
		if cmd.ID == "" {
			return errors.New("id is required")
		}
		return s.selectPlace(ctx, cmd.ID)
	case "refresh_markers", "filter":
		if cmd.Action == "filter" {
			s.category = cmd.Category
		}
		return s.loadMarkers(ctx)
	default:
		return dispatch(s.machine, cmd)
	}
}

// publishState writes a snapshot to the client and mirrors it on NATS.
func (s *mapSession) publishState(st interaction.State) {
	if err := s.send(serverMessage{Type: "state", State: &st}); err != nil {
		s.logger.Debug("ws state write failed", "error", err)
	}
	if s.deps.Events == nil {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := s.deps.Events.PublishSessionState(context.Background(), s.id, data); err != nil {
		s.logger.Debug("session state mirror failed", "error", err)
	}
}

// newMapSession wires a machine, its renderer and the state stream to send.
// The returned func releases everything.
func newMapSession(ctx context.Context, deps *Dependencies, send func(serverMessage) error) (*mapSession, func()) {
	id := uuid.NewString()
	logger := slog.Default().With("session_id", id)

	opts := []interaction.Option{
		interaction.WithContext(ctx),
		interaction.WithLogger(logger),
		interaction.WithObserver(metrics.InteractionObserver{}),
		interaction.WithDefaultCategory(deps.Map.DefaultCategory),
	}
	if deps.Map.DefaultZoom > 0 {
		opts = append(opts, interaction.WithInitialZoom(deps.Map.DefaultZoom))
	}
	machine := interaction.New(deps.Places, deps.Places.Engine(), opts...)
	s := &mapSession{
		id:      id,
		deps:    deps,
		machine: machine,
		send:    send,
		logger:  logger,
	}

	_ = send(serverMessage{Type: "session", SessionID: id})
	unbind := interaction.BindRenderer(machine, wsRenderer{send: send})
	unsub := machine.Subscribe(s.publishState)
	s.publishState(machine.State())

	return s, func() {
		unsub()
		unbind()
		machine.Close()
	}
}

// WebSocketHandler returns a handler that runs one interaction session per
// connection. Gestures come in as clientCommand, state snapshots and render
// commands go out as serverMessage. Stored place changes announced on NATS
// refresh the session's markers.
func WebSocketHandler(deps *Dependencies) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		metrics.ActiveSessions.Inc()
		defer metrics.ActiveSessions.Dec()

		var mu sync.Mutex
		send := func(msg serverMessage) error {
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return c.WriteMessage(websocket.TextMessage, data)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, release := newMapSession(ctx, deps, send)
		defer release()
		s.logger.Info("map session started", "remote_addr", c.RemoteAddr().String())

		if err := s.loadMarkers(ctx); err != nil {
			s.logger.Warn("initial marker load failed", "error", err)
			_ = send(serverMessage{Type: "error", Error: "could not load places"})
		}

		if deps.NATS != nil {
			sub, err := deps.NATS.Subscribe(natsadapter.PlaceSubjects, func(*nats.Msg) {
				if err := s.loadMarkers(ctx); err != nil {
					s.logger.Debug("marker refresh failed", "error", err)
				}
			})
			if err != nil {
				s.logger.Warn("place event subscribe failed", "error", err)
			} else {
				defer func() { _ = sub.Unsubscribe() }()
			}
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					err := c.WriteMessage(websocket.PingMessage, nil)
					mu.Unlock()
					if err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}
			var cmd clientCommand
			if err := json.Unmarshal(raw, &cmd); err != nil {
				_ = send(serverMessage{Type: "error", Error: "invalid JSON"})
				continue
			}
			if err := s.handle(ctx, cmd); err != nil {
				_ = send(serverMessage{Type: "error", Error: err.Error()})
			}
		}

		s.logger.Info("map session closed")
	}
}
