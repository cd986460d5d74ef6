package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/planb/internal/core/domain"
)

const (
	// PlaceStream persists place lifecycle events.
	PlaceStream = "PLACES"
	// PlaceSubjects matches every place event subject.
	PlaceSubjects = "planb.places.>"
)

// PlaceSubject is the subject a place event of the given type is published on.
func PlaceSubject(eventType string) string {
	return "planb.places." + eventType
}

// SessionStateSubject carries the state snapshots of one map session.
func SessionStateSubject(sessionID string) string {
	return "planb.session." + sessionID + ".state"
}

func connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	cfg := nats.StreamConfig{
		Name:      PlaceStream,
		Subjects:  []string{PlaceSubjects},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := js.AddStream(&cfg); err != nil {
		// stream may already exist
		if _, err := js.UpdateStream(&cfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishPlaceEvent stores a place event in the PLACES stream.
func (p *Publisher) PublishPlaceEvent(ctx context.Context, event *domain.PlaceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(PlaceSubject(event.Type), data, nats.Context(ctx))
	return err
}

// PublishSessionState mirrors a session snapshot on core NATS. Snapshots are
// superseded quickly, so they are not persisted.
func (p *Publisher) PublishSessionState(_ context.Context, sessionID string, data []byte) error {
	return p.conn.Publish(SessionStateSubject(sessionID), data)
}

// Conn exposes the underlying connection for health checks.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for core subscriptions (e.g. map sessions).
func RawConn(url string) (*nats.Conn, error) {
	return connect(url)
}
