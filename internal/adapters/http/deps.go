package http

import (
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/planb/internal/adapters/postgres"
	"github.com/samirrijal/planb/internal/adapters/valkey"
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/usecases"
)

// MapSettings are the session defaults handed to map clients.
type MapSettings struct {
	DefaultZoom     float64
	DefaultCategory string
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Places      *usecases.PlaceService
	Imports     *usecases.ImportService
	Maintenance *usecases.MaintenanceService
	Map         MapSettings
	Events      ports.EventPublisher
	NATS        *nats.Conn
	DB          *postgres.DB
	Cache       *valkey.Cache

	// RequestTimeout bounds ordinary requests; zero means 15s.
	RequestTimeout time.Duration
	// RateLimit is the number of requests per minute and IP; zero means 120.
	RateLimit int
}

func (d *Dependencies) requestTimeout() time.Duration {
	if d.RequestTimeout > 0 {
		return d.RequestTimeout
	}
	return 15 * time.Second
}

func (d *Dependencies) rateLimit() int {
	if d.RateLimit > 0 {
		return d.RateLimit
	}
	return 120
}
