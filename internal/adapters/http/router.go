package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/planb/internal/pkg/metrics"
)

// maintenanceTimeout bounds bulk endpoints (import, repair).
const maintenanceTimeout = 5 * time.Minute

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Rate limiting per IP
	app.Use(limiter.New(limiter.Config{
		Max:        deps.rateLimit(),
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			// long-lived session sockets are not requests
			return c.Path() == "/ws"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())
	app.Use(DeprecationMiddleware(DeprecatedRoutes))

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	short := func(h fiber.Handler) fiber.Handler {
		return timeout.NewWithContext(h, deps.requestTimeout())
	}
	long := func(h fiber.Handler) fiber.Handler {
		return timeout.NewWithContext(h, maintenanceTimeout)
	}

	v1 := app.Group("/v1")
	v1.Get("/map/config", MapConfigHandler(deps))
	v1.Get("/places", short(ListPlacesHandler(deps)))
	v1.Post("/places", short(CreatePlaceHandler(deps)))
	v1.Get("/places/categories", short(CategoriesHandler(deps)))
	v1.Post("/places/import", long(ImportPlacesHandler(deps)))
	v1.Post("/places/reconcile", ReconcileHandler(deps))
	v1.Get("/places/:id", short(GetPlaceHandler(deps)))
	v1.Put("/places/:id", short(UpdatePlaceHandler(deps)))
	v1.Delete("/places/:id", short(DeletePlaceHandler(deps)))
	v1.Post("/maintenance/cleanup-coordinates", long(CleanupCoordinatesHandler(deps)))
	v1.Post("/maintenance/repair-geometry", long(RepairGeometryHandler(deps)))

	// Deprecated GeoJSON marker feed
	v1.Get("/markers", short(MarkersHandler(deps)))

	app.Post("/graphql", short(GraphQLHandler(deps)))

	SetupDocs(app)

	// Map sessions
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))
}
