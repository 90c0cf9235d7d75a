package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	statusOK       = "ok"
	statusDisabled = "disabled"
	statusError    = "error"
)

// RegisterHealthRoutes adds a readiness endpoint reporting each backing store.
// Probe failures are logged; callers only see "error".
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := statusDisabled
		redisStatus := statusDisabled

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			dbStatus = probe(ctx, d.Logger, "postgres", d.DB.Ping(ctx))
		}
		if d.Cache != nil {
			redisStatus = probe(ctx, d.Logger, "redis", d.Cache.Ping(ctx).Err())
		}
		status := http.StatusOK
		if dbStatus == statusError || redisStatus == statusError {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func probe(ctx context.Context, logger *slog.Logger, component string, err error) string {
	if err == nil {
		return statusOK
	}
	logger.WarnContext(ctx, "health check failed", slog.String("component", component), slog.Any("error", err))
	return statusError
}
