package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits one structured log line per request. Errors from the chain are
// rendered through the app's ErrorHandler first so the logged status matches
// what the client receives.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		chainErr := c.Next()
		if chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := RequestIDFrom(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if chainErr != nil {
			attrs = append(attrs, slog.Any("error", chainErr))
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error("request completed", attrs...)
		} else {
			logger.Info("request completed", attrs...)
		}
		return nil
	}
}
