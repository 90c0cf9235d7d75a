package server

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/flood-relief/flood_relief/internal/apperr"
)

type errorResponse struct {
	Message string `json:"message"`
}

// ErrorHandler renders every failure as {"message": ...}. Application errors
// keep their public message; anything unexpected is logged and reported as a
// generic internal error.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(errorResponse{Message: fe.Message})
		}

		status := apperr.Status(err)
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			logger.Error("unhandled error", slog.String("path", c.Path()), slog.Any("error", err))
		}
		return c.Status(status).JSON(errorResponse{Message: apperr.Message(err)})
	}
}
