package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/flood-relief/flood_relief/internal/users"
)

// RegisterUserRoutes wires the account endpoints. Only /user requires a token.
func RegisterUserRoutes(r fiber.Router, h *users.Handler, authn fiber.Handler, idempotency fiber.Handler) {
	if idempotency != nil {
		r.Post("/signup", idempotency, h.Signup)
	} else {
		r.Post("/signup", h.Signup)
	}
	r.Post("/signin", h.Signin)
	r.Get("/users/need-help", h.NeedHelp)

	r.Get("/user", authn, h.Profile)
	r.Put("/user", authn, h.UpdateProfile)
	r.Delete("/user", authn, h.DeleteAccount)
}
