package users

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/flood-relief/flood_relief/internal/apperr"
	"github.com/flood-relief/flood_relief/internal/middleware"
)

const msgInvalidBody = "Invalid request body"

// Handler exposes account endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type signupRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Telephone string `json:"telephone"`
	Help      Flag   `json:"help"`
}

type signinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateRequest struct {
	Password  string       `json:"password"`
	Name      string       `json:"name"`
	Address   string       `json:"address"`
	Telephone string       `json:"telephone"`
	Help      OptionalFlag `json:"help"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type signinResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// Signup handles account creation.
func (h *Handler) Signup(c *fiber.Ctx) error {
	var req signupRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest(msgInvalidBody)
	}
	_, err := h.service.Signup(c.UserContext(), SignupInput{
		Username:  req.Username,
		Password:  req.Password,
		Name:      req.Name,
		Address:   req.Address,
		Telephone: req.Telephone,
		Help:      bool(req.Help),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(messageResponse{Message: "User created successfully"})
}

// Signin exchanges credentials for a token.
func (h *Handler) Signin(c *fiber.Ctx) error {
	var req signinRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest(msgInvalidBody)
	}
	token, err := h.service.Signin(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(signinResponse{Message: "Sign-in successful", Token: token})
}

// Profile returns the caller's own record.
func (h *Handler) Profile(c *fiber.Ctx) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return apperr.Unauthorized(msgUnauthorized)
	}
	profile, err := h.service.Profile(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(profile)
}

// UpdateProfile applies a partial update to the caller's record.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return apperr.Unauthorized(msgUnauthorized)
	}
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest(msgInvalidBody)
	}
	in := UpdateInput{
		Password:  req.Password,
		Name:      req.Name,
		Address:   req.Address,
		Telephone: req.Telephone,
	}
	if req.Help.Present {
		help := req.Help.Value
		in.Help = &help
	}
	if err := h.service.UpdateProfile(c.UserContext(), id, in); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "User information updated successfully"})
}

// DeleteAccount removes the caller's record.
func (h *Handler) DeleteAccount(c *fiber.Ctx) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return apperr.Unauthorized(msgUnauthorized)
	}
	if err := h.service.DeleteAccount(c.UserContext(), id); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(messageResponse{Message: "Account deleted successfully"})
}

// NeedHelp lists residents who raised the needs-help flag.
func (h *Handler) NeedHelp(c *fiber.Ctx) error {
	list, err := h.service.ListNeedingHelp(c.UserContext())
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(list)
}
