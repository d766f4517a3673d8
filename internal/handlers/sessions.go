package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ccm-sh/ccm/internal/models"
)

// SessionDirectory is the read side of the orchestrator.
type SessionDirectory interface {
	All() []models.Session
	Get(sid string) (*models.Session, bool)
	Messages(sid string) ([]models.Message, error)
}

// SessionsHandler is the read-only REST mirror of the socket's session
// state, used by the SPA for its initial fetch.
type SessionsHandler struct {
	orchestrator SessionDirectory
}

// NewSessionsHandler creates the handler.
func NewSessionsHandler(orchestrator SessionDirectory) *SessionsHandler {
	return &SessionsHandler{orchestrator: orchestrator}
}

// List handles GET /v1/sessions.
func (h *SessionsHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sessions": h.orchestrator.All()})
}

// Get handles GET /v1/sessions/:sid.
func (h *SessionsHandler) Get(c *fiber.Ctx) error {
	sid := c.Params("sid")
	session, ok := h.orchestrator.Get(sid)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "session not found",
		})
	}
	return c.JSON(session)
}

// Messages handles GET /v1/sessions/:sid/messages.
func (h *SessionsHandler) Messages(c *fiber.Ctx) error {
	sid := c.Params("sid")
	messages, err := h.orchestrator.Messages(sid)
	if err != nil {
		if models.KindOf(err) == models.ErrNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": models.MessageOf(err),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": models.MessageOf(err),
		})
	}
	return c.JSON(fiber.Map{"messages": messages})
}
