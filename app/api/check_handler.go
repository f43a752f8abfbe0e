package api

import (
	"github.com/gofiber/fiber/v2"

	"ragingest/retrieval"
)

type CheckHandler struct {
	querier retrieval.Querier
}

func NewCheckHandler(querier retrieval.Querier) *CheckHandler {
	return &CheckHandler{querier: querier}
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady reports whether the store answers.
func (h CheckHandler) HandleReady(c *fiber.Ctx) error {
	if _, err := h.querier.Collections(c.UserContext()); err != nil {
		return NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(fiber.Map{"result": "ready"})
}
