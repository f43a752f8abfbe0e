package api

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"ragingest/retrieval"
	"ragingest/types"
)

type RequestHandler struct {
	querier retrieval.Querier
	logger  *slog.Logger
}

func NewRequestHandler(querier retrieval.Querier, logger *slog.Logger) *RequestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestHandler{
		querier: querier,
		logger:  logger.With("component", "api"),
	}
}

// HandleSearch serves POST /api/v1/search.
func (h *RequestHandler) HandleSearch(c *fiber.Ctx) error {
	var params types.SearchParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	resp, err := h.querier.Search(c.UserContext(), params)
	if err != nil {
		return err
	}
	h.logger.Info("search",
		"question_len", len(params.Question),
		"collections", strings.Join(params.Collections, ","),
		"results", resp.Count,
	)
	return c.JSON(resp)
}

// HandleCollections serves GET /api/v1/collections.
func (h *RequestHandler) HandleCollections(c *fiber.Ctx) error {
	stats, err := h.querier.Collections(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(types.CollectionsResponse{Collections: stats})
}

// HandleCollection serves GET /api/v1/collections/:name.
func (h *RequestHandler) HandleCollection(c *fiber.Ctx) error {
	name := c.Params("name")
	stats, err := h.querier.Collections(c.UserContext())
	if err != nil {
		return err
	}
	var found []types.CollectionStat
	for _, s := range stats {
		if s.Collection == name {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return ErrNotFound(name, "collection")
	}
	return c.JSON(types.CollectionsResponse{Collections: found})
}
