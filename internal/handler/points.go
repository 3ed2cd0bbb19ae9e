package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/metering"
	"github.com/wordai/api/internal/middleware"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/pkg/response"
)

type PointsHandler struct {
	gate *metering.Gate
	log  *zerolog.Logger
}

func NewPointsHandler(gate *metering.Gate, logger *zerolog.Logger) *PointsHandler {
	l := logging.Component(logger, "PointsHandler")
	return &PointsHandler{gate: gate, log: l}
}

// Balance handles GET /api/points/balance
func (h *PointsHandler) Balance(c *fiber.Ctx) error {
	owner := middleware.GetUserID(c)
	bal, err := h.gate.Balance(c.UserContext(), owner)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, model.BalanceResponse{OwnerID: owner, Balance: bal})
}

// History handles GET /api/points/history?limit=N
func (h *PointsHandler) History(c *fiber.Ctx) error {
	owner := middleware.GetUserID(c)
	entries, err := h.gate.History(c.UserContext(), owner, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return response.OK(c, model.LedgerHistoryResponse{OwnerID: owner, Entries: entries})
}
