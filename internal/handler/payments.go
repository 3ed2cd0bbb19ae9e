package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/internal/service"
	"github.com/wordai/api/pkg/response"
)

type PaymentHandler struct {
	service   *service.PaymentService
	validator *validator.Validate
	log       *zerolog.Logger
}

func NewPaymentHandler(svc *service.PaymentService, v *validator.Validate, logger *zerolog.Logger) *PaymentHandler {
	l := logging.Component(logger, "PaymentHandler")
	return &PaymentHandler{service: svc, validator: v, log: l}
}

// SePay handles POST /webhooks/sepay. It sits outside the bearer-auth group
// and authenticates with the gateway's API key instead.
func (h *PaymentHandler) SePay(c *fiber.Ctx) error {
	if err := h.service.Authorize(c.Get(fiber.HeaderAuthorization)); err != nil {
		return response.Unauthorized(c, "Invalid webhook credentials")
	}

	var req model.SePayWebhook
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.HandleSePayWebhook(c.UserContext(), &req)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, result)
}
