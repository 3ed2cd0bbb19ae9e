package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/pkg/response"
)

// respondError maps service errors onto the API's error responses.
func respondError(c *fiber.Ctx, log *zerolog.Logger, err error) error {
	var (
		verr     *model.ValidationError
		balance  *model.InsufficientBalanceError
		conflict *model.ReferenceConflictError
	)
	switch {
	case errors.As(err, &verr):
		return response.ValidationError(c, verr.Message, validationDetails(verr))
	case errors.As(err, &balance):
		return response.PaymentRequired(c, "Insufficient points", balance)
	case errors.As(err, &conflict):
		return response.Conflict(c, "Artifact is still referenced", fiber.Map{"references": conflict.References})
	case errors.Is(err, model.ErrForbidden):
		return response.Forbidden(c, "Access denied")
	case errors.Is(err, model.ErrNotFound):
		return response.NotFound(c, "Not found")
	case errors.Is(err, model.ErrValidation):
		return response.ValidationError(c, err.Error(), nil)
	}

	logging.With(c.UserContext(), log).Error().Err(err).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg("request failed")
	return response.ServiceError(c, "Internal server error")
}

func validationDetails(verr *model.ValidationError) interface{} {
	if len(verr.Fields) == 0 {
		return nil
	}
	return verr.Fields
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, e := range verrs {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
