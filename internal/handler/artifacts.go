package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/middleware"
	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/internal/service"
	"github.com/wordai/api/pkg/response"
)

type ArtifactHandler struct {
	service   *service.ArtifactService
	validator *validator.Validate
	log       *zerolog.Logger
}

func NewArtifactHandler(svc *service.ArtifactService, v *validator.Validate, logger *zerolog.Logger) *ArtifactHandler {
	l := logging.Component(logger, "ArtifactHandler")
	return &ArtifactHandler{service: svc, validator: v, log: l}
}

// Get handles GET /api/:resource/:subjectId/:kind?language=xx&version=N.
// Without version the scope's effective default is returned.
func (h *ArtifactHandler) Get(c *fiber.Ctx) error {
	version := 0
	if raw := c.Query("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return response.ValidationError(c, "version must be a positive integer", nil)
		}
		version = v
	}

	scope := model.Scope{
		Kind:      model.ArtifactKind(c.Params("kind")),
		SubjectID: c.Params("subjectId"),
		Language:  c.Query("language"),
	}
	a, err := h.service.Get(c.UserContext(), middleware.GetUserID(c), scope, version)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, a)
}

// Versions handles GET /api/:resource/:subjectId/:kind/versions?language=xx
func (h *ArtifactHandler) Versions(c *fiber.Ctx) error {
	list, err := h.service.List(c.UserContext(), middleware.GetUserID(c),
		model.ArtifactKind(c.Params("kind")), c.Params("subjectId"), c.Query("language"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, list)
}

// SetDefault returns the handler for
// PUT /api/:resource/:subjectId/preferences/:language/default. The artifact
// kind comes from ?kind= and falls back to defaultKind.
func (h *ArtifactHandler) SetDefault(defaultKind model.ArtifactKind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.SetDefaultRequest
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
		if err := h.validator.Struct(&req); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}

		scope := model.Scope{
			Kind:      model.ArtifactKind(c.Query("kind", string(defaultKind))),
			SubjectID: c.Params("subjectId"),
			Language:  c.Params("language"),
		}
		result, err := h.service.SetDefault(c.UserContext(), middleware.GetUserID(c), scope, req.ArtifactID)
		if err != nil {
			return respondError(c, h.log, err)
		}
		return response.OK(c, result)
	}
}

// Delete handles DELETE /api/artifacts/:artifactId
func (h *ArtifactHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), middleware.GetUserID(c), c.Params("artifactId")); err != nil {
		return respondError(c, h.log, err)
	}
	return response.NoContent(c)
}

// References handles GET /api/artifacts/:artifactId/references
func (h *ArtifactHandler) References(c *fiber.Ctx) error {
	refs, err := h.service.References(c.UserContext(), middleware.GetUserID(c), c.Params("artifactId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	if refs == nil {
		refs = []model.Reference{}
	}
	return response.OK(c, fiber.Map{"references": refs})
}
