package handler

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/internal/middleware"
	"github.com/wordai/api/internal/service"
	"github.com/wordai/api/pkg/response"
)

type JobHandler struct {
	service *service.JobService
	log     *zerolog.Logger
}

func NewJobHandler(svc *service.JobService, logger *zerolog.Logger) *JobHandler {
	l := logging.Component(logger, "JobHandler")
	return &JobHandler{service: svc, log: l}
}

// Submit returns the handler for POST /api/:resource/:id/:operation. The path
// id is written into the payload under subjectField, overriding the body.
func (h *JobHandler) Submit(jobType, subjectField string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Params("id") == reservedSubjectID {
			return response.ValidationError(c, "\""+reservedSubjectID+"\" is a reserved subject id", nil)
		}
		fields := map[string]json.RawMessage{}
		if body := c.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &fields); err != nil {
				return response.ValidationError(c, "Invalid request body", nil)
			}
		}
		id, _ := json.Marshal(c.Params("id"))
		fields[subjectField] = id

		payload, err := json.Marshal(fields)
		if err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}

		result, err := h.service.Submit(c.UserContext(), middleware.GetUserID(c), jobType, payload)
		if err != nil {
			return respondError(c, h.log, err)
		}
		return response.Accepted(c, result)
	}
}

// Status handles GET /api/:resource/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	result, err := h.service.Status(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.OK(c, result)
}

// Cancel handles POST /api/:resource/jobs/:jobId/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.UserContext(), middleware.GetUserID(c), c.Params("jobId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return response.Accepted(c, result)
}

// Watchable admits a WebSocket subscription only for the caller's own job.
func (h *JobHandler) Watchable(c *fiber.Ctx) error {
	if _, err := h.service.Status(c.UserContext(), middleware.GetUserID(c), c.Params("jobId")); err != nil {
		return respondError(c, h.log, err)
	}
	return c.Next()
}
