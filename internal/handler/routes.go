package handler

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/wordai/api/internal/middleware"
	"github.com/wordai/api/internal/model"
	ws "github.com/wordai/api/internal/websocket"
)

type operation struct {
	path         string
	jobType      string
	subjectField string
}

type resource struct {
	name        string
	defaultKind model.ArtifactKind
	operations  []operation
}

// resources are the API's subject types and the jobs each accepts.
var resources = []resource{
	{
		name:        "chapters",
		defaultKind: model.ArtifactKindTranslation,
		operations: []operation{
			{path: "translate", jobType: model.JobTypeTranslateChapter, subjectField: "chapter_id"},
		},
	},
	{
		name:        "presentations",
		defaultKind: model.ArtifactKindSubtitles,
		operations: []operation{
			{path: "subtitles", jobType: model.JobTypeGenerateSubtitles, subjectField: "presentation_id"},
			{path: "narration", jobType: model.JobTypeGenerateNarration, subjectField: "presentation_id"},
			{path: "export-video", jobType: model.JobTypeExportVideo, subjectField: "presentation_id"},
		},
	},
}

// Router wires handlers onto a Fiber app.
type Router struct {
	// Identity is the middleware that authenticates /api requests.
	Identity fiber.Handler
	// WSIdentity authenticates WebSocket upgrades.
	WSIdentity fiber.Handler

	RateLimiter   *middleware.RateLimiter
	SubmitPerHour int
	StatusPerMin  int

	Jobs      *JobHandler
	Artifacts *ArtifactHandler
	Points    *PointsHandler
	Payments  *PaymentHandler
	Auth      *AuthHandler
	Health    *HealthHandler
	Hub       *ws.Hub

	// Metrics serves /metrics when set.
	Metrics fiber.Handler
}

// reservedSubjectID is the path segment that holds job routes under every
// resource. GET /:subjectId/:kind can never reach a subject with this id, so
// jobs are not accepted for it and no artifact ever lands there.
const reservedSubjectID = "jobs"

func (r *Router) Register(app *fiber.App) {
	app.Get("/health", r.Health.Check)
	if r.Metrics != nil {
		app.Get("/metrics", r.Metrics)
	}
	if r.Auth != nil {
		app.Get("/auth/verify", r.Auth.Verify)
	}
	if r.Payments != nil {
		app.Post("/webhooks/sepay", r.Payments.SePay)
	}

	api := app.Group("/api", r.Identity)

	submitLimit := r.RateLimiter.SubmitLimit(r.SubmitPerHour)
	statusLimit := r.RateLimiter.StatusLimit(r.StatusPerMin)

	for _, res := range resources {
		g := api.Group("/" + res.name)

		// Job routes come first so reservedSubjectID is never read as a
		// subject id.
		g.Get("/jobs/:jobId", statusLimit, r.Jobs.Status)
		g.Post("/jobs/:jobId/cancel", r.Jobs.Cancel)

		for _, op := range res.operations {
			g.Post("/:id/"+op.path, submitLimit, r.Jobs.Submit(op.jobType, op.subjectField))
		}

		g.Put("/:subjectId/preferences/:language/default", r.Artifacts.SetDefault(res.defaultKind))
		g.Get("/:subjectId/:kind/versions", r.Artifacts.Versions)
		g.Get("/:subjectId/:kind", r.Artifacts.Get)
	}

	artifacts := api.Group("/artifacts")
	artifacts.Get("/:artifactId/references", r.Artifacts.References)
	artifacts.Delete("/:artifactId", r.Artifacts.Delete)

	points := api.Group("/points")
	points.Get("/balance", r.Points.Balance)
	points.Get("/history", r.Points.History)

	if r.Hub != nil {
		r.registerWebSocket(app)
	}
}

func (r *Router) registerWebSocket(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", r.WSIdentity, r.Jobs.Watchable, websocket.New(func(c *websocket.Conn) {
		r.Hub.HandleConnection(c, c.Params("jobId"))
	}, websocket.Config{HandshakeTimeout: 10 * time.Second}))
}
