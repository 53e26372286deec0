package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"media-toolkit/internal/core/domain"
	"media-toolkit/internal/core/ports"
	apperrors "media-toolkit/pkg/errors"
	"media-toolkit/pkg/validator"
)

// MediaHandler serves the tools, sessions and jobs API.
type MediaHandler struct {
	transforms ports.TransformService
	sessions   ports.SessionService
	jobs       ports.JobService
	validator  *validator.Validator
}

// NewMediaHandler creates the handler. jobs may be nil when the queue is
// disabled; the job routes then answer 503.
func NewMediaHandler(transforms ports.TransformService, sessions ports.SessionService, jobs ports.JobService, v *validator.Validator) *MediaHandler {
	if v == nil {
		v = validator.Get()
	}
	return &MediaHandler{
		transforms: transforms,
		sessions:   sessions,
		jobs:       jobs,
		validator:  v,
	}
}

// ListOperations returns every registered operation with its defaults.
func (h *MediaHandler) ListOperations(c *fiber.Ctx) error {
	ops := h.transforms.Operations()
	if category := c.Query("category"); category != "" {
		filtered := ops[:0:0]
		for _, op := range ops {
			if string(op.Category) == category {
				filtered = append(filtered, op)
			}
		}
		ops = filtered
	}
	return c.JSON(SuccessResponse{Success: true, Data: ops})
}

func (h *MediaHandler) GetOperation(c *fiber.Ctx) error {
	op, err := h.transforms.Operation(domain.OperationKind(c.Params("operation")))
	if err != nil {
		return err
	}
	return c.JSON(SuccessResponse{Success: true, Data: op})
}

// RunTool transforms the uploaded files synchronously and streams the
// result back: one artifact as-is, several as a zip.
func (h *MediaHandler) RunTool(c *fiber.Ctx) error {
	op, err := h.transforms.Operation(domain.OperationKind(c.Params("operation")))
	if err != nil {
		return err
	}
	files, err := h.readUploads(c)
	if err != nil {
		return err
	}
	params, err := formParams(c, op)
	if err != nil {
		return err
	}

	result, err := h.transforms.Transform(c.UserContext(), &domain.TransformRequest{
		Operation: op.Kind,
		Files:     files,
		Params:    params,
	}, nil)
	if err != nil {
		return err
	}

	c.Set("X-Transform-Cached", strconv.FormatBool(result.Cached))
	c.Set("X-Transform-Duration", result.Duration.String())
	return sendArtifacts(c, string(op.Kind), result.Artifacts)
}

// CreateSessionRequest opens a session for one operation.
type CreateSessionRequest struct {
	Operation domain.OperationKind `json:"operation" validate:"required"`
}

func (h *MediaHandler) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Wrap(err, apperrors.ValidationError, "INVALID_BODY", "Invalid request body")
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		return apperrors.Wrap(err, apperrors.ValidationError, "INVALID_BODY", "Invalid request body")
	}

	snap, err := h.sessions.Create(c.UserContext(), req.Operation)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(SuccessResponse{Success: true, Data: snap})
}

func (h *MediaHandler) GetSession(c *fiber.Ctx) error {
	snap, err := h.sessions.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(SuccessResponse{Success: true, Data: snap})
}

// SelectFiles replaces the session's files. Form params sent alongside are
// applied right after.
func (h *MediaHandler) SelectFiles(c *fiber.Ctx) error {
	id := c.Params("id")
	snap, err := h.sessions.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	op, err := h.transforms.Operation(snap.Operation)
	if err != nil {
		return err
	}
	files, err := h.readUploads(c)
	if err != nil {
		return err
	}
	params, err := formParams(c, op)
	if err != nil {
		return err
	}

	snap, err = h.sessions.SelectFiles(c.UserContext(), id, files)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		if snap, err = h.sessions.Configure(c.UserContext(), id, params); err != nil {
			return err
		}
	}
	return c.JSON(SuccessResponse{Success: true, Data: snap})
}

func (h *MediaHandler) ConfigureSession(c *fiber.Ctx) error {
	id := c.Params("id")
	snap, err := h.sessions.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	op, err := h.transforms.Operation(snap.Operation)
	if err != nil {
		return err
	}

	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return apperrors.Wrap(err, apperrors.ValidationError, "INVALID_BODY", "Invalid request body")
	}

	snap, err = h.sessions.Configure(c.UserContext(), id, knownParams(params, op))
	if err != nil {
		return err
	}
	return c.JSON(SuccessResponse{Success: true, Data: snap})
}

// RunSession runs the session's transform. With ?async=true it returns as
// soon as processing starts and the client polls GetSession.
func (h *MediaHandler) RunSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if c.QueryBool("async") {
		snap, err := h.sessions.Start(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(SuccessResponse{Success: true, Data: snap})
	}

	snap, err := h.sessions.Run(c.UserContext(), id)
	if err != nil {
		if snap != nil && snap.State == domain.SessionFailed {
			status := apperrors.GetHTTPStatus(err)
			return c.Status(status).JSON(SuccessResponse{Success: false, Data: snap, Message: snap.Error})
		}
		return err
	}
	return c.JSON(SuccessResponse{Success: true, Data: snap})
}

func (h *MediaHandler) ResetSession(c *fiber.Ctx) error {
	snap, err := h.sessions.Reset(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(SuccessResponse{Success: true, Data: snap})
}

// SessionResult downloads a completed session's artifacts. Without an index
// every artifact is sent, zipped when there is more than one.
func (h *MediaHandler) SessionResult(c *fiber.Ctx) error {
	id := c.Params("id")
	if raw := c.Params("index"); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			return apperrors.NewValidationError("Result index must be a number")
		}
		artifact, err := h.sessions.Artifact(c.UserContext(), id, index)
		if err != nil {
			return err
		}
		return sendArtifacts(c, "", []domain.Artifact{*artifact})
	}

	snap, err := h.sessions.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	if snap.Result == nil {
		return apperrors.New(apperrors.NotFoundError, "RESULT_NOT_FOUND", "Session has no result")
	}
	artifacts := make([]domain.Artifact, 0, len(snap.Result.Artifacts))
	for i := range snap.Result.Artifacts {
		artifact, err := h.sessions.Artifact(c.UserContext(), id, i)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, *artifact)
	}
	return sendArtifacts(c, string(snap.Operation), artifacts)
}

func (h *MediaHandler) CloseSession(c *fiber.Ctx) error {
	if err := h.sessions.Close(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SubmitJob stores the uploads and queues the transform for a worker.
func (h *MediaHandler) SubmitJob(c *fiber.Ctx) error {
	if h.jobs == nil {
		return jobsDisabled()
	}
	op, err := h.transforms.Operation(domain.OperationKind(c.Params("operation")))
	if err != nil {
		return err
	}
	files, err := h.readUploads(c)
	if err != nil {
		return err
	}
	params, err := formParams(c, op)
	if err != nil {
		return err
	}

	job, err := h.jobs.Submit(c.UserContext(), op.Kind, files, params)
	if err != nil {
		return err
	}
	c.Location("/api/v1/jobs/" + job.ID)
	return c.Status(fiber.StatusAccepted).JSON(SuccessResponse{Success: true, Data: job})
}

func (h *MediaHandler) GetJob(c *fiber.Ctx) error {
	if h.jobs == nil {
		return jobsDisabled()
	}
	job, err := h.jobs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(SuccessResponse{Success: true, Data: job})
}

// JobResult streams one output of a completed job, selected by ?index=.
func (h *MediaHandler) JobResult(c *fiber.Ctx) error {
	if h.jobs == nil {
		return jobsDisabled()
	}
	file, reader, err := h.jobs.Output(c.UserContext(), c.Params("id"), c.QueryInt("index", 0))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, file.MimeType)
	c.Attachment(file.Name)
	if file.Size > 0 {
		return c.SendStream(reader, int(file.Size))
	}
	return c.SendStream(reader)
}

func (h *MediaHandler) QueueStats(c *fiber.Ctx) error {
	if h.jobs == nil {
		return jobsDisabled()
	}
	stats, err := h.jobs.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(SuccessResponse{Success: true, Data: stats})
}

func jobsDisabled() error {
	err := apperrors.New(apperrors.ConfigurationError, "JOBS_DISABLED", "Asynchronous jobs are not enabled")
	err.HTTPStatus = fiber.StatusServiceUnavailable
	return err
}

// RouteOptions adds per-group middleware, e.g. scope checks.
type RouteOptions struct {
	Tools []fiber.Handler
	Jobs  []fiber.Handler
}

// SetupRoutes configures the HTTP routes
func (h *MediaHandler) SetupRoutes(app *fiber.App, opts RouteOptions) {
	api := app.Group("/api/v1")

	api.Get("/operations", h.ListOperations)
	api.Get("/operations/:operation", h.GetOperation)

	tools := api.Group("/tools", opts.Tools...)
	tools.Post("/:operation", h.RunTool)

	sessions := api.Group("/sessions", opts.Tools...)
	sessions.Post("/", h.CreateSession)
	sessions.Get("/:id", h.GetSession)
	sessions.Put("/:id/files", h.SelectFiles)
	sessions.Patch("/:id/params", h.ConfigureSession)
	sessions.Post("/:id/run", h.RunSession)
	sessions.Post("/:id/reset", h.ResetSession)
	sessions.Get("/:id/result", h.SessionResult)
	sessions.Get("/:id/result/:index", h.SessionResult)
	sessions.Delete("/:id", h.CloseSession)

	jobs := api.Group("/jobs", opts.Jobs...)
	jobs.Post("/:operation", h.SubmitJob)
	jobs.Get("/:id", h.GetJob)
	jobs.Get("/:id/result", h.JobResult)

	api.Get("/stats/queue", append(append([]fiber.Handler{}, opts.Jobs...), h.QueueStats)...)
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}
