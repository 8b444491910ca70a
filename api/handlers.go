package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/ingestion"
	"github.com/poiesic/webrag/query"
	"github.com/poiesic/webrag/storage"
)

// IngestRequest is the body of POST /api/v1/ingest-url.
type IngestRequest struct {
	URL string `json:"url" validate:"required,http_url"`
}

// ChunksResponse lists a job's chunks.
type ChunksResponse struct {
	JobID  string        `json:"job_id"`
	Count  int           `json:"count"`
	Chunks []*core.Chunk `json:"chunks"`
}

// QueueResponse reports the queue depth.
type QueueResponse struct {
	Length int `json:"length"`
}

type handlers struct {
	submitter    *ingestion.Submitter
	orchestrator *query.Orchestrator
	jobs         storage.JobRepository
	chunks       storage.ChunkRepository
	sessions     storage.SessionRepository
	queue        storage.Queue
}

func (h *handlers) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "Welcome to Web RAG Engine API!"})
}

func (h *handlers) handleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

func (h *handlers) handleIngest(c *fiber.Ctx) error {
	var req IngestRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	if errs := validateStruct(&req); len(errs) > 0 {
		return NewValidationError(errs)
	}

	sub, err := h.submitter.Submit(c.UserContext(), req.URL)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(sub)
}

func (h *handlers) handleQuery(c *fiber.Ctx) error {
	var req query.Request
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	if errs := validateStruct(&req); len(errs) > 0 {
		return NewValidationError(errs)
	}

	result, err := h.orchestrator.Answer(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *handlers) handleGetJob(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := h.jobs.GetJob(c.UserContext(), id)
	if err != nil {
		return notFound(err, "job", id)
	}
	return c.JSON(job)
}

func (h *handlers) handleGetJobChunks(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := h.jobs.GetJob(ctx, id); err != nil {
		return notFound(err, "job", id)
	}

	chunks, err := h.chunks.GetChunksByJob(ctx, id)
	if err != nil {
		return err
	}
	if chunks == nil {
		chunks = []*core.Chunk{}
	}
	return c.JSON(ChunksResponse{JobID: id, Count: len(chunks), Chunks: chunks})
}

func (h *handlers) handleGetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	session, err := h.sessions.GetSession(c.UserContext(), id)
	if err != nil {
		return notFound(err, "session", id)
	}
	return c.JSON(session)
}

func (h *handlers) handleClearSession(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := h.sessions.GetSession(ctx, id); err != nil {
		return notFound(err, "session", id)
	}
	if err := h.sessions.ClearSession(ctx, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) handleDeleteSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.sessions.DeleteSession(c.UserContext(), id); err != nil {
		return notFound(err, "session", id)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) handleQueue(c *fiber.Ctx) error {
	n, err := h.queue.Len(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(QueueResponse{Length: n})
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound(resource, id)
	}
	return err
}

// requestContext gives handlers a context that ends with the server.
func requestContext(base context.Context) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.SetUserContext(base)
		return c.Next()
	}
}
