package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"masterchain.app/orchestrator/internal/engine"
	"masterchain.app/orchestrator/internal/http/dto"
	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/planner"
	"masterchain.app/orchestrator/internal/progress"
	"masterchain.app/orchestrator/internal/store"
)

// JobService is the engine surface the HTTP layer consumes.
type JobService interface {
	SubmitJob(ctx context.Context, req engine.SubmitRequest) (*model.Job, error)
	Status(jobID int64) (*model.Job, error)
	Cancel(ctx context.Context, jobID int64, ownerID string) error
	Subscribe(jobID int64) (<-chan progress.Update, func(), error)
	ListHistory(ctx context.Context, ownerID string, filter store.HistoryFilter) ([]model.JobSummary, error)
}

type JobHandler struct {
	engine JobService
}

func NewJobHandler(eng JobService) *JobHandler {
	return &JobHandler{engine: eng}
}

func (h *JobHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	ownerID := ownerFrom(c)
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "owner id is required"})
		return
	}

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.engine.SubmitJob(ctx, engine.SubmitRequest{
		OwnerID:   ownerID,
		Operation: model.Operation(req.Operation),
		Tier:      req.Tier,
		InputRef:  req.InputRef,
		Traits:    req.Traits.ToModel(),
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, engine.ErrQuotaExceeded):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, planner.ErrBudgetExceeded):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		case errors.Is(err, planner.ErrNoCapableModel):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, planner.ErrUnsupportedOperation):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			slog.ErrorContext(ctx, "job submission failed", "error", err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "planning failed"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.ToJobResponse(job))
}

func (h *JobHandler) Get(c *gin.Context) {
	jobID, ok := jobIDFrom(c)
	if !ok {
		return
	}

	job, err := h.engine.Status(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if owner := ownerFrom(c); owner != "" && owner != job.OwnerID {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, dto.ToJobResponse(job))
}

func (h *JobHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()

	jobID, ok := jobIDFrom(c)
	if !ok {
		return
	}

	err := h.engine.Cancel(ctx, jobID, ownerFrom(c))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, store.ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
	case err != nil:
		slog.ErrorContext(ctx, "cancel failed", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	}
}

func (h *JobHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	ownerID := ownerFrom(c)
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "owner id is required"})
		return
	}

	filter := store.HistoryFilter{
		Status:    model.JobStatus(c.Query("status")),
		Operation: model.Operation(c.Query("operation")),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = &t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}

	summaries, err := h.engine.ListHistory(ctx, ownerID, filter)
	if err != nil {
		slog.ErrorContext(ctx, "listing history failed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	items := make([]dto.HistoryItemResponse, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, dto.ToHistoryItemResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": items})
}

// ownerFrom resolves the caller identity. Auth is handled upstream; the
// gateway injects the owner header.
func ownerFrom(c *gin.Context) string {
	if owner := c.GetHeader("X-Owner-ID"); owner != "" {
		return owner
	}
	return c.Query("owner_id")
}

func jobIDFrom(c *gin.Context) (int64, bool) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return jobID, true
}
