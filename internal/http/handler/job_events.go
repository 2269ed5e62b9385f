package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"masterchain.app/orchestrator/internal/progress"
)

// JobEventsHandler streams job progress as server-sent events. With Redis
// configured it tails the job's progress stream, which also covers updates
// produced by other instances; otherwise it subscribes in process.
type JobEventsHandler struct {
	engine JobService
	redis  *redis.Client
}

func NewJobEventsHandler(eng JobService, redisClient *redis.Client) *JobEventsHandler {
	return &JobEventsHandler{engine: eng, redis: redisClient}
}

func (h *JobEventsHandler) Stream(c *gin.Context) {
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

	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	if h.redis != nil {
		h.streamFromRedis(c, jobID, flusher)
		return
	}
	h.streamFromPublisher(c, jobID, flusher)
}

func (h *JobEventsHandler) streamFromRedis(c *gin.Context, jobID int64, flusher http.Flusher) {
	ctx := c.Request.Context()

	stream := progress.StreamKey(jobID)
	lastID := c.Query("last_id")
	if lastID == "" {
		lastID = "0" // full replay so late subscribers see the whole run
	}

	clientClosed := ctx.Done()

	for {
		select {
		case <-clientClosed:
			return
		default:
		}

		res, err := h.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   25 * time.Second,
			Count:   100,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
				flusher.Flush()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			sseWrite(c.Writer, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			continue
		}

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				lastID = msg.ID
				sseWrite(c.Writer, "progress", msg.Values)
				flusher.Flush()
				if terminal, ok := msg.Values["terminal"].(string); ok && (terminal == "1" || terminal == "true") {
					return
				}
			}
		}
	}
}

func (h *JobEventsHandler) streamFromPublisher(c *gin.Context, jobID int64, flusher http.Flusher) {
	updates, cancel, err := h.engine.Subscribe(jobID)
	if err != nil {
		sseWrite(c.Writer, "error", map[string]string{"error": "job not found"})
		flusher.Flush()
		return
	}
	defer cancel()

	clientClosed := c.Request.Context().Done()
	ping := time.NewTicker(25 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-clientClosed:
			return
		case <-ping.C:
			sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()
		case update, open := <-updates:
			if !open {
				return
			}
			sseWrite(c.Writer, "progress", update)
			flusher.Flush()
			if update.Terminal {
				return
			}
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
