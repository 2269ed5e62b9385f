// Package progress fans job state changes out to in-process subscribers and
// mirrors them to a Redis stream per job so SSE consumers can tail them.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"masterchain.app/orchestrator/internal/model"
)

// Update is one observable change in a job's execution.
type Update struct {
	JobID               int64            `json:"job_id,string"`
	Status              model.JobStatus  `json:"status"`
	Progress            float64          `json:"progress"`
	CurrentStep         string           `json:"current_step,omitempty"`
	EstimatedCompletion *time.Time       `json:"estimated_completion,omitempty"`
	ErrorCode           model.ErrorCode  `json:"error_code,omitempty"`
	ResultRef           string           `json:"result_ref,omitempty"`
	Terminal            bool             `json:"terminal"`
	At                  time.Time        `json:"at"`
}

// StreamKey is the Redis stream a job's updates are mirrored to.
func StreamKey(jobID int64) string {
	return fmt.Sprintf("job-progress:%d", jobID)
}

type Publisher struct {
	mu   sync.Mutex
	subs map[int64][]chan Update
	last map[int64]Update

	buffer int

	redis     *redis.Client
	streamMax int64
	logger    *slog.Logger
}

// New builds a publisher. redisClient may be nil; mirroring is then skipped
// and only in-process subscribers are served.
func New(redisClient *redis.Client, streamMaxLen int64, bufferSize int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 16
	}
	if streamMaxLen <= 0 {
		streamMaxLen = 2000
	}
	return &Publisher{
		subs:      make(map[int64][]chan Update),
		last:      make(map[int64]Update),
		buffer:    bufferSize,
		redis:     redisClient,
		streamMax: streamMaxLen,
		logger:    logger,
	}
}

// Publish records the job's current state and delivers it to subscribers.
// Slow subscribers lose their oldest buffered update rather than blocking
// the engine. On a terminal update all subscriber channels are closed.
func (p *Publisher) Publish(ctx context.Context, job *model.Job) {
	update := fromJob(job)

	p.mu.Lock()
	p.last[job.ID] = update
	channels := p.subs[job.ID]
	if update.Terminal {
		delete(p.subs, job.ID)
	}
	for _, ch := range channels {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
	if update.Terminal {
		for _, ch := range channels {
			close(ch)
		}
	}
	p.mu.Unlock()

	p.mirror(ctx, update)
}

// Snapshot returns the most recent update for a job, if any was published.
func (p *Publisher) Snapshot(jobID int64) (Update, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update, ok := p.last[jobID]
	return update, ok
}

// Subscribe returns a channel of updates for the job and a cancel function.
// If the job already reached a terminal state the channel is returned closed
// after delivering the final update.
func (p *Publisher) Subscribe(jobID int64) (<-chan Update, func()) {
	ch := make(chan Update, p.buffer)

	p.mu.Lock()
	last, seen := p.last[jobID]
	if seen {
		ch <- last
	}
	if seen && last.Terminal {
		close(ch)
		p.mu.Unlock()
		return ch, func() {}
	}
	p.subs[jobID] = append(p.subs[jobID], ch)
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		channels := p.subs[jobID]
		for i, existing := range channels {
			if existing == ch {
				p.subs[jobID] = append(channels[:i], channels[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Forget drops cached state for a job. Called after the job has been
// archived; the Redis stream expires on its own via MAXLEN trimming.
func (p *Publisher) Forget(jobID int64) {
	p.mu.Lock()
	delete(p.last, jobID)
	p.mu.Unlock()
}

func (p *Publisher) mirror(ctx context.Context, update Update) {
	if p.redis == nil {
		return
	}

	fields := map[string]any{
		"status":   string(update.Status),
		"progress": update.Progress,
		"terminal": update.Terminal,
		"at":       update.At.Format(time.RFC3339Nano),
	}
	if update.CurrentStep != "" {
		fields["current_step"] = update.CurrentStep
	}
	if update.EstimatedCompletion != nil {
		fields["estimated_completion"] = update.EstimatedCompletion.Format(time.RFC3339Nano)
	}
	if update.ErrorCode != "" {
		fields["error_code"] = string(update.ErrorCode)
	}
	if update.ResultRef != "" {
		fields["result_ref"] = update.ResultRef
	}

	if err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(update.JobID),
		MaxLen: p.streamMax,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		p.logger.WarnContext(ctx, "mirroring progress update failed", "job_id", update.JobID, "error", err)
	}
}

func fromJob(job *model.Job) Update {
	return Update{
		JobID:               job.ID,
		Status:              job.Status,
		Progress:            job.Progress,
		CurrentStep:         job.CurrentStep,
		EstimatedCompletion: job.EstimatedCompletion,
		ErrorCode:           job.ErrorCode,
		ResultRef:           job.ResultRef,
		Terminal:            job.Status.Terminal(),
		At:                  time.Now().UTC(),
	}
}
