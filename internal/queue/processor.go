package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reportbrief/reportbrief-backend/internal/audit"
	"github.com/reportbrief/reportbrief-backend/internal/db"
	"github.com/reportbrief/reportbrief-backend/internal/email"
	"github.com/reportbrief/reportbrief-backend/internal/metrics"
)

// DefaultBatchSize caps the rows one processor invocation will consider.
const DefaultBatchSize = 50

// Result is the aggregate outcome of one processor batch. Partial failure is
// expressed here structurally rather than as an error.
type Result struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Processor drains due pending jobs: render, deliver, record terminal status.
// Each invocation is stateless — it re-reads the durable queue and exits.
// There is no claim step on the pending select, so overlapping invocations
// give at-least-once delivery.
type Processor struct {
	q         db.Querier
	renderer  *email.Renderer
	sender    email.Sender
	audit     audit.Sink
	logger    *slog.Logger
	batchSize int32
	now       func() time.Time
}

// NewProcessor constructs a Processor. batchSize <= 0 uses DefaultBatchSize.
func NewProcessor(q db.Querier, renderer *email.Renderer, sender email.Sender, sink audit.Sink, logger *slog.Logger, batchSize int) *Processor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Processor{
		q:         q,
		renderer:  renderer,
		sender:    sender,
		audit:     sink,
		logger:    logger,
		batchSize: int32(batchSize),
		now:       time.Now,
	}
}

// Process runs one batch. Jobs are handled strictly sequentially in FIFO
// creation order, and one job's failure never aborts the rest of the batch —
// that isolation is the processor's central correctness property.
//
// Failed jobs are terminal: there is no automatic requeue. Reprocessing a
// failed row is a manual operation.
func (p *Processor) Process(ctx context.Context) (Result, error) {
	start := p.now()
	defer func() {
		metrics.QueueProcessDuration.Observe(time.Since(start).Seconds())
	}()

	jobs, err := p.q.ListPendingEmailJobs(ctx, db.ListPendingEmailJobsParams{
		Now:   p.now(),
		Limit: p.batchSize,
	})
	if err != nil {
		p.audit.Exception(ctx, err, audit.Fields{
			"component": "processor",
			"action":    "listPending",
		})
		return Result{}, fmt.Errorf("queue: list pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		p.logger.Debug("queue: no pending jobs")
		return Result{}, nil
	}

	res := Result{Processed: len(jobs)}

	for _, job := range jobs {
		log := p.logger.With("job_id", job.ID, "kind", job.EmailType, "to", job.ToEmail)

		if err := p.dispatch(ctx, job); err != nil {
			log.Warn("queue: job failed", "error", err)
			p.audit.Exception(ctx, err, audit.Fields{
				"component": "processor",
				"action":    "dispatch",
				"emailId":   job.ID,
			})

			if _, updErr := p.q.MarkEmailJobFailed(ctx, db.MarkEmailJobFailedParams{
				ID:           job.ID,
				ErrorMessage: err.Error(),
			}); updErr != nil {
				// Losing the status update is a lesser harm than crashing the batch.
				log.Error("queue: mark failed did not stick", "error", updErr)
				p.audit.Exception(ctx, updErr, audit.Fields{
					"component": "processor",
					"action":    "markFailed",
					"emailId":   job.ID,
				})
			}

			res.Failed++
			metrics.EmailsFailed.Inc()
			continue
		}

		if _, updErr := p.q.MarkEmailJobSent(ctx, db.MarkEmailJobSentParams{
			ID:     job.ID,
			SentAt: p.now(),
		}); updErr != nil {
			// The email went out; the row just didn't record it. Logged, not
			// counted as sent, and the batch continues.
			log.Error("queue: mark sent did not stick", "error", updErr)
			p.audit.Exception(ctx, updErr, audit.Fields{
				"component": "processor",
				"action":    "markSent",
				"emailId":   job.ID,
			})
			continue
		}

		log.Info("queue: job sent")
		res.Sent++
		metrics.EmailsSent.Inc()
	}

	p.logger.Info("queue: batch complete",
		"processed", res.Processed,
		"sent", res.Sent,
		"failed", res.Failed,
	)
	return res, nil
}

// dispatch renders and delivers one job. Any error marks the job failed.
func (p *Processor) dispatch(ctx context.Context, job db.EmailJob) error {
	html, err := p.renderer.Render(email.Kind(job.EmailType), job.Metadata.RawMessage)
	if err != nil {
		return err
	}

	if _, err := p.sender.Send(ctx, job.ToEmail, job.Subject, html); err != nil {
		return err
	}
	return nil
}
