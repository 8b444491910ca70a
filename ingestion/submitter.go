package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// SubmittedMessage accompanies every accepted submission.
const SubmittedMessage = "URL accepted and queued for processing"

// Submission is the acknowledgement returned for an accepted URL.
type Submission struct {
	JobID       string         `json:"job_id"`
	Status      core.JobStatus `json:"status"`
	Message     string         `json:"message"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Submitter creates jobs and hands them to the worker through the queue.
type Submitter struct {
	jobs   storage.JobRepository
	queue  storage.Queue
	logger *slog.Logger
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter) error

// WithSubmitterLogger sets a custom logger.
// Default is slog.Default().
func WithSubmitterLogger(logger *slog.Logger) SubmitterOption {
	return func(s *Submitter) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSubmitter creates a submitter over a job store and queue.
func NewSubmitter(jobs storage.JobRepository, queue storage.Queue, opts ...SubmitterOption) (*Submitter, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if queue == nil {
		return nil, ErrQueueRequired
	}

	s := &Submitter{
		jobs:   jobs,
		queue:  queue,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "submitter")
	return s, nil
}

// Submit validates url, stores a pending job and enqueues it.
// The job is persisted before it is enqueued so a worker never sees an
// unknown job id. Validation failures wrap core.ErrInvalidURL; store or queue
// failures are wrapped and returned. A failed enqueue leaves the stored job
// pending, since only the worker moves a job's status; the error names the
// job id.
func (s *Submitter) Submit(ctx context.Context, url string) (*Submission, error) {
	if err := core.ValidateURL(url); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &core.Job{
		ID:          core.NewID(),
		URL:         url,
		Status:      core.JobStatusPending,
		SubmittedAt: now,
	}

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		s.logger.Error("failed to store job", "url", url, "err", err)
		return nil, fmt.Errorf("store job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to enqueue job", "jobId", job.ID, "err", err)
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	s.logger.Info("job submitted", "jobId", job.ID, "url", url)
	return &Submission{
		JobID:       job.ID,
		Status:      core.JobStatusPending,
		Message:     SubmittedMessage,
		SubmittedAt: job.SubmittedAt,
	}, nil
}
