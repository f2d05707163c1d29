package recon

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockrecon/internal/observability"
	"github.com/odyssey-erp/stockrecon/jobs"
)

// RunJob processes queued reconciliation runs.
type RunJob struct {
	service *Service
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRunJob constructs a job handler.
func NewRunJob(service *Service, logger *slog.Logger, metrics *observability.Metrics) *RunJob {
	return &RunJob{service: service, logger: logger, metrics: metrics}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *RunJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ReconRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RunID == 0 {
		return asynq.SkipRetry
	}
	if err := j.service.ProcessRun(ctx, payload.RunID); err != nil {
		j.metrics.ObserveRun(observability.RunOutcomeFailed)
		if j.logger != nil {
			j.logger.Error("recon run", slog.Int64("run_id", payload.RunID), slog.Any("error", err))
		}
		return err
	}
	j.metrics.ObserveRun(observability.RunOutcomeReady)
	return nil
}

// RunEnqueuer submits run tasks back onto the queue.
type RunEnqueuer interface {
	EnqueueReconRun(ctx context.Context, runID int64) (*asynq.TaskInfo, error)
}

// SweepJob requeues pending runs that never reached a worker and fails
// runs stuck in progress.
type SweepJob struct {
	service  *Service
	enqueuer RunEnqueuer
	logger   *slog.Logger
}

// NewSweepJob constructs the sweep handler.
func NewSweepJob(service *Service, enqueuer RunEnqueuer, logger *slog.Logger) *SweepJob {
	return &SweepJob{service: service, enqueuer: enqueuer, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *SweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ReconSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	olderThan := time.Duration(payload.OlderThanMinutes) * time.Minute
	if olderThan <= 0 {
		olderThan = 30 * time.Minute
	}
	requeue, err := j.service.SweepStale(ctx, olderThan)
	if err != nil {
		return err
	}
	for _, run := range requeue {
		if j.enqueuer == nil {
			break
		}
		if _, err := j.enqueuer.EnqueueReconRun(ctx, run.ID); err != nil && j.logger != nil {
			j.logger.Warn("requeue stale run", slog.Int64("run_id", run.ID), slog.Any("error", err))
		}
	}
	if j.logger != nil && len(requeue) > 0 {
		j.logger.Info("stale runs requeued", slog.Int("count", len(requeue)))
	}
	return nil
}
