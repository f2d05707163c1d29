package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconRun is the task type for processing a reconciliation run.
	TaskReconRun = "recon:run"
	// TaskReconSweep is the task type for the stale-run sweep.
	TaskReconSweep = "recon:sweep"
)

// ReconRunPayload identifies the run to process.
type ReconRunPayload struct {
	RunID int64 `json:"run_id"`
}

// NewReconRunTask constructs an Asynq task for one run.
func NewReconRunTask(payload ReconRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconRun, data), nil
}

// ReconSweepPayload configures the stale-run sweep.
type ReconSweepPayload struct {
	OlderThanMinutes int64 `json:"older_than_minutes"`
}

// NewReconSweepTask constructs an Asynq task for the sweep.
func NewReconSweepTask(payload ReconSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconSweep, data), nil
}
