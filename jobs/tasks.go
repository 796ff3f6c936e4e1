package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-bank/meridian-bank/internal/auth"
	"github.com/meridian-bank/meridian-bank/internal/observability"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep prunes expired session rows. Deletion stays the
	// authoritative invalidation mechanism; the sweep only keeps the table
	// bounded.
	TaskSessionSweep = "session:sweep"
)

// SessionSweepPayload configures one sweep run.
type SessionSweepPayload struct {
	DryRun bool `json:"dry_run"`
}

// NewSessionSweepTask constructs an Asynq task.
func NewSessionSweepTask(payload SessionSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}

// SessionSweepJob removes sessions past their absolute lifetime.
type SessionSweepJob struct {
	Service *auth.Service
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewSessionSweepJob initialises the sweep handler.
func NewSessionSweepJob(service *auth.Service, logger *slog.Logger, metrics *observability.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.DryRun {
		j.Logger.Info("session sweep dry run, skipping")
		return nil
	}
	removed, err := j.Service.SweepExpired(ctx)
	if err != nil {
		j.Logger.Error("session sweep", slog.Any("error", err))
		return err
	}
	j.Metrics.RecordSessionSweep()
	j.Logger.Info("session sweep complete", slog.Int64("removed", removed))
	return nil
}
