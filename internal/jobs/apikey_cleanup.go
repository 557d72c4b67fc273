// Package jobs holds the background maintenance loops started by the router
// and stopped during graceful shutdown.
//
// apikey_cleanup.go implements the APIKeyCleanupJob, which periodically
// deletes API keys whose expiry passed long enough ago that they can no
// longer matter for auditing. Revoked keys are kept forever; only expired
// rows age out.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/DecisionRecordsORG/decision-records/internal/telemetry"
)

// keyCleaner is the slice of the API key service the job needs.
type keyCleaner interface {
	CleanupExpired(ctx context.Context, olderThanDays int) (int64, error)
}

// Retention and cadence defaults, used when the caller passes non-positive
// values.
const (
	DefaultCleanupIntervalHours = 24
	DefaultCleanupRetentionDays = 30
)

// APIKeyCleanupJob periodically deletes long-expired API keys.
type APIKeyCleanupJob struct {
	keys          keyCleaner
	interval      time.Duration
	retentionDays int
	stopChan      chan struct{}
}

// NewAPIKeyCleanupJob creates the cleanup job. intervalHours controls how
// often the sweep runs; retentionDays is how long past expiry a key survives.
func NewAPIKeyCleanupJob(keys keyCleaner, intervalHours, retentionDays int) *APIKeyCleanupJob {
	if intervalHours <= 0 {
		intervalHours = DefaultCleanupIntervalHours
	}
	if retentionDays <= 0 {
		retentionDays = DefaultCleanupRetentionDays
	}
	return &APIKeyCleanupJob{
		keys:          keys,
		interval:      time.Duration(intervalHours) * time.Hour,
		retentionDays: retentionDays,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs one sweep immediately, then
// repeats on the configured interval until ctx is cancelled or Stop is called.
func (j *APIKeyCleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("api key cleanup job started",
		"interval", j.interval, "retention_days", j.retentionDays)

	j.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-j.stopChan:
			slog.Info("api key cleanup job stopped")
			return
		case <-ctx.Done():
			slog.Info("api key cleanup job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *APIKeyCleanupJob) Stop() {
	close(j.stopChan)
}

func (j *APIKeyCleanupJob) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	deleted, err := j.keys.CleanupExpired(sweepCtx, j.retentionDays)
	if err != nil {
		slog.Error("api key cleanup sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		telemetry.APIKeysCleanedTotal.Add(float64(deleted))
		slog.Info("api key cleanup sweep", "deleted", deleted)
	}
}
