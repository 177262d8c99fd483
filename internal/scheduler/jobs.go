package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/batch"
	"github.com/aristath/vantage/internal/clientcache"
)

// NightlyBatchJob triggers the full analytics batch.
type NightlyBatchJob struct {
	orchestrator *batch.Orchestrator
	log          zerolog.Logger
}

// NewNightlyBatchJob creates the nightly batch trigger job.
func NewNightlyBatchJob(orchestrator *batch.Orchestrator, log zerolog.Logger) *NightlyBatchJob {
	return &NightlyBatchJob{
		orchestrator: orchestrator,
		log:          log.With().Str("job", "nightly_batch").Logger(),
	}
}

// Name identifies the job on the scheduler.
func (j *NightlyBatchJob) Name() string { return "nightly_batch" }

// Run triggers a batch run. A manually started run already in flight is not
// an error; the scheduled trigger just yields.
func (j *NightlyBatchJob) Run() error {
	run, err := j.orchestrator.Run(context.Background(), batch.RunOptions{TriggeredBy: "scheduler"})
	if errors.Is(err, batch.ErrRunActive) {
		j.log.Info().Msg("Run already active, skipping scheduled trigger")
		return nil
	}
	if err != nil {
		return err
	}

	j.log.Info().Str("run_id", run.RunID).Msg("Nightly batch triggered")
	return nil
}

// CachePurgeJob removes expired rows from the client cache tables.
type CachePurgeJob struct {
	cache *clientcache.Repository
	log   zerolog.Logger
}

// NewCachePurgeJob creates the cache purge job.
func NewCachePurgeJob(cache *clientcache.Repository, log zerolog.Logger) *CachePurgeJob {
	return &CachePurgeJob{
		cache: cache,
		log:   log.With().Str("job", "cache_purge").Logger(),
	}
}

// Name identifies the job on the scheduler.
func (j *CachePurgeJob) Name() string { return "cache_purge" }

// Run purges expired cache rows.
func (j *CachePurgeJob) Run() error {
	purged, err := j.cache.PurgeExpired()
	if err != nil {
		return err
	}
	if purged > 0 {
		j.log.Info().Int64("rows", purged).Msg("Purged expired cache rows")
	}
	return nil
}
