package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/vantage/internal/analytics"
	"github.com/aristath/vantage/internal/domain"
	"github.com/aristath/vantage/internal/events"
)

// Engine is one calculation step in a portfolio's batch sequence. A skipped
// result is a success; errors are failures classified by Critical().
type Engine interface {
	Name() string
	Critical() bool
	Execute(ctx context.Context, portfolioID, date string) (analytics.Result, error)
}

// PortfolioSource lists the portfolios to process.
type PortfolioSource interface {
	GetPortfolioIDs() ([]string, error)
}

// RunOptions control one batch trigger.
type RunOptions struct {
	TriggeredBy string
	// PortfolioID limits the run to one portfolio; empty means all.
	PortfolioID string
	// Date is the calculation date (YYYY-MM-DD); empty means today UTC.
	Date string
	// Force abandons the tracking of any active run.
	Force bool
}

// Orchestrator executes the batch: portfolios strictly sequential, engines in
// dependency order, critical failures short-circuiting the rest of the
// portfolio's sequence.
type Orchestrator struct {
	tracker       *Tracker
	portfolios    PortfolioSource
	engines       []Engine
	events        *events.Manager
	engineTimeout time.Duration
	log           zerolog.Logger
}

// NewOrchestrator creates an orchestrator. The engine slice must already be
// in dependency order.
func NewOrchestrator(
	tracker *Tracker,
	portfolios PortfolioSource,
	engines []Engine,
	eventManager *events.Manager,
	engineTimeout time.Duration,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		tracker:       tracker,
		portfolios:    portfolios,
		engines:       engines,
		events:        eventManager,
		engineTimeout: engineTimeout,
		log:           log.With().Str("component", "orchestrator").Logger(),
	}
}

// Run starts a batch and returns its tracking record immediately; the batch
// itself proceeds on a background goroutine. ErrRunActive is returned when a
// run is already in flight and opts.Force is unset.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (domain.BatchRun, error) {
	portfolioIDs, err := o.resolvePortfolios(opts.PortfolioID)
	if err != nil {
		return domain.BatchRun{}, err
	}

	date := opts.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.BatchRun{}, fmt.Errorf("invalid calculation date %q: %w", date, err)
	}

	jobs := make([]JobSpec, 0, len(portfolioIDs)*len(o.engines))
	for _, pid := range portfolioIDs {
		for _, engine := range o.engines {
			jobs = append(jobs, JobSpec{JobName: engine.Name(), PortfolioID: pid})
		}
	}

	run, err := o.tracker.Begin(opts.TriggeredBy, jobs, opts.Force)
	if err != nil {
		return domain.BatchRun{}, err
	}

	o.events.Emit(events.RunStarted, events.RunEventData{
		RunID:       run.RunID,
		TriggeredBy: run.TriggeredBy,
		JobsTotal:   len(jobs),
	})

	// The trigger request's context must not cancel the batch.
	go o.execute(run.RunID, portfolioIDs, date)

	return run, nil
}

func (o *Orchestrator) resolvePortfolios(portfolioID string) ([]string, error) {
	if portfolioID != "" {
		return []string{analytics.NormalizeID(portfolioID)}, nil
	}
	ids, err := o.portfolios.GetPortfolioIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	return ids, nil
}

func (o *Orchestrator) execute(runID string, portfolioIDs []string, date string) {
	log := o.log.With().Str("run_id", runID).Str("date", date).Logger()
	log.Info().Int("portfolios", len(portfolioIDs)).Msg("Batch run started")

	criticalFailures := 0
	for _, pid := range portfolioIDs {
		if !o.runPortfolio(runID, pid, date, log) {
			criticalFailures++
		}
	}

	// The run only counts as failed when nothing survived; isolated portfolio
	// failures leave the others' results standing.
	status := domain.RunStatusCompleted
	if len(portfolioIDs) > 0 && criticalFailures == len(portfolioIDs) {
		status = domain.RunStatusFailed
	}
	o.tracker.Finish(runID, status)

	failed := 0
	if snapshot, ok := o.tracker.Snapshot(); ok {
		failed = snapshot.Jobs.Failed
	}
	o.events.Emit(events.RunFinished, events.RunEventData{
		RunID:      runID,
		Status:     string(status),
		JobsFailed: failed,
	})
	log.Info().Str("status", string(status)).Int("critical_failures", criticalFailures).Msg("Batch run finished")
}

// runPortfolio executes the engine sequence for one portfolio. It reports
// false when a critical engine failed and the sequence was short-circuited.
func (o *Orchestrator) runPortfolio(runID, portfolioID, date string, log zerolog.Logger) bool {
	for i, engine := range o.engines {
		o.tracker.StartJob(runID, engine.Name(), portfolioID)
		o.events.Emit(events.JobStarted, events.JobEventData{
			RunID: runID, JobName: engine.Name(), PortfolioID: portfolioID,
		})

		ctx, cancel := context.WithTimeout(context.Background(), o.engineTimeout)
		result, err := engine.Execute(ctx, portfolioID, date)
		cancel()

		if err != nil {
			o.tracker.FailJob(runID, engine.Name(), portfolioID, err.Error())
			o.events.Emit(events.JobFailed, events.JobEventData{
				RunID: runID, JobName: engine.Name(), PortfolioID: portfolioID, Error: err.Error(),
			})

			if engine.Critical() {
				log.Error().Err(err).Str("portfolio", portfolioID).Str("engine", engine.Name()).
					Msg("Critical engine failed, short-circuiting portfolio")
				o.shortCircuit(runID, portfolioID, engine.Name(), i+1)
				return false
			}

			log.Warn().Err(err).Str("portfolio", portfolioID).Str("engine", engine.Name()).
				Msg("Non-critical engine failed, continuing")
			continue
		}

		o.tracker.CompleteJob(runID, engine.Name(), portfolioID)
		o.events.Emit(events.JobCompleted, events.JobEventData{
			RunID: runID, JobName: engine.Name(), PortfolioID: portfolioID, Skipped: result.Skipped,
		})
	}
	return true
}

// shortCircuit fails the portfolio's remaining jobs after a critical failure.
func (o *Orchestrator) shortCircuit(runID, portfolioID, failedEngine string, fromIndex int) {
	for _, engine := range o.engines[fromIndex:] {
		msg := fmt.Sprintf("short-circuited by %s failure", failedEngine)
		o.tracker.FailJob(runID, engine.Name(), portfolioID, msg)
		o.events.Emit(events.JobFailed, events.JobEventData{
			RunID: runID, JobName: engine.Name(), PortfolioID: portfolioID, Error: msg,
		})
	}
}
