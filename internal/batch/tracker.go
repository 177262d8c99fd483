// Package batch orchestrates the nightly analytics run: single-flight run
// tracking, per-portfolio engine sequencing, and failure classification.
package batch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/vantage/internal/domain"
)

// ErrRunActive is returned by Begin when a run is already in flight and the
// caller did not force an override.
var ErrRunActive = errors.New("a batch run is already active")

const activityLogSize = 50

// JobSpec names one unit of work in a run.
type JobSpec struct {
	JobName     string
	PortfolioID string
}

// JobCounts summarizes job states for the status endpoint.
type JobCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Status is a point-in-time view of the tracked run.
type Status struct {
	RunID            string    `json:"run_id"`
	Status           string    `json:"status"`
	TriggeredBy      string    `json:"triggered_by"`
	StartedAt        time.Time `json:"started_at"`
	ElapsedSeconds   float64   `json:"elapsed_seconds"`
	Jobs             JobCounts `json:"jobs"`
	CurrentJob       string    `json:"current_job,omitempty"`
	CurrentPortfolio string    `json:"current_portfolio,omitempty"`
	PercentComplete  float64   `json:"percent_complete"`
	Activity         []string  `json:"activity,omitempty"`
}

// Tracker holds the state of the current batch run. It is advisory and
// in-memory: state is lost on restart, and a forced override abandons the
// prior run's tracking while its goroutine keeps executing unobserved.
// All mutations are keyed by run ID so an abandoned run's updates are no-ops.
type Tracker struct {
	mu       sync.Mutex
	current  *domain.BatchRun
	activity []string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin starts tracking a new run. If a run is already active it returns
// ErrRunActive unless force is set, in which case the active run's tracking
// is replaced.
func (t *Tracker) Begin(triggeredBy string, jobs []JobSpec, force bool) (domain.BatchRun, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil && t.current.Status == domain.RunStatusRunning && !force {
		return domain.BatchRun{}, fmt.Errorf("%w: run %s", ErrRunActive, t.current.RunID)
	}

	run := domain.BatchRun{
		RunID:       uuid.New().String(),
		StartedAt:   time.Now(),
		TriggeredBy: triggeredBy,
		Status:      domain.RunStatusRunning,
		Jobs:        make([]domain.JobRecord, 0, len(jobs)),
	}
	for _, spec := range jobs {
		run.Jobs = append(run.Jobs, domain.JobRecord{
			JobName:     spec.JobName,
			PortfolioID: spec.PortfolioID,
			Status:      domain.JobStatusPending,
		})
	}

	t.current = &run
	t.activity = nil
	t.logActivityLocked(fmt.Sprintf("run %s started by %s (%d jobs)", run.RunID, triggeredBy, len(jobs)))

	return t.copyCurrentLocked(), nil
}

// ActiveRunID returns the ID of the running batch, if any.
func (t *Tracker) ActiveRunID() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.Status != domain.RunStatusRunning {
		return "", false
	}
	return t.current.RunID, true
}

// StartJob transitions a pending job to running.
func (t *Tracker) StartJob(runID, jobName, portfolioID string) {
	t.withJob(runID, jobName, portfolioID, func(job *domain.JobRecord) {
		now := time.Now()
		job.Status = domain.JobStatusRunning
		job.StartedAt = &now
		t.logActivityLocked(fmt.Sprintf("%s/%s started", portfolioID, jobName))
	})
}

// CompleteJob transitions a running job to completed.
func (t *Tracker) CompleteJob(runID, jobName, portfolioID string) {
	t.withJob(runID, jobName, portfolioID, func(job *domain.JobRecord) {
		now := time.Now()
		job.Status = domain.JobStatusCompleted
		job.CompletedAt = &now
		t.logActivityLocked(fmt.Sprintf("%s/%s completed", portfolioID, jobName))
	})
}

// FailJob transitions a job to failed with an error message.
func (t *Tracker) FailJob(runID, jobName, portfolioID, errMsg string) {
	t.withJob(runID, jobName, portfolioID, func(job *domain.JobRecord) {
		now := time.Now()
		job.Status = domain.JobStatusFailed
		job.CompletedAt = &now
		job.Error = errMsg
		t.logActivityLocked(fmt.Sprintf("%s/%s failed: %s", portfolioID, jobName, errMsg))
	})
}

// Finish closes the run with a terminal status. Updates from abandoned runs
// are ignored.
func (t *Tracker) Finish(runID string, status domain.RunStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.RunID != runID {
		return
	}
	t.current.Status = status
	t.logActivityLocked(fmt.Sprintf("run %s finished: %s", runID, status))
}

// Snapshot returns the current run's status view. The bool is false when no
// run has ever been tracked.
func (t *Tracker) Snapshot() (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return Status{}, false
	}

	run := t.current
	status := Status{
		RunID:          run.RunID,
		Status:         string(run.Status),
		TriggeredBy:    run.TriggeredBy,
		StartedAt:      run.StartedAt,
		ElapsedSeconds: time.Since(run.StartedAt).Seconds(),
		Activity:       append([]string(nil), t.activity...),
	}

	for i := range run.Jobs {
		job := &run.Jobs[i]
		status.Jobs.Total++
		switch job.Status {
		case domain.JobStatusCompleted:
			status.Jobs.Completed++
		case domain.JobStatusFailed:
			status.Jobs.Failed++
		case domain.JobStatusRunning:
			status.CurrentJob = job.JobName
			status.CurrentPortfolio = job.PortfolioID
		default:
			status.Jobs.Pending++
		}
	}
	if status.Jobs.Total > 0 {
		done := status.Jobs.Completed + status.Jobs.Failed
		status.PercentComplete = 100 * float64(done) / float64(status.Jobs.Total)
	}

	return status, true
}

// Run returns a copy of the tracked run. The bool is false when no run has
// ever been tracked.
func (t *Tracker) Run() (domain.BatchRun, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return domain.BatchRun{}, false
	}
	return t.copyCurrentLocked(), true
}

func (t *Tracker) withJob(runID, jobName, portfolioID string, fn func(*domain.JobRecord)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.RunID != runID {
		return
	}
	for i := range t.current.Jobs {
		job := &t.current.Jobs[i]
		if job.JobName == jobName && job.PortfolioID == portfolioID {
			fn(job)
			return
		}
	}
}

func (t *Tracker) copyCurrentLocked() domain.BatchRun {
	run := *t.current
	run.Jobs = append([]domain.JobRecord(nil), t.current.Jobs...)
	return run
}

func (t *Tracker) logActivityLocked(msg string) {
	entry := fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), msg)
	t.activity = append(t.activity, entry)
	if len(t.activity) > activityLogSize {
		t.activity = t.activity[len(t.activity)-activityLogSize:]
	}
}
