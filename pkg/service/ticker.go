package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
)

// TickResult is the outcome of one due assignment.
type TickResult struct {
	AssignmentID string     `json:"assignment_id"`
	Run          *RunResult `json:"run,omitempty"`
	Skipped      bool       `json:"skipped,omitempty"` // Another scheduler produced the occurrence
	Err          error      `json:"-"`
	Error        string     `json:"error,omitempty"`
}

type TickReport struct {
	At      time.Time    `json:"at"`
	Results []TickResult `json:"results"`
}

func (r TickReport) Summary() string {
	failed, skipped := 0, 0
	for _, res := range r.Results {
		switch {
		case res.Err != nil:
			failed++
		case res.Skipped:
			skipped++
		}
	}
	generated := len(r.Results) - failed - skipped
	if skipped > 0 {
		return fmt.Sprintf("%d assignments due, %d runs generated, %d skipped, %d failed", len(r.Results), generated, skipped, failed)
	}
	return fmt.Sprintf("%d assignments due, %d runs generated, %d failed", len(r.Results), generated, failed)
}

// Ticker is the scheduler layered on top of the run generator. Each Tick
// generates runs for the active assignments whose next calendar occurrence
// has arrived.
type Ticker struct {
	store     storage.Store
	generator *RunGenerator
	logger    Logger
	workers   int
}

func NewTicker(store storage.Store, generator *RunGenerator, logger Logger, opts Options) *Ticker {
	return &Ticker{store: store, generator: generator, logger: logger, workers: opts.TickWorkers}
}

// IsDue reports whether an assignment should run at now. Assignments that
// never ran are due from start_on, recurring ones again once the next
// occurrence after their last run has arrived. one_time assignments run once.
func IsDue(a models.Assignment, now time.Time) bool {
	if a.Status != models.ActiveAssignmentStatus {
		return false
	}
	if a.LastRunAt == nil {
		return !a.StartOn.After(now)
	}
	next := NextOccurrence(a, *a.LastRunAt)
	return next != nil && !next.After(now)
}

func (t *Ticker) DueAssignments(ctx context.Context, now time.Time) ([]models.Assignment, error) {
	active, err := t.store.ListAssignmentsByStatus(ctx, models.ActiveAssignmentStatus)
	if err != nil {
		return nil, storeError("Tick", err, "failed to list active assignments")
	}
	var due []models.Assignment
	for _, a := range active {
		if IsDue(a, now) {
			due = append(due, a)
		}
	}
	return due, nil
}

func (t *Ticker) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	report := TickReport{At: now.UTC()}
	due, err := t.DueAssignments(ctx, now)
	if err != nil {
		return report, err
	}
	if len(due) == 0 {
		t.logger.Infof("Tick at %s: no assignments due", report.At.Format(time.RFC3339))
		return report, nil
	}

	var mu sync.Mutex
	runs := make(map[string]RunResult, len(due))
	skipped := make(map[string]bool)
	pool := NewWorkerPool(ctx, func(ctx context.Context, assignmentID string) error {
		res, generated, err := t.generator.GenerateDueRun(ctx, assignmentID, now)
		if err != nil {
			return err
		}
		mu.Lock()
		if generated {
			runs[assignmentID] = res
		} else {
			skipped[assignmentID] = true
		}
		mu.Unlock()
		return nil
	}, t.logger)
	pool.Start(t.workers)

	keys := make([]string, len(due))
	for i, a := range due {
		keys[i] = a.ID
	}
	for _, jr := range pool.Execute(ctx, keys) {
		res := TickResult{AssignmentID: jr.Key, Err: jr.Err}
		if jr.Err != nil {
			res.Error = jr.Err.Error()
		} else if run, ok := runs[jr.Key]; ok {
			res.Run = &run
		} else {
			res.Skipped = skipped[jr.Key]
		}
		report.Results = append(report.Results, res)
	}
	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].AssignmentID < report.Results[j].AssignmentID })
	t.logger.Infof("Tick at %s: %s", report.At.Format(time.RFC3339), report.Summary())
	return report, nil
}
