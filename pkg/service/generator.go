package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/coachflow/pkg/lock"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
	"github.com/pkg/errors"
)

type StepOutcomeStatus string

const (
	CreatedStepOutcome StepOutcomeStatus = "created"
	SkippedStepOutcome StepOutcomeStatus = "skipped"
	FailedStepOutcome  StepOutcomeStatus = "failed"
)

// StepOutcome reports what happened to one template step during a run.
type StepOutcome struct {
	StepID    string            `json:"step_id"`
	StepOrder int               `json:"step_order"`
	ItemType  models.StepType   `json:"item_type"`
	Status    StepOutcomeStatus `json:"status"`
	Table     string            `json:"created_entity_table,omitempty"`
	EntityID  string            `json:"created_entity_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Err       error             `json:"-"`
}

type RunResult struct {
	Run      models.Run    `json:"run"`
	Outcomes []StepOutcome `json:"outcomes"`
}

func (r RunResult) Created() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == CreatedStepOutcome {
			n++
		}
	}
	return n
}

func (r RunResult) Summary() string {
	return fmt.Sprintf("generated run, %d of %d steps created", r.Created(), len(r.Outcomes))
}

// RunGenerator materializes one occurrence of an assignment.
type RunGenerator struct {
	store    storage.Store
	logger   Logger
	now      func() time.Time
	nextRun  NextRunPolicy
	sink     storage.EntitySink
	locker   lock.Locker
	lockTTL  time.Duration
	recorder Recorder
}

func NewRunGenerator(store storage.Store, logger Logger, opts Options) *RunGenerator {
	opts = opts.withDefaults()
	return &RunGenerator{
		store:    store,
		logger:   logger,
		now:      opts.Now,
		nextRun:  opts.NextRun,
		sink:     opts.Sink,
		locker:   opts.Locker,
		lockTTL:  opts.LockTTL,
		recorder: opts.Recorder,
	}
}

// GenerateRun creates a run for the assignment and fans every template step
// out into its downstream entity. A failing step is reported in the result
// and does not stop the others.
func (g *RunGenerator) GenerateRun(ctx context.Context, assignmentID string) (RunResult, error) {
	result, _, err := g.generate(ctx, assignmentID, nil)
	return result, err
}

// GenerateDueRun generates a run only if the assignment is still due at now
// once its lease is held. It returns false without error when another
// generator holds the lease or has already produced the occurrence.
func (g *RunGenerator) GenerateDueRun(ctx context.Context, assignmentID string, now time.Time) (RunResult, bool, error) {
	return g.generate(ctx, assignmentID, &now)
}

func (g *RunGenerator) generate(ctx context.Context, assignmentID string, dueAt *time.Time) (RunResult, bool, error) {
	const op = "GenerateRun"
	if assignmentID == "" {
		return RunResult{}, false, newError(ErrInvalidArgument, op, "assignment id is required")
	}

	owner := uuid.NewString()
	lockKey := "run:" + assignmentID
	acquired, err := g.locker.TryAcquire(ctx, lockKey, owner, g.lockTTL)
	if err != nil {
		return RunResult{}, false, &Error{Kind: ErrStoreFailure, Op: op, Err: errors.Wrap(err, "failed to acquire run lease")}
	}
	if !acquired {
		if dueAt != nil {
			g.logger.Infof("Skipping assignment %s: run generation already in progress", assignmentID)
			return RunResult{}, false, nil
		}
		return RunResult{}, false, newError(ErrInvalidState, op, "run generation already in progress for assignment %s", assignmentID)
	}
	defer func() {
		if err := g.locker.Release(context.WithoutCancel(ctx), lockKey, owner); err != nil {
			g.logger.Warnf("Failed to release run lease of assignment %s: %v", assignmentID, err)
		}
	}()

	assignment, err := g.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return RunResult{}, false, storeError(op, err, "assignment "+assignmentID)
	}
	if dueAt != nil && !IsDue(assignment, *dueAt) {
		g.logger.Infof("Skipping assignment %s: no longer due at %s", assignmentID, dueAt.UTC().Format(time.RFC3339))
		return RunResult{}, false, nil
	}
	if assignment.Status != models.ActiveAssignmentStatus {
		return RunResult{}, false, newError(ErrInvalidState, op, "assignment %s is %s", assignmentID, assignment.Status)
	}
	tpl, err := loadTemplate(ctx, g.store, op, assignment.CoachingWorkflowTemplateID)
	if err != nil {
		return RunResult{}, false, err
	}
	engagement, err := g.store.GetEngagement(ctx, assignment.CoachingEngagementID)
	if err != nil {
		return RunResult{}, false, storeError(op, err, "engagement "+assignment.CoachingEngagementID)
	}

	now := g.now()
	local := now.In(assignmentLocation(assignment))
	clock := runClock{
		scheduledRunAt: now.UTC(),
		today:          time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
	}
	run := models.Run{
		ID:                uuid.NewString(),
		AssignmentID:      assignment.ID,
		RunForPeriodStart: clock.today,
		ScheduledRunAt:    clock.scheduledRunAt,
		Status:            models.GeneratedRunStatus,
		CreatedAt:         clock.scheduledRunAt,
	}
	if err := g.store.SaveRun(ctx, run); err != nil {
		return RunResult{}, false, storeError(op, err, "failed to save run")
	}
	g.logger.Infof("Generating run %s of assignment %s (%d steps)", run.ID, assignment.ID, len(tpl.Steps))

	result := RunResult{Run: run}
	for _, step := range tpl.Steps {
		outcome, item := g.materialize(ctx, run.ID, step, engagement, clock)
		result.Outcomes = append(result.Outcomes, outcome)
		if item != nil {
			result.Run.Items = append(result.Run.Items, *item)
		}
		g.recorder.StepMaterialized(outcome.ItemType, outcome.Status)
	}
	g.recorder.RunGenerated()

	next := g.nextRun.NextRun(assignment, clock.scheduledRunAt)
	if err := g.store.UpdateAssignmentRunTimes(ctx, assignment.ID, clock.scheduledRunAt, next); err != nil {
		return result, true, storeError(op, err, "failed to advance assignment "+assignment.ID)
	}
	g.logger.Infof("Run %s of assignment %s: %s", run.ID, assignment.ID, result.Summary())
	return result, true, nil
}

// materialize handles one step as its own failure unit: the entity and its
// run item are written together or not at all.
func (g *RunGenerator) materialize(ctx context.Context, runID string, step models.TemplateStep, engagement models.Engagement, clock runClock) (StepOutcome, *models.RunItem) {
	outcome := StepOutcome{StepID: step.ID, StepOrder: step.StepOrder, ItemType: step.StepType}
	variant, err := newStepVariant(step, engagement, clock)
	if err != nil {
		return g.failed(outcome, err), nil
	}
	if t, ok := variant.(taskStep); ok && t.companyID == nil {
		outcome.Status = SkippedStepOutcome
		outcome.Reason = "engagement has no linked company"
		g.logger.Infof("Skipping task step %s: engagement %s has no linked company", step.ID, engagement.ID)
		return outcome, nil
	}

	item := models.RunItem{
		ID:        uuid.NewString(),
		RunID:     runID,
		StepID:    step.ID,
		ItemType:  step.StepType,
		Status:    models.ActiveRunItemStatus,
		CreatedAt: clock.scheduledRunAt,
	}
	if g.sink == nil {
		err = withTx(ctx, g.store, g.logger, "GenerateRun", func(tx storage.Store) error {
			table, id, err := dispatch(ctx, tx, variant)
			if err != nil {
				return err
			}
			item.CreatedEntityTable, item.CreatedEntityID = table, id
			return storeError("GenerateRun", tx.SaveRunItem(ctx, item), "failed to save run item")
		})
	} else {
		err = g.materializeExternal(ctx, variant, &item)
	}
	if err != nil {
		return g.failed(outcome, err), nil
	}
	outcome.Status = CreatedStepOutcome
	outcome.Table = item.CreatedEntityTable
	outcome.EntityID = item.CreatedEntityID
	return outcome, &item
}

// materializeExternal writes through a sink outside the store transaction.
// An entity whose run item cannot be saved is discarded when the sink allows it.
func (g *RunGenerator) materializeExternal(ctx context.Context, variant stepVariant, item *models.RunItem) error {
	table, id, err := dispatch(ctx, g.sink, variant)
	if err != nil {
		return err
	}
	item.CreatedEntityTable, item.CreatedEntityID = table, id
	if err := g.store.SaveRunItem(ctx, *item); err != nil {
		if discarder, ok := g.sink.(storage.EntityDiscarder); ok {
			if derr := discarder.DiscardEntity(ctx, table, id); derr != nil {
				g.logger.Errorf("Failed to discard orphaned %s %s: %v", table, id, derr)
			}
		} else {
			g.logger.Warnf("Orphaned %s %s: run item could not be saved", table, id)
		}
		return storeError("GenerateRun", err, "failed to save run item")
	}
	return nil
}

// dispatch creates the entity of one step variant through the sink.
func dispatch(ctx context.Context, sink storage.EntitySink, variant stepVariant) (table, id string, err error) {
	switch v := variant.(type) {
	case meetingStep:
		table = models.MeetingsTable
		id, err = sink.CreateMeeting(ctx, models.Meeting{
			EngagementID: v.engagementID,
			Title:        v.title,
			ScheduledFor: v.scheduledFor,
			Status:       models.ScheduledMeetingStatus,
		})
	case taskStep:
		table = models.TasksTable
		id, err = sink.CreateTask(ctx, models.Task{
			CompanyID:    *v.companyID,
			EngagementID: v.engagementID,
			Title:        v.title,
			Description:  v.description,
			DueDate:      v.dueDate,
			Status:       models.PendingTaskStatus,
		})
	case formStep:
		table = models.FormRequestsTable
		id, err = sink.CreateFormRequest(ctx, models.FormRequest{
			EngagementID: v.engagementID,
			Title:        v.title,
			Description:  v.description,
			DueAt:        v.dueAt,
			Status:       models.PendingFormRequestStatus,
		})
	default:
		return "", "", newError(ErrInvalidArgument, "GenerateRun", "unsupported step variant %T", variant)
	}
	if err != nil {
		return "", "", &Error{Kind: ErrSinkFailure, Op: "GenerateRun", Err: errors.Wrapf(err, "failed to create %s entity", table)}
	}
	if id == "" {
		return "", "", newError(ErrSinkFailure, "GenerateRun", "sink returned an empty %s id", table)
	}
	return table, id, nil
}

func (g *RunGenerator) failed(outcome StepOutcome, err error) StepOutcome {
	outcome.Status = FailedStepOutcome
	outcome.Err = err
	outcome.Reason = err.Error()
	g.logger.Errorf("Step %s (%s) failed: %v", outcome.StepID, outcome.ItemType, err)
	return outcome
}
