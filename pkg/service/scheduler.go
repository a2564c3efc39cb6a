package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
)

// AssignmentRequest describes a new assignment. Timezone is optional. A
// StartOn at midnight is a calendar date in the assignment timezone.
type AssignmentRequest struct {
	EngagementID    string         `json:"coaching_engagement_id"`
	TemplateID      string         `json:"coaching_workflow_template_id"`
	Cadence         models.Cadence `json:"cadence"`
	StartOn         time.Time      `json:"start_on"`
	NameOverride    string         `json:"name_override,omitempty"`
	Timezone        string         `json:"timezone,omitempty"`
	CreatedByUserID string         `json:"created_by_user_id,omitempty"`
}

// AssignmentScheduler binds pack templates to engagements.
type AssignmentScheduler struct {
	store           storage.Store
	logger          Logger
	now             func() time.Time
	defaultTimezone string
}

func NewAssignmentScheduler(store storage.Store, logger Logger, opts Options) *AssignmentScheduler {
	opts = opts.withDefaults()
	return &AssignmentScheduler{
		store:           store,
		logger:          logger,
		now:             opts.Now,
		defaultTimezone: opts.DefaultTimezone,
	}
}

// CreateAssignment stores an active assignment with no run history. No run
// is generated.
func (s *AssignmentScheduler) CreateAssignment(ctx context.Context, req AssignmentRequest) (models.Assignment, error) {
	const op = "CreateAssignment"
	if req.EngagementID == "" {
		return models.Assignment{}, newError(ErrInvalidArgument, op, "engagement id is required")
	}
	if req.TemplateID == "" {
		return models.Assignment{}, newError(ErrInvalidArgument, op, "template id is required")
	}
	if !req.Cadence.Valid() {
		return models.Assignment{}, newError(ErrInvalidArgument, op, "invalid cadence %q", req.Cadence)
	}
	if req.StartOn.IsZero() {
		return models.Assignment{}, newError(ErrInvalidArgument, op, "start_on is required")
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = s.defaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return models.Assignment{}, newError(ErrInvalidArgument, op, "invalid timezone %q: %v", timezone, err)
	}

	if _, err := s.store.GetTemplate(ctx, req.TemplateID); err != nil {
		return models.Assignment{}, storeError(op, err, "template "+req.TemplateID)
	}

	assignment := models.Assignment{
		ID:                         uuid.NewString(),
		CoachingEngagementID:       req.EngagementID,
		CoachingWorkflowTemplateID: req.TemplateID,
		NameOverride:               req.NameOverride,
		Status:                     models.ActiveAssignmentStatus,
		Cadence:                    req.Cadence,
		StartOn:                    StartOfDate(req.StartOn, loc),
		Timezone:                   timezone,
		CreatedByUserID:            req.CreatedByUserID,
		CreatedAt:                  s.now().UTC(),
	}
	if err := s.store.SaveAssignment(ctx, assignment); err != nil {
		return models.Assignment{}, storeError(op, err, "failed to save assignment")
	}
	s.logger.Infof("Created %s assignment %s of template %s for engagement %s",
		assignment.Cadence, assignment.ID, assignment.CoachingWorkflowTemplateID, assignment.CoachingEngagementID)
	return assignment, nil
}

// SetStatus moves an assignment between active and paused, or archives it.
// Archived is terminal. Setting the current status is a no-op.
func (s *AssignmentScheduler) SetStatus(ctx context.Context, assignmentID string, status models.AssignmentStatus) (models.Assignment, error) {
	const op = "SetStatus"
	if !status.Valid() {
		return models.Assignment{}, newError(ErrInvalidArgument, op, "invalid status %q", status)
	}

	var updated models.Assignment
	err := withTx(ctx, s.store, s.logger, op, func(tx storage.Store) error {
		a, err := tx.GetAssignment(ctx, assignmentID)
		if err != nil {
			return storeError(op, err, "assignment "+assignmentID)
		}
		if a.Status == status {
			updated = a
			return nil
		}
		if a.Status == models.ArchivedAssignmentStatus {
			return newError(ErrInvalidState, op, "assignment %s is archived", assignmentID)
		}
		if err := tx.UpdateAssignmentStatus(ctx, assignmentID, status); err != nil {
			return storeError(op, err, "failed to update status of assignment "+assignmentID)
		}
		s.logger.Infof("Assignment %s: %s -> %s", assignmentID, a.Status, status)
		a.Status = status
		updated = a
		return nil
	})
	if err != nil {
		return models.Assignment{}, err
	}
	return updated, nil
}

func (s *AssignmentScheduler) GetAssignment(ctx context.Context, assignmentID string) (models.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return models.Assignment{}, storeError("GetAssignment", err, "assignment "+assignmentID)
	}
	return a, nil
}

func (s *AssignmentScheduler) ListAssignments(ctx context.Context, engagementID string) ([]models.Assignment, error) {
	assignments, err := s.store.ListAssignments(ctx, engagementID)
	if err != nil {
		return nil, storeError("ListAssignments", err, "failed to list assignments of engagement "+engagementID)
	}
	return assignments, nil
}
