package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ignatij/coachflow/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint,
	// e.g. a second org workflow for the same (coaching_org_id, source_pack_template_id).
	ErrDuplicate = errors.New("duplicate record")
)

// PackStore reads and writes shared pack reference data.
type PackStore interface {
	SavePack(ctx context.Context, p models.Pack) error
	GetPackByKey(ctx context.Context, key string) (models.Pack, error)
	ListPacks(ctx context.Context) ([]models.Pack, error)

	SaveTemplate(ctx context.Context, t models.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string) (models.WorkflowTemplate, error)
	// ListTemplates returns the templates of a pack; an empty status means all statuses.
	ListTemplates(ctx context.Context, packID string, status models.TemplateStatus) ([]models.WorkflowTemplate, error)

	SaveTemplateStep(ctx context.Context, s models.TemplateStep) error
	// ListTemplateSteps returns the steps of a template ordered by step_order ascending.
	ListTemplateSteps(ctx context.Context, templateID string) ([]models.TemplateStep, error)
}

// OrgWorkflowStore holds the organization-owned workflow copies.
type OrgWorkflowStore interface {
	SaveOrgWorkflow(ctx context.Context, w models.OrgWorkflow) error
	GetOrgWorkflow(ctx context.Context, id string) (models.OrgWorkflow, error)
	FindOrgWorkflowBySource(ctx context.Context, orgID, templateID string) (models.OrgWorkflow, error)
	ListOrgWorkflows(ctx context.Context, orgID string) ([]models.OrgWorkflow, error)
	UpdateOrgWorkflow(ctx context.Context, w models.OrgWorkflow) error

	SaveOrgWorkflowStep(ctx context.Context, s models.OrgWorkflowStep) error
	GetOrgWorkflowStep(ctx context.Context, id string) (models.OrgWorkflowStep, error)
	// ListOrgWorkflowSteps returns the steps of a workflow ordered by step_order ascending.
	ListOrgWorkflowSteps(ctx context.Context, workflowID string) ([]models.OrgWorkflowStep, error)
	UpdateOrgWorkflowStep(ctx context.Context, s models.OrgWorkflowStep) error
	UpdateStepOrder(ctx context.Context, workflowID, stepID string, order int) error
	DeleteOrgWorkflowSteps(ctx context.Context, workflowID string) (int64, error)
}

// EngagementStore exposes the engagement records owned by the surrounding application.
type EngagementStore interface {
	SaveEngagement(ctx context.Context, e models.Engagement) error
	GetEngagement(ctx context.Context, id string) (models.Engagement, error)
}

type AssignmentStore interface {
	SaveAssignment(ctx context.Context, a models.Assignment) error
	GetAssignment(ctx context.Context, id string) (models.Assignment, error)
	ListAssignments(ctx context.Context, engagementID string) ([]models.Assignment, error)
	ListAssignmentsByStatus(ctx context.Context, status models.AssignmentStatus) ([]models.Assignment, error)
	UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) error
	UpdateAssignmentRunTimes(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time) error
}

type RunStore interface {
	SaveRun(ctx context.Context, r models.Run) error
	GetRun(ctx context.Context, id string) (models.Run, error)
	ListRuns(ctx context.Context, assignmentID string) ([]models.Run, error)
	SaveRunItem(ctx context.Context, item models.RunItem) error
	ListRunItems(ctx context.Context, runID string) ([]models.RunItem, error)
}

// EntitySink materializes workflow steps into the collaborator domains.
// Each call returns a stable identifier for the created entity.
type EntitySink interface {
	CreateMeeting(ctx context.Context, m models.Meeting) (string, error)
	CreateTask(ctx context.Context, t models.Task) (string, error)
	CreateFormRequest(ctx context.Context, f models.FormRequest) (string, error)
}

// EntityDiscarder is implemented by sinks that can remove an entity whose
// run item could not be recorded.
type EntityDiscarder interface {
	DiscardEntity(ctx context.Context, table, id string) error
}

// Store defines the storage operations for coachflow.
type Store interface {
	Begin(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error
	Close() error

	PackStore
	OrgWorkflowStore
	EngagementStore
	AssignmentStore
	RunStore
	EntitySink
}
