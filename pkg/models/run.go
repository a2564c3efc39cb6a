package models

import "time"

type RunStatus string

const (
	GeneratedRunStatus  RunStatus = "generated"
	InProgressRunStatus RunStatus = "in_progress"
	CompletedRunStatus  RunStatus = "completed"
	CancelledRunStatus  RunStatus = "cancelled"
)

const ActiveRunItemStatus = "active"

// Run is one executed occurrence of an assignment.
type Run struct {
	ID                string     `json:"id" db:"id"`
	AssignmentID      string     `json:"coaching_workflow_assignment_id" db:"coaching_workflow_assignment_id"`
	RunForPeriodStart time.Time  `json:"run_for_period_start" db:"run_for_period_start"`
	RunForPeriodEnd   *time.Time `json:"run_for_period_end,omitempty" db:"run_for_period_end"`
	ScheduledRunAt    time.Time  `json:"scheduled_run_at" db:"scheduled_run_at"`
	Status            RunStatus  `json:"status" db:"status"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	Items             []RunItem  `json:"items,omitempty" db:"-"` // Populated at runtime
}

// RunItem links the template step of a run to the entity it created.
type RunItem struct {
	ID                 string    `json:"id" db:"id"`
	RunID              string    `json:"run_id" db:"run_id"`
	StepID             string    `json:"step_id" db:"step_id"`
	ItemType           StepType  `json:"item_type" db:"item_type"`
	CreatedEntityTable string    `json:"created_entity_table" db:"created_entity_table"`
	CreatedEntityID    string    `json:"created_entity_id" db:"created_entity_id"`
	Status             string    `json:"status" db:"status"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}
