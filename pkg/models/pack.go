package models

import "time"

type TemplateStatus string

const (
	ActiveTemplateStatus   TemplateStatus = "active"
	ArchivedTemplateStatus TemplateStatus = "archived"
)

type StepType string

const (
	MeetingStepType StepType = "meeting"
	TaskStepType    StepType = "task"
	FormStepType    StepType = "form"
)

// Valid reports whether t is one of the step types the run generator can dispatch.
func (t StepType) Valid() bool {
	switch t {
	case MeetingStepType, TaskStepType, FormStepType:
		return true
	}
	return false
}

// Pack is a named bundle of reusable workflow templates (e.g. a coaching methodology).
type Pack struct {
	ID        string    `json:"id" db:"id"`
	Key       string    `json:"key" db:"key"` // Unique human key, e.g. "eos"
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WorkflowTemplate is a pack-owned, read-only blueprint workflow.
type WorkflowTemplate struct {
	ID           string         `json:"id" db:"id"`
	PackID       string         `json:"pack_id" db:"pack_id"`
	WorkflowType string         `json:"workflow_type" db:"workflow_type"` // e.g. "engagement_lifecycle"
	Name         string         `json:"name" db:"name"`
	Description  string         `json:"description" db:"description"`
	Status       TemplateStatus `json:"status" db:"status"`
	Steps        []TemplateStep `json:"steps,omitempty" db:"-"` // Ordered by StepOrder (populated at runtime)
}

// TemplateStep is one ordered step of a WorkflowTemplate.
type TemplateStep struct {
	ID                 string   `json:"id" db:"id"`
	TemplateID         string   `json:"template_id" db:"template_id"`
	StepOrder          int      `json:"step_order" db:"step_order"`
	StepType           StepType `json:"step_type" db:"step_type"`
	Title              string   `json:"title" db:"title"`
	Description        string   `json:"description" db:"description"`
	DefaultAssignee    string   `json:"default_assignee" db:"default_assignee"`
	DueOffsetDays      int      `json:"due_offset_days" db:"due_offset_days"`
	ScheduleOffsetDays int      `json:"schedule_offset_days" db:"schedule_offset_days"`
}
