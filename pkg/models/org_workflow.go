package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Field names an org workflow attribute an operator may be allowed to mutate.
type Field string

const (
	NameField        Field = "name"
	DescriptionField Field = "description"
	IsActiveField    Field = "is_active"
	StepsField       Field = "steps"
)

// FieldSet is the set of editable fields recorded on an org workflow at provisioning time.
// It is persisted as a comma separated, sorted list.
type FieldSet []Field

func NewFieldSet(fields ...Field) FieldSet {
	set := FieldSet{}
	for _, f := range fields {
		if !set.Has(f) {
			set = append(set, f)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set
}

func (s FieldSet) Has(f Field) bool {
	for _, existing := range s {
		if existing == f {
			return true
		}
	}
	return false
}

func (s FieldSet) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

// Value implements driver.Valuer.
func (s FieldSet) Value() (driver.Value, error) {
	return NewFieldSet(s...).String(), nil
}

// Scan implements sql.Scanner.
func (s *FieldSet) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = FieldSet{}
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into FieldSet", src)
	}
	var fields []Field
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			fields = append(fields, Field(part))
		}
	}
	*s = NewFieldSet(fields...)
	return nil
}

// OrgWorkflow is one organization's editable copy of a pack template.
// A nil SourcePackTemplateID marks a hand-created workflow.
type OrgWorkflow struct {
	ID                   string    `json:"id" db:"id"`
	CoachingOrgID        string    `json:"coaching_org_id" db:"coaching_org_id"`
	SourcePackTemplateID *string   `json:"source_pack_template_id,omitempty" db:"source_pack_template_id"`
	SourcePackKey        string    `json:"source_pack_key" db:"source_pack_key"`
	Name                 string    `json:"name" db:"name"`
	Description          string    `json:"description" db:"description"`
	WorkflowType         string    `json:"workflow_type" db:"workflow_type"`
	IsActive             bool      `json:"is_active" db:"is_active"`
	IsLocked             bool      `json:"is_locked" db:"is_locked"`
	EditableFields       FieldSet  `json:"editable_fields" db:"editable_fields"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`

	Steps []OrgWorkflowStep `json:"steps,omitempty" db:"-"` // Populated at runtime
}

// OrgWorkflowStep mirrors a TemplateStep plus the operator-controlled flags.
type OrgWorkflowStep struct {
	ID                      string   `json:"id" db:"id"`
	OrgWorkflowID           string   `json:"org_workflow_id" db:"org_workflow_id"`
	StepOrder               int      `json:"step_order" db:"step_order"`
	StepType                StepType `json:"step_type" db:"step_type"`
	Title                   string   `json:"title" db:"title"`
	Description             string   `json:"description" db:"description"`
	DefaultAssignee         string   `json:"default_assignee" db:"default_assignee"`
	DueOffsetDays           int      `json:"due_offset_days" db:"due_offset_days"`
	ScheduleOffsetDays      int      `json:"schedule_offset_days" db:"schedule_offset_days"`
	CadenceDays             int      `json:"cadence_days" db:"cadence_days"` // 0 means no per-step cadence
	IsOptional              bool     `json:"is_optional" db:"is_optional"`
	IsDisabled              bool     `json:"is_disabled" db:"is_disabled"`
	AttachedFormTemplateKey string   `json:"attached_form_template_key,omitempty" db:"attached_form_template_key"`
}
