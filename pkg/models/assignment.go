package models

import "time"

type AssignmentStatus string

const (
	ActiveAssignmentStatus   AssignmentStatus = "active"
	PausedAssignmentStatus   AssignmentStatus = "paused"
	ArchivedAssignmentStatus AssignmentStatus = "archived"
)

func (s AssignmentStatus) Valid() bool {
	switch s {
	case ActiveAssignmentStatus, PausedAssignmentStatus, ArchivedAssignmentStatus:
		return true
	}
	return false
}

type Cadence string

const (
	OneTimeCadence   Cadence = "one_time"
	WeeklyCadence    Cadence = "weekly"
	MonthlyCadence   Cadence = "monthly"
	QuarterlyCadence Cadence = "quarterly"
	AnnuallyCadence  Cadence = "annually"
)

func (c Cadence) Valid() bool {
	switch c {
	case OneTimeCadence, WeeklyCadence, MonthlyCadence, QuarterlyCadence, AnnuallyCadence:
		return true
	}
	return false
}

// Assignment binds a pack-level workflow template to one coaching engagement.
// LastRunAt and NextRunAt are only written by the run generator.
type Assignment struct {
	ID                         string           `json:"id" db:"id"`
	CoachingEngagementID       string           `json:"coaching_engagement_id" db:"coaching_engagement_id"`
	CoachingWorkflowTemplateID string           `json:"coaching_workflow_template_id" db:"coaching_workflow_template_id"`
	NameOverride               string           `json:"name_override,omitempty" db:"name_override"`
	Status                     AssignmentStatus `json:"status" db:"status"`
	Cadence                    Cadence          `json:"cadence" db:"cadence"`
	StartOn                    time.Time        `json:"start_on" db:"start_on"`
	Timezone                   string           `json:"timezone" db:"timezone"`
	LastRunAt                  *time.Time       `json:"last_run_at,omitempty" db:"last_run_at"`
	NextRunAt                  *time.Time       `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedByUserID            string           `json:"created_by_user_id,omitempty" db:"created_by_user_id"`
	CreatedAt                  time.Time        `json:"created_at" db:"created_at"`
}

// Engagement is the relationship between a coaching organization and one client company.
// CompanyID is nil when no company is linked yet.
type Engagement struct {
	ID            string  `json:"id" db:"id"`
	CoachingOrgID string  `json:"coaching_org_id" db:"coaching_org_id"`
	CompanyID     *string `json:"company_id,omitempty" db:"company_id"`
	Name          string  `json:"name" db:"name"`
}
