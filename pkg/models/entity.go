package models

import "time"

// Tables the run generator materializes steps into.
const (
	MeetingsTable     = "coaching_meetings"
	TasksTable        = "tasks"
	FormRequestsTable = "coaching_form_requests"
)

const (
	ScheduledMeetingStatus   = "scheduled"
	PendingTaskStatus        = "pending"
	PendingFormRequestStatus = "pending"
)

type Meeting struct {
	ID           string    `json:"id" db:"id"`
	EngagementID string    `json:"coaching_engagement_id" db:"coaching_engagement_id"`
	Title        string    `json:"title" db:"title"`
	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`
	Status       string    `json:"status" db:"status"`
}

type Task struct {
	ID           string    `json:"id" db:"id"`
	CompanyID    string    `json:"company_id" db:"company_id"`
	EngagementID string    `json:"coaching_engagement_id" db:"coaching_engagement_id"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description" db:"description"`
	DueDate      time.Time `json:"due_date" db:"due_date"`
	Status       string    `json:"status" db:"status"`
}

type FormRequest struct {
	ID           string    `json:"id" db:"id"`
	EngagementID string    `json:"coaching_engagement_id" db:"coaching_engagement_id"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description" db:"description"`
	DueAt        time.Time `json:"due_at" db:"due_at"`
	Status       string    `json:"status" db:"status"`
}
