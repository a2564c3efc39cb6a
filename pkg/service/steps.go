package service

import (
	"time"

	"github.com/ignatij/coachflow/pkg/models"
)

// stepVariant is a template step resolved for one run. Each variant carries
// only what its sink needs.
type stepVariant interface {
	source() models.TemplateStep
}

type stepBase struct {
	step models.TemplateStep
}

func (b stepBase) source() models.TemplateStep { return b.step }

type meetingStep struct {
	stepBase
	engagementID string
	title        string
	scheduledFor time.Time
}

// taskStep has a nil companyID when the engagement has no linked company.
type taskStep struct {
	stepBase
	companyID    *string
	engagementID string
	title        string
	description  string
	dueDate      time.Time
}

type formStep struct {
	stepBase
	engagementID string
	title        string
	description  string
	dueAt        time.Time
}

// runClock holds the reference times of one run. Meetings and forms are
// offset from the run time, tasks from the run's calendar day.
type runClock struct {
	scheduledRunAt time.Time
	today          time.Time
}

func newStepVariant(step models.TemplateStep, engagement models.Engagement, clock runClock) (stepVariant, error) {
	base := stepBase{step: step}
	switch step.StepType {
	case models.MeetingStepType:
		return meetingStep{
			stepBase:     base,
			engagementID: engagement.ID,
			title:        step.Title,
			scheduledFor: clock.scheduledRunAt.AddDate(0, 0, step.ScheduleOffsetDays),
		}, nil
	case models.TaskStepType:
		return taskStep{
			stepBase:     base,
			companyID:    engagement.CompanyID,
			engagementID: engagement.ID,
			title:        step.Title,
			description:  step.Description,
			dueDate:      clock.today.AddDate(0, 0, step.DueOffsetDays),
		}, nil
	case models.FormStepType:
		return formStep{
			stepBase:     base,
			engagementID: engagement.ID,
			title:        step.Title,
			description:  step.Description,
			dueAt:        clock.scheduledRunAt.AddDate(0, 0, step.DueOffsetDays),
		}, nil
	}
	return nil, newError(ErrInvalidArgument, "GenerateRun", "step %s has unknown type %q", step.ID, step.StepType)
}
