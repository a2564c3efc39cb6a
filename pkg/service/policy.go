package service

import (
	"strings"

	"github.com/ignatij/coachflow/pkg/models"
)

// LockPolicy maps a workflow_type to whether provisioned copies are locked.
// Locked workflows define the coaching relationship itself; operators may
// only retitle them.
type LockPolicy map[string]bool

// DefaultLockPolicy returns the structural workflow types.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		"engagement_lifecycle": true,
		"chair_recruitment":    true,
		"chair_onboarding":     true,
	}
}

// With returns a copy of the policy with extra structural workflow types.
func (p LockPolicy) With(workflowTypes ...string) LockPolicy {
	out := make(LockPolicy, len(p)+len(workflowTypes))
	for k, v := range p {
		out[k] = v
	}
	for _, wt := range workflowTypes {
		if wt = strings.TrimSpace(wt); wt != "" {
			out[wt] = true
		}
	}
	return out
}

func (p LockPolicy) IsLocked(workflowType string) bool {
	return p[workflowType]
}

// EditableFields returns the capability set recorded on a provisioned workflow.
func (p LockPolicy) EditableFields(workflowType string) models.FieldSet {
	if p.IsLocked(workflowType) {
		return models.NewFieldSet(models.NameField, models.DescriptionField)
	}
	return models.NewFieldSet(models.NameField, models.DescriptionField, models.IsActiveField, models.StepsField)
}

// capabilities is the permission check applied to every editor mutation.
type capabilities struct {
	workflowID string
	fields     models.FieldSet
}

func capabilitiesOf(w models.OrgWorkflow) capabilities {
	return capabilities{workflowID: w.ID, fields: w.EditableFields}
}

// require fails with ErrForbidden naming every field outside the editable set.
func (c capabilities) require(op string, fields ...models.Field) error {
	var denied []string
	for _, f := range fields {
		if !c.fields.Has(f) {
			denied = append(denied, string(f))
		}
	}
	if len(denied) > 0 {
		return newError(ErrForbidden, op, "workflow %s does not allow editing %s", c.workflowID, strings.Join(denied, ", "))
	}
	return nil
}
