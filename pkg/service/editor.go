package service

import (
	"context"
	"time"

	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
)

// WorkflowPatch lists the workflow attributes to change; nil fields are left as is.
type WorkflowPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

func (p WorkflowPatch) fields() []models.Field {
	var fields []models.Field
	if p.Name != nil {
		fields = append(fields, models.NameField)
	}
	if p.Description != nil {
		fields = append(fields, models.DescriptionField)
	}
	if p.IsActive != nil {
		fields = append(fields, models.IsActiveField)
	}
	return fields
}

// StepPatch lists the step attributes to change; nil fields are left as is.
type StepPatch struct {
	Title                   *string `json:"title,omitempty"`
	Description             *string `json:"description,omitempty"`
	IsOptional              *bool   `json:"is_optional,omitempty"`
	IsDisabled              *bool   `json:"is_disabled,omitempty"`
	AttachedFormTemplateKey *string `json:"attached_form_template_key,omitempty"`
	DefaultAssignee         *string `json:"default_assignee,omitempty"`
	DueOffsetDays           *int    `json:"due_offset_days,omitempty"`
	CadenceDays             *int    `json:"cadence_days,omitempty"`
	StepOrder               *int    `json:"step_order,omitempty"`
}

func (p StepPatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.IsOptional == nil && p.IsDisabled == nil &&
		p.AttachedFormTemplateKey == nil && p.DefaultAssignee == nil && p.DueOffsetDays == nil &&
		p.CadenceDays == nil && p.StepOrder == nil
}

func (p StepPatch) apply(step *models.OrgWorkflowStep) {
	if p.Title != nil {
		step.Title = *p.Title
	}
	if p.Description != nil {
		step.Description = *p.Description
	}
	if p.IsOptional != nil {
		step.IsOptional = *p.IsOptional
	}
	if p.IsDisabled != nil {
		step.IsDisabled = *p.IsDisabled
	}
	if p.AttachedFormTemplateKey != nil {
		step.AttachedFormTemplateKey = *p.AttachedFormTemplateKey
	}
	if p.DefaultAssignee != nil {
		step.DefaultAssignee = *p.DefaultAssignee
	}
	if p.DueOffsetDays != nil {
		step.DueOffsetDays = *p.DueOffsetDays
	}
	if p.CadenceDays != nil {
		step.CadenceDays = *p.CadenceDays
	}
	if p.StepOrder != nil {
		step.StepOrder = *p.StepOrder
	}
}

// Editor applies operator mutations to org workflows. Every mutation is
// checked against the workflow's editable fields before it is written.
type Editor struct {
	store  storage.Store
	logger Logger
	now    func() time.Time
}

func NewEditor(store storage.Store, logger Logger, opts Options) *Editor {
	opts = opts.withDefaults()
	return &Editor{store: store, logger: logger, now: opts.Now}
}

// GetWorkflow returns an org workflow with its ordered steps.
func (e *Editor) GetWorkflow(ctx context.Context, workflowID string) (models.OrgWorkflow, error) {
	return loadWorkflow(ctx, e.store, "GetWorkflow", workflowID)
}

// ListWorkflows returns the workflows owned by an org, without steps.
func (e *Editor) ListWorkflows(ctx context.Context, orgID string) ([]models.OrgWorkflow, error) {
	workflows, err := e.store.ListOrgWorkflows(ctx, orgID)
	if err != nil {
		return nil, storeError("ListWorkflows", err, "failed to list workflows of org "+orgID)
	}
	return workflows, nil
}

func (e *Editor) UpdateWorkflow(ctx context.Context, workflowID string, patch WorkflowPatch) (models.OrgWorkflow, error) {
	const op = "UpdateWorkflow"
	fields := patch.fields()
	if len(fields) == 0 {
		return models.OrgWorkflow{}, newError(ErrInvalidArgument, op, "no fields to update")
	}
	if patch.Name != nil && *patch.Name == "" {
		return models.OrgWorkflow{}, newError(ErrInvalidArgument, op, "name cannot be empty")
	}

	var updated models.OrgWorkflow
	err := withTx(ctx, e.store, e.logger, op, func(tx storage.Store) error {
		wf, err := tx.GetOrgWorkflow(ctx, workflowID)
		if err != nil {
			return storeError(op, err, "workflow "+workflowID)
		}
		if err := capabilitiesOf(wf).require(op, fields...); err != nil {
			return err
		}
		if patch.Name != nil {
			wf.Name = *patch.Name
		}
		if patch.Description != nil {
			wf.Description = *patch.Description
		}
		if patch.IsActive != nil {
			wf.IsActive = *patch.IsActive
		}
		wf.UpdatedAt = e.now().UTC()
		if err := tx.UpdateOrgWorkflow(ctx, wf); err != nil {
			return storeError(op, err, "failed to update workflow "+workflowID)
		}
		updated = wf
		return nil
	})
	if err != nil {
		return models.OrgWorkflow{}, err
	}
	e.logger.Infof("Updated workflow %s (%v)", workflowID, fields)
	return updated, nil
}

func (e *Editor) UpdateStep(ctx context.Context, stepID string, patch StepPatch) (models.OrgWorkflowStep, error) {
	const op = "UpdateStep"
	if patch.empty() {
		return models.OrgWorkflowStep{}, newError(ErrInvalidArgument, op, "no fields to update")
	}
	if patch.StepOrder != nil && *patch.StepOrder < 1 {
		return models.OrgWorkflowStep{}, newError(ErrInvalidArgument, op, "step_order must be positive, got %d", *patch.StepOrder)
	}
	if patch.Title != nil && *patch.Title == "" {
		return models.OrgWorkflowStep{}, newError(ErrInvalidArgument, op, "title cannot be empty")
	}

	var updated models.OrgWorkflowStep
	err := withTx(ctx, e.store, e.logger, op, func(tx storage.Store) error {
		step, err := tx.GetOrgWorkflowStep(ctx, stepID)
		if err != nil {
			return storeError(op, err, "step "+stepID)
		}
		wf, err := tx.GetOrgWorkflow(ctx, step.OrgWorkflowID)
		if err != nil {
			return storeError(op, err, "workflow "+step.OrgWorkflowID)
		}
		if err := capabilitiesOf(wf).require(op, models.StepsField); err != nil {
			return err
		}
		patch.apply(&step)
		if err := tx.UpdateOrgWorkflowStep(ctx, step); err != nil {
			return storeError(op, err, "failed to update step "+stepID)
		}
		if err := e.touch(ctx, tx, op, wf); err != nil {
			return err
		}
		updated = step
		return nil
	})
	if err != nil {
		return models.OrgWorkflowStep{}, err
	}
	e.logger.Infof("Updated step %s of workflow %s", stepID, updated.OrgWorkflowID)
	return updated, nil
}

// ReorderSteps sets the step_order of each listed step to its 1-based
// position. The updates are applied in list order in one transaction.
func (e *Editor) ReorderSteps(ctx context.Context, workflowID string, orderedStepIDs []string) ([]models.OrgWorkflowStep, error) {
	const op = "ReorderSteps"
	if len(orderedStepIDs) == 0 {
		return nil, newError(ErrInvalidArgument, op, "no steps to reorder")
	}
	seen := make(map[string]bool, len(orderedStepIDs))
	for _, id := range orderedStepIDs {
		if seen[id] {
			return nil, newError(ErrInvalidArgument, op, "step %s listed more than once", id)
		}
		seen[id] = true
	}

	var steps []models.OrgWorkflowStep
	err := withTx(ctx, e.store, e.logger, op, func(tx storage.Store) error {
		wf, err := tx.GetOrgWorkflow(ctx, workflowID)
		if err != nil {
			return storeError(op, err, "workflow "+workflowID)
		}
		if err := capabilitiesOf(wf).require(op, models.StepsField); err != nil {
			return err
		}
		current, err := tx.ListOrgWorkflowSteps(ctx, workflowID)
		if err != nil {
			return storeError(op, err, "failed to list steps of workflow "+workflowID)
		}
		owned := make(map[string]bool, len(current))
		for _, s := range current {
			owned[s.ID] = true
		}
		for _, id := range orderedStepIDs {
			if !owned[id] {
				return newError(ErrNotFound, op, "step %s does not belong to workflow %s", id, workflowID)
			}
		}
		for i, id := range orderedStepIDs {
			if err := tx.UpdateStepOrder(ctx, workflowID, id, i+1); err != nil {
				return storeError(op, err, "failed to move step "+id)
			}
		}
		if err := e.touch(ctx, tx, op, wf); err != nil {
			return err
		}
		steps, err = tx.ListOrgWorkflowSteps(ctx, workflowID)
		if err != nil {
			return storeError(op, err, "failed to list steps of workflow "+workflowID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infof("Reordered %d steps of workflow %s", len(orderedStepIDs), workflowID)
	return steps, nil
}

// RestoreFromPack resets a provisioned workflow to its source template.
// Name and description are refreshed and every step is replaced by a fresh
// copy; activation and the editable field set are kept.
func (e *Editor) RestoreFromPack(ctx context.Context, workflowID string) (models.OrgWorkflow, error) {
	const op = "RestoreFromPack"
	var restored models.OrgWorkflow
	var removed int64
	err := withTx(ctx, e.store, e.logger, op, func(tx storage.Store) error {
		wf, err := tx.GetOrgWorkflow(ctx, workflowID)
		if err != nil {
			return storeError(op, err, "workflow "+workflowID)
		}
		if wf.SourcePackTemplateID == nil {
			return newError(ErrInvalidState, op, "workflow %s has no source template to restore from", workflowID)
		}
		tpl, err := loadTemplate(ctx, tx, op, *wf.SourcePackTemplateID)
		if err != nil {
			return err
		}

		wf.Name = tpl.Name
		wf.Description = tpl.Description
		wf.UpdatedAt = e.now().UTC()
		if err := tx.UpdateOrgWorkflow(ctx, wf); err != nil {
			return storeError(op, err, "failed to update workflow "+workflowID)
		}
		removed, err = tx.DeleteOrgWorkflowSteps(ctx, workflowID)
		if err != nil {
			return storeError(op, err, "failed to delete steps of workflow "+workflowID)
		}
		if err := insertStepCopies(ctx, tx, op, workflowID, tpl.Steps); err != nil {
			return err
		}
		restored, err = loadWorkflow(ctx, tx, op, workflowID)
		return err
	})
	if err != nil {
		return models.OrgWorkflow{}, err
	}
	e.logger.Infof("Restored workflow %s from template %s: replaced %d steps with %d",
		workflowID, *restored.SourcePackTemplateID, removed, len(restored.Steps))
	return restored, nil
}

func (e *Editor) touch(ctx context.Context, tx storage.Store, op string, wf models.OrgWorkflow) error {
	wf.UpdatedAt = e.now().UTC()
	if err := tx.UpdateOrgWorkflow(ctx, wf); err != nil {
		return storeError(op, err, "failed to update workflow "+wf.ID)
	}
	return nil
}

func loadWorkflow(ctx context.Context, store storage.OrgWorkflowStore, op, workflowID string) (models.OrgWorkflow, error) {
	wf, err := store.GetOrgWorkflow(ctx, workflowID)
	if err != nil {
		return models.OrgWorkflow{}, storeError(op, err, "workflow "+workflowID)
	}
	steps, err := store.ListOrgWorkflowSteps(ctx, workflowID)
	if err != nil {
		return models.OrgWorkflow{}, storeError(op, err, "failed to list steps of workflow "+workflowID)
	}
	wf.Steps = steps
	return wf, nil
}
