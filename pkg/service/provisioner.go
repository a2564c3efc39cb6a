package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
	"github.com/pkg/errors"
)

const UnassignedAssignee = "unassigned"

// SeededWorkflow describes one org workflow created by SeedFromPack.
type SeededWorkflow struct {
	TemplateID string `json:"template_id"`
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	IsLocked   bool   `json:"is_locked"`
	StepCount  int    `json:"step_count"`
}

// TemplateFailure is a template whose provisioning was rolled back.
type TemplateFailure struct {
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	Err        error  `json:"-"`
	Message    string `json:"error"`
}

// SeedResult reports the per-template outcome of SeedFromPack.
type SeedResult struct {
	OrgID       string            `json:"coaching_org_id"`
	PackKey     string            `json:"pack_key"`
	Templates   int               `json:"templates"`
	SeededCount int               `json:"seeded_count"`
	Seeded      []SeededWorkflow  `json:"seeded,omitempty"`
	Skipped     []string          `json:"skipped,omitempty"` // Template IDs already provisioned for the org
	Failed      []TemplateFailure `json:"failed,omitempty"`
}

func (r SeedResult) Summary() string {
	return fmt.Sprintf("seeded %d of %d workflows", r.SeededCount, r.Templates)
}

// Provisioner clones pack templates into organization-owned workflows.
type Provisioner struct {
	store    storage.Store
	resolver *PackResolver
	logger   Logger
	policy   LockPolicy
	now      func() time.Time
	recorder Recorder
}

func NewProvisioner(store storage.Store, resolver *PackResolver, logger Logger, opts Options) *Provisioner {
	opts = opts.withDefaults()
	return &Provisioner{
		store:    store,
		resolver: resolver,
		logger:   logger,
		policy:   opts.LockPolicy,
		now:      opts.Now,
		recorder: opts.Recorder,
	}
}

// SeedFromPack provisions one org workflow per active template of the pack.
// Templates already provisioned for the org are skipped, so repeated calls
// never duplicate or overwrite. A failing template is rolled back and
// reported without stopping the others.
func (p *Provisioner) SeedFromPack(ctx context.Context, orgID, packKey string) (SeedResult, error) {
	const op = "SeedFromPack"
	result := SeedResult{OrgID: orgID, PackKey: packKey}
	if orgID == "" {
		return result, newError(ErrInvalidArgument, op, "coaching org id is required")
	}

	templates, err := p.resolver.ResolveActiveTemplates(ctx, packKey)
	if err != nil {
		return result, err
	}
	result.Templates = len(templates)
	if len(templates) == 0 {
		p.logger.Infof("Pack '%s' has no active templates; nothing to seed for org %s", packKey, orgID)
		return result, nil
	}

	for _, tpl := range templates {
		seeded, skipped, err := p.seedTemplate(ctx, orgID, packKey, tpl)
		switch {
		case err != nil:
			p.logger.Errorf("Failed to seed template '%s' (%s) for org %s: %v", tpl.Name, tpl.ID, orgID, err)
			result.Failed = append(result.Failed, TemplateFailure{
				TemplateID: tpl.ID,
				Name:       tpl.Name,
				Err:        err,
				Message:    err.Error(),
			})
		case skipped:
			result.Skipped = append(result.Skipped, tpl.ID)
		default:
			result.SeededCount++
			result.Seeded = append(result.Seeded, seeded)
			p.recorder.WorkflowSeeded(packKey)
		}
	}
	p.logger.Infof("Pack '%s' for org %s: %s (%d skipped, %d failed)",
		packKey, orgID, result.Summary(), len(result.Skipped), len(result.Failed))
	return result, nil
}

func (p *Provisioner) seedTemplate(ctx context.Context, orgID, packKey string, tpl models.WorkflowTemplate) (seeded SeededWorkflow, skipped bool, err error) {
	const op = "SeedFromPack"
	err = withTx(ctx, p.store, p.logger, op, func(tx storage.Store) error {
		_, err := tx.FindOrgWorkflowBySource(ctx, orgID, tpl.ID)
		if err == nil {
			skipped = true
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storeError(op, err, "failed to check existing workflow for template "+tpl.ID)
		}

		now := p.now().UTC()
		templateID := tpl.ID
		wf := models.OrgWorkflow{
			ID:                   uuid.NewString(),
			CoachingOrgID:        orgID,
			SourcePackTemplateID: &templateID,
			SourcePackKey:        packKey,
			Name:                 tpl.Name,
			Description:          tpl.Description,
			WorkflowType:         tpl.WorkflowType,
			IsActive:             true,
			IsLocked:             p.policy.IsLocked(tpl.WorkflowType),
			EditableFields:       p.policy.EditableFields(tpl.WorkflowType),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := tx.SaveOrgWorkflow(ctx, wf); err != nil {
			return storeError(op, err, "failed to save org workflow for template "+tpl.ID)
		}
		if err := insertStepCopies(ctx, tx, op, wf.ID, tpl.Steps); err != nil {
			return err
		}
		seeded = SeededWorkflow{
			TemplateID: tpl.ID,
			WorkflowID: wf.ID,
			Name:       wf.Name,
			IsLocked:   wf.IsLocked,
			StepCount:  len(tpl.Steps),
		}
		return nil
	})
	if err != nil && errors.Is(err, storage.ErrDuplicate) {
		// Another seeder provisioned the same template first.
		p.logger.Infof("Template %s already provisioned for org %s", tpl.ID, orgID)
		return SeededWorkflow{}, true, nil
	}
	if skipped {
		p.logger.Infof("Skipping template '%s': already provisioned for org %s", tpl.Name, orgID)
	}
	return seeded, skipped, err
}

// insertStepCopies writes fresh org steps for the given template steps.
// Operator flags always start cleared.
func insertStepCopies(ctx context.Context, tx storage.Store, op, workflowID string, steps []models.TemplateStep) error {
	for _, step := range steps {
		assignee := step.DefaultAssignee
		if assignee == "" {
			assignee = UnassignedAssignee
		}
		orgStep := models.OrgWorkflowStep{
			ID:                 uuid.NewString(),
			OrgWorkflowID:      workflowID,
			StepOrder:          step.StepOrder,
			StepType:           step.StepType,
			Title:              step.Title,
			Description:        step.Description,
			DefaultAssignee:    assignee,
			DueOffsetDays:      step.DueOffsetDays,
			ScheduleOffsetDays: step.ScheduleOffsetDays,
		}
		if err := tx.SaveOrgWorkflowStep(ctx, orgStep); err != nil {
			return storeError(op, err, fmt.Sprintf("failed to save step %d of workflow %s", step.StepOrder, workflowID))
		}
	}
	return nil
}
