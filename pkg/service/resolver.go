package service

import (
	"context"

	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
)

// PackResolver loads the active templates of a pack.
type PackResolver struct {
	store  storage.Store
	logger Logger
}

func NewPackResolver(store storage.Store, logger Logger) *PackResolver {
	return &PackResolver{store: store, logger: logger}
}

// ResolveActiveTemplates returns the active templates of the pack with the
// given key, each with its steps ordered by step_order.
func (r *PackResolver) ResolveActiveTemplates(ctx context.Context, packKey string) ([]models.WorkflowTemplate, error) {
	return resolveActiveTemplates(ctx, r.store, packKey)
}

func (r *PackResolver) ListPacks(ctx context.Context) ([]models.Pack, error) {
	packs, err := r.store.ListPacks(ctx)
	if err != nil {
		return nil, storeError("ListPacks", err, "failed to list packs")
	}
	return packs, nil
}

func resolveActiveTemplates(ctx context.Context, store storage.PackStore, packKey string) ([]models.WorkflowTemplate, error) {
	const op = "ResolveActiveTemplates"
	if packKey == "" {
		return nil, newError(ErrInvalidArgument, op, "pack key is required")
	}
	pack, err := store.GetPackByKey(ctx, packKey)
	if err != nil {
		return nil, storeError(op, err, "pack "+packKey)
	}
	templates, err := store.ListTemplates(ctx, pack.ID, models.ActiveTemplateStatus)
	if err != nil {
		return nil, storeError(op, err, "failed to list templates of pack "+packKey)
	}
	for i := range templates {
		steps, err := store.ListTemplateSteps(ctx, templates[i].ID)
		if err != nil {
			return nil, storeError(op, err, "failed to list steps of template "+templates[i].ID)
		}
		templates[i].Steps = steps
	}
	return templates, nil
}

// loadTemplate returns a template of any status with its ordered steps.
func loadTemplate(ctx context.Context, store storage.PackStore, op, templateID string) (models.WorkflowTemplate, error) {
	tpl, err := store.GetTemplate(ctx, templateID)
	if err != nil {
		return models.WorkflowTemplate{}, storeError(op, err, "template "+templateID)
	}
	steps, err := store.ListTemplateSteps(ctx, templateID)
	if err != nil {
		return models.WorkflowTemplate{}, storeError(op, err, "failed to list steps of template "+templateID)
	}
	tpl.Steps = steps
	return tpl, nil
}
