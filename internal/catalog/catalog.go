// Package catalog holds the program packs shipped with coachflow and installs
// them into a store.
package catalog

import (
	"bytes"
	"context"
	"embed"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed packs/*.yaml
var builtin embed.FS

// namespace seeds the name-based ids, so every install of a pack yields the
// same pack, template and step ids.
var namespace = uuid.MustParse("5b0c7a4e-3f1d-4c2a-9e57-8f6d2b1a0c93")

type StepDef struct {
	Type               models.StepType `yaml:"type"`
	Title              string          `yaml:"title"`
	Description        string          `yaml:"description"`
	DefaultAssignee    string          `yaml:"default_assignee"`
	DueOffsetDays      int             `yaml:"due_offset_days"`
	ScheduleOffsetDays int             `yaml:"schedule_offset_days"`
}

type TemplateDef struct {
	Key          string                `yaml:"key"`
	WorkflowType string                `yaml:"workflow_type"`
	Name         string                `yaml:"name"`
	Description  string                `yaml:"description"`
	Status       models.TemplateStatus `yaml:"status"`
	Steps        []StepDef             `yaml:"steps"`
}

// PackDef is a pack as written in YAML. Step order follows list order.
type PackDef struct {
	Key       string        `yaml:"key"`
	Name      string        `yaml:"name"`
	Templates []TemplateDef `yaml:"templates"`
}

// Parse decodes and validates one pack definition.
func Parse(data []byte) (PackDef, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return PackDef{}, errors.New("catalog: pack definition is empty")
	}
	var def PackDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return PackDef{}, errors.Wrap(err, "catalog: decode pack")
	}
	return def, def.validate()
}

// LoadFile reads a pack definition from disk.
func LoadFile(path string) (PackDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PackDef{}, errors.Wrapf(err, "catalog: read %s", path)
	}
	def, err := Parse(data)
	if err != nil {
		return PackDef{}, errors.WithMessage(err, path)
	}
	return def, nil
}

// Builtin returns the embedded packs ordered by key.
func Builtin() ([]PackDef, error) {
	entries, err := builtin.ReadDir("packs")
	if err != nil {
		return nil, err
	}
	var defs []PackDef
	for _, e := range entries {
		data, err := builtin.ReadFile(path.Join("packs", e.Name()))
		if err != nil {
			return nil, err
		}
		def, err := Parse(data)
		if err != nil {
			return nil, errors.WithMessage(err, e.Name())
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })
	return defs, nil
}

func (d PackDef) validate() error {
	if d.Key == "" {
		return errors.New("catalog: pack key is required")
	}
	seen := make(map[string]bool, len(d.Templates))
	for _, t := range d.Templates {
		if t.Key == "" || t.WorkflowType == "" || t.Name == "" {
			return errors.Errorf("catalog: pack %s: template needs key, workflow_type and name", d.Key)
		}
		if seen[t.Key] {
			return errors.Errorf("catalog: pack %s: template %s defined twice", d.Key, t.Key)
		}
		seen[t.Key] = true
		switch t.Status {
		case "", models.ActiveTemplateStatus, models.ArchivedTemplateStatus:
		default:
			return errors.Errorf("catalog: pack %s: template %s has unknown status %q", d.Key, t.Key, t.Status)
		}
		for i, s := range t.Steps {
			if !s.Type.Valid() {
				return errors.Errorf("catalog: pack %s: template %s step %d has unknown type %q", d.Key, t.Key, i+1, s.Type)
			}
			if s.Title == "" {
				return errors.Errorf("catalog: pack %s: template %s step %d has no title", d.Key, t.Key, i+1)
			}
		}
	}
	return nil
}

func nameID(parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "/"))).String()
}

// Records converts the definition into store records with stable ids.
func (d PackDef) Records(createdAt time.Time) (models.Pack, []models.WorkflowTemplate) {
	pack := models.Pack{ID: nameID(d.Key), Key: d.Key, Name: d.Name, CreatedAt: createdAt}
	templates := make([]models.WorkflowTemplate, 0, len(d.Templates))
	for _, t := range d.Templates {
		status := t.Status
		if status == "" {
			status = models.ActiveTemplateStatus
		}
		tpl := models.WorkflowTemplate{
			ID:           nameID(d.Key, t.Key),
			PackID:       pack.ID,
			WorkflowType: t.WorkflowType,
			Name:         t.Name,
			Description:  t.Description,
			Status:       status,
		}
		for i, s := range t.Steps {
			tpl.Steps = append(tpl.Steps, models.TemplateStep{
				ID:                 nameID(d.Key, t.Key, strconv.Itoa(i+1)),
				TemplateID:         tpl.ID,
				StepOrder:          i + 1,
				StepType:           s.Type,
				Title:              s.Title,
				Description:        s.Description,
				DefaultAssignee:    s.DefaultAssignee,
				DueOffsetDays:      s.DueOffsetDays,
				ScheduleOffsetDays: s.ScheduleOffsetDays,
			})
		}
		templates = append(templates, tpl)
	}
	return pack, templates
}

type Logger interface {
	Infof(format string, args ...interface{})
}

// Install writes every pack whose key is not in the store yet. Each pack is
// written in its own transaction; installed keys are returned.
func Install(ctx context.Context, store storage.Store, logger Logger, defs ...PackDef) ([]string, error) {
	var installed []string
	for _, def := range defs {
		if _, err := store.GetPackByKey(ctx, def.Key); err == nil {
			logger.Infof("Pack '%s' already installed", def.Key)
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return installed, errors.Wrapf(err, "failed to look up pack %s", def.Key)
		}
		if err := installPack(ctx, store, def); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				logger.Infof("Pack '%s' installed concurrently", def.Key)
				continue
			}
			return installed, errors.Wrapf(err, "failed to install pack %s", def.Key)
		}
		logger.Infof("Installed pack '%s' with %d templates", def.Key, len(def.Templates))
		installed = append(installed, def.Key)
	}
	return installed, nil
}

func installPack(ctx context.Context, store storage.Store, def PackDef) (err error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	pack, templates := def.Records(time.Now().UTC())
	if err := tx.SavePack(ctx, pack); err != nil {
		return err
	}
	for _, tpl := range templates {
		if err := tx.SaveTemplate(ctx, tpl); err != nil {
			return err
		}
		for _, step := range tpl.Steps {
			if err := tx.SaveTemplateStep(ctx, step); err != nil {
				return err
			}
		}
	}
	return nil
}
