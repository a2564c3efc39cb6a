package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ignatij/coachflow/internal/catalog"
	internal_http "github.com/ignatij/coachflow/internal/http"
	"github.com/ignatij/coachflow/internal/log"
	"github.com/ignatij/coachflow/internal/metrics"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/service"
	"github.com/ignatij/coachflow/pkg/storage"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	org          = "org-1"
	companyEng   = "eng-company"
	soloEng      = "eng-solo"
	companyID    = "company-1"
	lifecycleTyp = "engagement_lifecycle"
)

type fixture struct {
	e     *echo.Echo
	store storage.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMockStore()
	defs, err := catalog.Builtin()
	require.NoError(t, err)
	_, err = catalog.Install(ctx, store, log.GetLogger(), defs...)
	require.NoError(t, err)
	company := companyID
	require.NoError(t, store.SaveEngagement(ctx, models.Engagement{ID: companyEng, CoachingOrgID: org, CompanyID: &company, Name: "Acme"}))
	require.NoError(t, store.SaveEngagement(ctx, models.Engagement{ID: soloEng, CoachingOrgID: org, Name: "Solo founder"}))

	recorder := metrics.NewRecorder()
	svc := service.NewService(store, log.GetLogger(), service.Options{Recorder: recorder})
	return fixture{e: internal_http.NewServer(svc, recorder.Handler()), store: store}
}

func (f fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (f fixture) seed(t *testing.T, packKey string) []models.OrgWorkflow {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/orgs/"+org+"/packs/"+packKey+"/seed", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodGet, "/orgs/"+org+"/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var workflows []models.OrgWorkflow
	decode(t, rec, &workflows)
	return workflows
}

func (f fixture) template(t *testing.T, packKey, workflowType string) models.WorkflowTemplate {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/packs/"+packKey+"/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var templates []models.WorkflowTemplate
	decode(t, rec, &templates)
	for _, tpl := range templates {
		if tpl.WorkflowType == workflowType {
			return tpl
		}
	}
	t.Fatalf("pack %s has no %s template", packKey, workflowType)
	return models.WorkflowTemplate{}
}

func findWorkflow(workflows []models.OrgWorkflow, workflowType string) models.OrgWorkflow {
	for _, wf := range workflows {
		if wf.WorkflowType == workflowType {
			return wf
		}
	}
	return models.OrgWorkflow{}
}

func TestServer(t *testing.T) {
	t.Run("HealthCheck", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "coachflow server is running", rec.Body.String())
	})

	t.Run("ListPacks", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/packs", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var packs []models.Pack
		decode(t, rec, &packs)
		require.Len(t, packs, 2)
		assert.Equal(t, "eos", packs[0].Key)

		rec = f.do(t, http.MethodGet, "/packs/unknown/templates", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("SeedIsIdempotent", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/orgs/"+org+"/packs/generic/seed", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var first service.SeedResult
		decode(t, rec, &first)
		assert.Equal(t, 4, first.SeededCount)

		rec = f.do(t, http.MethodPost, "/orgs/"+org+"/packs/generic/seed", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var second service.SeedResult
		decode(t, rec, &second)
		assert.Equal(t, 0, second.SeededCount)
		assert.Len(t, second.Skipped, 4)

		rec = f.do(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `coachflow_workflows_seeded_total{pack="generic"} 4`)
	})

	t.Run("LockedWorkflowRejectsStructuralEdits", func(t *testing.T) {
		f := newFixture(t)
		workflows := f.seed(t, "generic")
		locked := findWorkflow(workflows, lifecycleTyp)
		require.True(t, locked.IsLocked)

		rec := f.do(t, http.MethodPatch, "/workflows/"+locked.ID, map[string]interface{}{"is_active": false})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = f.do(t, http.MethodPatch, "/workflows/"+locked.ID, map[string]interface{}{"name": "Our Engagement"})
		require.Equal(t, http.StatusOK, rec.Code)
		var updated models.OrgWorkflow
		decode(t, rec, &updated)
		assert.Equal(t, "Our Engagement", updated.Name)

		rec = f.do(t, http.MethodGet, "/workflows/"+locked.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var full models.OrgWorkflow
		decode(t, rec, &full)
		require.NotEmpty(t, full.Steps)
		rec = f.do(t, http.MethodPatch, "/steps/"+full.Steps[0].ID, map[string]interface{}{"is_disabled": true})
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = f.do(t, http.MethodPatch, "/workflows/"+locked.ID, map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("EditReorderAndRestore", func(t *testing.T) {
		f := newFixture(t)
		workflows := f.seed(t, "generic")
		wf := findWorkflow(workflows, "check_in")
		require.False(t, wf.IsLocked)

		rec := f.do(t, http.MethodGet, "/workflows/"+wf.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &wf)
		require.Len(t, wf.Steps, 2)
		first, second := wf.Steps[0], wf.Steps[1]

		rec = f.do(t, http.MethodPut, "/workflows/"+wf.ID+"/steps/order", map[string]interface{}{"step_ids": []string{second.ID, first.ID}})
		require.Equal(t, http.StatusOK, rec.Code)
		var steps []models.OrgWorkflowStep
		decode(t, rec, &steps)
		assert.Equal(t, second.ID, steps[0].ID)
		assert.Equal(t, 1, steps[0].StepOrder)

		rec = f.do(t, http.MethodPut, "/workflows/"+wf.ID+"/steps/order", map[string]interface{}{"step_ids": []string{"missing"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = f.do(t, http.MethodPatch, "/steps/"+first.ID, map[string]interface{}{"title": "Renamed", "due_offset_days": 9})
		require.Equal(t, http.StatusOK, rec.Code)
		var step models.OrgWorkflowStep
		decode(t, rec, &step)
		assert.Equal(t, "Renamed", step.Title)
		assert.Equal(t, 9, step.DueOffsetDays)

		rec = f.do(t, http.MethodPost, "/workflows/"+wf.ID+"/restore", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var restored models.OrgWorkflow
		decode(t, rec, &restored)
		require.Len(t, restored.Steps, 2)
		assert.Equal(t, first.Title, restored.Steps[0].Title)
		assert.Equal(t, 1, restored.Steps[0].StepOrder)
		assert.NotEqual(t, first.ID, restored.Steps[0].ID)

		rec = f.do(t, http.MethodPost, "/workflows/missing/restore", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("AssignmentsAndRuns", func(t *testing.T) {
		f := newFixture(t)
		tpl := f.template(t, "eos", "quarterly_planning")

		rec := f.do(t, http.MethodPost, "/assignments", map[string]interface{}{
			"coaching_engagement_id":        companyEng,
			"coaching_workflow_template_id": tpl.ID,
			"cadence":                       "fortnightly",
			"start_on":                      "2024-03-01",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, "/assignments", map[string]interface{}{
			"coaching_engagement_id":        companyEng,
			"coaching_workflow_template_id": tpl.ID,
			"cadence":                       "quarterly",
			"start_on":                      "not-a-date",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, "/assignments", map[string]interface{}{
			"coaching_engagement_id":        companyEng,
			"coaching_workflow_template_id": tpl.ID,
			"cadence":                       "quarterly",
			"start_on":                      "2024-03-01",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var a models.Assignment
		decode(t, rec, &a)
		assert.Equal(t, models.ActiveAssignmentStatus, a.Status)
		assert.Equal(t, service.DefaultTimezone, a.Timezone)

		rec = f.do(t, http.MethodPost, "/assignments/"+a.ID+"/runs", nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var result service.RunResult
		decode(t, rec, &result)
		assert.Len(t, result.Outcomes, len(tpl.Steps))
		assert.Equal(t, len(tpl.Steps), result.Created())

		rec = f.do(t, http.MethodGet, "/assignments/"+a.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &a)
		assert.NotNil(t, a.LastRunAt)

		rec = f.do(t, http.MethodPut, "/assignments/"+a.ID+"/status", map[string]interface{}{"status": "paused"})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = f.do(t, http.MethodPost, "/assignments/"+a.ID+"/runs", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = f.do(t, http.MethodPut, "/assignments/"+a.ID+"/status", map[string]interface{}{"status": "archived"})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = f.do(t, http.MethodPut, "/assignments/"+a.ID+"/status", map[string]interface{}{"status": "active"})
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = f.do(t, http.MethodPost, "/assignments/missing/runs", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("TaskSkippedWithoutCompany", func(t *testing.T) {
		f := newFixture(t)
		tpl := f.template(t, "eos", "quarterly_planning")
		rec := f.do(t, http.MethodPost, "/assignments", map[string]interface{}{
			"coaching_engagement_id":        soloEng,
			"coaching_workflow_template_id": tpl.ID,
			"cadence":                       "one_time",
			"start_on":                      "2024-03-01T00:00:00Z",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		var a models.Assignment
		decode(t, rec, &a)

		rec = f.do(t, http.MethodPost, "/assignments/"+a.ID+"/runs", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		var result service.RunResult
		decode(t, rec, &result)
		var skipped int
		for _, o := range result.Outcomes {
			if o.Status == service.SkippedStepOutcome {
				skipped++
				assert.Equal(t, models.TaskStepType, o.ItemType)
			}
		}
		assert.Equal(t, 1, skipped)
		assert.Empty(t, storage.Entities(f.store).Tasks)
	})

	t.Run("Tick", func(t *testing.T) {
		f := newFixture(t)
		tpl := f.template(t, "eos", "level_10_meeting")
		rec := f.do(t, http.MethodPost, "/assignments", map[string]interface{}{
			"coaching_engagement_id":        companyEng,
			"coaching_workflow_template_id": tpl.ID,
			"cadence":                       "weekly",
			"start_on":                      time.Now().UTC().AddDate(0, 0, -2).Format(time.DateOnly),
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = f.do(t, http.MethodPost, "/tick", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var report service.TickReport
		decode(t, rec, &report)
		require.Len(t, report.Results, 1)
		assert.Empty(t, report.Results[0].Error)
		assert.NotNil(t, report.Results[0].Run)

		rec = f.do(t, http.MethodPost, "/tick", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &report)
		assert.Empty(t, report.Results, "weekly assignment is not due again")
	})
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		kind error
		want int
	}{
		{service.ErrNotFound, http.StatusNotFound},
		{service.ErrInvalidState, http.StatusConflict},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrInvalidArgument, http.StatusBadRequest},
		{service.ErrSinkFailure, http.StatusBadGateway},
		{service.ErrStoreFailure, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := &service.Error{Kind: tc.kind, Op: "Test", Err: errors.New("boom")}
		assert.Equal(t, tc.want, internal_http.StatusFor(err), tc.kind.Error())
	}
	assert.Equal(t, http.StatusInternalServerError, internal_http.StatusFor(errors.New("plain")))
}

func TestParseDate(t *testing.T) {
	d, err := internal_http.ParseDate("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	d, err = internal_http.ParseDate("2024-03-01T09:30:00-05:00")
	require.NoError(t, err)
	assert.True(t, time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC).Equal(d))

	_, err = internal_http.ParseDate("03/01/2024")
	assert.Error(t, err)
}
