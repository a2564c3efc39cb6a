package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/service"
	"github.com/ignatij/coachflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger interface for testing
type testLogger struct {
}

func newLogger(t *testing.T) service.Logger {
	return &testLogger{}
}

func (l *testLogger) Infof(format string, args ...interface{}) {
}

func (l *testLogger) Warnf(format string, args ...interface{}) {
}

func (l *testLogger) Errorf(format string, args ...interface{}) {
}

const (
	testOrg          = "org-1"
	lifecycleTplID   = "tpl-lifecycle"
	quarterlyTplID   = "tpl-quarterly"
	archivedTplID    = "tpl-archived"
	companyEngID     = "eng-company"
	soloEngID        = "eng-solo"
	testCompanyID    = "company-1"
	emptyPackKey     = "empty"
	eosPackKey       = "eos"
	lifecycleType    = "engagement_lifecycle"
	quarterlyType    = "quarterly_planning"
	fixedNowRFC3339  = "2024-03-04T15:00:00Z"
	newYorkTimezone  = "America/New_York"
	quarterlyMeeting = "Quarterly session"
	quarterlyTask    = "Prepare rocks"
	quarterlyForm    = "Pre-session survey"
)

func fixedNow(t *testing.T) time.Time {
	now, err := time.Parse(time.RFC3339, fixedNowRFC3339)
	require.NoError(t, err)
	return now
}

// newTestStore returns a mock store holding the eos and empty packs and two engagements.
func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMockStore()

	require.NoError(t, store.SavePack(ctx, models.Pack{ID: "pack-eos", Key: eosPackKey, Name: "EOS"}))
	require.NoError(t, store.SavePack(ctx, models.Pack{ID: "pack-empty", Key: emptyPackKey, Name: "Empty"}))

	templates := []models.WorkflowTemplate{
		{ID: lifecycleTplID, PackID: "pack-eos", WorkflowType: lifecycleType, Name: "Engagement Lifecycle",
			Description: "From signed agreement to graduation", Status: models.ActiveTemplateStatus},
		{ID: quarterlyTplID, PackID: "pack-eos", WorkflowType: quarterlyType, Name: "Quarterly Planning",
			Description: "Quarterly planning session", Status: models.ActiveTemplateStatus},
		{ID: archivedTplID, PackID: "pack-eos", WorkflowType: "legacy_review", Name: "Legacy Review",
			Status: models.ArchivedTemplateStatus},
	}
	for _, tpl := range templates {
		require.NoError(t, store.SaveTemplate(ctx, tpl))
	}

	steps := []models.TemplateStep{
		{ID: "ts-l3", TemplateID: lifecycleTplID, StepOrder: 3, StepType: models.FormStepType, Title: "Intake questionnaire", DueOffsetDays: 3},
		{ID: "ts-l1", TemplateID: lifecycleTplID, StepOrder: 1, StepType: models.MeetingStepType, Title: "Kickoff", DefaultAssignee: "coach"},
		{ID: "ts-l2", TemplateID: lifecycleTplID, StepOrder: 2, StepType: models.TaskStepType, Title: "Send agreement", DueOffsetDays: 2},
		{ID: "ts-q1", TemplateID: quarterlyTplID, StepOrder: 1, StepType: models.MeetingStepType, Title: quarterlyMeeting, ScheduleOffsetDays: 2},
		{ID: "ts-q2", TemplateID: quarterlyTplID, StepOrder: 2, StepType: models.TaskStepType, Title: quarterlyTask, Description: "Draft next quarter rocks", DueOffsetDays: 5},
		{ID: "ts-q3", TemplateID: quarterlyTplID, StepOrder: 3, StepType: models.FormStepType, Title: quarterlyForm, Description: "Rate the last quarter", DueOffsetDays: 1},
		{ID: "ts-a1", TemplateID: archivedTplID, StepOrder: 1, StepType: models.TaskStepType, Title: "Old review"},
	}
	for _, s := range steps {
		require.NoError(t, store.SaveTemplateStep(ctx, s))
	}

	company := testCompanyID
	require.NoError(t, store.SaveEngagement(ctx, models.Engagement{ID: companyEngID, CoachingOrgID: testOrg, CompanyID: &company, Name: "Acme"}))
	require.NoError(t, store.SaveEngagement(ctx, models.Engagement{ID: soloEngID, CoachingOrgID: testOrg, Name: "Founder coaching"}))
	return store
}

func newTestService(t *testing.T, store storage.Store, opts service.Options) *service.Service {
	if opts.Now == nil {
		now := fixedNow(t)
		opts.Now = func() time.Time { return now }
	}
	return service.NewService(store, newLogger(t), opts)
}

func workflowFor(t *testing.T, store storage.Store, templateID string) models.OrgWorkflow {
	t.Helper()
	wf, err := store.FindOrgWorkflowBySource(context.Background(), testOrg, templateID)
	require.NoError(t, err)
	return wf
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }

var errInjected = errors.New("injected failure")

// faultyStore fails selected writes. Transactions inherit the configuration.
type faultyStore struct {
	storage.Store
	failStepTitle    string
	failSink         models.StepType
	failRunItemType  models.StepType
	failSaveRun      bool
	failUpdateRunAts bool
}

func (f *faultyStore) Begin(ctx context.Context) (storage.Store, error) {
	tx, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	clone := *f
	clone.Store = tx
	return &clone, nil
}

func (f *faultyStore) SaveOrgWorkflowStep(ctx context.Context, s models.OrgWorkflowStep) error {
	if f.failStepTitle != "" && s.Title == f.failStepTitle {
		return errInjected
	}
	return f.Store.SaveOrgWorkflowStep(ctx, s)
}

func (f *faultyStore) CreateMeeting(ctx context.Context, m models.Meeting) (string, error) {
	if f.failSink == models.MeetingStepType {
		return "", errInjected
	}
	return f.Store.CreateMeeting(ctx, m)
}

func (f *faultyStore) CreateTask(ctx context.Context, task models.Task) (string, error) {
	if f.failSink == models.TaskStepType {
		return "", errInjected
	}
	return f.Store.CreateTask(ctx, task)
}

func (f *faultyStore) CreateFormRequest(ctx context.Context, form models.FormRequest) (string, error) {
	if f.failSink == models.FormStepType {
		return "", errInjected
	}
	return f.Store.CreateFormRequest(ctx, form)
}

func (f *faultyStore) SaveRunItem(ctx context.Context, item models.RunItem) error {
	if f.failRunItemType != "" && item.ItemType == f.failRunItemType {
		return errInjected
	}
	return f.Store.SaveRunItem(ctx, item)
}

func (f *faultyStore) SaveRun(ctx context.Context, r models.Run) error {
	if f.failSaveRun {
		return errInjected
	}
	return f.Store.SaveRun(ctx, r)
}

func (f *faultyStore) UpdateAssignmentRunTimes(ctx context.Context, id string, last time.Time, next *time.Time) error {
	if f.failUpdateRunAts {
		return errInjected
	}
	return f.Store.UpdateAssignmentRunTimes(ctx, id, last, next)
}

// countingRecorder collects the metrics reported by the services.
type countingRecorder struct {
	seeded map[string]int
	runs   int
	steps  map[service.StepOutcomeStatus]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{seeded: map[string]int{}, steps: map[service.StepOutcomeStatus]int{}}
}

func (r *countingRecorder) WorkflowSeeded(packKey string) { r.seeded[packKey]++ }
func (r *countingRecorder) RunGenerated()                 { r.runs++ }
func (r *countingRecorder) StepMaterialized(_ models.StepType, outcome service.StepOutcomeStatus) {
	r.steps[outcome]++
}
