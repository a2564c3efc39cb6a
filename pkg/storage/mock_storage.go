package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/pkg/errors"
)

// memState is one consistent snapshot of every table held by the mock store.
type memState struct {
	packs         []models.Pack
	templates     []models.WorkflowTemplate
	templateSteps []models.TemplateStep
	workflows     []models.OrgWorkflow
	workflowSteps []models.OrgWorkflowStep
	engagements   []models.Engagement
	assignments   []models.Assignment
	runs          []models.Run
	runItems      []models.RunItem
	meetings      []models.Meeting
	tasks         []models.Task
	forms         []models.FormRequest
}

func (s *memState) clone() *memState {
	return &memState{
		packs:         append([]models.Pack(nil), s.packs...),
		templates:     append([]models.WorkflowTemplate(nil), s.templates...),
		templateSteps: append([]models.TemplateStep(nil), s.templateSteps...),
		workflows:     append([]models.OrgWorkflow(nil), s.workflows...),
		workflowSteps: append([]models.OrgWorkflowStep(nil), s.workflowSteps...),
		engagements:   append([]models.Engagement(nil), s.engagements...),
		assignments:   append([]models.Assignment(nil), s.assignments...),
		runs:          append([]models.Run(nil), s.runs...),
		runItems:      append([]models.RunItem(nil), s.runItems...),
		meetings:      append([]models.Meeting(nil), s.meetings...),
		tasks:         append([]models.Task(nil), s.tasks...),
		forms:         append([]models.FormRequest(nil), s.forms...),
	}
}

type mockShared struct {
	mu    sync.Mutex
	state *memState
}

// mockStore implements Store in memory. A transaction works on a private
// snapshot and records its mutations; Commit replays them against the latest
// committed state so uniqueness conflicts between concurrent transactions
// surface at commit time, as they would in a database.
type mockStore struct {
	shared *mockShared
	tx     bool
	view   *memState
	ops    []func(*memState) error
	done   bool
}

func NewMockStore() Store {
	return &mockStore{shared: &mockShared{state: &memState{}}}
}

func (m *mockStore) Begin(ctx context.Context) (Store, error) {
	if m.tx {
		return nil, errors.New("nested transactions are not supported")
	}
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	return &mockStore{shared: m.shared, tx: true, view: m.shared.state.clone()}, nil
}

func (m *mockStore) Commit() error {
	if !m.tx {
		return errors.New("cannot commit: not a transaction")
	}
	if m.done {
		return errors.New("transaction already finished")
	}
	m.done = true
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	next := m.shared.state.clone()
	for _, op := range m.ops {
		if err := op(next); err != nil {
			return err
		}
	}
	m.shared.state = next
	return nil
}

func (m *mockStore) Rollback() error {
	if !m.tx {
		return errors.New("cannot rollback: not a transaction")
	}
	if m.done {
		return errors.New("transaction already finished")
	}
	m.done = true
	m.ops = nil
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

func (m *mockStore) read(fn func(st *memState) error) error {
	if m.tx {
		return fn(m.view)
	}
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	return fn(m.shared.state)
}

func (m *mockStore) write(op func(st *memState) error) error {
	if m.tx {
		if m.done {
			return errors.New("transaction already finished")
		}
		if err := op(m.view); err != nil {
			return err
		}
		m.ops = append(m.ops, op)
		return nil
	}
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	next := m.shared.state.clone()
	if err := op(next); err != nil {
		return err
	}
	m.shared.state = next
	return nil
}

// Packs

func (m *mockStore) SavePack(ctx context.Context, p models.Pack) error {
	return m.write(func(st *memState) error {
		for _, existing := range st.packs {
			if existing.ID == p.ID || existing.Key == p.Key {
				return ErrDuplicate
			}
		}
		st.packs = append(st.packs, p)
		return nil
	})
}

func (m *mockStore) GetPackByKey(ctx context.Context, key string) (pack models.Pack, err error) {
	err = m.read(func(st *memState) error {
		for _, p := range st.packs {
			if p.Key == key {
				pack = p
				return nil
			}
		}
		return ErrNotFound
	})
	return pack, err
}

func (m *mockStore) ListPacks(ctx context.Context) (packs []models.Pack, err error) {
	err = m.read(func(st *memState) error {
		packs = append([]models.Pack{}, st.packs...)
		return nil
	})
	sort.Slice(packs, func(i, j int) bool { return packs[i].Key < packs[j].Key })
	return packs, err
}

func (m *mockStore) SaveTemplate(ctx context.Context, t models.WorkflowTemplate) error {
	t.Steps = nil
	return m.write(func(st *memState) error {
		for _, existing := range st.templates {
			if existing.ID == t.ID {
				return ErrDuplicate
			}
		}
		st.templates = append(st.templates, t)
		return nil
	})
}

func (m *mockStore) GetTemplate(ctx context.Context, id string) (tpl models.WorkflowTemplate, err error) {
	err = m.read(func(st *memState) error {
		for _, t := range st.templates {
			if t.ID == id {
				tpl = t
				return nil
			}
		}
		return ErrNotFound
	})
	return tpl, err
}

func (m *mockStore) ListTemplates(ctx context.Context, packID string, status models.TemplateStatus) (templates []models.WorkflowTemplate, err error) {
	err = m.read(func(st *memState) error {
		for _, t := range st.templates {
			if t.PackID == packID && (status == "" || t.Status == status) {
				templates = append(templates, t)
			}
		}
		return nil
	})
	sort.SliceStable(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, err
}

func (m *mockStore) SaveTemplateStep(ctx context.Context, s models.TemplateStep) error {
	return m.write(func(st *memState) error {
		for _, existing := range st.templateSteps {
			if existing.ID == s.ID {
				return ErrDuplicate
			}
		}
		st.templateSteps = append(st.templateSteps, s)
		return nil
	})
}

func (m *mockStore) ListTemplateSteps(ctx context.Context, templateID string) (steps []models.TemplateStep, err error) {
	err = m.read(func(st *memState) error {
		for _, s := range st.templateSteps {
			if s.TemplateID == templateID {
				steps = append(steps, s)
			}
		}
		return nil
	})
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, err
}

// Org workflows

func (m *mockStore) SaveOrgWorkflow(ctx context.Context, w models.OrgWorkflow) error {
	w.Steps = nil
	return m.write(func(st *memState) error {
		for _, existing := range st.workflows {
			if existing.ID == w.ID {
				return ErrDuplicate
			}
			if w.SourcePackTemplateID != nil && existing.SourcePackTemplateID != nil &&
				existing.CoachingOrgID == w.CoachingOrgID && *existing.SourcePackTemplateID == *w.SourcePackTemplateID {
				return ErrDuplicate
			}
		}
		st.workflows = append(st.workflows, w)
		return nil
	})
}

func (m *mockStore) GetOrgWorkflow(ctx context.Context, id string) (wf models.OrgWorkflow, err error) {
	err = m.read(func(st *memState) error {
		for _, w := range st.workflows {
			if w.ID == id {
				wf = w
				return nil
			}
		}
		return ErrNotFound
	})
	return wf, err
}

func (m *mockStore) FindOrgWorkflowBySource(ctx context.Context, orgID, templateID string) (wf models.OrgWorkflow, err error) {
	err = m.read(func(st *memState) error {
		for _, w := range st.workflows {
			if w.CoachingOrgID == orgID && w.SourcePackTemplateID != nil && *w.SourcePackTemplateID == templateID {
				wf = w
				return nil
			}
		}
		return ErrNotFound
	})
	return wf, err
}

func (m *mockStore) ListOrgWorkflows(ctx context.Context, orgID string) (workflows []models.OrgWorkflow, err error) {
	err = m.read(func(st *memState) error {
		for _, w := range st.workflows {
			if w.CoachingOrgID == orgID {
				workflows = append(workflows, w)
			}
		}
		return nil
	})
	sort.SliceStable(workflows, func(i, j int) bool { return workflows[i].Name < workflows[j].Name })
	return workflows, err
}

func (m *mockStore) UpdateOrgWorkflow(ctx context.Context, w models.OrgWorkflow) error {
	w.Steps = nil
	return m.write(func(st *memState) error {
		for i, existing := range st.workflows {
			if existing.ID == w.ID {
				st.workflows[i] = w
				return nil
			}
		}
		return ErrNotFound
	})
}

func (m *mockStore) SaveOrgWorkflowStep(ctx context.Context, s models.OrgWorkflowStep) error {
	return m.write(func(st *memState) error {
		found := false
		for _, w := range st.workflows {
			if w.ID == s.OrgWorkflowID {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrapf(ErrNotFound, "org workflow %s", s.OrgWorkflowID)
		}
		for _, existing := range st.workflowSteps {
			if existing.ID == s.ID {
				return ErrDuplicate
			}
		}
		st.workflowSteps = append(st.workflowSteps, s)
		return nil
	})
}

func (m *mockStore) GetOrgWorkflowStep(ctx context.Context, id string) (step models.OrgWorkflowStep, err error) {
	err = m.read(func(st *memState) error {
		for _, s := range st.workflowSteps {
			if s.ID == id {
				step = s
				return nil
			}
		}
		return ErrNotFound
	})
	return step, err
}

func (m *mockStore) ListOrgWorkflowSteps(ctx context.Context, workflowID string) (steps []models.OrgWorkflowStep, err error) {
	err = m.read(func(st *memState) error {
		for _, s := range st.workflowSteps {
			if s.OrgWorkflowID == workflowID {
				steps = append(steps, s)
			}
		}
		return nil
	})
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, err
}

func (m *mockStore) UpdateOrgWorkflowStep(ctx context.Context, s models.OrgWorkflowStep) error {
	return m.write(func(st *memState) error {
		for i, existing := range st.workflowSteps {
			if existing.ID == s.ID {
				st.workflowSteps[i] = s
				return nil
			}
		}
		return ErrNotFound
	})
}

func (m *mockStore) UpdateStepOrder(ctx context.Context, workflowID, stepID string, order int) error {
	return m.write(func(st *memState) error {
		for i, existing := range st.workflowSteps {
			if existing.ID == stepID && existing.OrgWorkflowID == workflowID {
				st.workflowSteps[i].StepOrder = order
				return nil
			}
		}
		return ErrNotFound
	})
}

func (m *mockStore) DeleteOrgWorkflowSteps(ctx context.Context, workflowID string) (deleted int64, err error) {
	err = m.write(func(st *memState) error {
		kept := st.workflowSteps[:0:0]
		var n int64
		for _, s := range st.workflowSteps {
			if s.OrgWorkflowID == workflowID {
				n++
				continue
			}
			kept = append(kept, s)
		}
		st.workflowSteps = kept
		deleted = n
		return nil
	})
	return deleted, err
}

// Engagements

func (m *mockStore) SaveEngagement(ctx context.Context, e models.Engagement) error {
	return m.write(func(st *memState) error {
		for _, existing := range st.engagements {
			if existing.ID == e.ID {
				return ErrDuplicate
			}
		}
		st.engagements = append(st.engagements, e)
		return nil
	})
}

func (m *mockStore) GetEngagement(ctx context.Context, id string) (eng models.Engagement, err error) {
	err = m.read(func(st *memState) error {
		for _, e := range st.engagements {
			if e.ID == id {
				eng = e
				return nil
			}
		}
		return ErrNotFound
	})
	return eng, err
}

// Assignments

func (m *mockStore) SaveAssignment(ctx context.Context, a models.Assignment) error {
	return m.write(func(st *memState) error {
		for _, existing := range st.assignments {
			if existing.ID == a.ID {
				return ErrDuplicate
			}
		}
		st.assignments = append(st.assignments, a)
		return nil
	})
}

func (m *mockStore) GetAssignment(ctx context.Context, id string) (assignment models.Assignment, err error) {
	err = m.read(func(st *memState) error {
		for _, a := range st.assignments {
			if a.ID == id {
				assignment = a
				return nil
			}
		}
		return ErrNotFound
	})
	return assignment, err
}

func (m *mockStore) ListAssignments(ctx context.Context, engagementID string) (assignments []models.Assignment, err error) {
	err = m.read(func(st *memState) error {
		for _, a := range st.assignments {
			if a.CoachingEngagementID == engagementID {
				assignments = append(assignments, a)
			}
		}
		return nil
	})
	return assignments, err
}

func (m *mockStore) ListAssignmentsByStatus(ctx context.Context, status models.AssignmentStatus) (assignments []models.Assignment, err error) {
	err = m.read(func(st *memState) error {
		for _, a := range st.assignments {
			if a.Status == status {
				assignments = append(assignments, a)
			}
		}
		return nil
	})
	return assignments, err
}

func (m *mockStore) UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) error {
	return m.write(func(st *memState) error {
		for i, a := range st.assignments {
			if a.ID == id {
				st.assignments[i].Status = status
				return nil
			}
		}
		return ErrNotFound
	})
}

func (m *mockStore) UpdateAssignmentRunTimes(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time) error {
	return m.write(func(st *memState) error {
		for i, a := range st.assignments {
			if a.ID == id {
				last := lastRunAt
				st.assignments[i].LastRunAt = &last
				st.assignments[i].NextRunAt = nil
				if nextRunAt != nil {
					next := *nextRunAt
					st.assignments[i].NextRunAt = &next
				}
				return nil
			}
		}
		return ErrNotFound
	})
}

// Runs

func (m *mockStore) SaveRun(ctx context.Context, r models.Run) error {
	r.Items = nil
	return m.write(func(st *memState) error {
		for _, existing := range st.runs {
			if existing.ID == r.ID {
				return ErrDuplicate
			}
		}
		st.runs = append(st.runs, r)
		return nil
	})
}

func (m *mockStore) GetRun(ctx context.Context, id string) (run models.Run, err error) {
	err = m.read(func(st *memState) error {
		for _, r := range st.runs {
			if r.ID == id {
				run = r
				return nil
			}
		}
		return ErrNotFound
	})
	return run, err
}

func (m *mockStore) ListRuns(ctx context.Context, assignmentID string) (runs []models.Run, err error) {
	err = m.read(func(st *memState) error {
		for _, r := range st.runs {
			if r.AssignmentID == assignmentID {
				runs = append(runs, r)
			}
		}
		return nil
	})
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].ScheduledRunAt.After(runs[j].ScheduledRunAt) })
	return runs, err
}

func (m *mockStore) SaveRunItem(ctx context.Context, item models.RunItem) error {
	return m.write(func(st *memState) error {
		found := false
		for _, r := range st.runs {
			if r.ID == item.RunID {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrapf(ErrNotFound, "run %s", item.RunID)
		}
		st.runItems = append(st.runItems, item)
		return nil
	})
}

func (m *mockStore) ListRunItems(ctx context.Context, runID string) (items []models.RunItem, err error) {
	err = m.read(func(st *memState) error {
		for _, it := range st.runItems {
			if it.RunID == runID {
				items = append(items, it)
			}
		}
		return nil
	})
	return items, err
}

// Sinks

func (m *mockStore) CreateMeeting(ctx context.Context, meeting models.Meeting) (string, error) {
	if meeting.ID == "" {
		meeting.ID = uuid.NewString()
	}
	err := m.write(func(st *memState) error {
		st.meetings = append(st.meetings, meeting)
		return nil
	})
	return meeting.ID, err
}

func (m *mockStore) CreateTask(ctx context.Context, task models.Task) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	err := m.write(func(st *memState) error {
		st.tasks = append(st.tasks, task)
		return nil
	})
	return task.ID, err
}

func (m *mockStore) CreateFormRequest(ctx context.Context, form models.FormRequest) (string, error) {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	err := m.write(func(st *memState) error {
		st.forms = append(st.forms, form)
		return nil
	})
	return form.ID, err
}

func (m *mockStore) DiscardEntity(ctx context.Context, table, id string) error {
	return m.write(func(st *memState) error {
		switch table {
		case models.MeetingsTable:
			for i, e := range st.meetings {
				if e.ID == id {
					st.meetings = append(st.meetings[:i:i], st.meetings[i+1:]...)
					return nil
				}
			}
		case models.TasksTable:
			for i, e := range st.tasks {
				if e.ID == id {
					st.tasks = append(st.tasks[:i:i], st.tasks[i+1:]...)
					return nil
				}
			}
		case models.FormRequestsTable:
			for i, e := range st.forms {
				if e.ID == id {
					st.forms = append(st.forms[:i:i], st.forms[i+1:]...)
					return nil
				}
			}
		default:
			return errors.Errorf("unknown entity table %q", table)
		}
		return ErrNotFound
	})
}

// MockEntities is a read-only view of the sink tables, used by tests and examples.
type MockEntities struct {
	Meetings     []models.Meeting
	Tasks        []models.Task
	FormRequests []models.FormRequest
}

// Entities returns the sink records held by a store created with NewMockStore.
func Entities(store Store) MockEntities {
	m, ok := store.(*mockStore)
	if !ok {
		return MockEntities{}
	}
	var out MockEntities
	_ = m.read(func(st *memState) error {
		out.Meetings = append(out.Meetings, st.meetings...)
		out.Tasks = append(out.Tasks, st.tasks...)
		out.FormRequests = append(out.FormRequests, st.forms...)
		return nil
	})
	return out
}
