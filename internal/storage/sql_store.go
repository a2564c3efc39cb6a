package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	PostgresDriver = "postgres"
	SQLiteDriver   = "sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

func init() {
	sqlx.BindDriver(SQLiteDriver, sqlx.QUESTION)
}

type DBInterface interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// SQLStore implements storage.Store over Postgres or SQLite. Queries are
// written with ? placeholders and rebound for the driver.
type SQLStore struct {
	db     DBInterface
	driver string
}

var _ storage.Store = (*SQLStore)(nil)
var _ storage.EntityDiscarder = (*SQLStore)(nil)

func NewPostgresStore(connStr string) (*SQLStore, error) {
	db, err := sqlx.Open(PostgresDriver, connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db, driver: PostgresDriver}, nil
}

// NewSQLiteStore opens a SQLite database and applies the embedded schema.
// A ":memory:" database is pinned to a single connection so every query
// sees the same data.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(SQLiteDriver, sqliteDSN(dsn))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLStore{db: db, driver: SQLiteDriver}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init sqlite schema")
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_time_format=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite&_pragma=busy_timeout(5000)"
}

func (s *SQLStore) initSchema() error {
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) Begin(ctx context.Context) (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &SQLStore{db: tx, driver: s.driver}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *SQLStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return mapError(tx.Commit())
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *SQLStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *SQLStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func (s *SQLStore) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return mapError(s.db.GetContext(ctx, dest, s.db.Rebind(query), args...))
}

func (s *SQLStore) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return mapError(s.db.SelectContext(ctx, dest, s.db.Rebind(query), args...))
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return res, mapError(err)
}

// execOne runs an update that must touch exactly one row.
func (s *SQLStore) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// mapError translates driver errors into the storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return errors.Wrap(storage.ErrDuplicate, pqErr.Message)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")) {
			return errors.Wrap(storage.ErrDuplicate, liteErr.Error())
		}
	}
	return err
}

// Packs

func (s *SQLStore) SavePack(ctx context.Context, p models.Pack) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, "INSERT INTO coaching_packs (id, key, name, created_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Key, p.Name, p.CreatedAt)
	return err
}

func (s *SQLStore) GetPackByKey(ctx context.Context, key string) (models.Pack, error) {
	var p models.Pack
	err := s.get(ctx, &p, "SELECT * FROM coaching_packs WHERE key = ?", key)
	return p, err
}

func (s *SQLStore) ListPacks(ctx context.Context) ([]models.Pack, error) {
	packs := []models.Pack{}
	err := s.selectAll(ctx, &packs, "SELECT * FROM coaching_packs ORDER BY key")
	return packs, err
}

func (s *SQLStore) SaveTemplate(ctx context.Context, t models.WorkflowTemplate) error {
	_, err := s.exec(ctx, `INSERT INTO coaching_workflow_templates (id, pack_id, workflow_type, name, description, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.PackID, t.WorkflowType, t.Name, t.Description, t.Status)
	return err
}

func (s *SQLStore) GetTemplate(ctx context.Context, id string) (models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	err := s.get(ctx, &t, "SELECT * FROM coaching_workflow_templates WHERE id = ?", id)
	return t, err
}

func (s *SQLStore) ListTemplates(ctx context.Context, packID string, status models.TemplateStatus) ([]models.WorkflowTemplate, error) {
	templates := []models.WorkflowTemplate{}
	if status == "" {
		err := s.selectAll(ctx, &templates, "SELECT * FROM coaching_workflow_templates WHERE pack_id = ? ORDER BY name", packID)
		return templates, err
	}
	err := s.selectAll(ctx, &templates,
		"SELECT * FROM coaching_workflow_templates WHERE pack_id = ? AND status = ? ORDER BY name", packID, status)
	return templates, err
}

func (s *SQLStore) SaveTemplateStep(ctx context.Context, st models.TemplateStep) error {
	_, err := s.exec(ctx, `INSERT INTO coaching_workflow_template_steps
		(id, template_id, step_order, step_type, title, description, default_assignee, due_offset_days, schedule_offset_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.TemplateID, st.StepOrder, st.StepType, st.Title, st.Description, st.DefaultAssignee,
		st.DueOffsetDays, st.ScheduleOffsetDays)
	return err
}

func (s *SQLStore) ListTemplateSteps(ctx context.Context, templateID string) ([]models.TemplateStep, error) {
	steps := []models.TemplateStep{}
	err := s.selectAll(ctx, &steps,
		"SELECT * FROM coaching_workflow_template_steps WHERE template_id = ? ORDER BY step_order, id", templateID)
	return steps, err
}

// Org workflows

func (s *SQLStore) SaveOrgWorkflow(ctx context.Context, w models.OrgWorkflow) error {
	_, err := s.exec(ctx, `INSERT INTO coaching_org_workflows
		(id, coaching_org_id, source_pack_template_id, source_pack_key, name, description, workflow_type,
		 is_active, is_locked, editable_fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.CoachingOrgID, w.SourcePackTemplateID, w.SourcePackKey, w.Name, w.Description, w.WorkflowType,
		w.IsActive, w.IsLocked, w.EditableFields, w.CreatedAt, w.UpdatedAt)
	return err
}

func (s *SQLStore) GetOrgWorkflow(ctx context.Context, id string) (models.OrgWorkflow, error) {
	var w models.OrgWorkflow
	err := s.get(ctx, &w, "SELECT * FROM coaching_org_workflows WHERE id = ?", id)
	return w, err
}

func (s *SQLStore) FindOrgWorkflowBySource(ctx context.Context, orgID, templateID string) (models.OrgWorkflow, error) {
	var w models.OrgWorkflow
	err := s.get(ctx, &w,
		"SELECT * FROM coaching_org_workflows WHERE coaching_org_id = ? AND source_pack_template_id = ?", orgID, templateID)
	return w, err
}

func (s *SQLStore) ListOrgWorkflows(ctx context.Context, orgID string) ([]models.OrgWorkflow, error) {
	workflows := []models.OrgWorkflow{}
	err := s.selectAll(ctx, &workflows, "SELECT * FROM coaching_org_workflows WHERE coaching_org_id = ? ORDER BY name", orgID)
	return workflows, err
}

func (s *SQLStore) UpdateOrgWorkflow(ctx context.Context, w models.OrgWorkflow) error {
	return s.execOne(ctx, `UPDATE coaching_org_workflows
		SET name = ?, description = ?, is_active = ?, is_locked = ?, editable_fields = ?, updated_at = ?
		WHERE id = ?`,
		w.Name, w.Description, w.IsActive, w.IsLocked, w.EditableFields, w.UpdatedAt, w.ID)
}

func (s *SQLStore) SaveOrgWorkflowStep(ctx context.Context, st models.OrgWorkflowStep) error {
	_, err := s.exec(ctx, `INSERT INTO coaching_org_workflow_steps
		(id, org_workflow_id, step_order, step_type, title, description, default_assignee, due_offset_days,
		 schedule_offset_days, cadence_days, is_optional, is_disabled, attached_form_template_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.OrgWorkflowID, st.StepOrder, st.StepType, st.Title, st.Description, st.DefaultAssignee,
		st.DueOffsetDays, st.ScheduleOffsetDays, st.CadenceDays, st.IsOptional, st.IsDisabled, st.AttachedFormTemplateKey)
	return err
}

func (s *SQLStore) GetOrgWorkflowStep(ctx context.Context, id string) (models.OrgWorkflowStep, error) {
	var st models.OrgWorkflowStep
	err := s.get(ctx, &st, "SELECT * FROM coaching_org_workflow_steps WHERE id = ?", id)
	return st, err
}

func (s *SQLStore) ListOrgWorkflowSteps(ctx context.Context, workflowID string) ([]models.OrgWorkflowStep, error) {
	steps := []models.OrgWorkflowStep{}
	err := s.selectAll(ctx, &steps,
		"SELECT * FROM coaching_org_workflow_steps WHERE org_workflow_id = ? ORDER BY step_order, id", workflowID)
	return steps, err
}

func (s *SQLStore) UpdateOrgWorkflowStep(ctx context.Context, st models.OrgWorkflowStep) error {
	return s.execOne(ctx, `UPDATE coaching_org_workflow_steps
		SET step_order = ?, title = ?, description = ?, default_assignee = ?, due_offset_days = ?,
		    schedule_offset_days = ?, cadence_days = ?, is_optional = ?, is_disabled = ?, attached_form_template_key = ?
		WHERE id = ?`,
		st.StepOrder, st.Title, st.Description, st.DefaultAssignee, st.DueOffsetDays,
		st.ScheduleOffsetDays, st.CadenceDays, st.IsOptional, st.IsDisabled, st.AttachedFormTemplateKey, st.ID)
}

func (s *SQLStore) UpdateStepOrder(ctx context.Context, workflowID, stepID string, order int) error {
	return s.execOne(ctx, "UPDATE coaching_org_workflow_steps SET step_order = ? WHERE id = ? AND org_workflow_id = ?",
		order, stepID, workflowID)
}

func (s *SQLStore) DeleteOrgWorkflowSteps(ctx context.Context, workflowID string) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM coaching_org_workflow_steps WHERE org_workflow_id = ?", workflowID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Engagements

func (s *SQLStore) SaveEngagement(ctx context.Context, e models.Engagement) error {
	_, err := s.exec(ctx, "INSERT INTO coaching_engagements (id, coaching_org_id, company_id, name) VALUES (?, ?, ?, ?)",
		e.ID, e.CoachingOrgID, e.CompanyID, e.Name)
	return err
}

func (s *SQLStore) GetEngagement(ctx context.Context, id string) (models.Engagement, error) {
	var e models.Engagement
	err := s.get(ctx, &e, "SELECT * FROM coaching_engagements WHERE id = ?", id)
	return e, err
}

// Assignments

func (s *SQLStore) SaveAssignment(ctx context.Context, a models.Assignment) error {
	_, err := s.exec(ctx, `INSERT INTO coaching_workflow_assignments
		(id, coaching_engagement_id, coaching_workflow_template_id, name_override, status, cadence, start_on,
		 timezone, last_run_at, next_run_at, created_by_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CoachingEngagementID, a.CoachingWorkflowTemplateID, a.NameOverride, a.Status, a.Cadence, a.StartOn,
		a.Timezone, a.LastRunAt, a.NextRunAt, a.CreatedByUserID, a.CreatedAt)
	return err
}

func (s *SQLStore) GetAssignment(ctx context.Context, id string) (models.Assignment, error) {
	var a models.Assignment
	err := s.get(ctx, &a, "SELECT * FROM coaching_workflow_assignments WHERE id = ?", id)
	return a, err
}

func (s *SQLStore) ListAssignments(ctx context.Context, engagementID string) ([]models.Assignment, error) {
	assignments := []models.Assignment{}
	err := s.selectAll(ctx, &assignments,
		"SELECT * FROM coaching_workflow_assignments WHERE coaching_engagement_id = ? ORDER BY created_at, id", engagementID)
	return assignments, err
}

func (s *SQLStore) ListAssignmentsByStatus(ctx context.Context, status models.AssignmentStatus) ([]models.Assignment, error) {
	assignments := []models.Assignment{}
	err := s.selectAll(ctx, &assignments,
		"SELECT * FROM coaching_workflow_assignments WHERE status = ? ORDER BY created_at, id", status)
	return assignments, err
}

func (s *SQLStore) UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) error {
	return s.execOne(ctx, "UPDATE coaching_workflow_assignments SET status = ? WHERE id = ?", status, id)
}

func (s *SQLStore) UpdateAssignmentRunTimes(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time) error {
	return s.execOne(ctx, "UPDATE coaching_workflow_assignments SET last_run_at = ?, next_run_at = ? WHERE id = ?",
		lastRunAt, nextRunAt, id)
}

// Runs

func (s *SQLStore) SaveRun(ctx context.Context, r models.Run) error {
	_, err := s.exec(ctx, `INSERT INTO coaching_workflow_runs
		(id, coaching_workflow_assignment_id, run_for_period_start, run_for_period_end, scheduled_run_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AssignmentID, r.RunForPeriodStart, r.RunForPeriodEnd, r.ScheduledRunAt, r.Status, r.CreatedAt)
	return err
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (models.Run, error) {
	var r models.Run
	err := s.get(ctx, &r, "SELECT * FROM coaching_workflow_runs WHERE id = ?", id)
	return r, err
}

func (s *SQLStore) ListRuns(ctx context.Context, assignmentID string) ([]models.Run, error) {
	runs := []models.Run{}
	err := s.selectAll(ctx, &runs,
		"SELECT * FROM coaching_workflow_runs WHERE coaching_workflow_assignment_id = ? ORDER BY scheduled_run_at DESC", assignmentID)
	return runs, err
}

func (s *SQLStore) SaveRunItem(ctx context.Context, item models.RunItem) error {
	_, err := s.exec(ctx, `INSERT INTO coaching_workflow_run_items
		(id, run_id, step_id, item_type, created_entity_table, created_entity_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.RunID, item.StepID, item.ItemType, item.CreatedEntityTable, item.CreatedEntityID, item.Status, item.CreatedAt)
	return err
}

func (s *SQLStore) ListRunItems(ctx context.Context, runID string) ([]models.RunItem, error) {
	items := []models.RunItem{}
	err := s.selectAll(ctx, &items, "SELECT * FROM coaching_workflow_run_items WHERE run_id = ? ORDER BY created_at, id", runID)
	return items, err
}

// Sinks

func (s *SQLStore) CreateMeeting(ctx context.Context, m models.Meeting) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `INSERT INTO coaching_meetings (id, coaching_engagement_id, title, scheduled_for, status)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.EngagementID, m.Title, m.ScheduledFor, m.Status)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (s *SQLStore) CreateTask(ctx context.Context, t models.Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `INSERT INTO tasks (id, company_id, coaching_engagement_id, title, description, due_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CompanyID, t.EngagementID, t.Title, t.Description, t.DueDate, t.Status)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (s *SQLStore) CreateFormRequest(ctx context.Context, f models.FormRequest) (string, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `INSERT INTO coaching_form_requests (id, coaching_engagement_id, title, description, due_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.EngagementID, f.Title, f.Description, f.DueAt, f.Status)
	if err != nil {
		return "", err
	}
	return f.ID, nil
}

var entityTables = map[string]bool{
	models.MeetingsTable:     true,
	models.TasksTable:        true,
	models.FormRequestsTable: true,
}

func (s *SQLStore) DiscardEntity(ctx context.Context, table, id string) error {
	if !entityTables[table] {
		return errors.Errorf("unknown entity table %q", table)
	}
	return s.execOne(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
}

// Entity readers used by operator surfaces and tests.

func (s *SQLStore) ListMeetings(ctx context.Context, engagementID string) ([]models.Meeting, error) {
	meetings := []models.Meeting{}
	err := s.selectAll(ctx, &meetings, "SELECT * FROM coaching_meetings WHERE coaching_engagement_id = ? ORDER BY scheduled_for", engagementID)
	return meetings, err
}

func (s *SQLStore) ListTasks(ctx context.Context, engagementID string) ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.selectAll(ctx, &tasks, "SELECT * FROM tasks WHERE coaching_engagement_id = ? ORDER BY due_date", engagementID)
	return tasks, err
}

func (s *SQLStore) ListFormRequests(ctx context.Context, engagementID string) ([]models.FormRequest, error) {
	forms := []models.FormRequest{}
	err := s.selectAll(ctx, &forms, "SELECT * FROM coaching_form_requests WHERE coaching_engagement_id = ? ORDER BY due_at", engagementID)
	return forms, err
}
