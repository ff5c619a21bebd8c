package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rfpflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Top-level project columns addressable by name through UpdateProjectFields.
// Everything else a caller tries to set belongs in the data bag.
var projectFieldColumns = map[string]string{
	"status":               "status",
	"client_name":          "client_name",
	"sales_rep_email":      "sales_rep_email",
	"project_lead_email":   "project_lead_email",
	"deadline":             "deadline",
	"supervisor_thread_id": "supervisor_thread_id",
	"brief_thread_id":      "brief_thread_id",
	"proposal_thread_id":   "proposal_thread_id",
	"drafting_thread_id":   "drafting_thread_id",
}

// TopLevelProjectField reports whether key maps to a fixed column rather
// than the data bag.
func TopLevelProjectField(key string) bool {
	_, ok := projectFieldColumns[key]
	return ok
}

const projectColumns = `id, client_name, sales_rep_email, project_lead_email, status, deadline, last_email_at,
supervisor_thread_id, brief_thread_id, proposal_thread_id, drafting_thread_id, data, created_at, updated_at`

func scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var lead, deadline, lastEmail, supervisor, brief, proposal, drafting sql.NullString
	var data string
	err := scan(&p.ID, &p.ClientName, &p.SalesRepEmail, &lead, &p.Status, &deadline, &lastEmail,
		&supervisor, &brief, &proposal, &drafting, &data, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if lead.Valid {
		p.ProjectLeadEmail = &lead.String
	}
	if deadline.Valid {
		p.Deadline = &deadline.String
	}
	if lastEmail.Valid {
		p.LastEmailAt = &lastEmail.String
	}
	if supervisor.Valid {
		p.SupervisorThread = &supervisor.String
	}
	if brief.Valid {
		p.BriefThread = &brief.String
	}
	if proposal.Valid {
		p.ProposalThread = &proposal.String
	}
	if drafting.Valid {
		p.DraftingThread = &drafting.String
	}
	if data != "" {
		if err := json.Unmarshal([]byte(data), &p.Data); err != nil {
			return p, fmt.Errorf("project %s data: %w", p.ID, err)
		}
	}
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	data, err := json.Marshal(p.Data)
	if err != nil {
		return err
	}
	if p.Data == nil {
		data = []byte(`{}`)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO projects(id, client_name, sales_rep_email, project_lead_email, status, deadline, last_email_at,
supervisor_thread_id, brief_thread_id, proposal_thread_id, drafting_thread_id, data, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ClientName, p.SalesRepEmail, nullableStringPtr(p.ProjectLeadEmail), p.Status,
		nullableStringPtr(p.Deadline), nullableStringPtr(p.LastEmailAt),
		nullableStringPtr(p.SupervisorThread), nullableStringPtr(p.BriefThread),
		nullableStringPtr(p.ProposalThread), nullableStringPtr(p.DraftingThread),
		string(data), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

// ListActiveProjects returns projects outside the inactive statuses,
// newest-created first.
func (r Repo) ListActiveProjects(ctx context.Context) ([]domain.Project, error) {
	placeholders := strings.TrimRight(strings.Repeat("?,", len(domain.InactiveStatuses)), ",")
	args := make([]any, 0, len(domain.InactiveStatuses))
	for _, s := range domain.InactiveStatuses {
		args = append(args, s)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE status NOT IN (` + placeholders + `) ORDER BY created_at DESC, id DESC`
	return r.listProjects(ctx, query, args...)
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return r.listProjects(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
}

func (r Repo) listProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectFields sets top-level columns by logical field name. Keys must
// pass TopLevelProjectField; a nil value clears the column. updated_at is
// always stamped.
func (r Repo) UpdateProjectFields(ctx context.Context, tx *sql.Tx, id string, fields map[string]any, updatedAt string) error {
	setClauses := []string{"updated_at=?"}
	args := []any{updatedAt}
	for key, value := range fields {
		col, ok := projectFieldColumns[key]
		if !ok {
			return fmt.Errorf("unknown project field %s", key)
		}
		setClauses = append(setClauses, col+"=?")
		args = append(args, value)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(setClauses, ", ")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeProjectData shallow-merges patch into the project's data bag: existing
// keys are overwritten, absent keys are kept, nothing is deleted.
func (r Repo) MergeProjectData(ctx context.Context, tx *sql.Tx, id string, patch map[string]any, updatedAt string) error {
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT data FROM projects WHERE id=?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	bag := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &bag); err != nil {
			return fmt.Errorf("project %s data: %w", id, err)
		}
	}
	for k, v := range patch {
		bag[k] = v
	}
	merged, err := json.Marshal(bag)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE projects SET data=?, updated_at=? WHERE id=?`, string(merged), updatedAt, id)
	return err
}

// TouchProjectActivity advances last_email_at, keeping it monotonically
// non-decreasing.
func (r Repo) TouchProjectActivity(ctx context.Context, id, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE projects SET last_email_at=?, updated_at=?
WHERE id=? AND (last_email_at IS NULL OR last_email_at < ?)`, ts, ts, id, ts)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the project is missing or the stamp is not newer; only the
		// former is an error.
		var exists int
		err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id=?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// FindProjectByThread resolves an email thread ID to the project owning
// it and reports which conversation it is: supervisor, brief, proposal or
// drafting.
func (r Repo) FindProjectByThread(ctx context.Context, threadID string) (domain.Project, string, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects
WHERE supervisor_thread_id=? OR brief_thread_id=? OR proposal_thread_id=? OR drafting_thread_id=?
LIMIT 1`, threadID, threadID, threadID, threadID)
	p, err := scanProject(row.Scan)
	if err != nil {
		return domain.Project{}, "", err
	}
	matches := func(v *string) bool { return v != nil && *v == threadID }
	switch {
	case matches(p.BriefThread):
		return p, "brief", nil
	case matches(p.ProposalThread):
		return p, "proposal", nil
	case matches(p.DraftingThread):
		return p, "drafting", nil
	default:
		return p, "supervisor", nil
	}
}

func (r Repo) CountProjectsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM projects GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// --- system state ---

// UpsertSystemState writes one key of the durable key/value state.
// Last-writer-wins at key granularity.
func (r Repo) UpsertSystemState(ctx context.Context, key string, value map[string]any, updatedAt string) error {
	if value == nil {
		value = map[string]any{}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO system_state(key, value, updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, string(payload), updatedAt)
	return err
}

func (r Repo) GetSystemState(ctx context.Context, key string) (domain.StateEntry, error) {
	var entry domain.StateEntry
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT key, value, updated_at FROM system_state WHERE key=?`, key).
		Scan(&entry.Key, &raw, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return entry, ErrNotFound
	}
	if err != nil {
		return entry, err
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &entry.Value); err != nil {
			return entry, fmt.Errorf("system_state %s: %w", key, err)
		}
	}
	return entry, nil
}

// --- email tracking ---

func (r Repo) InsertTrackedEmail(ctx context.Context, m domain.TrackedEmail) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO email_tracking(email_id, project_id, direction, from_email, to_email, subject, thread_id, sent_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(email_id) DO UPDATE SET thread_id=excluded.thread_id`,
		m.EmailID, nullableStringPtr(m.ProjectID), m.Direction, m.FromEmail, m.ToEmail, m.Subject,
		nullableStringPtr(m.ThreadID), m.SentAt)
	return err
}

func (r Repo) ListTrackedEmails(ctx context.Context, projectID string, limit int) ([]domain.TrackedEmail, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	query := `SELECT email_id, project_id, direction, from_email, to_email, subject, thread_id, sent_at
FROM email_tracking WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY sent_at DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackedEmail
	for rows.Next() {
		var m domain.TrackedEmail
		var projectID, threadID sql.NullString
		if err := rows.Scan(&m.EmailID, &projectID, &m.Direction, &m.FromEmail, &m.ToEmail, &m.Subject, &threadID, &m.SentAt); err != nil {
			return nil, err
		}
		if projectID.Valid {
			m.ProjectID = &projectID.String
		}
		if threadID.Valid {
			m.ThreadID = &threadID.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- events ---

// LatestEventsFrom pages the event log backwards from a cursor.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id, ts, type, project_id, entity_kind, entity_id, actor_id, payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, projectID, evtType, entityKind, entityID)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id, ts, type, project_id, entity_kind, entity_id, actor_id, payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID, optionally per project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if projectID.Valid {
			e.ProjectID = projectID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
