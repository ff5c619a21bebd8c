// Package lifecycle owns the project record and its status machine. The
// status set is closed: every write goes through the manager, which
// validates the value, stamps timestamps, and appends to the audit log in
// the same transaction as the row change.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"rfpflow/internal/domain"
	"rfpflow/internal/events"
	"rfpflow/internal/repo"
)

// ErrInvalidStatus is returned when a caller names a status outside the
// closed set.
var ErrInvalidStatus = errors.New("invalid status")

type Manager struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m Manager) stamp() string {
	return m.now().UTC().Format(time.RFC3339)
}

// CreateInput carries the fields known when an RFP first arrives.
type CreateInput struct {
	ClientName       string
	SalesRepEmail    string
	ProjectLeadEmail string
	Deadline         string
	RFPContent       string
	SupervisorThread string
	ActorID          string
}

// Create opens a new project in brief_writing. The raw RFP text goes into
// the data bag under rfp_content so later stages can reread it.
func (m Manager) Create(ctx context.Context, in CreateInput) (domain.Project, error) {
	if strings.TrimSpace(in.ClientName) == "" {
		return domain.Project{}, errors.New("client_name required")
	}
	if strings.TrimSpace(in.SalesRepEmail) == "" {
		return domain.Project{}, errors.New("sales_rep_email required")
	}
	ts := m.stamp()
	p := domain.Project{
		ID:            uuid.NewString(),
		ClientName:    in.ClientName,
		SalesRepEmail: in.SalesRepEmail,
		Status:        domain.StatusBriefWriting,
		Data:          map[string]any{},
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if in.ProjectLeadEmail != "" {
		p.ProjectLeadEmail = &in.ProjectLeadEmail
	}
	if in.Deadline != "" {
		p.Deadline = &in.Deadline
	}
	if in.SupervisorThread != "" {
		p.SupervisorThread = &in.SupervisorThread
	}
	if in.RFPContent != "" {
		p.Data["rfp_content"] = in.RFPContent
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := m.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	err = m.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, actor(in.ActorID), events.EventPayload{
		"client_name": p.ClientName,
		"status":      p.Status,
	})
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (m Manager) Get(ctx context.Context, id string) (domain.Project, error) {
	return m.Repo.GetProject(ctx, id)
}

// Snapshot returns the project as one flat map: fixed columns plus the
// data bag, with fixed columns winning on key collision.
func (m Manager) Snapshot(ctx context.Context, id string) (map[string]any, error) {
	p, err := m.Repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := map[string]any{}
	for k, v := range p.Data {
		snap[k] = v
	}
	snap["id"] = p.ID
	snap["client_name"] = p.ClientName
	snap["sales_rep_email"] = p.SalesRepEmail
	snap["status"] = p.Status
	snap["created_at"] = p.CreatedAt
	snap["updated_at"] = p.UpdatedAt
	putOpt := func(key string, v *string) {
		if v != nil {
			snap[key] = *v
		}
	}
	putOpt("project_lead_email", p.ProjectLeadEmail)
	putOpt("deadline", p.Deadline)
	putOpt("last_email_at", p.LastEmailAt)
	putOpt("supervisor_thread_id", p.SupervisorThread)
	putOpt("brief_thread_id", p.BriefThread)
	putOpt("proposal_thread_id", p.ProposalThread)
	putOpt("drafting_thread_id", p.DraftingThread)
	return snap, nil
}

func (m Manager) ListActive(ctx context.Context) ([]domain.Project, error) {
	return m.Repo.ListActiveProjects(ctx)
}

func (m Manager) List(ctx context.Context) ([]domain.Project, error) {
	return m.Repo.ListProjects(ctx)
}

// Update applies a partial update. Keys naming fixed columns go to those
// columns; everything else merges into the data bag. A status key is
// validated against the closed set but otherwise treated like any other
// column; use SetStatus when the old value matters.
func (m Manager) Update(ctx context.Context, id string, fields map[string]any, actorID string) (domain.Project, error) {
	if len(fields) == 0 {
		return m.Repo.GetProject(ctx, id)
	}
	columns := map[string]any{}
	bag := map[string]any{}
	for key, value := range fields {
		if repo.TopLevelProjectField(key) {
			if key == "status" {
				s, ok := value.(string)
				if !ok || !domain.ValidStatus(s) {
					return domain.Project{}, fmt.Errorf("%w: %v", ErrInvalidStatus, value)
				}
			}
			columns[key] = value
		} else {
			bag[key] = value
		}
	}
	ts := m.stamp()
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if len(columns) > 0 {
		if err := m.Repo.UpdateProjectFields(ctx, tx, id, columns, ts); err != nil {
			return domain.Project{}, err
		}
	}
	if len(bag) > 0 {
		if err := m.Repo.MergeProjectData(ctx, tx, id, bag, ts); err != nil {
			return domain.Project{}, err
		}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	err = m.Events.Append(ctx, tx, events.TypeProjectUpdated, id, "project", id, actor(actorID), events.EventPayload{
		"fields": keys,
	})
	if err != nil {
		return domain.Project{}, err
	}
	p, err := m.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SetStatus moves the project to the given status. Any member of the
// closed set is accepted; route legality between stages is the
// coordinator's concern, not the manager's.
func (m Manager) SetStatus(ctx context.Context, id, status, actorID string) (domain.Project, error) {
	if !domain.ValidStatus(status) {
		return domain.Project{}, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	ts := m.stamp()
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	old, err := m.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if old.Status == status {
		return old, nil
	}
	if err := m.Repo.UpdateProjectFields(ctx, tx, id, map[string]any{"status": status}, ts); err != nil {
		return domain.Project{}, err
	}
	err = m.Events.Append(ctx, tx, events.TypeStatusChanged, id, "project", id, actor(actorID), events.EventPayload{
		"from": old.Status,
		"to":   status,
	})
	if err != nil {
		return domain.Project{}, err
	}
	p, err := m.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// Touch records email activity on the project at the given RFC3339 time,
// or now when ts is empty.
func (m Manager) Touch(ctx context.Context, id, ts string) error {
	if ts == "" {
		ts = m.stamp()
	}
	return m.Repo.TouchProjectActivity(ctx, id, ts)
}

func actor(id string) string {
	if id == "" {
		return "system"
	}
	return id
}
