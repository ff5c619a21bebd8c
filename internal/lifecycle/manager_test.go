package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rfpflow/internal/app"
	"rfpflow/internal/config"
	"rfpflow/internal/db"
	"rfpflow/internal/domain"
	"rfpflow/internal/lifecycle"
	"rfpflow/internal/migrate"
)

func newTestApp(t *testing.T) (*app.App, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	a, err := app.FromDB(conn, config.Default("manager@localhost"), app.Options{
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("wire app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, context.Background()
}

func TestCreateAndGet(t *testing.T) {
	a, ctx := newTestApp(t)
	p, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{
		ClientName:       "Acme Corp",
		SalesRepEmail:    "rep@example.com",
		ProjectLeadEmail: "lead@example.com",
		Deadline:         "2026-04-01",
		RFPContent:       "Build us a bridge.",
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Status != domain.StatusBriefWriting {
		t.Fatalf("expected brief_writing, got %s", p.Status)
	}
	if p.Data["rfp_content"] != "Build us a bridge." {
		t.Fatalf("expected rfp_content in data bag")
	}
	got, err := a.Lifecycle.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ClientName != "Acme Corp" || got.SalesRepEmail != "rep@example.com" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.ProjectLeadEmail == nil || *got.ProjectLeadEmail != "lead@example.com" {
		t.Fatalf("expected project lead email")
	}
	if got.CreatedAt != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected created_at %s", got.CreatedAt)
	}
}

func TestCreateRequiresClientAndRep(t *testing.T) {
	a, ctx := newTestApp(t)
	if _, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{SalesRepEmail: "rep@example.com"}); err == nil {
		t.Fatalf("expected error for missing client_name")
	}
	if _, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{ClientName: "Acme"}); err == nil {
		t.Fatalf("expected error for missing sales_rep_email")
	}
}

func TestUpdatePartitionsFields(t *testing.T) {
	a, ctx := newTestApp(t)
	p, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{ClientName: "Acme", SalesRepEmail: "rep@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	updated, err := a.Lifecycle.Update(ctx, p.ID, map[string]any{
		"deadline":       "2026-05-01",
		"internal_notes": "tight budget",
	}, "tester")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Deadline == nil || *updated.Deadline != "2026-05-01" {
		t.Fatalf("expected deadline column updated, got %+v", updated.Deadline)
	}
	if updated.Data["internal_notes"] != "tight budget" {
		t.Fatalf("expected unknown key merged into data bag")
	}
	// a second merge keeps earlier bag keys
	updated, err = a.Lifecycle.Update(ctx, p.ID, map[string]any{"priority": "high"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Data["internal_notes"] != "tight budget" || updated.Data["priority"] != "high" {
		t.Fatalf("expected shallow merge, got %+v", updated.Data)
	}
}

func TestUpdateRejectsInvalidStatusValue(t *testing.T) {
	a, ctx := newTestApp(t)
	p, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{ClientName: "Acme", SalesRepEmail: "rep@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Lifecycle.Update(ctx, p.ID, map[string]any{"status": "doing_stuff"}, "tester")
	if !errors.Is(err, lifecycle.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	a, ctx := newTestApp(t)
	p, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{ClientName: "Acme", SalesRepEmail: "rep@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Lifecycle.SetStatus(ctx, p.ID, "galloping", "tester"); !errors.Is(err, lifecycle.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	moved, err := a.Lifecycle.SetStatus(ctx, p.ID, domain.StatusAbandoned, "tester")
	if err != nil || moved.Status != domain.StatusAbandoned {
		t.Fatalf("set status: %v (%+v)", err, moved)
	}
	// same-status set is a no-op and logs nothing
	if _, err := a.Lifecycle.SetStatus(ctx, p.ID, domain.StatusAbandoned, "tester"); err != nil {
		t.Fatalf("no-op set: %v", err)
	}
	var count int
	row := a.DB.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE type='project.status_changed' AND project_id=?`, p.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 status_changed event, got %d", count)
	}
}

func TestSnapshotFlattens(t *testing.T) {
	a, ctx := newTestApp(t)
	p, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{
		ClientName:    "Acme",
		SalesRepEmail: "rep@example.com",
		RFPContent:    "scope...",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Lifecycle.Update(ctx, p.ID, map[string]any{"budget": "50k"}, "tester"); err != nil {
		t.Fatal(err)
	}
	snap, err := a.Lifecycle.Snapshot(ctx, p.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap["id"] != p.ID || snap["status"] != domain.StatusBriefWriting {
		t.Fatalf("expected fixed columns in snapshot: %+v", snap)
	}
	if snap["budget"] != "50k" || snap["rfp_content"] != "scope..." {
		t.Fatalf("expected data bag keys in snapshot: %+v", snap)
	}
}

func TestListActiveExcludesInactive(t *testing.T) {
	a, ctx := newTestApp(t)
	p1, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{ClientName: "Active Co", SalesRepEmail: "rep@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.Lifecycle.Create(ctx, lifecycle.CreateInput{ClientName: "Done Co", SalesRepEmail: "rep@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Lifecycle.SetStatus(ctx, p2.ID, domain.StatusWon, "tester"); err != nil {
		t.Fatal(err)
	}
	active, err := a.Lifecycle.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != p1.ID {
		t.Fatalf("expected only active project, got %+v", active)
	}
	all, err := a.Lifecycle.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(all))
	}
}
