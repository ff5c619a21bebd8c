package repo_test

import (
	"context"
	"errors"
	"testing"

	"rfpflow/internal/db"
	"rfpflow/internal/domain"
	"rfpflow/internal/migrate"
	"rfpflow/internal/repo"
)

func newRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func insertProject(t *testing.T, r repo.Repo, ctx context.Context, p domain.Project) {
	t.Helper()
	if p.Status == "" {
		p.Status = domain.StatusBriefWriting
	}
	if p.CreatedAt == "" {
		p.CreatedAt = "2026-03-01T09:00:00Z"
	}
	if p.UpdatedAt == "" {
		p.UpdatedAt = p.CreatedAt
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertProject(ctx, tx, p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	r, ctx := newRepo(t)
	_, err := r.GetProject(ctx, "missing")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTouchProjectActivityIsMonotonic(t *testing.T) {
	r, ctx := newRepo(t)
	insertProject(t, r, ctx, domain.Project{ID: "p-1", ClientName: "Acme", SalesRepEmail: "rep@example.com"})

	if err := r.TouchProjectActivity(ctx, "p-1", "2026-03-02T00:00:00Z"); err != nil {
		t.Fatalf("first touch: %v", err)
	}
	// an older stamp must not move the clock backwards
	if err := r.TouchProjectActivity(ctx, "p-1", "2026-03-01T00:00:00Z"); err != nil {
		t.Fatalf("stale touch should be a silent no-op: %v", err)
	}
	p, err := r.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.LastEmailAt == nil || *p.LastEmailAt != "2026-03-02T00:00:00Z" {
		t.Fatalf("expected last_email_at preserved, got %+v", p.LastEmailAt)
	}
	// a missing project is still an error
	if err := r.TouchProjectActivity(ctx, "missing", "2026-03-03T00:00:00Z"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindProjectByThread(t *testing.T) {
	r, ctx := newRepo(t)
	supervisor, brief := "t-sup", "t-brief"
	insertProject(t, r, ctx, domain.Project{
		ID:               "p-1",
		ClientName:       "Acme",
		SalesRepEmail:    "rep@example.com",
		SupervisorThread: &supervisor,
		BriefThread:      &brief,
	})

	p, kind, err := r.FindProjectByThread(ctx, "t-brief")
	if err != nil || p.ID != "p-1" || kind != "brief" {
		t.Fatalf("expected brief match, got %s/%s (%v)", p.ID, kind, err)
	}
	p, kind, err = r.FindProjectByThread(ctx, "t-sup")
	if err != nil || p.ID != "p-1" || kind != "supervisor" {
		t.Fatalf("expected supervisor match, got %s/%s (%v)", p.ID, kind, err)
	}
	_, _, err = r.FindProjectByThread(ctx, "t-unknown")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkValidationRespondedIsConditional(t *testing.T) {
	r, ctx := newRepo(t)
	insertProject(t, r, ctx, domain.Project{ID: "p-1", ClientName: "Acme", SalesRepEmail: "rep@example.com"})
	v := domain.ValidationRequest{
		ID:                 "v-1",
		ProjectID:          "p-1",
		ResourceIdentifier: "pricing",
		Question:           "Confirm?",
		Status:             domain.ValidationPending,
		SentAt:             "2026-03-01T09:00:00Z",
		TimeoutAt:          "2026-03-03T09:00:00Z",
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertValidation(ctx, tx, v); err != nil {
		t.Fatalf("insert validation: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	n, err := r.MarkValidationResponded(ctx, "p-1", "pricing", "yes", nil, "2026-03-02T00:00:00Z")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 row updated, got %d (%v)", n, err)
	}
	// the conditional update makes the second writer lose
	n, err = r.MarkValidationResponded(ctx, "p-1", "pricing", "no", nil, "2026-03-02T01:00:00Z")
	if err != nil || n != 0 {
		t.Fatalf("expected 0 rows on repeat, got %d (%v)", n, err)
	}
	got, err := r.GetValidation(ctx, "v-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ValidationResponded || got.ResponseText == nil || *got.ResponseText != "yes" {
		t.Fatalf("first response should win: %+v", got)
	}
	// expiring a responded request is a no-op
	n, err = r.ExpireValidation(ctx, "v-1")
	if err != nil || n != 0 {
		t.Fatalf("expected expire no-op, got %d (%v)", n, err)
	}
}

func TestAPIKeyHashRoundTrip(t *testing.T) {
	r, ctx := newRepo(t)
	key := domain.APIKey{
		ID:      "k-1",
		ActorID: "rep@example.com",
		Name:    "laptop",
		KeyHash: repo.HashAPIKey("s3cret"),
	}
	if err := r.InsertAPIKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("  s3cret  "))
	if err != nil {
		t.Fatalf("lookup with surrounding whitespace should hash the same: %v", err)
	}
	if got.ActorID != "rep@example.com" {
		t.Fatalf("unexpected key %+v", got)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "k-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("s3cret")); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSystemStateUpsert(t *testing.T) {
	r, ctx := newRepo(t)
	if err := r.UpsertSystemState(ctx, "k", map[string]any{"n": 1.0}, "2026-03-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := r.UpsertSystemState(ctx, "k", map[string]any{"n": 2.0}, "2026-03-02T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	entry, err := r.GetSystemState(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Value["n"] != 2.0 || entry.UpdatedAt != "2026-03-02T00:00:00Z" {
		t.Fatalf("expected last write to win, got %+v", entry)
	}
}
