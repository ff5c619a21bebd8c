package knowledge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rfpflow/internal/db"
	"rfpflow/internal/domain"
	"rfpflow/internal/knowledge"
	"rfpflow/internal/migrate"
	"rfpflow/internal/repo"
)

func newStore(t *testing.T) (knowledge.Store, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := knowledge.Store{
		Repo: repo.Repo{DB: conn},
		Now:  func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	}
	return store, context.Background()
}

func TestAddAndGet(t *testing.T) {
	store, ctx := newStore(t)
	item, err := store.Add(ctx, domain.KnowledgeItem{
		Type:     "case_study",
		Content:  "Migrated a bank's core ledger to the cloud in nine months.",
		Metadata: map[string]any{"industry": "finance"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if item.ID == "" {
		t.Fatalf("expected generated id")
	}
	got, err := store.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != item.Content || got.Metadata["industry"] != "finance" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAddValidates(t *testing.T) {
	store, ctx := newStore(t)
	if _, err := store.Add(ctx, domain.KnowledgeItem{Type: "note"}); err == nil {
		t.Fatalf("expected error for missing content")
	}
	if _, err := store.Add(ctx, domain.KnowledgeItem{Content: "text"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestSearchFilters(t *testing.T) {
	store, ctx := newStore(t)
	seed := []domain.KnowledgeItem{
		{Type: "case_study", Content: "cloud migration for a bank", Metadata: map[string]any{"industry": "finance"}},
		{Type: "case_study", Content: "cloud migration for a hospital", Metadata: map[string]any{"industry": "health"}},
		{Type: "pricing", Content: "cloud hosting rate card"},
	}
	for _, item := range seed {
		if _, err := store.Add(ctx, item); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.Search(ctx, knowledge.Query{Text: "cloud"})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 matches, got %d (%v)", len(all), err)
	}

	cases, err := store.Search(ctx, knowledge.Query{Text: "cloud", Type: "case_study"})
	if err != nil || len(cases) != 2 {
		t.Fatalf("expected 2 case studies, got %d (%v)", len(cases), err)
	}

	finance, err := store.Search(ctx, knowledge.Query{
		Text:     "cloud",
		Metadata: map[string]string{"industry": "finance"},
	})
	if err != nil || len(finance) != 1 {
		t.Fatalf("expected 1 finance match, got %d (%v)", len(finance), err)
	}
	if finance[0].Content != "cloud migration for a bank" {
		t.Fatalf("unexpected match %+v", finance[0])
	}

	none, err := store.Search(ctx, knowledge.Query{Text: "submarine"})
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no matches, got %d", len(none))
	}
}

func TestSeedFromFileIsIdempotent(t *testing.T) {
	store, ctx := newStore(t)
	path := filepath.Join(t.TempDir(), "seed.yml")
	doc := `items:
  - id: k-1
    type: case_study
    content: first version
    metadata:
      industry: finance
  - id: k-2
    type: pricing
    content: rate card
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := knowledge.SeedFromFile(ctx, store, path)
	if err != nil || n != 2 {
		t.Fatalf("seed: %d, %v", n, err)
	}

	// reseeding with changed content updates in place instead of duplicating
	doc = `items:
  - id: k-1
    type: case_study
    content: second version
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := knowledge.SeedFromFile(ctx, store, path); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "k-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "second version" {
		t.Fatalf("expected upsert, got %q", got.Content)
	}
	items, err := store.Search(ctx, knowledge.Query{Text: ""})
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 items total, got %d (%v)", len(items), err)
	}
}
