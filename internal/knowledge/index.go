// Package knowledge stores reference material (past proposals, case
// studies, pricing notes) that capability agents pull from while writing.
// Retrieval is keyword matching over content with structured filters;
// anything semantic lives in the agents, not here.
package knowledge

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"rfpflow/internal/domain"
	"rfpflow/internal/repo"
)

// Index is the retrieval surface handed to capability invokers.
type Index interface {
	Add(ctx context.Context, item domain.KnowledgeItem) (domain.KnowledgeItem, error)
	Get(ctx context.Context, id string) (domain.KnowledgeItem, error)
	Search(ctx context.Context, q Query) ([]domain.KnowledgeItem, error)
}

// Query narrows a search: free-text terms, optional type, optional exact
// metadata matches.
type Query struct {
	Text     string            `json:"text"`
	Type     string            `json:"type,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// Store is the SQLite-backed Index.
type Store struct {
	Repo repo.Repo
	Now  func() time.Time
}

var _ Index = Store{}

func (s Store) stamp() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (s Store) Add(ctx context.Context, item domain.KnowledgeItem) (domain.KnowledgeItem, error) {
	if item.Content == "" {
		return domain.KnowledgeItem{}, fmt.Errorf("content required")
	}
	if item.Type == "" {
		return domain.KnowledgeItem{}, fmt.Errorf("type required")
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	ts := s.stamp()
	if item.CreatedAt == "" {
		item.CreatedAt = ts
	}
	item.UpdatedAt = ts
	if err := s.Repo.UpsertKnowledge(ctx, item); err != nil {
		return domain.KnowledgeItem{}, err
	}
	return item, nil
}

func (s Store) Get(ctx context.Context, id string) (domain.KnowledgeItem, error) {
	return s.Repo.GetKnowledge(ctx, id)
}

func (s Store) Search(ctx context.Context, q Query) ([]domain.KnowledgeItem, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	return s.Repo.SearchKnowledge(ctx, q.Text, q.Type, q.Metadata, limit)
}

// seedFile models a YAML seed document: a flat list of items.
type seedFile struct {
	Items []struct {
		ID       string            `yaml:"id"`
		Type     string            `yaml:"type"`
		Content  string            `yaml:"content"`
		Metadata map[string]string `yaml:"metadata"`
	} `yaml:"items"`
}

// SeedFromFile loads items from a YAML file into the index, upserting by
// ID so reseeding is idempotent. Returns how many items were written.
func SeedFromFile(ctx context.Context, idx Index, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("invalid seed yaml: %w", err)
	}
	for i, raw := range seed.Items {
		metadata := map[string]any{}
		for k, v := range raw.Metadata {
			metadata[k] = v
		}
		item := domain.KnowledgeItem{
			ID:       raw.ID,
			Type:     raw.Type,
			Content:  raw.Content,
			Metadata: metadata,
		}
		if _, err := idx.Add(ctx, item); err != nil {
			return i, fmt.Errorf("seed item %d: %w", i, err)
		}
	}
	return len(seed.Items), nil
}
