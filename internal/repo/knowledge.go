package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"rfpflow/internal/domain"
)

func (r Repo) UpsertKnowledge(ctx context.Context, item domain.KnowledgeItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return err
	}
	if item.Metadata == nil {
		metadata = []byte(`{}`)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO knowledge(id, knowledge_type, content, metadata, created_at, updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET knowledge_type=excluded.knowledge_type, content=excluded.content,
metadata=excluded.metadata, updated_at=excluded.updated_at`,
		item.ID, item.Type, item.Content, string(metadata), item.CreatedAt, item.UpdatedAt)
	return err
}

func (r Repo) GetKnowledge(ctx context.Context, id string) (domain.KnowledgeItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, knowledge_type, content, metadata, created_at, updated_at FROM knowledge WHERE id=?`, id)
	return scanKnowledge(row.Scan)
}

// SearchKnowledge does keyword matching over content with optional type and
// metadata filters. Ranking is term-hit ordering, not semantic.
func (r Repo) SearchKnowledge(ctx context.Context, query, typeFilter string, metadataFilters map[string]string, limit int) ([]domain.KnowledgeItem, error) {
	clauses := []string{"content LIKE ?"}
	args := []any{"%" + query + "%"}
	if typeFilter != "" {
		clauses = append(clauses, "knowledge_type=?")
		args = append(args, typeFilter)
	}
	for key, value := range metadataFilters {
		clauses = append(clauses, "metadata LIKE ?")
		args = append(args, fmt.Sprintf(`%%%q:%q%%`, key, value))
	}
	where := clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	q := `SELECT id, knowledge_type, content, metadata, created_at, updated_at FROM knowledge WHERE ` + where + ` ORDER BY updated_at DESC`
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledge(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func scanKnowledge(scan func(dest ...any) error) (domain.KnowledgeItem, error) {
	var item domain.KnowledgeItem
	var metadata string
	err := scan(&item.ID, &item.Type, &item.Content, &metadata, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return item, ErrNotFound
	}
	if err != nil {
		return item, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
			return item, fmt.Errorf("knowledge %s metadata: %w", item.ID, err)
		}
	}
	return item, nil
}
