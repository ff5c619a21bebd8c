package repo

import (
	"context"
	"database/sql"

	"rfpflow/internal/domain"
)

const validationColumns = `id, project_id, resource_identifier, validation_question, status, response_text,
request_email_id, response_email_id, sent_at, responded_at, timeout_at`

func scanValidation(scan func(dest ...any) error) (domain.ValidationRequest, error) {
	var v domain.ValidationRequest
	var response, requestEmail, responseEmail, respondedAt sql.NullString
	err := scan(&v.ID, &v.ProjectID, &v.ResourceIdentifier, &v.Question, &v.Status, &response,
		&requestEmail, &responseEmail, &v.SentAt, &respondedAt, &v.TimeoutAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if response.Valid {
		v.ResponseText = &response.String
	}
	if requestEmail.Valid {
		v.RequestEmailID = &requestEmail.String
	}
	if responseEmail.Valid {
		v.ResponseEmailID = &responseEmail.String
	}
	if respondedAt.Valid {
		v.RespondedAt = &respondedAt.String
	}
	return v, nil
}

func (r Repo) InsertValidation(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO validation_requests(id, project_id, resource_identifier, validation_question, status,
response_text, request_email_id, response_email_id, sent_at, responded_at, timeout_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.ProjectID, v.ResourceIdentifier, v.Question, v.Status,
		nullableStringPtr(v.ResponseText), nullableStringPtr(v.RequestEmailID), nullableStringPtr(v.ResponseEmailID),
		v.SentAt, nullableStringPtr(v.RespondedAt), v.TimeoutAt)
	return err
}

func (r Repo) GetValidation(ctx context.Context, id string) (domain.ValidationRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+validationColumns+` FROM validation_requests WHERE id=?`, id)
	return scanValidation(row.Scan)
}

// MarkValidationResponded transitions the single pending row for the
// (project, resource) pair to responded. The status predicate makes the
// update race-safe: only a row still in pending can transition, so two
// concurrent responders resolve to exactly one winner. Returns the number of
// rows transitioned (0 or 1).
func (r Repo) MarkValidationResponded(ctx context.Context, projectID, resource, responseText string, responseEmailID *string, respondedAt string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE validation_requests
SET status=?, response_text=?, response_email_id=?, responded_at=?
WHERE project_id=? AND resource_identifier=? AND status=?`,
		domain.ValidationResponded, responseText, nullableStringPtr(responseEmailID), respondedAt,
		projectID, resource, domain.ValidationPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpireValidation transitions one pending row to timeout. Terminal rows are
// left untouched, which makes the call idempotent. Returns rows transitioned.
func (r Repo) ExpireValidation(ctx context.Context, id string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE validation_requests SET status=? WHERE id=? AND status=?`,
		domain.ValidationTimeout, id, domain.ValidationPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HasPendingValidation reports whether a pending row exists for the pair.
func (r Repo) HasPendingValidation(ctx context.Context, projectID, resource string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM validation_requests WHERE project_id=? AND resource_identifier=? AND status=? LIMIT 1`,
		projectID, resource, domain.ValidationPending)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListValidations returns the full history for a project, newest first.
func (r Repo) ListValidations(ctx context.Context, projectID string) ([]domain.ValidationRequest, error) {
	return r.listValidations(ctx, `SELECT `+validationColumns+` FROM validation_requests
WHERE project_id=? ORDER BY sent_at DESC, id DESC`, projectID)
}

// ListPendingValidations returns pending rows only, oldest first.
func (r Repo) ListPendingValidations(ctx context.Context, projectID string) ([]domain.ValidationRequest, error) {
	return r.listValidations(ctx, `SELECT `+validationColumns+` FROM validation_requests
WHERE project_id=? AND status=? ORDER BY sent_at ASC, id ASC`, projectID, domain.ValidationPending)
}

// ListOverdueValidations returns pending rows whose timeout deadline has
// passed, across all projects, oldest first.
func (r Repo) ListOverdueValidations(ctx context.Context, now string) ([]domain.ValidationRequest, error) {
	return r.listValidations(ctx, `SELECT `+validationColumns+` FROM validation_requests
WHERE status=? AND timeout_at < ? ORDER BY sent_at ASC, id ASC`, domain.ValidationPending, now)
}

func (r Repo) listValidations(ctx context.Context, query string, args ...any) ([]domain.ValidationRequest, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRequest
	for rows.Next() {
		v, err := scanValidation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// CountValidationsByStatus summarizes a project's validation rows.
func (r Repo) CountValidationsByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM validation_requests WHERE project_id=? GROUP BY status`, projectID)
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
