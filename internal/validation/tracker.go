// Package validation implements the human-in-the-loop question protocol:
// a question about one resource is emailed out, a pending row tracks it,
// and exactly one response (or a timeout sweep) resolves it.
package validation

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
	"rfpflow/internal/mail"
	"rfpflow/internal/repo"
)

var (
	// ErrNoPendingRequest is returned when a response arrives for a
	// (project, resource) pair with no pending request, including when a
	// second response races in after the first one won.
	ErrNoPendingRequest = errors.New("no pending validation request")
	// ErrDuplicatePending is returned when a request is made for a pair
	// that already has a pending request and the duplicate policy rejects it.
	ErrDuplicatePending = errors.New("validation request already pending")
)

// InconsistentStateError reports that the request email left the gateway
// but the pending row could not be written. The recipient saw a question
// the tracker will never match a response to; operators must reconcile by
// hand, so the email ID is carried along.
type InconsistentStateError struct {
	EmailID string
	Err     error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("validation email %s sent but not recorded: %v", e.EmailID, e.Err)
}

func (e *InconsistentStateError) Unwrap() error { return e.Err }

type Tracker struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Mail   mail.Recorder
	Now    func() time.Time

	// TimeoutHours is how long a request may stay pending. Zero means 48.
	TimeoutHours int
	// RejectDuplicatePending refuses a second request for a pair that
	// already has one in flight.
	RejectDuplicatePending bool
	// FromEmail is the sender address on outbound questions.
	FromEmail string
}

func (t Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t Tracker) timeout(hours int) time.Duration {
	if hours <= 0 {
		hours = t.TimeoutHours
	}
	if hours <= 0 {
		hours = 48
	}
	return time.Duration(hours) * time.Hour
}

// RequestInput describes one outbound validation question.
type RequestInput struct {
	ProjectID string
	// Resource identifies who is being asked: the contact address of the
	// freelancer, supplier or teammate whose answer gates the proposal.
	// One pending request per (project, resource).
	Resource string
	Question string
	// To overrides the recipient; by default the question is emailed to
	// the resource itself.
	To string
	// TimeoutHours overrides the tracker-wide default for this request.
	TimeoutHours int
	ActorID      string
}

// Request emails the question, then records the pending row. The order is
// deliberate: a failed send leaves no row behind, while a failed record
// after a successful send surfaces as InconsistentStateError.
func (t Tracker) Request(ctx context.Context, in RequestInput) (domain.ValidationRequest, error) {
	if strings.TrimSpace(in.Resource) == "" {
		return domain.ValidationRequest{}, errors.New("resource required")
	}
	if strings.TrimSpace(in.Question) == "" {
		return domain.ValidationRequest{}, errors.New("question required")
	}
	project, err := t.Repo.GetProject(ctx, in.ProjectID)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	if t.RejectDuplicatePending {
		pending, err := t.Repo.HasPendingValidation(ctx, in.ProjectID, in.Resource)
		if err != nil {
			return domain.ValidationRequest{}, err
		}
		if pending {
			return domain.ValidationRequest{}, fmt.Errorf("%w: %s/%s", ErrDuplicatePending, in.ProjectID, in.Resource)
		}
	}
	to := in.To
	if to == "" {
		to = in.Resource
	}
	now := t.now().UTC()
	emailID, err := t.Mail.WithProject(in.ProjectID).Send(ctx, mail.Message{
		From:    t.FromEmail,
		To:      to,
		Subject: fmt.Sprintf("[%s] Validation needed: %s", project.ClientName, in.Resource),
		Body:    in.Question,
	})
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	v := domain.ValidationRequest{
		ID:                 uuid.NewString(),
		ProjectID:          in.ProjectID,
		ResourceIdentifier: in.Resource,
		Question:           in.Question,
		Status:             domain.ValidationPending,
		RequestEmailID:     &emailID,
		SentAt:             now.Format(time.RFC3339),
		TimeoutAt:          now.Add(t.timeout(in.TimeoutHours)).Format(time.RFC3339),
	}
	if err := t.record(ctx, v, in.ActorID); err != nil {
		return domain.ValidationRequest{}, &InconsistentStateError{EmailID: emailID, Err: err}
	}
	return v, nil
}

func (t Tracker) record(ctx context.Context, v domain.ValidationRequest, actorID string) error {
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := t.Repo.InsertValidation(ctx, tx, v); err != nil {
		return err
	}
	err = t.Events.Append(ctx, tx, events.TypeValidationRequested, v.ProjectID, "validation", v.ID, actor(actorID), events.EventPayload{
		"resource":   v.ResourceIdentifier,
		"timeout_at": v.TimeoutAt,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Record resolves the pending request for the pair with the given response.
// Responses that lose a race, arrive twice, or follow a timeout all get
// ErrNoPendingRequest.
func (t Tracker) Record(ctx context.Context, projectID, resource, responseText string, responseEmailID *string, actorID string) error {
	respondedAt := t.now().UTC().Format(time.RFC3339)
	n, err := t.Repo.MarkValidationResponded(ctx, projectID, resource, responseText, responseEmailID, respondedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNoPendingRequest, projectID, resource)
	}
	if err := t.Repo.TouchProjectActivity(ctx, projectID, respondedAt); err != nil {
		return err
	}
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = t.Events.Append(ctx, tx, events.TypeValidationResponded, projectID, "validation", resource, actor(actorID), events.EventPayload{
		"resource": resource,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// CheckStatus returns one request by ID.
func (t Tracker) CheckStatus(ctx context.Context, id string) (domain.ValidationRequest, error) {
	return t.Repo.GetValidation(ctx, id)
}

// ListPending returns the project's pending requests, oldest first.
func (t Tracker) ListPending(ctx context.Context, projectID string) ([]domain.ValidationRequest, error) {
	return t.Repo.ListPendingValidations(ctx, projectID)
}

// List returns the project's full request history, newest first.
func (t Tracker) List(ctx context.Context, projectID string) ([]domain.ValidationRequest, error) {
	return t.Repo.ListValidations(ctx, projectID)
}

// Expire moves one request from pending to timeout. Calling it on an
// already-resolved request is a no-op; the first transition wins.
func (t Tracker) Expire(ctx context.Context, id, actorID string) error {
	n, err := t.Repo.ExpireValidation(ctx, id)
	if err != nil || n == 0 {
		return err
	}
	v, err := t.Repo.GetValidation(ctx, id)
	if err != nil {
		return err
	}
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = t.Events.Append(ctx, tx, events.TypeValidationTimeout, v.ProjectID, "validation", v.ID, actor(actorID), events.EventPayload{
		"resource": v.ResourceIdentifier,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ExpireOverdue sweeps every pending request whose deadline has passed and
// returns the ones it expired. Timeouts are soft: a response is still
// accepted until the sweep actually runs.
func (t Tracker) ExpireOverdue(ctx context.Context, actorID string) ([]domain.ValidationRequest, error) {
	now := t.now().UTC().Format(time.RFC3339)
	overdue, err := t.Repo.ListOverdueValidations(ctx, now)
	if err != nil {
		return nil, err
	}
	var expired []domain.ValidationRequest
	for _, v := range overdue {
		n, err := t.Repo.ExpireValidation(ctx, v.ID)
		if err != nil {
			return expired, err
		}
		if n == 0 {
			continue
		}
		v.Status = domain.ValidationTimeout
		expired = append(expired, v)
		tx, err := t.DB.BeginTx(ctx, nil)
		if err != nil {
			return expired, err
		}
		err = t.Events.Append(ctx, tx, events.TypeValidationTimeout, v.ProjectID, "validation", v.ID, actor(actorID), events.EventPayload{
			"resource": v.ResourceIdentifier,
		})
		if err != nil {
			tx.Rollback()
			return expired, err
		}
		if err := tx.Commit(); err != nil {
			return expired, err
		}
	}
	return expired, nil
}

func actor(id string) string {
	if id == "" {
		return "system"
	}
	return id
}
