package mail

import (
	"context"
	"time"

	"rfpflow/internal/domain"
	"rfpflow/internal/repo"
)

// Recorder wraps a Gateway and mirrors every sent message into the
// email_tracking table, bumping the owning project's last_email_at so the
// staleness rules see the activity. ProjectID is resolved per call via
// WithProject; a Recorder without a project records the row with no
// project linkage.
type Recorder struct {
	Gateway   Gateway
	Repo      repo.Repo
	Now       func() time.Time
	projectID string
}

// WithProject returns a shallow copy bound to a project.
func (r Recorder) WithProject(projectID string) Recorder {
	r.projectID = projectID
	return r
}

func (r Recorder) Send(ctx context.Context, msg Message) (string, error) {
	id, err := r.Gateway.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	ts := r.now().UTC().Format(time.RFC3339)
	tracked := domain.TrackedEmail{
		EmailID:   id,
		Direction: "outbound",
		FromEmail: msg.From,
		ToEmail:   msg.To,
		Subject:   msg.Subject,
		SentAt:    ts,
	}
	if r.projectID != "" {
		tracked.ProjectID = &r.projectID
	}
	if msg.ThreadID != "" {
		thread := msg.ThreadID
		tracked.ThreadID = &thread
	}
	if err := r.Repo.InsertTrackedEmail(ctx, tracked); err != nil {
		return id, err
	}
	if r.projectID != "" {
		if err := r.Repo.TouchProjectActivity(ctx, r.projectID, ts); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (r Recorder) Read(ctx context.Context, id string) (Message, error) {
	return r.Gateway.Read(ctx, id)
}

func (r Recorder) ListUnread(ctx context.Context) ([]Message, error) {
	return r.Gateway.ListUnread(ctx)
}

func (r Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
