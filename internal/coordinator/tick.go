package coordinator

import (
	"context"
	"fmt"
	"time"

	"rfpflow/internal/events"
	"rfpflow/internal/mail"
)

// StateKeyLastRun is the system_state key stamped after every sweep.
const StateKeyLastRun = "project_tracking_last_run"

// TickReport summarizes one tracking sweep.
type TickReport struct {
	RanAt              string         `json:"ran_at"`
	ExpiredValidations int            `json:"expired_validations"`
	Intents            []Intent       `json:"intents"`
	ProjectsByStatus   map[string]int `json:"projects_by_status"`
}

func (c Coordinator) thresholds() Thresholds {
	t := Thresholds{Nudge: 3, Escalate: 5, Abandon: 14, DeadlineWindow: 7, DecisionCheck: 30}
	if c.Config == nil {
		return t
	}
	cfg := c.Config.Tracking
	if cfg.NudgeDays > 0 {
		t.Nudge = cfg.NudgeDays
	}
	if cfg.EscalateDays > 0 {
		t.Escalate = cfg.EscalateDays
	}
	if cfg.AbandonDays > 0 {
		t.Abandon = cfg.AbandonDays
	}
	if cfg.DeadlineWindowDays > 0 {
		t.DeadlineWindow = cfg.DeadlineWindowDays
	}
	if cfg.DecisionCheckDays > 0 {
		t.DecisionCheck = cfg.DecisionCheckDays
	}
	return t
}

// Tick runs one tracking sweep: expire overdue validations, evaluate the
// staleness rules over every non-terminal project, send the resulting
// emails, and stamp the run in system_state. Rule evaluation is pure;
// all side effects happen here.
func (c Coordinator) Tick(ctx context.Context) (TickReport, error) {
	now := c.now().UTC()
	report := TickReport{RanAt: now.Format(time.RFC3339)}

	expired, err := c.Validations.ExpireOverdue(ctx, "system")
	if err != nil {
		return report, err
	}
	report.ExpiredValidations = len(expired)

	projects, err := c.Repo.ListProjects(ctx)
	if err != nil {
		return report, err
	}
	thresholds := c.thresholds()
	for _, p := range projects {
		for _, intent := range Evaluate(p, now, thresholds) {
			if err := c.dispatch(ctx, intent); err != nil {
				return report, err
			}
			report.Intents = append(report.Intents, intent)
		}
	}

	report.ProjectsByStatus, err = c.Repo.CountProjectsByStatus(ctx)
	if err != nil {
		return report, err
	}

	err = c.Repo.UpsertSystemState(ctx, StateKeyLastRun, map[string]any{
		"ran_at":              report.RanAt,
		"expired_validations": report.ExpiredValidations,
		"intents":             len(report.Intents),
	}, report.RanAt)
	if err != nil {
		return report, err
	}
	return report, nil
}

func (c Coordinator) dispatch(ctx context.Context, intent Intent) error {
	to := intent.Recipient
	if to == "" {
		to = c.managerEmail()
	}
	subject, body := intentEmail(intent)
	_, err := c.Mail.WithProject(intent.ProjectID).Send(ctx, mail.Message{
		From:    c.fromEmail(),
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return err
	}
	// deadline alerts also go to the escalation channel
	if intent.Type == IntentDeadlineAlert {
		if mgr := c.managerEmail(); mgr != to {
			_, err := c.Mail.WithProject(intent.ProjectID).Send(ctx, mail.Message{
				From:    c.fromEmail(),
				To:      mgr,
				Subject: subject,
				Body:    body,
			})
			if err != nil {
				return err
			}
		}
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = c.Events.Append(ctx, tx, events.TypeTrackingIntent, intent.ProjectID, "tracking", intent.Type, "system", events.EventPayload{
		"recipient": to,
		"reason":    intent.Reason,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (c Coordinator) managerEmail() string {
	if c.Config != nil && c.Config.Company.ManagerEmail != "" {
		return c.Config.Company.ManagerEmail
	}
	return "manager@localhost"
}

func intentEmail(intent Intent) (subject, body string) {
	switch intent.Type {
	case IntentNudge:
		return fmt.Sprintf("Reminder: project %s needs attention", intent.ProjectID),
			fmt.Sprintf("Project %s has been quiet: %s. Could you take a look?", intent.ProjectID, intent.Reason)
	case IntentEscalate:
		return fmt.Sprintf("Escalation: project %s is stalling", intent.ProjectID),
			fmt.Sprintf("Project %s is stalling: %s. Please intervene.", intent.ProjectID, intent.Reason)
	case IntentSuggestAbandon:
		return fmt.Sprintf("Consider abandoning project %s", intent.ProjectID),
			fmt.Sprintf("Project %s looks dead: %s. Should we abandon it?", intent.ProjectID, intent.Reason)
	case IntentDeadlineAlert:
		return fmt.Sprintf("Deadline approaching for project %s", intent.ProjectID),
			fmt.Sprintf("Project %s: %s.", intent.ProjectID, intent.Reason)
	case IntentDecisionCheck:
		return fmt.Sprintf("Any decision on project %s?", intent.ProjectID),
			fmt.Sprintf("Project %s: %s. Worth asking the client where things stand.", intent.ProjectID, intent.Reason)
	}
	return fmt.Sprintf("Project %s", intent.ProjectID), intent.Reason
}
