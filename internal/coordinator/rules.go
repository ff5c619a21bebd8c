package coordinator

import (
	"fmt"
	"time"

	"rfpflow/internal/domain"
)

// Intent types produced by the staleness rules.
const (
	IntentNudge          = "nudge"
	IntentEscalate       = "escalate"
	IntentSuggestAbandon = "suggest_abandon"
	IntentDeadlineAlert  = "deadline_alert"
	IntentDecisionCheck  = "decision_check"
)

// Thresholds are the rule windows, in days.
type Thresholds struct {
	Nudge          int
	Escalate       int
	Abandon        int
	DeadlineWindow int
	DecisionCheck  int
}

// Intent is one action the rules want taken. Dispatching it is the
// tick's job; Evaluate itself has no side effects.
type Intent struct {
	Type      string
	ProjectID string
	Recipient string
	Reason    string
}

// Evaluate applies the staleness and deadline rules to one project.
// Terminal projects (won, lost, abandoned) produce nothing. The silence
// clock starts at the last tracked email, falling back to creation time.
// Each threshold fires independently, so a project deep in silence
// collects every tier it has crossed, and the deadline alert stacks on
// top of any of them.
func Evaluate(p domain.Project, now time.Time, t Thresholds) []Intent {
	switch p.Status {
	case domain.StatusWon, domain.StatusLost, domain.StatusAbandoned:
		return nil
	}

	var intents []Intent
	days := func(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

	if p.Status == domain.StatusSubmitted {
		since := now.Sub(submittedAt(p))
		if since > days(t.DecisionCheck) {
			intents = append(intents, Intent{
				Type:      IntentDecisionCheck,
				ProjectID: p.ID,
				Recipient: leadOrRep(p),
				Reason:    fmt.Sprintf("submitted %d days ago with no decision", int(since.Hours()/24)),
			})
		}
		return intents
	}

	silence := now.Sub(lastActivity(p))
	silentFor := fmt.Sprintf("no activity for %d days", int(silence.Hours()/24))
	// nudges fire only for the two human writing stages
	if silence > days(t.Nudge) &&
		(p.Status == domain.StatusBriefWriting || p.Status == domain.StatusProposalWriting) {
		intents = append(intents, Intent{
			Type:      IntentNudge,
			ProjectID: p.ID,
			Recipient: nudgeRecipient(p),
			Reason:    silentFor,
		})
	}
	if silence > days(t.Escalate) {
		intents = append(intents, Intent{
			Type:      IntentEscalate,
			ProjectID: p.ID,
			Reason:    silentFor,
		})
	}
	if silence > days(t.Abandon) {
		intents = append(intents, Intent{
			Type:      IntentSuggestAbandon,
			ProjectID: p.ID,
			Reason:    silentFor,
		})
	}

	if deadline, ok := parseWhen(p.Deadline); ok {
		until := deadline.Sub(now)
		if until > 0 && until < days(t.DeadlineWindow) {
			intents = append(intents, Intent{
				Type:      IntentDeadlineAlert,
				ProjectID: p.ID,
				Recipient: leadOrRep(p),
				Reason:    fmt.Sprintf("deadline in %d days", int(until.Hours()/24)),
			})
		}
	}
	return intents
}

// nudgeRecipient picks who owns the current writing stage: the sales rep
// for the brief, the project lead for the proposal when one is set.
func nudgeRecipient(p domain.Project) string {
	if p.Status == domain.StatusProposalWriting {
		return leadOrRep(p)
	}
	return p.SalesRepEmail
}

func leadOrRep(p domain.Project) string {
	if p.ProjectLeadEmail != nil && *p.ProjectLeadEmail != "" {
		return *p.ProjectLeadEmail
	}
	return p.SalesRepEmail
}

func lastActivity(p domain.Project) time.Time {
	if ts, ok := parseWhen(p.LastEmailAt); ok {
		return ts
	}
	if ts, ok := parseWhen(&p.CreatedAt); ok {
		return ts
	}
	return time.Time{}
}

// submittedAt reads the submission stamp the coordinator writes into the
// data bag when the project reaches submitted; updated_at is the fallback
// for rows that predate the stamp.
func submittedAt(p domain.Project) time.Time {
	if raw, ok := p.Data["submitted_at"].(string); ok {
		s := raw
		if ts, ok := parseWhen(&s); ok {
			return ts
		}
	}
	if ts, ok := parseWhen(&p.UpdatedAt); ok {
		return ts
	}
	return time.Time{}
}

func parseWhen(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339, *s); err == nil {
		return ts, true
	}
	if ts, err := time.Parse("2006-01-02", *s); err == nil {
		return ts, true
	}
	return time.Time{}, false
}
