package coordinator_test

import (
	"testing"
	"time"

	"rfpflow/internal/coordinator"
	"rfpflow/internal/domain"
)

var testThresholds = coordinator.Thresholds{
	Nudge:          3,
	Escalate:       5,
	Abandon:        14,
	DeadlineWindow: 7,
	DecisionCheck:  30,
}

func projectAt(status string, lastEmail time.Time) domain.Project {
	ts := lastEmail.Format(time.RFC3339)
	return domain.Project{
		ID:            "p-1",
		ClientName:    "Acme",
		SalesRepEmail: "rep@example.com",
		Status:        status,
		LastEmailAt:   &ts,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
}

func intentTypes(intents []coordinator.Intent) []string {
	var types []string
	for _, i := range intents {
		types = append(types, i.Type)
	}
	return types
}

func TestTerminalProjectsProduceNothing(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	for _, status := range []string{domain.StatusWon, domain.StatusLost, domain.StatusAbandoned} {
		p := projectAt(status, now.Add(-100*24*time.Hour))
		if got := coordinator.Evaluate(p, now, testThresholds); got != nil {
			t.Fatalf("%s: expected no intents, got %+v", status, got)
		}
	}
}

func TestSilenceTiers(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	// every crossed tier fires, not just the deepest one
	cases := []struct {
		silence time.Duration
		want    []string
	}{
		{2 * 24 * time.Hour, nil},
		{3 * 24 * time.Hour, nil}, // exactly at the threshold is not over it
		{4 * 24 * time.Hour, []string{coordinator.IntentNudge}},
		{6 * 24 * time.Hour, []string{coordinator.IntentNudge, coordinator.IntentEscalate}},
		{15 * 24 * time.Hour, []string{
			coordinator.IntentNudge,
			coordinator.IntentEscalate,
			coordinator.IntentSuggestAbandon,
		}},
	}
	for _, tc := range cases {
		p := projectAt(domain.StatusBriefWriting, now.Add(-tc.silence))
		got := intentTypes(coordinator.Evaluate(p, now, testThresholds))
		if len(got) != len(tc.want) {
			t.Fatalf("silence %s: expected %v, got %v", tc.silence, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("silence %s: expected %v, got %v", tc.silence, tc.want, got)
			}
		}
	}
}

func TestNudgeRecipientFollowsStageOwner(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	lead := "lead@example.com"

	p := projectAt(domain.StatusBriefWriting, now.Add(-4*24*time.Hour))
	p.ProjectLeadEmail = &lead
	intents := coordinator.Evaluate(p, now, testThresholds)
	if len(intents) != 1 || intents[0].Recipient != "rep@example.com" {
		t.Fatalf("brief stage: expected sales rep, got %+v", intents)
	}

	p.Status = domain.StatusProposalWriting
	intents = coordinator.Evaluate(p, now, testThresholds)
	if len(intents) != 1 || intents[0].Recipient != lead {
		t.Fatalf("proposal stage: expected project lead, got %+v", intents)
	}

	// without a lead the rep stays on the hook
	p.ProjectLeadEmail = nil
	intents = coordinator.Evaluate(p, now, testThresholds)
	if len(intents) != 1 || intents[0].Recipient != "rep@example.com" {
		t.Fatalf("proposal stage without lead: expected sales rep, got %+v", intents)
	}
}

func TestNudgeOnlyInWritingStages(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	// stages waiting on a capability rather than a human get no nudge
	for _, status := range []string{
		domain.StatusBriefComplete,
		domain.StatusProposalComplete,
		domain.StatusDrafting,
	} {
		p := projectAt(status, now.Add(-4*24*time.Hour))
		if got := coordinator.Evaluate(p, now, testThresholds); len(got) != 0 {
			t.Fatalf("%s: expected no intents at 4 days, got %+v", status, got)
		}
	}
	// but the escalate tier still applies to them
	p := projectAt(domain.StatusDrafting, now.Add(-6*24*time.Hour))
	got := intentTypes(coordinator.Evaluate(p, now, testThresholds))
	if len(got) != 1 || got[0] != coordinator.IntentEscalate {
		t.Fatalf("drafting at 6 days: expected escalate only, got %v", got)
	}
}

func TestEscalationHasNoRecipient(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	p := projectAt(domain.StatusBriefWriting, now.Add(-6*24*time.Hour))
	intents := coordinator.Evaluate(p, now, testThresholds)
	if len(intents) != 2 || intents[1].Type != coordinator.IntentEscalate {
		t.Fatalf("expected nudge then escalate, got %+v", intents)
	}
	if intents[1].Recipient != "" {
		t.Fatalf("expected empty recipient so dispatch falls back to the manager, got %+v", intents[1])
	}
}

func TestDeadlineAlertStacksWithStaleness(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	p := projectAt(domain.StatusProposalWriting, now.Add(-4*24*time.Hour))
	deadline := now.Add(3 * 24 * time.Hour).Format("2006-01-02")
	p.Deadline = &deadline
	got := intentTypes(coordinator.Evaluate(p, now, testThresholds))
	if len(got) != 2 || got[0] != coordinator.IntentNudge || got[1] != coordinator.IntentDeadlineAlert {
		t.Fatalf("expected nudge + deadline_alert, got %v", got)
	}
}

func TestDeadlineAlertWindow(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	p := projectAt(domain.StatusDrafting, now)

	far := now.Add(10 * 24 * time.Hour).Format(time.RFC3339)
	p.Deadline = &far
	if got := coordinator.Evaluate(p, now, testThresholds); len(got) != 0 {
		t.Fatalf("deadline outside window: expected nothing, got %+v", got)
	}

	passed := now.Add(-24 * time.Hour).Format(time.RFC3339)
	p.Deadline = &passed
	if got := coordinator.Evaluate(p, now, testThresholds); len(got) != 0 {
		t.Fatalf("deadline already passed: expected nothing, got %+v", got)
	}

	near := now.Add(2 * 24 * time.Hour).Format(time.RFC3339)
	p.Deadline = &near
	got := coordinator.Evaluate(p, now, testThresholds)
	if len(got) != 1 || got[0].Type != coordinator.IntentDeadlineAlert {
		t.Fatalf("deadline inside window: expected alert, got %+v", got)
	}
	// without a lead the alert falls back to the sales rep
	if got[0].Recipient != "rep@example.com" {
		t.Fatalf("expected alert to the sales rep, got %q", got[0].Recipient)
	}
	lead := "lead@example.com"
	p.ProjectLeadEmail = &lead
	got = coordinator.Evaluate(p, now, testThresholds)
	if len(got) != 1 || got[0].Recipient != lead {
		t.Fatalf("expected alert to the project lead, got %+v", got)
	}
}

func TestSubmittedDecisionCheck(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	p := projectAt(domain.StatusSubmitted, now.Add(-100*24*time.Hour))
	p.Data = map[string]any{"submitted_at": now.Add(-31 * 24 * time.Hour).Format(time.RFC3339)}
	got := coordinator.Evaluate(p, now, testThresholds)
	if len(got) != 1 || got[0].Type != coordinator.IntentDecisionCheck {
		t.Fatalf("expected decision_check, got %+v", got)
	}
	// rep fallback while no lead is set
	if got[0].Recipient != "rep@example.com" {
		t.Fatalf("expected sales rep recipient, got %q", got[0].Recipient)
	}
	lead := "lead@example.com"
	p.ProjectLeadEmail = &lead
	got = coordinator.Evaluate(p, now, testThresholds)
	if len(got) != 1 || got[0].Recipient != lead {
		t.Fatalf("expected project lead recipient, got %+v", got)
	}

	// recently submitted projects are left alone, even when long silent
	p.Data["submitted_at"] = now.Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	if got := coordinator.Evaluate(p, now, testThresholds); len(got) != 0 {
		t.Fatalf("expected nothing for fresh submission, got %+v", got)
	}
}

func TestSubmittedFallsBackToUpdatedAt(t *testing.T) {
	now := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	p := projectAt(domain.StatusSubmitted, now.Add(-5*24*time.Hour))
	p.UpdatedAt = now.Add(-40 * 24 * time.Hour).Format(time.RFC3339)
	got := coordinator.Evaluate(p, now, testThresholds)
	if len(got) != 1 || got[0].Type != coordinator.IntentDecisionCheck {
		t.Fatalf("expected decision_check from updated_at fallback, got %+v", got)
	}
}
