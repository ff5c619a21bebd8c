package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rfpflow/internal/app"
	"rfpflow/internal/config"
	"rfpflow/internal/coordinator"
	"rfpflow/internal/db"
	"rfpflow/internal/domain"
	"rfpflow/internal/mail"
	"rfpflow/internal/migrate"
	"rfpflow/internal/validation"
)

type clock struct {
	t time.Time
}

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	App     *app.App
	Gateway *mail.Memory
	Clock   *clock
	Ctx     context.Context
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ck := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	gateway := mail.NewMemory()
	gateway.Now = ck.Now
	a, err := app.FromDB(conn, config.Default("manager@localhost"), app.Options{
		Gateway: gateway,
		Now:     ck.Now,
	})
	if err != nil {
		t.Fatalf("wire app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return env{App: a, Gateway: gateway, Clock: ck, Ctx: context.Background()}
}

func (e env) newProject(t *testing.T) domain.Project {
	t.Helper()
	res, err := e.App.Coordinator.Route(e.Ctx, mail.Message{
		ID:       "msg-rfp",
		ThreadID: "thread-client",
		From:     "rep@example.com",
		Subject:  "Fwd: RFP: Acme Corp",
		Body:     "Please respond to the attached RFP.",
	})
	if err != nil {
		t.Fatalf("route new request: %v", err)
	}
	p, err := e.App.Lifecycle.Get(e.Ctx, res.ProjectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	return p
}

func TestRouteNewRequestOpensProject(t *testing.T) {
	e := newEnv(t)
	res, err := e.App.Coordinator.Route(e.Ctx, mail.Message{
		ID:       "msg-1",
		ThreadID: "thread-1",
		From:     "rep@example.com",
		Subject:  "Fwd: RFP: Acme Corp",
		Body:     "RFP text here",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Kind != coordinator.RouteNewRequest || res.ProjectID == "" {
		t.Fatalf("expected new_request with project id, got %+v", res)
	}
	p, err := e.App.Lifecycle.Get(e.Ctx, res.ProjectID)
	if err != nil {
		t.Fatal(err)
	}
	if p.ClientName != "Acme Corp" {
		t.Fatalf("expected subject prefixes stripped, got %q", p.ClientName)
	}
	if p.SalesRepEmail != "rep@example.com" || p.Status != domain.StatusBriefWriting {
		t.Fatalf("unexpected project %+v", p)
	}
	if p.SupervisorThread == nil || *p.SupervisorThread != "thread-1" {
		t.Fatalf("expected supervisor thread recorded")
	}
	if p.BriefThread == nil || *p.BriefThread == "" {
		t.Fatalf("expected brief capability started with its own thread")
	}
	if p.Data["rfp_content"] != "RFP text here" {
		t.Fatalf("expected rfp body preserved")
	}
}

func TestRouteCapabilityThreadResumes(t *testing.T) {
	e := newEnv(t)
	p := e.newProject(t)
	res, err := e.App.Coordinator.Route(e.Ctx, mail.Message{
		ID:       "msg-2",
		ThreadID: *p.BriefThread,
		From:     "brief@localhost",
		Subject:  "Draft brief attached",
		Body:     "Here is the brief so far.",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Kind != coordinator.RouteBriefResponse || res.ProjectID != p.ID {
		t.Fatalf("expected brief_response, got %+v", res)
	}
	got, _ := e.App.Lifecycle.Get(e.Ctx, p.ID)
	if got.LastEmailAt == nil {
		t.Fatalf("expected activity stamped on routed message")
	}
}

func TestRouteSupervisorThread(t *testing.T) {
	e := newEnv(t)
	p := e.newProject(t)

	// with a pending validation, a supervisor reply resolves it
	if _, err := e.App.Validations.Request(e.Ctx, validation.RequestInput{
		ProjectID: p.ID, Resource: "pricing", Question: "Confirm discount?",
	}); err != nil {
		t.Fatal(err)
	}
	res, err := e.App.Coordinator.Route(e.Ctx, mail.Message{
		ID:       "msg-3",
		ThreadID: *p.SupervisorThread,
		From:     "rep@example.com",
		Subject:  "Re: Validation needed",
		Body:     "Discount confirmed.",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.Kind != coordinator.RouteValidationResponse || res.Resource != "pricing" {
		t.Fatalf("expected validation_response for pricing, got %+v", res)
	}
	pending, _ := e.App.Validations.ListPending(e.Ctx, p.ID)
	if len(pending) != 0 {
		t.Fatalf("expected pending request resolved")
	}

	// with nothing pending, the same thread is a status inquiry
	res, err = e.App.Coordinator.Route(e.Ctx, mail.Message{
		ID:       "msg-4",
		ThreadID: *p.SupervisorThread,
		From:     "rep@example.com",
		Subject:  "How is it going?",
		Body:     "Any progress?",
	})
	if err != nil {
		t.Fatalf("route inquiry: %v", err)
	}
	if res.Kind != coordinator.RouteStatusInquiry {
		t.Fatalf("expected status_inquiry, got %+v", res)
	}
	unread := 0
	emails, _ := e.App.Repo.ListTrackedEmails(e.Ctx, p.ID, 50)
	for _, m := range emails {
		if m.Direction == "outbound" && m.ToEmail == "rep@example.com" {
			unread++
		}
	}
	if unread == 0 {
		t.Fatalf("expected an outbound status reply")
	}
}

func TestCapabilityChain(t *testing.T) {
	e := newEnv(t)
	p := e.newProject(t)

	// completing out of order is rejected
	_, err := e.App.Coordinator.OnCapabilityDone(e.Ctx, p.ID, coordinator.CapabilityProposal, true, "")
	if !errors.Is(err, coordinator.ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage, got %v", err)
	}

	got, err := e.App.Coordinator.OnCapabilityDone(e.Ctx, p.ID, coordinator.CapabilityBrief, true, "brief ready")
	if err != nil {
		t.Fatalf("brief done: %v", err)
	}
	if got.Status != domain.StatusProposalWriting {
		t.Fatalf("expected proposal_writing, got %s", got.Status)
	}
	if got.ProposalThread == nil || *got.ProposalThread == "" {
		t.Fatalf("expected proposal capability started")
	}

	got, err = e.App.Coordinator.OnCapabilityDone(e.Ctx, p.ID, coordinator.CapabilityProposal, true, "")
	if err != nil || got.Status != domain.StatusDrafting {
		t.Fatalf("expected drafting, got %s (%v)", got.Status, err)
	}
	if got.DraftingThread == nil {
		t.Fatalf("expected drafting capability started")
	}

	got, err = e.App.Coordinator.OnCapabilityDone(e.Ctx, p.ID, coordinator.CapabilityDrafting, true, "")
	if err != nil || got.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s (%v)", got.Status, err)
	}
	if _, ok := got.Data["submitted_at"].(string); !ok {
		t.Fatalf("expected submitted_at stamped, got %+v", got.Data)
	}

	won, err := e.App.Coordinator.RecordDecision(e.Ctx, p.ID, true)
	if err != nil || won.Status != domain.StatusWon {
		t.Fatalf("expected won, got %s (%v)", won.Status, err)
	}
}

func TestCapabilityFailureAbandons(t *testing.T) {
	e := newEnv(t)
	p := e.newProject(t)
	got, err := e.App.Coordinator.OnCapabilityDone(e.Ctx, p.ID, coordinator.CapabilityBrief, false, "no usable RFP")
	if err != nil {
		t.Fatalf("failure report: %v", err)
	}
	if got.Status != domain.StatusAbandoned {
		t.Fatalf("expected abandoned, got %s", got.Status)
	}
}

func TestDecisionRequiresSubmitted(t *testing.T) {
	e := newEnv(t)
	p := e.newProject(t)
	_, err := e.App.Coordinator.RecordDecision(e.Ctx, p.ID, true)
	if !errors.Is(err, coordinator.ErrWrongStage) {
		t.Fatalf("expected ErrWrongStage, got %v", err)
	}
}

func TestTickSweepsAndStampsState(t *testing.T) {
	e := newEnv(t)
	p := e.newProject(t)
	if _, err := e.App.Validations.Request(e.Ctx, validation.RequestInput{
		ProjectID: p.ID, Resource: "scope", Question: "Confirm?",
	}); err != nil {
		t.Fatal(err)
	}

	// four days of silence: the validation times out and the project gets
	// a nudge
	e.Clock.Advance(4 * 24 * time.Hour)
	report, err := e.App.Coordinator.Tick(e.Ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.ExpiredValidations != 1 {
		t.Fatalf("expected 1 expired validation, got %d", report.ExpiredValidations)
	}
	if len(report.Intents) != 1 || report.Intents[0].Type != coordinator.IntentNudge {
		t.Fatalf("expected one nudge, got %+v", report.Intents)
	}
	if report.ProjectsByStatus[domain.StatusBriefWriting] != 1 {
		t.Fatalf("expected status counts in the report, got %+v", report.ProjectsByStatus)
	}

	entry, err := e.App.Repo.GetSystemState(e.Ctx, coordinator.StateKeyLastRun)
	if err != nil {
		t.Fatalf("system state: %v", err)
	}
	if entry.Value["ran_at"] != report.RanAt {
		t.Fatalf("expected run stamped in system_state, got %+v", entry.Value)
	}

	// the nudge email actually went out to the sales rep
	nudged := false
	emails, _ := e.App.Repo.ListTrackedEmails(e.Ctx, p.ID, 50)
	for _, m := range emails {
		if m.Direction == "outbound" && m.ToEmail == "rep@example.com" && m.SentAt == report.RanAt {
			nudged = true
		}
	}
	if !nudged {
		t.Fatalf("expected nudge email in tracking, got %+v", emails)
	}
}

func TestTickEscalatesToManager(t *testing.T) {
	e := newEnv(t)
	p := e.newProject(t)
	e.Clock.Advance(6 * 24 * time.Hour)
	report, err := e.App.Coordinator.Tick(e.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	// six days of silence crosses the nudge and escalate tiers
	if len(report.Intents) != 2 || report.Intents[1].Type != coordinator.IntentEscalate {
		t.Fatalf("expected nudge + escalate, got %+v", report.Intents)
	}
	sent := false
	emails, _ := e.App.Repo.ListTrackedEmails(e.Ctx, p.ID, 50)
	for _, m := range emails {
		if m.ToEmail == "manager@localhost" {
			sent = true
		}
	}
	if !sent {
		t.Fatalf("expected escalation delivered to the manager")
	}
}

func TestTickDeadlineAlertCopiesManager(t *testing.T) {
	e := newEnv(t)
	p := e.newProject(t)
	lead := "lead@example.com"
	deadline := e.Clock.Now().Add(2 * 24 * time.Hour).Format("2006-01-02")
	if _, err := e.App.Lifecycle.Update(e.Ctx, p.ID, map[string]any{
		"project_lead_email": lead,
		"deadline":           deadline,
	}, "tester"); err != nil {
		t.Fatalf("update: %v", err)
	}

	report, err := e.App.Coordinator.Tick(e.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Intents) != 1 || report.Intents[0].Type != coordinator.IntentDeadlineAlert {
		t.Fatalf("expected deadline alert, got %+v", report.Intents)
	}
	// the alert reaches both the project lead and the escalation channel
	toLead, toManager := false, false
	emails, _ := e.App.Repo.ListTrackedEmails(e.Ctx, p.ID, 50)
	for _, m := range emails {
		if m.SentAt != report.RanAt {
			continue
		}
		switch m.ToEmail {
		case lead:
			toLead = true
		case "manager@localhost":
			toManager = true
		}
	}
	if !toLead || !toManager {
		t.Fatalf("expected alert to lead and manager, got %+v", emails)
	}
}
