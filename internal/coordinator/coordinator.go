// Package coordinator routes inbound email to the right handler, drives
// projects through the writing stages as capabilities finish, and runs
// the periodic tracking sweep.
package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rfpflow/internal/config"
	"rfpflow/internal/domain"
	"rfpflow/internal/events"
	"rfpflow/internal/lifecycle"
	"rfpflow/internal/mail"
	"rfpflow/internal/repo"
	"rfpflow/internal/validation"
)

// Capability names the external writing agents the coordinator delegates to.
type Capability string

const (
	CapabilityBrief    Capability = "brief"
	CapabilityProposal Capability = "proposal"
	CapabilityDrafting Capability = "drafting"
)

// Invoker starts or resumes one external capability. Start returns the
// email thread ID the capability will converse on; Resume hands it a new
// message on that thread.
type Invoker interface {
	Start(ctx context.Context, project domain.Project) (string, error)
	Resume(ctx context.Context, project domain.Project, msg mail.Message) error
}

// ErrUnknownCapability is returned when no invoker is registered for a
// capability the coordinator needs.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrWrongStage is returned when a capability reports completion for a
// project that is not in that capability's working stage.
var ErrWrongStage = errors.New("project not in expected stage")

// Routing outcomes.
const (
	RouteNewRequest         = "new_request"
	RouteBriefResponse      = "brief_response"
	RouteProposalResponse   = "proposal_response"
	RouteDraftingResponse   = "drafting_response"
	RouteValidationResponse = "validation_response"
	RouteStatusInquiry      = "status_inquiry"
)

type Coordinator struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Lifecycle   lifecycle.Manager
	Validations validation.Tracker
	Mail        mail.Recorder
	Invokers    map[Capability]Invoker
	Config      *config.Config
	Now         func() time.Time
}

func (c Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// RouteResult records where one inbound message went.
type RouteResult struct {
	Kind      string `json:"kind"`
	ProjectID string `json:"project_id,omitempty"`
	// Resource is set for validation responses: the resource whose
	// pending request the message resolved.
	Resource string `json:"resource,omitempty"`
}

// Route dispatches one inbound email. Classification is by thread: a
// message on a known capability thread resumes that capability, a message
// on the supervisor thread resolves the oldest pending validation (or,
// with none pending, is answered as a status inquiry), and a message on
// no known thread opens a new project.
func (c Coordinator) Route(ctx context.Context, msg mail.Message) (RouteResult, error) {
	if msg.ThreadID != "" {
		project, kind, err := c.Repo.FindProjectByThread(ctx, msg.ThreadID)
		if err == nil {
			return c.routeKnown(ctx, project, kind, msg)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return RouteResult{}, err
		}
	}
	return c.routeNewRequest(ctx, msg)
}

func (c Coordinator) routeKnown(ctx context.Context, project domain.Project, kind string, msg mail.Message) (RouteResult, error) {
	ts := c.now().UTC().Format(time.RFC3339)
	if err := c.Repo.TouchProjectActivity(ctx, project.ID, ts); err != nil {
		return RouteResult{}, err
	}
	var res RouteResult
	switch kind {
	case "brief", "proposal", "drafting":
		capability := Capability(kind)
		invoker, ok := c.Invokers[capability]
		if !ok {
			return RouteResult{}, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
		}
		if err := invoker.Resume(ctx, project, msg); err != nil {
			return RouteResult{}, err
		}
		res = RouteResult{Kind: kind + "_response", ProjectID: project.ID}
	default:
		pending, err := c.Validations.ListPending(ctx, project.ID)
		if err != nil {
			return RouteResult{}, err
		}
		if len(pending) > 0 {
			oldest := pending[0]
			emailID := msg.ID
			err := c.Validations.Record(ctx, project.ID, oldest.ResourceIdentifier, msg.Body, &emailID, msg.From)
			if err != nil {
				return RouteResult{}, err
			}
			res = RouteResult{Kind: RouteValidationResponse, ProjectID: project.ID, Resource: oldest.ResourceIdentifier}
		} else {
			if err := c.answerStatusInquiry(ctx, project, msg); err != nil {
				return RouteResult{}, err
			}
			res = RouteResult{Kind: RouteStatusInquiry, ProjectID: project.ID}
		}
	}
	if err := c.logRoute(ctx, res, msg); err != nil {
		return RouteResult{}, err
	}
	return res, nil
}

func (c Coordinator) routeNewRequest(ctx context.Context, msg mail.Message) (RouteResult, error) {
	project, err := c.Lifecycle.Create(ctx, lifecycle.CreateInput{
		ClientName:       clientNameFromSubject(msg.Subject),
		SalesRepEmail:    msg.From,
		RFPContent:       msg.Body,
		SupervisorThread: msg.ThreadID,
		ActorID:          msg.From,
	})
	if err != nil {
		return RouteResult{}, err
	}
	if _, err := c.startCapability(ctx, project, CapabilityBrief); err != nil {
		return RouteResult{}, err
	}
	res := RouteResult{Kind: RouteNewRequest, ProjectID: project.ID}
	if err := c.logRoute(ctx, res, msg); err != nil {
		return RouteResult{}, err
	}
	return res, nil
}

func (c Coordinator) logRoute(ctx context.Context, res RouteResult, msg mail.Message) error {
	tracked := domain.TrackedEmail{
		EmailID:   msg.ID,
		Direction: "inbound",
		FromEmail: msg.From,
		ToEmail:   msg.To,
		Subject:   msg.Subject,
		SentAt:    msg.SentAt,
	}
	if res.ProjectID != "" {
		id := res.ProjectID
		tracked.ProjectID = &id
	}
	if msg.ThreadID != "" {
		thread := msg.ThreadID
		tracked.ThreadID = &thread
	}
	if tracked.SentAt == "" {
		tracked.SentAt = c.now().UTC().Format(time.RFC3339)
	}
	if err := c.Repo.InsertTrackedEmail(ctx, tracked); err != nil {
		return err
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	err = c.Events.Append(ctx, tx, events.TypeEmailRouted, res.ProjectID, "email", msg.ID, msg.From, events.EventPayload{
		"kind":    res.Kind,
		"subject": msg.Subject,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (c Coordinator) answerStatusInquiry(ctx context.Context, project domain.Project, msg mail.Message) error {
	counts, err := c.Repo.CountValidationsByStatus(ctx, project.ID)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Project %s for %s is in %s.", project.ID, project.ClientName, project.Status)
	if counts[domain.ValidationPending] > 0 {
		body += fmt.Sprintf(" %d validation(s) awaiting response.", counts[domain.ValidationPending])
	}
	_, err = c.Mail.WithProject(project.ID).Send(ctx, mail.Message{
		From:     c.fromEmail(),
		To:       msg.From,
		ThreadID: msg.ThreadID,
		Subject:  "Re: " + msg.Subject,
		Body:     body,
	})
	return err
}

// workingStage returns the status a project must be in for the capability
// to be running, and the statuses it moves through on completion.
func workingStage(capability Capability) (working, complete, next string, nextCap Capability, err error) {
	switch capability {
	case CapabilityBrief:
		return domain.StatusBriefWriting, domain.StatusBriefComplete, domain.StatusProposalWriting, CapabilityProposal, nil
	case CapabilityProposal:
		return domain.StatusProposalWriting, domain.StatusProposalComplete, domain.StatusDrafting, CapabilityDrafting, nil
	case CapabilityDrafting:
		return domain.StatusDrafting, domain.StatusSubmitted, "", "", nil
	default:
		return "", "", "", "", fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}
}

func threadField(capability Capability) string {
	switch capability {
	case CapabilityBrief:
		return "brief_thread_id"
	case CapabilityProposal:
		return "proposal_thread_id"
	case CapabilityDrafting:
		return "drafting_thread_id"
	}
	return ""
}

func (c Coordinator) startCapability(ctx context.Context, project domain.Project, capability Capability) (string, error) {
	invoker, ok := c.Invokers[capability]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}
	threadID, err := invoker.Start(ctx, project)
	if err != nil {
		return "", err
	}
	fields := map[string]any{}
	if field := threadField(capability); field != "" && threadID != "" {
		fields[field] = threadID
	}
	if len(fields) > 0 {
		if _, err := c.Lifecycle.Update(ctx, project.ID, fields, "system"); err != nil {
			return "", err
		}
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	err = c.Events.Append(ctx, tx, events.TypeCapabilityStarted, project.ID, "capability", string(capability), "system", events.EventPayload{
		"thread_id": threadID,
	})
	if err != nil {
		return "", err
	}
	return threadID, tx.Commit()
}

// OnCapabilityDone advances the project when a capability reports its
// result. Success walks the stage chain: the brief completing moves the
// project through brief_complete into proposal_writing and starts the
// proposal capability, and so on until drafting completes into submitted.
// Failure abandons the project. Completion is only legal from the
// capability's working stage.
func (c Coordinator) OnCapabilityDone(ctx context.Context, projectID string, capability Capability, success bool, detail string) (domain.Project, error) {
	working, complete, next, nextCap, err := workingStage(capability)
	if err != nil {
		return domain.Project{}, err
	}
	project, err := c.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if project.Status != working {
		return domain.Project{}, fmt.Errorf("%w: %s is %s, expected %s", ErrWrongStage, projectID, project.Status, working)
	}

	eventType := events.TypeCapabilityDone
	if !success {
		eventType = events.TypeCapabilityFailed
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	err = c.Events.Append(ctx, tx, eventType, projectID, "capability", string(capability), "system", events.EventPayload{
		"detail": detail,
	})
	if err != nil {
		tx.Rollback()
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}

	if !success {
		return c.Lifecycle.SetStatus(ctx, projectID, domain.StatusAbandoned, "system")
	}

	project, err = c.Lifecycle.SetStatus(ctx, projectID, complete, "system")
	if err != nil {
		return domain.Project{}, err
	}
	if complete == domain.StatusSubmitted {
		stamp := c.now().UTC().Format(time.RFC3339)
		return c.Lifecycle.Update(ctx, projectID, map[string]any{"submitted_at": stamp}, "system")
	}
	if next == "" {
		return project, nil
	}
	project, err = c.Lifecycle.SetStatus(ctx, projectID, next, "system")
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := c.startCapability(ctx, project, nextCap); err != nil {
		return domain.Project{}, err
	}
	return c.Repo.GetProject(ctx, projectID)
}

// RecordDecision closes a submitted project as won or lost.
func (c Coordinator) RecordDecision(ctx context.Context, projectID string, won bool) (domain.Project, error) {
	project, err := c.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if project.Status != domain.StatusSubmitted {
		return domain.Project{}, fmt.Errorf("%w: %s is %s, expected %s", ErrWrongStage, projectID, project.Status, domain.StatusSubmitted)
	}
	status := domain.StatusLost
	if won {
		status = domain.StatusWon
	}
	return c.Lifecycle.SetStatus(ctx, projectID, status, "system")
}

func (c Coordinator) fromEmail() string {
	if c.Config != nil && c.Config.Company.FromEmail != "" {
		return c.Config.Company.FromEmail
	}
	return "rfpflow@localhost"
}

func clientNameFromSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for _, prefix := range []string{"Fwd:", "FW:", "Fw:", "RFP:", "rfp:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	if s == "" {
		return "unknown client"
	}
	return s
}
