package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"rfpflow/internal/domain"
	"rfpflow/internal/mail"
)

// EmailInvoker drives a capability that lives behind a mailbox: starting
// it opens a fresh thread with the project context, resuming forwards the
// new message on that thread. Anything that answers email can serve as a
// capability this way.
type EmailInvoker struct {
	Mail       mail.Recorder
	Capability Capability
	// Address is the capability's mailbox.
	Address string
	// From is the sender address on outbound messages.
	From string
}

func (i EmailInvoker) Start(ctx context.Context, project domain.Project) (string, error) {
	threadID := uuid.NewString()
	body := fmt.Sprintf("Client: %s\nStatus: %s\n", project.ClientName, project.Status)
	if rfp, ok := project.Data["rfp_content"].(string); ok && rfp != "" {
		body += "\n" + rfp
	}
	_, err := i.Mail.WithProject(project.ID).Send(ctx, mail.Message{
		From:     i.From,
		To:       i.Address,
		ThreadID: threadID,
		Subject:  fmt.Sprintf("[%s] %s requested", project.ClientName, i.Capability),
		Body:     body,
	})
	if err != nil {
		return "", err
	}
	return threadID, nil
}

func (i EmailInvoker) Resume(ctx context.Context, project domain.Project, msg mail.Message) error {
	_, err := i.Mail.WithProject(project.ID).Send(ctx, mail.Message{
		From:     i.From,
		To:       i.Address,
		ThreadID: msg.ThreadID,
		Subject:  "Re: " + msg.Subject,
		Body:     msg.Body,
	})
	return err
}
