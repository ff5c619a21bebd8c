// Package mail defines the outbound email surface used by the coordinator
// and the validation tracker. Real SMTP/IMAP transport lives behind the
// Gateway interface; the package ships an in-memory implementation for
// local workspaces and tests, plus a Recorder that mirrors traffic into
// the email_tracking table.
package mail

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one email, inbound or outbound.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	SentAt   string `json:"sent_at"`
	Unread   bool   `json:"unread"`
}

// Gateway sends and reads email. Send returns the provider-assigned
// message ID.
type Gateway interface {
	Send(ctx context.Context, msg Message) (string, error)
	Read(ctx context.Context, id string) (Message, error)
	ListUnread(ctx context.Context) ([]Message, error)
}

// GatewayError wraps a transport failure so callers can distinguish
// "the email never left" from local storage errors.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("mail gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Memory is an in-process Gateway. Safe for concurrent use.
type Memory struct {
	Now func() time.Time

	mu       sync.Mutex
	messages map[string]Message
	failSend error
}

func NewMemory() *Memory {
	return &Memory{messages: map[string]Message{}}
}

// FailSends makes subsequent Send calls fail with the given error.
// Passing nil restores normal behavior.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSend = err
}

func (m *Memory) Send(_ context.Context, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend != nil {
		return "", &GatewayError{Op: "send", Err: m.failSend}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt == "" {
		msg.SentAt = m.now().UTC().Format(time.RFC3339)
	}
	msg.Unread = false
	m.messages[msg.ID] = msg
	return msg.ID, nil
}

// Deliver injects an inbound message, as if it arrived from outside.
func (m *Memory) Deliver(msg Message) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt == "" {
		msg.SentAt = m.now().UTC().Format(time.RFC3339)
	}
	msg.Unread = true
	m.messages[msg.ID] = msg
	return msg.ID
}

func (m *Memory) Read(_ context.Context, id string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return Message{}, &GatewayError{Op: "read", Err: fmt.Errorf("message %s not found", id)}
	}
	if msg.Unread {
		msg.Unread = false
		m.messages[id] = msg
	}
	return msg, nil
}

func (m *Memory) ListUnread(_ context.Context) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Message
	for _, msg := range m.messages {
		if msg.Unread {
			res = append(res, msg)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SentAt != res[j].SentAt {
			return res[i].SentAt < res[j].SentAt
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
