package domain

// Project statuses form a closed set. The lifecycle manager rejects anything
// outside it; edge legality between members is coordinator policy.
const (
	StatusBriefWriting     = "brief_writing"
	StatusBriefComplete    = "brief_complete"
	StatusProposalWriting  = "proposal_writing"
	StatusProposalComplete = "proposal_complete"
	StatusDrafting         = "drafting"
	StatusSubmitted        = "submitted"
	StatusWon              = "won"
	StatusLost             = "lost"
	StatusAbandoned        = "abandoned"
)

// Statuses lists every legal project status.
var Statuses = []string{
	StatusBriefWriting, StatusBriefComplete,
	StatusProposalWriting, StatusProposalComplete,
	StatusDrafting, StatusSubmitted,
	StatusWon, StatusLost, StatusAbandoned,
}

// ValidStatus reports whether s belongs to the closed status set.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// InactiveStatuses are excluded from active-project queries and tracking.
var InactiveStatuses = []string{StatusSubmitted, StatusWon, StatusLost, StatusAbandoned}

type Project struct {
	ID               string         `json:"id"`
	ClientName       string         `json:"client_name"`
	SalesRepEmail    string         `json:"sales_rep_email"`
	ProjectLeadEmail *string        `json:"project_lead_email,omitempty"`
	Status           string         `json:"status" enum:"brief_writing,brief_complete,proposal_writing,proposal_complete,drafting,submitted,won,lost,abandoned"`
	Deadline         *string        `json:"deadline,omitempty" format:"date-time"`
	LastEmailAt      *string        `json:"last_email_at,omitempty" format:"date-time"`
	SupervisorThread *string        `json:"supervisor_thread_id,omitempty"`
	BriefThread      *string        `json:"brief_thread_id,omitempty"`
	ProposalThread   *string        `json:"proposal_thread_id,omitempty"`
	DraftingThread   *string        `json:"drafting_thread_id,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

// Validation request statuses. pending is the only non-terminal one.
const (
	ValidationPending   = "pending"
	ValidationResponded = "responded"
	ValidationTimeout   = "timeout"
)

type ValidationRequest struct {
	ID                 string  `json:"id"`
	ProjectID          string  `json:"project_id"`
	ResourceIdentifier string  `json:"resource_identifier"`
	Question           string  `json:"validation_question"`
	Status             string  `json:"status" enum:"pending,responded,timeout"`
	ResponseText       *string `json:"response_text,omitempty"`
	RequestEmailID     *string `json:"request_email_id,omitempty"`
	ResponseEmailID    *string `json:"response_email_id,omitempty"`
	SentAt             string  `json:"sent_at" format:"date-time"`
	RespondedAt        *string `json:"responded_at,omitempty" format:"date-time"`
	TimeoutAt          string  `json:"timeout_at" format:"date-time"`
}

// TrackedEmail is one row of the outbound/inbound email audit.
type TrackedEmail struct {
	EmailID   string  `json:"email_id"`
	ProjectID *string `json:"project_id,omitempty"`
	Direction string  `json:"direction" enum:"inbound,outbound"`
	FromEmail string  `json:"from_email"`
	ToEmail   string  `json:"to_email"`
	Subject   string  `json:"subject"`
	ThreadID  *string `json:"thread_id,omitempty"`
	SentAt    string  `json:"sent_at" format:"date-time"`
}

// StateEntry is one key of the durable system_state mapping.
type StateEntry struct {
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// KnowledgeItem is one entry of the knowledge corpus (capabilities, team
// expertise, methodology guidance, past projects).
type KnowledgeItem struct {
	ID        string         `json:"id"`
	Type      string         `json:"knowledge_type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}
