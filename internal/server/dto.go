package server

import (
	"rfpflow/internal/domain"
)

type CreateProjectRequest struct {
	ClientName       string  `json:"client_name" example:"Acme Corp"`
	SalesRepEmail    string  `json:"sales_rep_email" format:"email"`
	ProjectLeadEmail *string `json:"project_lead_email,omitempty" format:"email"`
	Deadline         *string `json:"deadline,omitempty"`
	RFPContent       *string `json:"rfp_content,omitempty"`
}

type UpdateProjectRequest struct {
	Fields map[string]any `json:"fields" jsonschema:"type=object,additionalProperties=true"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"brief_writing,brief_complete,proposal_writing,proposal_complete,drafting,submitted,won,lost,abandoned"`
}

type DecisionRequest struct {
	Won bool `json:"won"`
}

type ProjectStatusResponse struct {
	ProjectID          string         `json:"project_id"`
	ClientName         string         `json:"client_name"`
	Status             string         `json:"status"`
	ValidationCounts   map[string]int `json:"validation_counts"`
	PendingValidations int            `json:"pending_validations"`
}

type RequestValidationRequest struct {
	Resource     string  `json:"resource_identifier"`
	Question     string  `json:"validation_question"`
	To           *string `json:"to,omitempty" format:"email"`
	TimeoutHours int     `json:"timeout_hours,omitempty" minimum:"0" doc:"Overrides the configured timeout for this request"`
}

type RespondValidationRequest struct {
	Resource        string  `json:"resource_identifier"`
	ResponseText    string  `json:"response_text"`
	ResponseEmailID *string `json:"response_email_id,omitempty"`
}

type InboundMessageRequest struct {
	ID       string `json:"id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	From     string `json:"from" format:"email"`
	To       string `json:"to,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

type CapabilityDoneRequest struct {
	ProjectID string `json:"project_id"`
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
}

type AddKnowledgeRequest struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"knowledge_type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

func mapAPIKeys(keys []domain.APIKey) []APIKeyResponse {
	res := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		res = append(res, apiKeyResponse(k))
	}
	return res
}
