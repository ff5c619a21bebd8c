// Package server exposes the HTTP API: project lifecycle, validations,
// inbound email routing, tracking, knowledge, and the event log.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rfpflow/internal/app"
	"rfpflow/internal/coordinator"
	"rfpflow/internal/domain"
	"rfpflow/internal/knowledge"
	"rfpflow/internal/lifecycle"
	"rfpflow/internal/mail"
	"rfpflow/internal/repo"
	"rfpflow/internal/validation"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_pending_request"`
	Message string         `json:"message" example:"no pending validation request"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the rfpflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.App.Repo))
	hcfg := huma.DefaultConfig("Rfpflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.App)
	registerValidations(group, cfg.App)
	registerInbox(group, cfg.App)
	registerCapabilities(group, cfg.App)
	registerTracking(group, cfg.App)
	registerKnowledge(group, cfg.App)
	registerEvents(group, cfg.App)
	registerEmails(group, cfg.App)
	registerAPIKeys(group, cfg.App)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.App)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var inconsistent *validation.InconsistentStateError
	if errors.As(err, &inconsistent) {
		return newAPIError(http.StatusInternalServerError, "inconsistent_state", err.Error(), map[string]any{"email_id": inconsistent.EmailID})
	}
	var gw *mail.GatewayError
	if errors.As(err, &gw) {
		return newAPIError(http.StatusBadGateway, "gateway_error", err.Error(), map[string]any{"op": gw.Op})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, lifecycle.ErrInvalidStatus):
		return newAPIError(http.StatusBadRequest, "invalid_status", err.Error(), nil)
	case errors.Is(err, validation.ErrNoPendingRequest):
		return newAPIError(http.StatusConflict, "no_pending_request", err.Error(), nil)
	case errors.Is(err, validation.ErrDuplicatePending):
		return newAPIError(http.StatusConflict, "duplicate_pending", err.Error(), nil)
	case errors.Is(err, coordinator.ErrWrongStage):
		return newAPIError(http.StatusConflict, "wrong_stage", err.Error(), nil)
	case errors.Is(err, coordinator.ErrUnknownCapability):
		return newAPIError(http.StatusBadRequest, "unknown_capability", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Rfpflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ClientName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_name is required", nil)
		}
		if input.Body.SalesRepEmail == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "sales_rep_email is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := lifecycle.CreateInput{
			ClientName:    input.Body.ClientName,
			SalesRepEmail: input.Body.SalesRepEmail,
			ActorID:       actorID,
		}
		if input.Body.ProjectLeadEmail != nil {
			in.ProjectLeadEmail = *input.Body.ProjectLeadEmail
		}
		if input.Body.Deadline != nil {
			in.Deadline = *input.Body.Deadline
		}
		if input.Body.RFPContent != nil {
			in.RFPContent = *input.Body.RFPContent
		}
		p, err := a.Lifecycle.Create(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		All bool `query:"all" doc:"Include submitted and terminal projects"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		var items []domain.Project
		var err error
		if input.All {
			items, err = a.Lifecycle.List(ctx)
		} else {
			items, err = a.Lifecycle.ListActive(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Project{}
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := a.Lifecycle.Get(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := a.Lifecycle.Update(ctx, input.ProjectID, input.Body.Fields, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-status",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/status",
		Summary:     "Set project status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := a.Lifecycle.SetStatus(ctx, input.ProjectID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectStatusResponse `json:"body"`
	}, error) {
		p, err := a.Lifecycle.Get(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := a.Repo.CountValidationsByStatus(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectStatusResponse `json:"body"`
		}{Body: ProjectStatusResponse{
			ProjectID:          p.ID,
			ClientName:         p.ClientName,
			Status:             p.Status,
			ValidationCounts:   counts,
			PendingValidations: counts[domain.ValidationPending],
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-decision",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/decision",
		Summary:     "Record win/loss decision",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      DecisionRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := a.Coordinator.RecordDecision(ctx, input.ProjectID, input.Body.Won)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerValidations(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-validation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/validations",
		Summary:       "Request validation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      RequestValidationRequest `json:"body"`
	}) (*struct {
		Body domain.ValidationRequest `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := validation.RequestInput{
			ProjectID:    input.ProjectID,
			Resource:     input.Body.Resource,
			Question:     input.Body.Question,
			TimeoutHours: input.Body.TimeoutHours,
			ActorID:      actorID,
		}
		if input.Body.To != nil {
			in.To = *input.Body.To
		}
		v, err := a.Validations.Request(ctx, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRequest `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-validations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/validations",
		Summary:     "List validations",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Pending   bool   `query:"pending" doc:"Only pending requests, oldest first"`
	}) (*struct {
		Body []domain.ValidationRequest `json:"body"`
	}, error) {
		var items []domain.ValidationRequest
		var err error
		if input.Pending {
			items, err = a.Validations.ListPending(ctx, input.ProjectID)
		} else {
			items, err = a.Validations.List(ctx, input.ProjectID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ValidationRequest{}
		}
		return &struct {
			Body []domain.ValidationRequest `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-validation",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/validations/respond",
		Summary:     "Record validation response",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      RespondValidationRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := a.Validations.Record(ctx, input.ProjectID, input.Body.Resource, input.Body.ResponseText, input.Body.ResponseEmailID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": domain.ValidationResponded}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-validation",
		Method:      http.MethodGet,
		Path:        "/validations/{id}",
		Summary:     "Get validation request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ValidationRequest `json:"body"`
	}, error) {
		v, err := a.Validations.CheckStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationRequest `json:"body"`
		}{Body: v}, nil
	})
}

func registerInbox(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "route-inbound",
		Method:      http.MethodPost,
		Path:        "/inbox",
		Summary:     "Route an inbound email",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body InboundMessageRequest `json:"body"`
	}) (*struct {
		Body coordinator.RouteResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.From == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "from is required", nil)
		}
		msg := mail.Message{
			ID:       input.Body.ID,
			ThreadID: input.Body.ThreadID,
			From:     input.Body.From,
			To:       input.Body.To,
			Subject:  input.Body.Subject,
			Body:     input.Body.Body,
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		res, err := a.Coordinator.Route(ctx, msg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body coordinator.RouteResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerCapabilities(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "capability-done",
		Method:      http.MethodPost,
		Path:        "/capabilities/{capability}/done",
		Summary:     "Report capability completion",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Capability string                `path:"capability" enum:"brief,proposal,drafting"`
		Body       CapabilityDoneRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ProjectID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id is required", nil)
		}
		p, err := a.Coordinator.OnCapabilityDone(ctx, input.Body.ProjectID, coordinator.Capability(input.Capability), input.Body.Success, input.Body.Detail)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerTracking(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "run-tracking",
		Method:      http.MethodPost,
		Path:        "/tracking/run",
		Summary:     "Run one tracking sweep",
		Errors:      []int{http.StatusBadGateway, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body coordinator.TickReport `json:"body"`
	}, error) {
		report, err := a.Coordinator.Tick(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if report.Intents == nil {
			report.Intents = []coordinator.Intent{}
		}
		return &struct {
			Body coordinator.TickReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tracking-state",
		Method:      http.MethodGet,
		Path:        "/tracking/state",
		Summary:     "Last tracking run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.StateEntry `json:"body"`
	}, error) {
		entry, err := a.Repo.GetSystemState(ctx, coordinator.StateKeyLastRun)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StateEntry `json:"body"`
		}{Body: entry}, nil
	})
}

func registerKnowledge(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-knowledge",
		Method:        http.MethodPost,
		Path:          "/knowledge",
		Summary:       "Add knowledge item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AddKnowledgeRequest `json:"body"`
	}) (*struct {
		Body domain.KnowledgeItem `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		item, err := a.Knowledge.Add(ctx, domain.KnowledgeItem{
			ID:       input.Body.ID,
			Type:     input.Body.Type,
			Content:  input.Body.Content,
			Metadata: input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KnowledgeItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-knowledge",
		Method:      http.MethodGet,
		Path:        "/knowledge/{id}",
		Summary:     "Get knowledge item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.KnowledgeItem `json:"body"`
	}, error) {
		item, err := a.Knowledge.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KnowledgeItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-knowledge",
		Method:      http.MethodPost,
		Path:        "/knowledge/search",
		Summary:     "Search knowledge",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body knowledge.Query `json:"body"`
	}) (*struct {
		Body []domain.KnowledgeItem `json:"body"`
	}, error) {
		items, err := a.Knowledge.Search(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.KnowledgeItem{}
		}
		return &struct {
			Body []domain.KnowledgeItem `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := a.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerEmails(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-emails",
		Method:      http.MethodGet,
		Path:        "/emails",
		Summary:     "Tracked emails",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.TrackedEmail `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := a.Repo.ListTrackedEmails(ctx, input.ProjectID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.TrackedEmail{}
		}
		return &struct {
			Body []domain.TrackedEmail `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" || input.Body.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and key are required", nil)
		}
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(input.Body.Key),
		}
		if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := a.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		keys, err := a.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: mapAPIKeys(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := a.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
