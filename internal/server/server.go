package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/engine/authz"
	"hourline/internal/identity"
	"hourline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

const devTokenTTL = 12 * time.Hour

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid solicitation transition completado -> pendiente"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Hourline API.
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
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	resolver := identity.Resolver{Repo: cfg.Engine.Repo, JWTSecret: cfg.Auth.JWTSecret}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, resolver, cfg.Auth.DevLogin))
	hcfg := huma.DefaultConfig("Hourline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerSolicitations(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerProgress(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerBids(group, cfg.Engine)
	registerBilling(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	startBillingDispatcher(cfg.Engine)

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
	if errors.Is(err, identity.ErrUnauthenticated) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	var fe authz.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	}
	if errors.Is(err, engine.ErrAlreadyConfirmed) {
		return newAPIError(http.StatusConflict, "already_confirmed", err.Error(), nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var te domain.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"entity": te.Entity, "from": te.From, "to": te.To,
		})
	}
	var se domain.InvalidStateError
	if errors.As(err, &se) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", err.Error(), map[string]any{
			"entity": se.Entity, "state": se.State, "needs": se.Needs,
		})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Hourline API Docs</title>
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

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:  p.ActorID,
			Role:     p.Role,
			ClientID: p.ClientID,
			MemberID: p.MemberID,
			Source:   p.Source,
		}}, nil
	})
}

func registerSolicitations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-purchase",
		Method:        http.MethodPost,
		Path:          "/purchases",
		Summary:       "Purchase a package of hours",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePurchaseRequest `json:"body"`
	}) (*struct {
		Body domain.Solicitation `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreatePurchase(ctx, p, engine.PurchaseOptions{
			ClientID:    input.Body.ClientID,
			TierID:      input.Body.TierID,
			Hours:       input.Body.Hours,
			CostPerHour: input.Body.CostPerHour,
			Discount:    input.Body.Discount,
			Notes:       input.Body.Notes,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Solicitation `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-solicitations",
		Method:      http.MethodGet,
		Path:        "/solicitations",
		Summary:     "List solicitations",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
		State    string `query:"state"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedSolicitations `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListSolicitations(ctx, p, repo.SolicitationFilters{
			ClientID:        input.ClientID,
			State:           input.State,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedSolicitations{Items: []domain.Solicitation{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = nonNilSolicitations(items)
		return &struct {
			Body paginatedSolicitations `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-solicitation",
		Method:      http.MethodGet,
		Path:        "/solicitations/{id}",
		Summary:     "Get solicitation",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Solicitation `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetSolicitation(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Solicitation `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-solicitation",
		Method:      http.MethodPost,
		Path:        "/solicitations/{id}/transition",
		Summary:     "Transition solicitation state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Solicitation `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.State == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "state is required", nil)
		}
		s, err := e.TransitionSolicitation(ctx, p, input.ID, input.Body.State)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Solicitation `json:"body"`
		}{Body: s}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assignment",
		Method:        http.MethodPost,
		Path:          "/solicitations/{id}/assignments",
		Summary:       "Assign a member to a solicitation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body CreateAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.MemberID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "member_id is required", nil)
		}
		a, err := e.CreateAssignment(ctx, p, input.ID, input.Body.MemberID, input.Body.Hours)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/solicitations/{id}/assignments",
		Summary:     "List a solicitation's assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAssignments(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: nonNilAssignments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-assignment-state",
		Method:      http.MethodPost,
		Path:        "/assignments/{id}/state",
		Summary:     "Transition assignment state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.State == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "state is required", nil)
		}
		a, err := e.SetAssignmentState(ctx, p, input.ID, input.Body.State)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "append-progress",
		Method:        http.MethodPost,
		Path:          "/assignments/{id}/progress",
		Summary:       "Append a progress entry",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AppendProgressRequest `json:"body"`
	}) (*struct {
		Body domain.ProgressEntry `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.AppendProgress(ctx, p, input.ID, input.Body.Content, input.Body.Hours)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressEntry `json:"body"`
		}{Body: entry}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-progress",
		Method:      http.MethodGet,
		Path:        "/assignments/{id}/progress",
		Summary:     "List progress entries in narrative order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.ProgressEntry `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProgress(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProgressEntry `json:"body"`
		}{Body: nonNilProgress(items)}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		prj, err := e.CreateProject(ctx, p, input.Body.ClientID, input.Body.Title, input.Body.Visibility)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: prj}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, p, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilProjects(items)}, nil
	})
}

func registerBids(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "place-bid",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/bids",
		Summary:       "Place a bid on a project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body PlaceBidRequest `json:"body"`
	}) (*struct {
		Body domain.ProjectBid `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.PlaceBid(ctx, p, input.ID, input.Body.Amount, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectBid `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bids",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/bids",
		Summary:     "List a project's bids",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.ProjectBid `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBids(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProjectBid `json:"body"`
		}{Body: nonNilBids(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bid",
		Method:      http.MethodGet,
		Path:        "/bids/{id}",
		Summary:     "Get bid",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ProjectBid `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.GetBid(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectBid `json:"body"`
		}{Body: b}, nil
	})

	registerBidAction(api, "accept-bid", "/bids/{id}/accept", "Accept a pending bid", e.AcceptBid)
	registerBidAction(api, "confirm-bid", "/bids/{id}/confirm", "Confirm an accepted bid (member acknowledgment)", e.ConfirmBid)
	registerBidAction(api, "cancel-bid", "/bids/{id}/cancel", "Cancel an accepted bid", e.CancelBid)
}

func registerBidAction(api huma.API, opID, route, summary string, action func(context.Context, authz.Principal, string) (domain.ProjectBid, error)) {
	huma.Register(api, huma.Operation{
		OperationID: opID,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ProjectBid `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := action(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectBid `json:"body"`
		}{Body: b}, nil
	})
}

func registerBilling(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "billing-summary",
		Method:      http.MethodGet,
		Path:        "/solicitations/{id}/billing",
		Summary:     "Billing summary (allocated vs reported hours)",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body billingSummaryResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		lines, err := e.BillingSummary(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body billingSummaryResponse `json:"body"`
		}{Body: billingSummaryResponse{SolicitationID: input.ID, Lines: nonNilLines(lines)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-invoice",
		Method:      http.MethodPost,
		Path:        "/solicitations/{id}/billing/request",
		Summary:     "Request invoicing for a completed solicitation",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body billingSummaryResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		lines, err := e.RequestInvoice(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body billingSummaryResponse `json:"body"`
		}{Body: billingSummaryResponse{SolicitationID: input.ID, Lines: nonNilLines(lines)}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event log (admin only)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := authz.RequireAdmin(p, "read event log"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
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

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if !domain.ValidRole(input.Body.Role) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "valid role is required", nil)
		}
		token, err := identity.IssueToken(authCfg.JWTSecret, authz.Principal{
			ActorID:  actor,
			Role:     input.Body.Role,
			ClientID: strings.TrimSpace(input.Body.ClientID),
			MemberID: strings.TrimSpace(input.Body.MemberID),
		}, devTokenTTL, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
