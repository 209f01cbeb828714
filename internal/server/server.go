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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"stillpoint/internal/domain"
	"stillpoint/internal/engine"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/kinds"
	"stillpoint/internal/media"
	"stillpoint/internal/repo"
)

// UploadSigner issues presigned media uploads.
type UploadSigner interface {
	UploadURL(ctx context.Context, kind, fileName, contentType string) (media.Upload, error)
}

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Media is optional; without it the upload endpoint answers 503.
	Media  UploadSigner
	Logger zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"content not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"text\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stillpoint API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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

	router := chi.NewRouter()
	router.Use(observe(cfg.Logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())
	hcfg := huma.DefaultConfig("Stillpoint API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerKinds(group)
	registerContent(group, cfg.Engine)
	registerReview(group, cfg.Engine)
	registerInterests(group, cfg.Engine)
	registerMedia(group, cfg.Media)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerActors(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field, "reason": ve.Reason})
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func notFound(kind, id string) huma.StatusError {
	return newAPIError(http.StatusNotFound, "not_found", "content not found", map[string]any{"kind": kind, "id": id})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>Stillpoint API Docs</title>
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
		Summary:     "Current actor",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok || p.Actor.ID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{Actor: p.Actor, Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
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
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		role, err := auth.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actorID, strings.TrimSpace(input.Body.Name), role, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func registerKinds(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-kinds",
		Method:      http.MethodGet,
		Path:        "/kinds",
		Summary:     "List content kinds",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []KindResponse `json:"body"`
	}, error) {
		return &struct {
			Body []KindResponse `json:"body"`
		}{Body: kindResponses(kinds.All())}, nil
	})
}

func registerContent(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-content",
		Method:      http.MethodPost,
		Path:        "/content/{kind}",
		Summary:     "Create content",
		Description: "Reviewers publish immediately; contributor submissions start as drafts awaiting review.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Kind string               `path:"kind"`
		Body CreateContentRequest `json:"body"`
	}) (*struct {
		Body domain.Content `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Create(ctx, input.Kind, input.Body.Payload, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Content `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-content",
		Method:      http.MethodGet,
		Path:        "/content/{kind}",
		Summary:     "List published content",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Kind       string `path:"kind"`
		Q          string `query:"q"`
		CreatedBy  string `query:"created_by"`
		ApprovedBy string `query:"approved_by"`
		FocusID    string `query:"focus_id"`
		Lifecycle  string `query:"lifecycle"`
		Status     string `query:"status"`
		Sort       string `query:"sort"`
		Order      string `query:"order"`
		Page       int    `query:"page" default:"1"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body ContentListResponse `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		filters := repo.ContentFilters{
			Search:     strings.TrimSpace(input.Q),
			CreatedBy:  input.CreatedBy,
			ApprovedBy: input.ApprovedBy,
			FocusID:    input.FocusID,
			Lifecycle:  domain.LifecycleStatus(input.Lifecycle),
			Status:     domain.ApprovalStatus(input.Status),
			Sort:       input.Sort,
			Order:      input.Order,
			Page:       input.Page,
			Limit:      normalizeLimit(input.Limit),
		}
		if filters.Page <= 0 {
			filters.Page = 1
		}
		page, err := e.List(ctx, input.Kind, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContentListResponse `json:"body"`
		}{Body: contentList(page, filters)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-content",
		Method:      http.MethodGet,
		Path:        "/content/{kind}/{id}",
		Summary:     "Get content with its approval record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Kind string `path:"kind"`
		ID   string `path:"id"`
	}) (*struct {
		Body engine.ContentView `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		view, err := e.Get(ctx, input.Kind, input.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, notFound(input.Kind, input.ID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ContentView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-content",
		Method:      http.MethodPatch,
		Path:        "/content/{kind}/{id}",
		Summary:     "Edit content",
		Description: "A contributor editing published content stages a shadow draft; other edits apply in place.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Kind string             `path:"kind"`
		ID   string             `path:"id"`
		Body EditContentRequest `json:"body"`
	}) (*struct {
		Body EditResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.EditOptions{
			Kind:    input.Kind,
			ID:      input.ID,
			Payload: input.Body.Payload,
			Comment: input.Body.Comment,
			Actor:   actor,
		}
		if input.Body.LifecycleStatus != nil {
			opts.Lifecycle = domain.LifecycleStatus(*input.Body.LifecycleStatus)
		}
		if input.Body.AssertedStatus != nil {
			opts.AssertedStatus = domain.ApprovalStatus(*input.Body.AssertedStatus)
		}
		res, err := e.Edit(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Outcome == engine.OutcomeNotFound {
			return nil, notFound(input.Kind, input.ID)
		}
		return &struct {
			Body EditResponse `json:"body"`
		}{Body: EditResponse{Outcome: res.Outcome, Content: &res.Content}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-content",
		Method:      http.MethodDelete,
		Path:        "/content/{kind}/{id}",
		Summary:     "Soft-delete content",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Kind string `path:"kind"`
		ID   string `path:"id"`
	}) (*struct {
		Body DeleteResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Delete(ctx, input.Kind, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Outcome == engine.OutcomeNotFound {
			return nil, notFound(input.Kind, input.ID)
		}
		return &struct {
			Body DeleteResponse `json:"body"`
		}{Body: DeleteResponse{Outcome: res.Outcome, Shadows: res.Shadows, Cascade: res.Cascade}}, nil
	})
}

func registerReview(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pending",
		Method:      http.MethodGet,
		Path:        "/content/{kind}/pending",
		Summary:     "Review queue of drafts and shadow drafts",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Kind  string `path:"kind"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body PendingResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListPending(ctx, input.Kind, actor, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Content{}
		}
		return &struct {
			Body PendingResponse `json:"body"`
		}{Body: PendingResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-content",
		Method:      http.MethodPost,
		Path:        "/content/{kind}/{id}/approve",
		Summary:     "Approve a draft or promote a shadow draft",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Kind string          `path:"kind"`
		ID   string          `path:"id"`
		Body *ApproveRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body engine.ApproveResult `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var comment *string
		if input.Body != nil {
			comment = input.Body.Comment
		}
		res, err := e.Approve(ctx, input.Kind, input.ID, actor, comment)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, notFound(input.Kind, input.ID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ApproveResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerInterests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-user-interests",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}/interests",
		Summary:     "Replace a user's focus interests",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string           `path:"user_id"`
		Body   InterestsRequest `json:"body"`
	}) (*struct {
		Body domain.UserInterests `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.SetUserInterests(ctx, input.UserID, input.Body.FocusIDs, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserInterests `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user-interests",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/interests",
		Summary:     "Get a user's focus interests",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body domain.UserInterests `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.ID != input.UserID && !actor.IsReviewer() {
			return nil, handleError(auth.ForbiddenError{Permission: "interests.read"})
		}
		out, err := e.UserInterests(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserInterests `json:"body"`
		}{Body: out}, nil
	})
}

func registerMedia(api huma.API, signer UploadSigner) {
	huma.Register(api, huma.Operation{
		OperationID: "media-upload-url",
		Method:      http.MethodPost,
		Path:        "/media/upload-url",
		Summary:     "Presign an audio upload",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body UploadURLRequest `json:"body"`
	}) (*struct {
		Body media.Upload `json:"body"`
	}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if signer == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "media_unavailable", "media storage is not configured", nil)
		}
		up, err := signer.UploadURL(ctx, input.Body.Kind, input.Body.FileName, input.Body.ContentType)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body media.Upload `json:"body"`
		}{Body: up}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		EntityKind string `query:"entity_kind"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireReviewer(actor, "events.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, cursorID, input.EntityKind, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-api-key",
		Method:      http.MethodPost,
		Path:        "/api-keys",
		Summary:     "Create an API key",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireReviewer(actor, "api_keys.write"); err != nil {
			return nil, handleError(err)
		}
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		role, err := auth.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		secret, err := repo.GenerateAPIKey()
		if err != nil {
			return nil, handleError(err)
		}
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: actorID,
			Name:    strings.TrimSpace(input.Body.Name),
			Role:    string(role),
			KeyHash: repo.HashAPIKey(secret),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		created, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{APIKey: created, Key: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body APIKeyListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireReviewer(actor, "api_keys.read"); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyListResponse `json:"body"`
		}{Body: APIKeyListResponse{Items: keys}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireReviewer(actor, "api_keys.write"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors seen by the engine",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role"`
	}) (*struct {
		Body ActorListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := auth.RequireReviewer(actor, "actors.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListActors(ctx, input.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorListResponse `json:"body"`
		}{Body: ActorListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{id}",
		Summary:     "Get an actor",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ActorRecord `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.ID != input.ID {
			if err := auth.RequireReviewer(actor, "actors.read"); err != nil {
				return nil, handleError(err)
			}
		}
		rec, err := e.Repo.GetActor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActorRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
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
