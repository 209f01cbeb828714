package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"stillpoint/internal/config"
	"stillpoint/internal/db"
	"stillpoint/internal/domain"
	"stillpoint/internal/engine"
	"stillpoint/internal/media"
	"stillpoint/internal/migrate"
)

const testSecret = "test-secret"

var (
	reviewerHeaders    = map[string]string{"X-Actor-Id": "rev-1", "X-Actor-Role": "reviewer", "X-Actor-Name": "Rae"}
	contributorHeaders = map[string]string{"X-Actor-Id": "con-1", "X-Actor-Role": "contributor", "X-Actor-Name": "Kit"}
)

type fakeSigner struct{}

func (fakeSigner) UploadURL(_ context.Context, kind, fileName, contentType string) (media.Upload, error) {
	return media.Upload{URL: "https://media.test/" + kind + "/" + fileName, Method: http.MethodPut, MediaFolder: kind + "s", MediaName: fileName}, nil
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWith(t, func(*Config) {})
}

func newTestServerWith(t *testing.T, configure func(*Config)) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	cfg := Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, Logger: zerolog.Nop()},
		Media:    fakeSigner{},
		Logger:   zerolog.Nop(),
	}
	configure(&cfg)
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func TestContentReviewFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/content/affirmation"

	res, data := doJSON(t, client, http.MethodPost, base, map[string]any{
		"payload": map[string]any{"text": "I am calm"},
	}, contributorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Content
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if !created.IsDraft || created.DisplayName != "I am calm" {
		t.Fatalf("expected draft, got %+v", created)
	}

	res, data = doJSON(t, client, http.MethodGet, base, nil, reviewerHeaders)
	var list ContentListResponse
	_ = json.Unmarshal(data, &list)
	if res.StatusCode != http.StatusOK || list.Total != 0 {
		t.Fatalf("drafts must not be listed: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/pending", nil, contributorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden pending queue, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/pending", nil, reviewerHeaders)
	var pending PendingResponse
	_ = json.Unmarshal(data, &pending)
	if res.StatusCode != http.StatusOK || len(pending.Items) != 1 {
		t.Fatalf("pending: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/"+created.ID+"/approve", map[string]any{"comment": "ship it"}, reviewerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/"+created.ID, map[string]any{
		"payload":         map[string]any{"text": "I am very calm"},
		"asserted_status": "approved",
	}, contributorHeaders)
	var edit EditResponse
	_ = json.Unmarshal(data, &edit)
	if res.StatusCode != http.StatusOK || edit.Outcome != engine.OutcomeShadowed || edit.Content == nil {
		t.Fatalf("expected shadow edit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/"+created.ID, nil, contributorHeaders)
	var view engine.ContentView
	if err := json.Unmarshal(data, &view); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("get: %d %s", res.StatusCode, string(data))
	}
	if view.Content.DisplayName != "I am calm" || view.Shadow == nil || view.Shadow.DisplayName != "I am very calm" {
		t.Fatalf("published content changed before review: %+v", view)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"?q=calm", nil, contributorHeaders)
	_ = json.Unmarshal(data, &list)
	if res.StatusCode != http.StatusOK || list.Total != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("list after approval: %d %s", res.StatusCode, string(data))
	}
}

func TestEditAndDeleteMissingContentReturnNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/content/gratitude/ghost", map[string]any{
		"payload": map[string]any{"text": "Tea"},
	}, contributorHeaders)
	var env errorEnvelope
	_ = json.Unmarshal(data, &env)
	if res.StatusCode != http.StatusNotFound || env.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/content/gratitude/ghost", nil, reviewerHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not_found on delete, got %d %s", res.StatusCode, string(data))
	}
}

func TestValidationErrorsUseEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/content/ritual", map[string]any{
		"payload": map[string]any{"title": "Night walk", "time_of_day": "midnight"},
	}, reviewerHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if env.Error.Code != "bad_request" || env.Error.Details["field"] != "time_of_day" {
		t.Fatalf("unexpected error body %+v", env.Error)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/content/poem", map[string]any{
		"payload": map[string]any{"text": "x"},
	}, reviewerHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown kind should be rejected, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthentication(t *testing.T) {
	srv, cleanup := newTestServerWith(t, func(cfg *Config) { cfg.Auth.DevLogin = true })
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be public, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "rev-9",
		"name":     "Robin",
		"role":     "reviewer",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	_ = json.Unmarshal(data, &login)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	var me WhoAmIResponse
	_ = json.Unmarshal(data, &me)
	if res.StatusCode != http.StatusOK || me.ID != "rev-9" || !me.IsReviewer() || me.Source != "jwt" {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token should be rejected, got %d", res.StatusCode)
	}
}

func TestAPIKeysCarryRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"actor_id": "bot"}, contributorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("contributor must not mint keys, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{"actor_id": "bot", "name": "Importer", "role": "contributor"}, reviewerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	_ = json.Unmarshal(data, &key)
	if !strings.HasPrefix(key.Key, "sp_") || key.Role != "contributor" {
		t.Fatalf("unexpected key %+v", key)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/content/idea", map[string]any{
		"payload": map[string]any{"title": "Rain sounds for focus"},
	}, map[string]string{"X-Api-Key": key.Key})
	var created domain.Content
	_ = json.Unmarshal(data, &created)
	if res.StatusCode != http.StatusOK || !created.IsDraft || created.CreatedBy != "bot" {
		t.Fatalf("api key create: %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/api-keys/"+key.ID, nil, reviewerHeaders)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete key: %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key should be rejected, got %d", res.StatusCode)
	}
}

func TestInterestsAndUploads(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/content/focus", map[string]any{
		"payload": map[string]any{"name": "Sleep", "color": "#223344"},
	}, reviewerHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create focus: %d %s", res.StatusCode, string(data))
	}
	var focus domain.Content
	_ = json.Unmarshal(data, &focus)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/users/con-1/interests", map[string]any{"focus_ids": []string{focus.ID}}, contributorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set interests: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/rev-1/interests", nil, contributorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("reading another user's interests should be forbidden, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/con-1/interests", nil, reviewerHeaders)
	var interests domain.UserInterests
	_ = json.Unmarshal(data, &interests)
	if res.StatusCode != http.StatusOK || len(interests.FocusIDs) != 1 || interests.FocusIDs[0] != focus.ID {
		t.Fatalf("get interests: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/media/upload-url", map[string]any{
		"kind":         "sound",
		"file_name":    "rain.mp3",
		"content_type": "audio/mpeg",
	}, contributorHeaders)
	var up media.Upload
	_ = json.Unmarshal(data, &up)
	if res.StatusCode != http.StatusOK || up.MediaName != "rain.mp3" {
		t.Fatalf("upload url: %d %s", res.StatusCode, string(data))
	}
}

func TestEventsAreReviewerOnlyAndPaginated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, text := range []string{"One", "Two", "Three"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/content/gratitude", map[string]any{
			"payload": map[string]any{"text": text},
		}, reviewerHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("create: %d %s", res.StatusCode, string(data))
		}
	}
	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, contributorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&entity_kind=gratitude", nil, reviewerHeaders)
	var page paginatedEvents
	_ = json.Unmarshal(data, &page)
	if res.StatusCode != http.StatusOK || len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&entity_kind=gratitude&cursor="+page.NextCursor, nil, reviewerHeaders)
	var next paginatedEvents
	_ = json.Unmarshal(data, &next)
	if res.StatusCode != http.StatusOK || len(next.Items) != 1 || next.NextCursor != "" {
		t.Fatalf("second page: %d %s", res.StatusCode, string(data))
	}
}

func TestActorsAreRecordedOnWrite(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/content/gratitude", map[string]any{
		"payload": map[string]any{"text": "Morning light"},
	}, contributorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/actors/con-1", nil, contributorHeaders)
	var self domain.ActorRecord
	_ = json.Unmarshal(data, &self)
	if res.StatusCode != http.StatusOK || self.DisplayName != "Kit" || self.Role != "contributor" {
		t.Fatalf("get self: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/actors", nil, contributorHeaders)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/actors?role=contributor", nil, reviewerHeaders)
	var list ActorListResponse
	_ = json.Unmarshal(data, &list)
	if res.StatusCode != http.StatusOK || len(list.Items) != 1 || list.Items[0].ID != "con-1" {
		t.Fatalf("list actors: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/actors/nobody", nil, reviewerHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", res.StatusCode)
	}
}

func TestDevLoginIsOffByDefault(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "stranger",
		"role":     "reviewer",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous dev login should be rejected, got %d %s", res.StatusCode, string(data))
	}

	// An authenticated caller still finds no such route.
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "stranger",
		"role":     "reviewer",
	}, reviewerHeaders)
	if res.StatusCode != http.StatusNotFound && res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("dev login should not be registered, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/content/affirmation", map[string]any{
		"payload": map[string]any{"text": "Published by nobody"},
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous create should be rejected, got %d %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIServesConcurrentReaders(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	const readers = 8
	bodies := make(chan []byte, readers)
	errs := make(chan error, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs <- err
				return
			}
			defer res.Body.Close()
			data, err := io.ReadAll(res.Body)
			if err != nil {
				errs <- err
				return
			}
			if res.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("status %d", res.StatusCode)
				return
			}
			bodies <- data
		}()
	}
	wg.Wait()
	close(bodies)
	close(errs)
	for err := range errs {
		t.Fatalf("openapi read: %v", err)
	}
	var first []byte
	for body := range bodies {
		if first == nil {
			first = body
			continue
		}
		if !bytes.Equal(first, body) {
			t.Fatalf("readers saw different documents")
		}
	}
	if !json.Valid(first) {
		t.Fatalf("openapi document is not JSON")
	}
}
