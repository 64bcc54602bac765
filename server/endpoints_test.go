package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cliptgg/clipt-server/config"
	"github.com/cliptgg/clipt-server/stream"
	"github.com/cliptgg/clipt-server/testutil"
)

// decodeEnvelope parses the {error, message} error body.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return body
}

func TestPaymentsMethodNotAllowed(t *testing.T) {
	h := NewHandlers(context.Background(), nil, &config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/payments/checkout", nil)
	rec := httptest.NewRecorder()
	h.HandlePaymentsCheckout(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got %d, want 405", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["error"] != "method_not_allowed" {
		t.Fatalf("unexpected envelope %v", body)
	}
}

func TestPaymentsUnconfigured(t *testing.T) {
	h := NewHandlers(context.Background(), nil, &config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/payments/checkout",
		strings.NewReader(`{"tier":"gold","priceId":"price_1","streamerUsername":"alice"}`))
	rec := httptest.NewRecorder()
	h.HandlePaymentsCheckout(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["error"] != "payments_unconfigured" {
		t.Fatalf("unexpected envelope %v", body)
	}
}

func TestGamesUnconfigured(t *testing.T) {
	h := NewHandlers(context.Background(), nil, &config.Config{})
	req := httptest.NewRequest(http.MethodGet, "/games?q=zelda", nil)
	rec := httptest.NewRecorder()
	h.HandleGamesSearch(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["error"] != "games_unconfigured" {
		t.Fatalf("unexpected envelope %v", body)
	}
}

func TestStreamInitializeUnconfigured(t *testing.T) {
	h := NewHandlers(context.Background(), nil, &config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/streams/initialize",
		strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	h.HandleStreamInitialize(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["error"] != "ingest_unconfigured" {
		t.Fatalf("unexpected envelope %v", body)
	}
}

func TestModerationScanUnconfigured(t *testing.T) {
	h := NewHandlers(context.Background(), nil, &config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/admin/moderation/scan",
		strings.NewReader(`{"image_url":"https://example.com/x.png"}`))
	rec := httptest.NewRecorder()
	h.HandleAdminModerationScan(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}
}

// setupStreamHandlers wires Handlers against a real test database and a mock
// ingest auth server.
func setupStreamHandlers(t *testing.T) (*Handlers, *sql.DB) {
	t.Helper()
	database := testutil.SetupTestDB(t)
	testutil.CleanTables(t, database, "chat_timeouts", "chat_messages", "stream_oauth_tokens", "streams", "users")
	mock := testutil.NewMockIngestAuthServer(t, "ing")
	cfg := &config.Config{
		IngestHost:         "ingest.test",
		IngestTokenURL:     mock.TokenURL(),
		IngestClientID:     "client",
		IngestClientSecret: "secret",
	}
	return NewHandlers(context.Background(), database, cfg), database
}

func TestStreamLifecycleEndpoints(t *testing.T) {
	h, database := setupStreamHandlers(t)
	testutil.SeedUser(t, database, "u1", "streamer1")

	post := func(handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	// Start before initialize: the stream row does not exist yet.
	rec := post(h.HandleStreamStart, "/streams/start", `{"user_id":"u1"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("start before initialize: got %d, want 404", rec.Code)
	}

	rec = post(h.HandleStreamInitialize, "/streams/initialize", `{"user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize: got %d body %s", rec.Code, rec.Body.String())
	}
	var s stream.Stream
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode stream: %v", err)
	}
	if !strings.Contains(s.StreamingURL, "access_token=") || s.IsLive {
		t.Fatalf("unexpected initialized stream %+v", s)
	}

	rec = post(h.HandleStreamStart, "/streams/start", `{"user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: got %d body %s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode stream: %v", err)
	}
	if !s.IsLive {
		t.Fatal("stream should be live after start")
	}

	rec = post(h.HandleStreamEnd, "/streams/end", `{"user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("end: got %d body %s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode stream: %v", err)
	}
	if s.IsLive || s.StreamingURL != "" {
		t.Fatalf("stream should be ended with cleared URL, got %+v", s)
	}

	// End after ending again still succeeds.
	if rec = post(h.HandleStreamEnd, "/streams/end", `{"user_id":"u1"}`); rec.Code != http.StatusOK {
		t.Fatalf("repeated end: got %d", rec.Code)
	}

	// Missing body field.
	if rec = post(h.HandleStreamInitialize, "/streams/initialize", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("initialize without user_id: got %d, want 400", rec.Code)
	}
}

func TestStreamStartNotInitializedConflict(t *testing.T) {
	h, database := setupStreamHandlers(t)
	testutil.SeedUser(t, database, "u1", "streamer1")
	testutil.SeedStream(t, database, "s1", "u1")

	req := httptest.NewRequest(http.MethodPost, "/streams/start", strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	h.HandleStreamStart(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["error"] != "not_initialized" {
		t.Fatalf("unexpected envelope %v", body)
	}
}

func TestStreamKeyEndpoints(t *testing.T) {
	h, database := setupStreamHandlers(t)
	testutil.SeedUser(t, database, "u1", "streamer1")
	testutil.SeedStream(t, database, "s1", "u1")

	// Fetch before generate.
	req := httptest.NewRequest(http.MethodGet, "/streams/key?user_id=u1", nil)
	rec := httptest.NewRecorder()
	h.HandleStreamKey(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get before generate: got %d, want 404", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/streams/key", strings.NewReader(`{"user_id":"u1"}`))
	rec = httptest.NewRecorder()
	h.HandleStreamKey(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: got %d body %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	key := body["stream_key"]
	if key == "" {
		t.Fatal("expected stream_key in response")
	}

	req = httptest.NewRequest(http.MethodGet, "/streams/key?user_id=u1", nil)
	rec = httptest.NewRecorder()
	h.HandleStreamKey(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["stream_key"] != key {
		t.Fatalf("fetched key %q differs from generated %q", body["stream_key"], key)
	}
}

func TestStreamSettingsRevisionConflict(t *testing.T) {
	h, database := setupStreamHandlers(t)
	testutil.SeedUser(t, database, "u1", "streamer1")
	testutil.SeedStream(t, database, "s1", "u1")

	patch := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/streams/s1/settings", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.HandleStreamsDispatcher(rec, req)
		return rec
	}

	rec := patch(`{"revision":0,"title":"first"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first settings patch: got %d body %s", rec.Code, rec.Body.String())
	}

	// Stale revision loses and gets the current state back for rebase.
	rec = patch(`{"revision":0,"title":"stale"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale patch: got %d, want 409", rec.Code)
	}
	var conflict struct {
		Error  string         `json:"error"`
		Stream *stream.Stream `json:"stream"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&conflict); err != nil {
		t.Fatalf("decode conflict body: %v", err)
	}
	if conflict.Error != "revision_conflict" || conflict.Stream == nil {
		t.Fatalf("unexpected conflict body %+v", conflict)
	}
	if conflict.Stream.Title != "first" {
		t.Fatalf("conflict body should carry current state, got title %q", conflict.Stream.Title)
	}

	// Missing revision is a 400, not a silent last-writer-wins.
	if rec = patch(`{"title":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("patch without revision: got %d, want 400", rec.Code)
	}
}

// A settings form loaded before an account link completes must not wipe the
// freshly linked mirror channel: the link bumps the revision, so the stale
// patch has to lose the CAS.
func TestStreamSettingsConflictAfterMirrorLink(t *testing.T) {
	h, database := setupStreamHandlers(t)
	testutil.SeedUser(t, database, "u1", "streamer1")
	testutil.SeedStream(t, database, "s1", "u1")

	// Account link completes while the form still holds revision 0.
	if err := stream.SetMirrorChannel(context.Background(), database, "u1", "SomeChannel"); err != nil {
		t.Fatalf("SetMirrorChannel failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/streams/s1/settings",
		strings.NewReader(`{"revision":0,"mirror_channel":""}`))
	rec := httptest.NewRecorder()
	h.HandleStreamsDispatcher(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale patch after link: got %d, want 409", rec.Code)
	}

	s, err := stream.GetByID(context.Background(), database, "s1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if s.MirrorChannel != "somechannel" {
		t.Fatalf("mirror_channel = %q, want the linked channel preserved", s.MirrorChannel)
	}
}

func TestStreamHeartbeatEndpoint(t *testing.T) {
	h, database := setupStreamHandlers(t)
	testutil.SeedUser(t, database, "u1", "streamer1")
	testutil.SeedStream(t, database, "s1", "u1")

	req := httptest.NewRequest(http.MethodPost, "/streams/s1/heartbeat", strings.NewReader(`{"viewer_count":7}`))
	rec := httptest.NewRecorder()
	h.HandleStreamsDispatcher(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("heartbeat: got %d, want 204", rec.Code)
	}
	s, err := stream.GetByID(context.Background(), database, "s1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if s.ViewerCount != 7 {
		t.Fatalf("viewer_count = %d, want 7", s.ViewerCount)
	}
}

func TestChatEndpoints(t *testing.T) {
	h, database := setupStreamHandlers(t)
	testutil.SeedUser(t, database, "u1", "owner")
	testutil.SeedUser(t, database, "u2", "alice")
	testutil.SeedStream(t, database, "s1", "u1")

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/streams/s1/chat", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.HandleStreamsDispatcher(rec, req)
		return rec
	}

	rec := post(`{"user_id":"u2","username":"alice","message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("post message: got %d body %s", rec.Code, rec.Body.String())
	}

	// Non-owner moderation command is rejected with 403.
	rec = post(`{"user_id":"u2","username":"alice","message":"/clear"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner /clear: got %d, want 403", rec.Code)
	}
	if body := decodeEnvelope(t, rec); body["error"] != "not_authorized" {
		t.Fatalf("unexpected envelope %v", body)
	}

	// Unknown command is a 400.
	rec = post(`{"user_id":"u1","username":"owner","message":"/dance"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown command: got %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/streams/s1/chat", nil)
	rec = httptest.NewRecorder()
	h.HandleStreamsDispatcher(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	var msgs []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 visible message, got %d", len(msgs))
	}
	if fmt.Sprint(msgs[0]["message"]) != "hello" {
		t.Fatalf("unexpected message %v", msgs[0])
	}
}
