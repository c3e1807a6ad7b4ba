package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/afterhours-fm/afterhours/internal/admin"
	"github.com/afterhours-fm/afterhours/internal/clock"
	"github.com/afterhours-fm/afterhours/internal/credential"
	"github.com/afterhours-fm/afterhours/internal/domain"
	"github.com/afterhours-fm/afterhours/internal/identity"
	"github.com/afterhours-fm/afterhours/internal/playlistcoord"
	"github.com/afterhours-fm/afterhours/internal/pubsub"
	"github.com/afterhours-fm/afterhours/internal/ratelimit"
	"github.com/afterhours-fm/afterhours/internal/reactions"
	"github.com/afterhours-fm/afterhours/internal/realtime"
	"github.com/afterhours-fm/afterhours/internal/scheduler"
	"github.com/afterhours-fm/afterhours/internal/session"
	"github.com/afterhours-fm/afterhours/internal/signing"
	"github.com/afterhours-fm/afterhours/internal/store"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testServer(t *testing.T, now time.Time) (*Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	bus := pubsub.NewGoChannel(testLogger())
	t.Cleanup(func() { _ = bus.Close() })
	clk := clock.NewFake(now)
	cred := credential.New(credential.Config{Prefix: "fwx", SigningSecret: "secret"})
	sched := scheduler.New(st, cred, bus, clk, scheduler.Config{
		DefaultDailyHours: 2, DefaultWeeklySlots: 2, Location: time.UTC, AllowGoLiveNow: true,
	}, testLogger())
	sess := session.New(sched, cred, bus, clk, session.Config{SessionEndCountdown: 10 * time.Second}, testLogger())
	react := reactions.New(st, sched, sess, bus, clk, testLogger())
	playlist := playlistcoord.New(st, bus, clk, playlistcoord.Config{
		TrackCooldown: time.Hour, MaxTrackDuration: 10 * time.Minute, MetadataFetchDeadline: 5 * time.Second,
	}, playlistcoord.NoopFetcher{}, testLogger())
	adminSvc := admin.New(st, clk, testLogger())
	login, err := identity.NewLocalVerifier("test-secret", time.Hour, clk, "admin", "s3cret")
	if err != nil {
		t.Fatalf("NewLocalVerifier: %v", err)
	}
	hub := realtime.NewHub(bus, testLogger())
	limiter := ratelimit.NewTable()

	return NewServer(Deps{
		Scheduler: sched, Session: sess, Reactions: react, Playlist: playlist, Admin: adminSvc,
		Credential: cred, Verifier: login, Login: login, Hub: hub, Limiter: limiter, Clock: clk,
		Logger: testLogger(), IngestWireShape: "query", WebhookSecret: "whsec",
	}), st
}

func doJSON(t *testing.T, s *Server, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)
	return rec
}

func TestPlaylistGetEmptyReturnsSuccess(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doJSON(t, s, http.MethodGet, "/api/playlist", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["success"] != true {
		t.Fatalf("resp = %+v, want success:true", resp)
	}
	if resp["isPlaying"] != false {
		t.Fatalf("resp[isPlaying] = %v, want false on an empty playlist", resp["isPlaying"])
	}
}

func TestPlaylistAddAnonymousThenAppearsInSnapshot(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doJSON(t, s, http.MethodPost, "/api/playlist/add", playlistAddRequest{
		URL: "https://youtube.com/watch?v=abc", UserName: "Guest",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/playlist", nil, "")
	var resp struct {
		Success   bool `json:"success"`
		IsPlaying bool `json:"isPlaying"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.IsPlaying {
		t.Fatal("adding the first track should start playback")
	}
}

func TestPlaylistAddRejectsInvalidURL(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doJSON(t, s, http.MethodPost, "/api/playlist/add", playlistAddRequest{URL: "not-a-url"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["success"] != false {
		t.Fatalf("resp = %+v, want success:false", resp)
	}
}

func TestAllowancesRequireAuth(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doJSON(t, s, http.MethodGet, "/api/livestream/allowances", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
}

func TestAllowancesRequireAdminRole(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err := s.login.Register("dj-alice", "pw", "Alice", identity.RoleDJ); err != nil {
		t.Fatalf("Register: %v", err)
	}
	loginRec := doJSON(t, s, http.MethodPost, "/api/auth/login", loginRequest{Username: "dj-alice", Password: "pw"}, "")
	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(loginRec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/livestream/allowances", nil, loginResp.Token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a non-admin role, body=%s", rec.Code, rec.Body.String())
	}
}

func TestAllowancesAdminRoundTrip(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	loginRec := doJSON(t, s, http.MethodPost, "/api/auth/login", loginRequest{Username: "admin", Password: "s3cret"}, "")
	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(loginRec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}

	upsertBody := map[string]any{"djId": "dj-1", "weeklySlots": 4, "maxHoursPerDay": 2}
	rec := doJSON(t, s, http.MethodPost, "/api/livestream/allowances", upsertBody, loginResp.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/livestream/allowances", nil, loginResp.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var listResp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("unmarshal list response: %v", err)
	}
	if listResp["success"] != true {
		t.Fatalf("listResp = %+v, want success:true", listResp)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doJSON(t, s, http.MethodPost, "/api/auth/login", loginRequest{Username: "admin", Password: "wrong"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", rec.Code, rec.Body.String())
	}
}

func TestStatusWhenNobodyLive(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doJSON(t, s, http.MethodGet, "/api/livestream/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["isLive"] != false {
		t.Fatalf("resp[isLive] = %v, want false", resp["isLive"])
	}
}

func doWebhook(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/livestream/red5-webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signing.HMACHex("whsec", string(raw)))
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)
	return rec
}

func approveArtistForServer(t *testing.T, st store.Store, djID string) {
	t.Helper()
	raw, err := json.Marshal(domain.ArtistProfile{DJID: djID, Approved: true, ArtistName: djID})
	if err != nil {
		t.Fatalf("marshal artist profile: %v", err)
	}
	if err := st.Set(context.Background(), scheduler.CollectionArtists, djID, raw); err != nil {
		t.Fatalf("Set artist profile: %v", err)
	}
}

func TestValidateStreamGETAllowsLiveSlotKey(t *testing.T) {
	s, st := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtistForServer(t, st, "dj-1")
	slot, err := s.sched.GoLiveNow(context.Background(), scheduler.GoLiveNowRequest{DJID: "dj-1", DJName: "dj-1", DurationMin: 60})
	if err != nil {
		t.Fatalf("GoLiveNow: %v", err)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/livestream/validate-stream?key="+slot.StreamKey, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["allowed"] != true {
		t.Fatalf("resp = %+v, want allowed:true", resp)
	}
}

func TestValidateStreamGETRejectsMissingKey(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doJSON(t, s, http.MethodGet, "/api/livestream/validate-stream", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestWebhookPublishMarksSlotLive(t *testing.T) {
	s, st := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtistForServer(t, st, "dj-1")
	slot, err := s.sched.Book(context.Background(), scheduler.BookRequest{
		DJID: "dj-1", DJName: "dj-1", Start: s.clk.Now().Add(time.Hour), DurationMin: 60,
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	body := map[string]any{"event": "publish", "streamKey": slot.StreamKey, "clientIp": "1.2.3.4"}
	rec := doWebhook(t, s, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	updated, err := s.sched.GetSlot(context.Background(), slot.ID)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if updated.Status != domain.StatusLive {
		t.Fatalf("slot status = %v, want live after a publish webhook", updated.Status)
	}
}

func TestWebhookUnknownStreamKeyStillReturns200(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	body := map[string]any{"event": "publish", "streamKey": "does-not-exist"}
	rec := doWebhook(t, s, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for an unknown key (always-200 policy), body=%s", rec.Code, rec.Body.String())
	}
}

func TestWebhookAcceptsRed5SignatureHeader(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	body := map[string]any{"event": "publish", "streamKey": "does-not-exist"}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/livestream/red5-webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Red5-Signature", signing.HMACHex("whsec", string(raw)))
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a valid X-Red5-Signature header, body=%s", rec.Code, rec.Body.String())
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	body := map[string]any{"event": "publish", "streamKey": "does-not-exist"}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/livestream/red5-webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "not-the-right-signature")
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for an invalid webhook signature, body=%s", rec.Code, rec.Body.String())
	}
}

func TestWebhookUnpublishSweepsInactiveViewerSessions(t *testing.T) {
	s, st := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtistForServer(t, st, "dj-1")
	slot, err := s.sched.GoLiveNow(context.Background(), scheduler.GoLiveNowRequest{DJID: "dj-1", DJName: "dj-1", DurationMin: 60})
	if err != nil {
		t.Fatalf("GoLiveNow: %v", err)
	}
	if _, err := s.react.Join(context.Background(), slot.ID, "viewer-1", "session-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	body := map[string]any{"event": "unpublish", "streamKey": slot.StreamKey}
	rec := doWebhook(t, s, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	raw, err := st.Get(context.Background(), reactions.CollectionViewers, slot.ID+"/session-1")
	if err != nil {
		t.Fatalf("Get viewer session: %v", err)
	}
	var vs domain.ViewerSession
	if err := json.Unmarshal(raw, &vs); err != nil {
		t.Fatalf("unmarshal viewer session: %v", err)
	}
	if vs.IsActive {
		t.Fatal("expected the viewer session to have been swept inactive on unpublish")
	}
}

func TestStatusWithStreamIdReturnsThatStream(t *testing.T) {
	s, st := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtistForServer(t, st, "dj-1")
	slot, err := s.sched.GoLiveNow(context.Background(), scheduler.GoLiveNowRequest{DJID: "dj-1", DJName: "dj-1", DurationMin: 60})
	if err != nil {
		t.Fatalf("GoLiveNow: %v", err)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/livestream/status?streamId="+slot.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	stream, ok := resp["stream"].(map[string]any)
	if !ok || stream["id"] != slot.ID {
		t.Fatalf("resp = %+v, want stream.id = %s", resp, slot.ID)
	}
	if _, leaked := stream["streamKey"]; leaked {
		t.Fatal("stream response must never include the streamKey")
	}
}

func TestStatusWithUnknownStreamIdReturns404(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doJSON(t, s, http.MethodGet, "/api/livestream/status?streamId=does-not-exist", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}

func TestStatusWithoutStreamIdReportsPrimaryStream(t *testing.T) {
	s, st := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	approveArtistForServer(t, st, "dj-1")
	slot, err := s.sched.GoLiveNow(context.Background(), scheduler.GoLiveNowRequest{DJID: "dj-1", DJName: "dj-1", DurationMin: 60})
	if err != nil {
		t.Fatalf("GoLiveNow: %v", err)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/livestream/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["isLive"] != true {
		t.Fatalf("resp[isLive] = %v, want true", resp["isLive"])
	}
	primary, ok := resp["primaryStream"].(map[string]any)
	if !ok || primary["id"] != slot.ID {
		t.Fatalf("resp[primaryStream] = %+v, want id = %s", resp["primaryStream"], slot.ID)
	}
	streams, ok := resp["streams"].([]any)
	if !ok || len(streams) != 1 {
		t.Fatalf("resp[streams] = %+v, want exactly one entry", resp["streams"])
	}
}

func loginAsAdmin(t *testing.T, s *Server) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/auth/login", loginRequest{Username: "admin", Password: "s3cret"}, "")
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}
	return resp.Token
}

func TestChatCleanupExecuteActionRunsDueJobs(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	token := loginAsAdmin(t, s)

	scheduleBody := map[string]any{
		"action": "schedule", "streamId": "stream-1",
		"cleanupAt": s.clk.Now().Add(-time.Minute).Format(time.RFC3339),
	}
	rec := doJSON(t, s, http.MethodPost, "/api/livestream/chat-cleanup", scheduleBody, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/livestream/chat-cleanup", map[string]any{"action": "execute"}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if n, ok := resp["executed"].(float64); !ok || n != 1 {
		t.Fatalf("resp[executed] = %v, want 1", resp["executed"])
	}
}

func TestChatCleanupExecuteQueryParamRunsDueJobs(t *testing.T) {
	s, _ := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	token := loginAsAdmin(t, s)

	scheduleBody := map[string]any{
		"action": "schedule", "streamId": "stream-1",
		"cleanupAt": s.clk.Now().Add(-time.Minute).Format(time.RFC3339),
	}
	rec := doJSON(t, s, http.MethodPost, "/api/livestream/chat-cleanup", scheduleBody, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("schedule status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/livestream/chat-cleanup?execute=true", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if n, ok := resp["executed"].(float64); !ok || n != 1 {
		t.Fatalf("resp[executed] = %v, want 1", resp["executed"])
	}
}

func TestStartRelayRejectsNonApprovedURL(t *testing.T) {
	s, st := testServer(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err := s.login.Register("dj-1", "pw", "dj-1", identity.RoleDJ); err != nil {
		t.Fatalf("Register: %v", err)
	}
	loginRec := doJSON(t, s, http.MethodPost, "/api/auth/login", loginRequest{Username: "dj-1", Password: "pw"}, "")
	var loginResp struct {
		Token    string `json:"token"`
		Identity struct {
			UserID string `json:"userId"`
		} `json:"identity"`
	}
	if err := json.Unmarshal(loginRec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}

	// The profile is stored under the logged-in user's id, so the 403 can only
	// come from the relay URL not matching the approved one.
	djID := loginResp.Identity.UserID
	raw, err := json.Marshal(domain.ArtistProfile{
		DJID: djID, Approved: true, ArtistName: "dj-1", ApprovedRelayURL: "https://relay.test/dj-1",
	})
	if err != nil {
		t.Fatalf("marshal artist profile: %v", err)
	}
	if err := st.Set(context.Background(), scheduler.CollectionArtists, djID, raw); err != nil {
		t.Fatalf("Set artist profile: %v", err)
	}

	body := map[string]any{"action": "start_relay", "relayUrl": "https://attacker.test/evil", "durationMin": 60}
	rec := doJSON(t, s, http.MethodPost, "/api/livestream/slots", body, loginResp.Token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body=%s", rec.Code, rec.Body.String())
	}
}
