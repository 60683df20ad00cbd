package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/afkcraft/internal/auth"
	"pkt.systems/afkcraft/internal/gameserver"
	"pkt.systems/afkcraft/internal/session"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/shipohoy/shipohoytest"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/internal/vault"
	"pkt.systems/afkcraft/schema"
)

type harness struct {
	handler http.Handler
	store   *store.Store
	rt      *shipohoytest.Runtime
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{DSN: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	v, err := vault.NewPassphrase(strings.Repeat("k", 32), nil)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	tokens, err := auth.NewTokens("api-test-secret", 0)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	accounts, err := auth.NewService(st, v, tokens)
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	rt := shipohoytest.New()
	sessions, err := session.New(session.Config{Image: "afk-minecraft"}, rt, v)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	server, err := gameserver.New(gameserver.Config{}, rt)
	if err != nil {
		t.Fatalf("gameserver: %v", err)
	}
	srv, err := NewServer(cfg, Deps{
		Accounts:  accounts,
		Sessions:  sessions,
		Server:    server,
		Directory: st,
		Runtime:   rt,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &harness{handler: srv.Handler(), store: st, rt: rt}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) signup(t *testing.T, email string, ign schema.UserKey, credential string) string {
	t.Helper()
	req := auth.RegisterRequest{Email: email, Password: "password123", IGN: ign}
	if credential != "" {
		req.StorePassword = true
		req.MSCredentials = credential
	}
	if rec := h.do(t, http.MethodPost, "/api/register", "", req); rec.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, rec.Code, rec.Body.String())
	}
	rec := h.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": email, "password": "password123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rec.Code, rec.Body.String())
	}
	var resp LoginResponse
	decodeBody(t, rec, &resp)
	if resp.TokenType != "bearer" || resp.AccessToken == "" || resp.ExpiresIn != int64(auth.DefaultTokenTTL.Seconds()) {
		t.Fatalf("unexpected login response %+v", resp)
	}
	return resp.AccessToken
}

func (h *harness) admin(t *testing.T) string {
	t.Helper()
	token := h.signup(t, "admin@example.com", "admin", "")
	if err := h.store.SetAdmin(context.Background(), "admin@example.com", true); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	return token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Kind != kind || resp.Error == "" {
		t.Fatalf("expected kind %q, got %+v", kind, resp)
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.signup(t, "steve@example.com", "steve", "")

	rec := h.do(t, http.MethodGet, "/api/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: %d %s", rec.Code, rec.Body.String())
	}
	var me UserView
	decodeBody(t, rec, &me)
	if me.IGN != "steve" || me.Email != "steve@example.com" || me.IsAdmin {
		t.Fatalf("unexpected me %+v", me)
	}

	expectError(t, h.do(t, http.MethodGet, "/api/me", "", nil), http.StatusUnauthorized, kindUnauthorized)
	expectError(t, h.do(t, http.MethodGet, "/api/me", "garbage", nil), http.StatusUnauthorized, kindUnauthorized)
}

func TestRegisterErrors(t *testing.T) {
	h := newHarness(t, Config{})
	h.signup(t, "steve@example.com", "steve", "")

	dup := auth.RegisterRequest{Email: "steve@example.com", Password: "password123", IGN: "steve2"}
	expectError(t, h.do(t, http.MethodPost, "/api/register", "", dup), http.StatusConflict, kindConflict)

	bad := auth.RegisterRequest{Email: "alex@example.com", Password: "password123", IGN: "alex; rm -rf /"}
	expectError(t, h.do(t, http.MethodPost, "/api/register", "", bad), http.StatusBadRequest, string(schema.SessionErrorInvalidUser))

	unknown := map[string]string{"email": "a@example.com", "password": "password123", "ign": "a", "role": "admin"}
	expectError(t, h.do(t, http.MethodPost, "/api/register", "", unknown), http.StatusBadRequest, kindInvalidRequest)

	wrong := map[string]string{"email": "steve@example.com", "password": "nope-nope"}
	expectError(t, h.do(t, http.MethodPost, "/api/login", "", wrong), http.StatusUnauthorized, kindUnauthorized)
}

func TestStartRequiresWhitelist(t *testing.T) {
	h := newHarness(t, Config{})
	adminToken := h.admin(t)
	token := h.signup(t, "steve@example.com", "steve", "")

	expectError(t, h.do(t, http.MethodPost, "/api/afk/start", token, nil), http.StatusForbidden, kindForbidden)
	if len(h.rt.Runs()) != 0 {
		t.Fatalf("runtime must not be touched for unlisted users")
	}

	rec := h.do(t, http.MethodPost, "/api/whitelist/add", adminToken, map[string]string{"ign": "steve"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("whitelist add: %d %s", rec.Code, rec.Body.String())
	}
	expectError(t, h.do(t, http.MethodPost, "/api/whitelist/add", adminToken, map[string]string{"ign": "steve"}), http.StatusConflict, kindConflict)

	rec = h.do(t, http.MethodPost, "/api/afk/start", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	var started map[string]string
	decodeBody(t, rec, &started)
	if started["container_name"] != "mc-client-steve" || started["container_id"] == "" {
		t.Fatalf("unexpected start response %+v", started)
	}

	expectError(t, h.do(t, http.MethodPost, "/api/afk/start", token, nil), http.StatusConflict, string(schema.SessionErrorAlreadyRunning))

	rec = h.do(t, http.MethodGet, "/api/afk/status", token, nil)
	var snap schema.StatusSnapshot
	decodeBody(t, rec, &snap)
	if snap.Existence != schema.ExistencePresent || snap.RunState != schema.RunStateRunning {
		t.Fatalf("unexpected status %+v", snap)
	}

	rec = h.do(t, http.MethodPost, "/api/afk/stop", token, nil)
	if !strings.Contains(rec.Body.String(), `"success"`) {
		t.Fatalf("expected stop success, got %s", rec.Body.String())
	}
	rec = h.do(t, http.MethodPost, "/api/afk/stop", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"not_running"`) {
		t.Fatalf("expected idempotent stop, got %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodGet, "/api/afk/status", token, nil)
	decodeBody(t, rec, &snap)
	if snap.Existence != schema.ExistenceAbsent || snap.RunState != schema.RunStateUnknown {
		t.Fatalf("expected absent status, got %+v", snap)
	}

	if rec := h.do(t, http.MethodPost, "/api/whitelist/remove", adminToken, map[string]string{"ign": "steve"}); rec.Code != http.StatusOK {
		t.Fatalf("whitelist remove: %d %s", rec.Code, rec.Body.String())
	}
	expectError(t, h.do(t, http.MethodPost, "/api/whitelist/remove", adminToken, map[string]string{"ign": "steve"}), http.StatusNotFound, string(schema.SessionErrorNotFound))
}

func TestStoredCredentialReachesContainerOnly(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.signup(t, "steve@example.com", "steve", "hunter2")
	if _, err := h.store.AddWhitelist(context.Background(), "steve", "test"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if rec := h.do(t, http.MethodPost, "/api/afk/start", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	runs := h.rt.Runs()
	if len(runs) != 1 || runs[0].Env["MC_PASSWORD"] != "hunter2" || runs[0].Env["MC_USERNAME"] != "steve" {
		t.Fatalf("expected decrypted credential in container env, got %+v", runs)
	}
	for _, path := range []string{"/api/afk/status", "/api/afk/stats", "/api/me"} {
		rec := h.do(t, http.MethodGet, path, token, nil)
		if strings.Contains(rec.Body.String(), "hunter2") {
			t.Fatalf("%s leaked the credential: %s", path, rec.Body.String())
		}
	}
	user, err := h.store.UserByEmail(context.Background(), "steve@example.com")
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if strings.Contains(user.EncryptedCredentials, "hunter2") {
		t.Fatalf("credential stored in plaintext")
	}
}

func TestStatsMergesItemTotals(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.signup(t, "steve@example.com", "steve", "")
	ctx := context.Background()
	if _, err := h.store.AddWhitelist(ctx, "steve", "test"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if err := h.store.RecordItem(ctx, "steve", "diamond", "rare", 5, 2); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec := h.do(t, http.MethodGet, "/api/afk/stats", token, nil)
	var idle StatsResponse
	decodeBody(t, rec, &idle)
	if idle.ItemsCollected != 5 || idle.ShinyItems != 2 || idle.Running || idle.SessionTime != 0 {
		t.Fatalf("unexpected idle stats %+v", idle)
	}

	if rec := h.do(t, http.MethodPost, "/api/afk/start", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodGet, "/api/afk/stats", token, nil)
	var live StatsResponse
	decodeBody(t, rec, &live)
	if !live.Running || live.SessionTime != shipohoytest.SampleUptime.Seconds() || live.ItemsCollected != 5 {
		t.Fatalf("unexpected live stats %+v", live)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, Config{})
	adminToken := h.admin(t)
	token := h.signup(t, "steve@example.com", "steve", "")

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/whitelist"},
		{http.MethodPost, "/api/server/start"},
		{http.MethodPost, "/api/server/stop"},
		{http.MethodGet, "/api/server/status"},
	} {
		expectError(t, h.do(t, route.method, route.path, token, nil), http.StatusForbidden, kindForbidden)
	}

	rec := h.do(t, http.MethodPost, "/api/server/start", adminToken, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mc-server") {
		t.Fatalf("server start: %d %s", rec.Code, rec.Body.String())
	}
	expectError(t, h.do(t, http.MethodPost, "/api/server/start", adminToken, nil), http.StatusConflict, string(schema.SessionErrorAlreadyRunning))

	rec = h.do(t, http.MethodGet, "/api/server/status", adminToken, nil)
	var st schema.ServerStatus
	decodeBody(t, rec, &st)
	if st.RunState != schema.RunStateRunning || st.UptimeSeconds != shipohoytest.SampleUptime.Seconds() {
		t.Fatalf("unexpected server status %+v", st)
	}

	rec = h.do(t, http.MethodPost, "/api/server/stop", adminToken, nil)
	if !strings.Contains(rec.Body.String(), `"stopped"`) {
		t.Fatalf("server stop: %s", rec.Body.String())
	}

	if _, err := h.store.AddWhitelist(context.Background(), "steve", "admin@example.com"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	rec = h.do(t, http.MethodGet, "/api/whitelist", adminToken, nil)
	var entries []store.WhitelistEntry
	decodeBody(t, rec, &entries)
	if len(entries) != 1 || entries[0].IGN != "steve" || !entries[0].Approved {
		t.Fatalf("unexpected whitelist %+v", entries)
	}
	expectError(t, h.do(t, http.MethodPost, "/api/whitelist/add", adminToken, map[string]string{"ign": "no spaces"}), http.StatusBadRequest, string(schema.SessionErrorInvalidUser))
}

func TestRuntimeFailuresMapToStatus(t *testing.T) {
	h := newHarness(t, Config{})
	token := h.signup(t, "steve@example.com", "steve", "")
	if _, err := h.store.AddWhitelist(context.Background(), "steve", "test"); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	h.rt.Fail(shipohoytest.MethodGet, shipohoy.Unavailable(errors.New("dial unix: connection refused")))
	expectError(t, h.do(t, http.MethodPost, "/api/afk/start", token, nil), http.StatusServiceUnavailable, string(schema.SessionErrorCreateFailed))
	expectError(t, h.do(t, http.MethodGet, "/api/afk/status", token, nil), http.StatusServiceUnavailable, string(schema.SessionErrorRuntimeUnavailable))
	h.rt.Fail(shipohoytest.MethodGet, nil)

	h.rt.Fail(shipohoytest.MethodRun, &shipohoy.APIError{Runtime: "fake", StatusCode: http.StatusInternalServerError, Message: "no such image"})
	expectError(t, h.do(t, http.MethodPost, "/api/afk/start", token, nil), http.StatusBadGateway, string(schema.SessionErrorCreateFailed))
}

func TestSessionRateLimit(t *testing.T) {
	h := newHarness(t, Config{SessionRatePerMinute: 1, SessionRateBurst: 1})
	token := h.signup(t, "steve@example.com", "steve", "")
	other := h.signup(t, "alex@example.com", "alex", "")

	if rec := h.do(t, http.MethodPost, "/api/afk/stop", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("first stop: %d", rec.Code)
	}
	expectError(t, h.do(t, http.MethodPost, "/api/afk/stop", token, nil), http.StatusTooManyRequests, kindRateLimited)
	if rec := h.do(t, http.MethodPost, "/api/afk/stop", other, nil); rec.Code != http.StatusOK {
		t.Fatalf("other user must have its own bucket, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/api/afk/status", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, Config{BasePath: "/afk"})
	if rec := h.do(t, http.MethodGet, "/afk/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
	h.rt.Fail(shipohoytest.MethodPing, shipohoy.Unavailable(errors.New("down")))
	expectError(t, h.do(t, http.MethodGet, "/afk/healthz", "", nil), http.StatusServiceUnavailable, string(schema.SessionErrorRuntimeUnavailable))
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"credential", schema.NewSessionError(schema.SessionErrorCredential, "start", errors.New("bad")), http.StatusUnprocessableEntity, "credential_error"},
		{"timeout", schema.NewSessionError(schema.SessionErrorRuntimeTimeout, "status", context.DeadlineExceeded), http.StatusGatewayTimeout, "runtime_timeout"},
		{"create timeout", schema.NewSessionError(schema.SessionErrorCreateFailed, "start",
			schema.NewSessionError(schema.SessionErrorRuntimeTimeout, "runtime", context.DeadlineExceeded)), http.StatusGatewayTimeout, "session_create_failed"},
		{"not running", schema.NewSessionError(schema.SessionErrorNotRunning, "stats", nil), http.StatusNotFound, "not_running"},
		{"totp", auth.ErrTOTPRequired, http.StatusUnauthorized, kindTOTPRequired},
		{"vault", auth.ErrVaultUnavailable, http.StatusServiceUnavailable, "credential_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, kindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, kind, msg := classifyError(tc.err)
			if status != tc.status || kind != tc.kind || msg == "" {
				t.Fatalf("classifyError(%v) = %d %q %q", tc.err, status, kind, msg)
			}
		})
	}
	if _, _, msg := classifyError(errors.New("secret internals")); strings.Contains(msg, "secret") {
		t.Fatalf("internal errors must not be echoed")
	}
}
