package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/auth"
	"pkt.systems/afkcraft/internal/shipohoy/shipohoytest"
	"pkt.systems/pslog"
)

func TestPrepareRuntimeEnsuresImageAndNetwork(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)
	rt := shipohoytest.New()
	if err := prepareRuntime(context.Background(), rt, cfg); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if imgs := rt.Images(); len(imgs) != 1 || imgs[0] != "afk-minecraft" {
		t.Fatalf("unexpected images %v", imgs)
	}
	if nets := rt.Networks(); len(nets) != 1 || nets[0] != "afk_network" {
		t.Fatalf("unexpected networks %v", nets)
	}
}

func TestBuildAPIServesSeededAdmin(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)
	hash, err := auth.HashPassword("admin-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg.Auth.SeedUsers = []appconfig.SeedUser{{Email: "admin@example.com", PasswordHash: hash, IGN: "admin", Admin: true}}
	cfg.HTTP.BasePath = "/afk"

	rt := shipohoytest.New()
	handler, closeFn, err := buildAPI(context.Background(), cfg, rt, pslog.Ctx(context.Background()))
	if err != nil {
		t.Fatalf("build api: %v", err)
	}
	defer closeFn()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/afk/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}

	body, _ := json.Marshal(map[string]string{"email": "admin@example.com", "password": "admin-password"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/afk/api/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var login struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil || login.AccessToken == "" {
		t.Fatalf("decode login: %v %s", err, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/afk/api/server/start", nil)
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("server start: %d %s", rec.Code, rec.Body.String())
	}
}

func TestBuildAPIRequiresJWTSecret(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cfg := loadConfigFromPath(t, cfgPath)
	cfg.HTTP.JWTSecret = ""
	if _, _, err := buildAPI(context.Background(), cfg, shipohoytest.New(), nil); err == nil || !strings.Contains(err.Error(), "AFKCRAFT_JWT_SECRET") {
		t.Fatalf("expected jwt secret error, got %v", err)
	}
}

func TestInitWritesBundle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bundle")
	mustRun(t, "", "init", "-o", dir)
	for _, name := range []string{"config.yaml", "config-for-container.yaml", "docker-compose.yaml", ".env"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	if _, err := run(t, "", "init", "-o", dir); err == nil {
		t.Fatalf("expected init without --force to refuse existing files")
	}
}

func TestDoctorWithFakeRuntime(t *testing.T) {
	cfgPath := writeTestConfig(t)
	useFakeRuntime(t)
	if out := mustRun(t, "", "doctor", "-c", cfgPath); strings.TrimSpace(out) != "ok" {
		t.Fatalf("unexpected doctor output %q", out)
	}
}
