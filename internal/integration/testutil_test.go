package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/shipohoy/docker"
	"pkt.systems/afkcraft/internal/shipohoy/podman"
)

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// requireEngine connects to a live container engine. Tests using it only run
// with AFKCRAFT_INTEGRATION=1.
func requireEngine(t *testing.T) shipohoy.Runtime {
	t.Helper()
	requireLong(t)
	if os.Getenv("AFKCRAFT_INTEGRATION") != "1" {
		t.Skip("set AFKCRAFT_INTEGRATION=1 to run against a container engine")
	}
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	switch driver := strings.TrimSpace(os.Getenv("AFKCRAFT_RUNTIME_DRIVER")); driver {
	case "", appconfig.RuntimePodman:
		address := os.Getenv("AFKCRAFT_PODMAN_ADDRESS")
		if strings.TrimSpace(address) == "" {
			address = cfg.Runtime.Podman.Address
		}
		rt, err := podman.New(ctx, podman.Config{Address: address})
		if err != nil {
			t.Fatalf("podman not available (%s): %v", address, err)
		}
		t.Cleanup(func() { _ = rt.Close() })
		return rt
	case appconfig.RuntimeDocker:
		rt, err := docker.New(ctx, docker.Config{Host: os.Getenv("DOCKER_HOST")})
		if err != nil {
			t.Fatalf("docker not available: %v", err)
		}
		t.Cleanup(func() { _ = rt.Close() })
		return rt
	default:
		t.Fatalf("unsupported AFKCRAFT_RUNTIME_DRIVER %q", driver)
		return nil
	}
}

type apiClient struct {
	t     *testing.T
	base  string
	token string
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()
	out := map[string]any{}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	if len(bytes.TrimSpace(data)) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &out); err != nil {
			c.t.Fatalf("decode %s %s: %v (%s)", method, path, err, data)
		}
	}
	return res.StatusCode, out
}

func currentTOTP(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}
