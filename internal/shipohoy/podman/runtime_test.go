package podman

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/afkcraft/internal/shipohoy"
)

type fakeDaemon struct {
	mu         sync.Mutex
	networks   map[string]bool
	containers map[string]inspectContainer
	created    []map[string]any
	removed    []string
	failStart  bool
	netStatus  int
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		networks:   map[string]bool{},
		containers: map[string]inspectContainer{},
	}
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := strings.TrimPrefix(r.URL.Path, "/"+apiVersion)
	switch {
	case p == "/libpod/_ping":
		_, _ = w.Write([]byte("OK"))
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/networks/"):
		name := strings.TrimPrefix(p, "/networks/")
		if !d.networks[name] {
			writeTestError(w, http.StatusNotFound, "network not found")
			return
		}
		_ = json.NewEncoder(w).Encode(networkInspect{ID: "net-" + name, Name: name})
	case r.Method == http.MethodPost && p == "/networks/create":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if d.netStatus != 0 {
			writeTestError(w, d.netStatus, "network already exists")
			return
		}
		d.networks[body["Name"].(string)] = true
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"Id":"n1"}`))
	case r.Method == http.MethodPost && p == "/containers/create":
		name := r.URL.Query().Get("name")
		if _, ok := d.containers[name]; ok {
			writeTestError(w, http.StatusConflict, "name in use")
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.created = append(d.created, body)
		var ic inspectContainer
		ic.ID = "id-" + name
		ic.Name = "/" + name
		ic.State.Status = "created"
		d.containers[name] = ic
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createResponse{ID: ic.ID})
	case r.Method == http.MethodPost && strings.HasSuffix(p, "/start"):
		if d.failStart {
			writeTestError(w, http.StatusInternalServerError, "cannot start")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete && strings.HasPrefix(p, "/containers/"):
		id := strings.TrimPrefix(p, "/containers/")
		d.removed = append(d.removed, id)
		for name, ic := range d.containers {
			if ic.ID == id {
				delete(d.containers, name)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && strings.HasSuffix(p, "/json") && strings.HasPrefix(p, "/containers/"):
		name := strings.TrimSuffix(strings.TrimPrefix(p, "/containers/"), "/json")
		ic, ok := d.containers[name]
		if !ok {
			writeTestError(w, http.StatusNotFound, "no such container")
			return
		}
		_ = json.NewEncoder(w).Encode(ic)
	case strings.HasSuffix(p, "/stats"):
		_, _ = w.Write([]byte(`{"read":"2026-01-02T03:04:35Z","cpu_stats":{"cpu_usage":{"total_usage":4200},"system_cpu_usage":99,"online_cpus":2},"memory_stats":{"usage":1024,"limit":4096}}`))
	case strings.HasSuffix(p, "/logs"):
		if r.URL.Query().Get("tail") != "2" {
			writeTestError(w, http.StatusBadRequest, "unexpected tail")
			return
		}
		_, _ = w.Write(frame(1, "joined server\n"))
		_, _ = w.Write(frame(2, "warning: lag\n"))
		_, _ = w.Write(frame(1, "afk tick\n"))
	default:
		writeTestError(w, http.StatusNotImplemented, "unexpected "+r.Method+" "+p)
	}
}

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func writeTestError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Message: msg, Response: status})
}

func newTestRuntimeWithDaemon(t *testing.T, d *fakeDaemon) *Runtime {
	t.Helper()
	server := httptest.NewServer(d)
	t.Cleanup(server.Close)
	cl, err := newClient(server.URL)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	return newRuntime(cl, Config{})
}

func TestEnsureNetworkCreatesOnce(t *testing.T) {
	d := newFakeDaemon()
	rt := newTestRuntimeWithDaemon(t, d)
	ctx := context.Background()
	if err := rt.EnsureNetwork(ctx, shipohoy.NetworkSpec{Name: "afk_network"}); err != nil {
		t.Fatalf("EnsureNetwork: %v", err)
	}
	if !d.networks["afk_network"] {
		t.Fatalf("expected network to be created")
	}
	if err := rt.EnsureNetwork(ctx, shipohoy.NetworkSpec{Name: "afk_network"}); err != nil {
		t.Fatalf("EnsureNetwork second call: %v", err)
	}
}

func TestEnsureNetworkTreatsConflictAsSuccess(t *testing.T) {
	d := newFakeDaemon()
	d.netStatus = http.StatusConflict
	rt := newTestRuntimeWithDaemon(t, d)
	if err := rt.EnsureNetwork(context.Background(), shipohoy.NetworkSpec{Name: "afk_network"}); err != nil {
		t.Fatalf("expected conflict to be success, got %v", err)
	}
}

func TestRunSendsSessionSpec(t *testing.T) {
	d := newFakeDaemon()
	rt := newTestRuntimeWithDaemon(t, d)
	h, err := rt.Run(context.Background(), shipohoy.ContainerSpec{
		Name:          "mc-client-steve",
		Image:         "afk-minecraft",
		Env:           map[string]string{"MC_USERNAME": "steve", "EULA": "TRUE"},
		Network:       "afk_network",
		RestartPolicy: shipohoy.RestartUnlessStopped,
		Volumes:       []shipohoy.VolumeMount{{Volume: "mc-data-steve", Target: "/data"}},
		Ports:         []shipohoy.PortBinding{{ContainerPort: 25565}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.ID() != "id-mc-client-steve" || h.Name() != "mc-client-steve" {
		t.Fatalf("unexpected handle %s/%s", h.Name(), h.ID())
	}
	if len(d.created) != 1 {
		t.Fatalf("expected one create, got %d", len(d.created))
	}
	body := d.created[0]
	host := body["HostConfig"].(map[string]any)
	if host["NetworkMode"] != "afk_network" {
		t.Fatalf("unexpected network mode %v", host["NetworkMode"])
	}
	if host["RestartPolicy"].(map[string]any)["Name"] != "unless-stopped" {
		t.Fatalf("unexpected restart policy %v", host["RestartPolicy"])
	}
	binds := host["Binds"].([]any)
	if len(binds) != 1 || binds[0] != "mc-data-steve:/data:rw" {
		t.Fatalf("unexpected binds %v", binds)
	}
	env := body["Env"].([]any)
	if len(env) != 2 || env[0] != "EULA=TRUE" || env[1] != "MC_USERNAME=steve" {
		t.Fatalf("unexpected env %v", env)
	}
	if _, ok := host["PortBindings"].(map[string]any)["25565/tcp"]; !ok {
		t.Fatalf("expected port binding, got %v", host["PortBindings"])
	}
}

func TestRunRemovesContainerWhenStartFails(t *testing.T) {
	d := newFakeDaemon()
	d.failStart = true
	rt := newTestRuntimeWithDaemon(t, d)
	_, err := rt.Run(context.Background(), shipohoy.ContainerSpec{Name: "mc-client-alex", Image: "afk-minecraft"})
	if err == nil {
		t.Fatalf("expected start failure")
	}
	var apiErr *shipohoy.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected API error, got %v", err)
	}
	if len(d.removed) != 1 || d.removed[0] != "id-mc-client-alex" {
		t.Fatalf("expected cleanup remove, got %v", d.removed)
	}
	if _, ok := d.containers["mc-client-alex"]; ok {
		t.Fatalf("expected container to be gone")
	}
}

func TestRunConflictMatchesSentinel(t *testing.T) {
	d := newFakeDaemon()
	d.containers["mc-client-steve"] = inspectContainer{ID: "existing"}
	rt := newTestRuntimeWithDaemon(t, d)
	_, err := rt.Run(context.Background(), shipohoy.ContainerSpec{Name: "mc-client-steve", Image: "afk-minecraft"})
	if !errors.Is(err, shipohoy.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGetParsesInspect(t *testing.T) {
	d := newFakeDaemon()
	var ic inspectContainer
	ic.ID = "abc"
	ic.Name = "/mc-client-steve"
	ic.Config.Image = "afk-minecraft"
	ic.Config.Env = []string{"MC_USERNAME=steve", "MC_PASSWORD=hunter2"}
	ic.State.Status = "running"
	ic.State.Running = true
	ic.State.StartedAt = "2026-01-02T03:04:05.5Z"
	ic.State.FinishedAt = "0001-01-01T00:00:00Z"
	d.containers["mc-client-steve"] = ic
	rt := newTestRuntimeWithDaemon(t, d)

	c, err := rt.Get(context.Background(), "mc-client-steve")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Name() != "mc-client-steve" || c.ID() != "abc" {
		t.Fatalf("unexpected container %s/%s", c.Name(), c.ID())
	}
	if c.Env["MC_PASSWORD"] != "hunter2" {
		t.Fatalf("expected raw env, got %v", c.Env)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 500000000, time.UTC)
	if !c.State.StartedAt.Equal(want) {
		t.Fatalf("unexpected started at %v", c.State.StartedAt)
	}
	if !c.State.FinishedAt.IsZero() {
		t.Fatalf("expected zero finished at, got %v", c.State.FinishedAt)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	rt := newTestRuntimeWithDaemon(t, newFakeDaemon())
	_, err := rt.Get(context.Background(), "mc-client-nobody")
	if !errors.Is(err, shipohoy.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatsAndLogs(t *testing.T) {
	rt := newTestRuntimeWithDaemon(t, newFakeDaemon())
	h := shipohoy.NewHandle("mc-client-steve", "abc")
	stats, err := rt.Stats(context.Background(), h)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.CPUTotalNanos != 4200 || stats.MemoryUsageBytes != 1024 || stats.MemoryLimitBytes != 4096 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Read.IsZero() {
		t.Fatalf("expected read timestamp")
	}
	lines, err := rt.Logs(context.Background(), h, 2)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(lines) != 2 || lines[0] != "warning: lag" || lines[1] != "afk tick" {
		t.Fatalf("unexpected log lines %q", lines)
	}
}

func TestUnreachableDaemonIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()
	cl, err := newClient(addr)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	rt := newRuntime(cl, Config{})
	_, err = rt.Get(context.Background(), "mc-client-steve")
	if !errors.Is(err, shipohoy.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestSplitImageRef(t *testing.T) {
	tests := []struct {
		in, name, tag string
	}{
		{in: "afk-minecraft", name: "afk-minecraft"},
		{in: "docker.io/itzg/minecraft-server:java21", name: "docker.io/itzg/minecraft-server", tag: "java21"},
		{in: "localhost:5000/afk", name: "localhost:5000/afk"},
		{in: "img@sha256:abc", name: "img@sha256:abc"},
	}
	for _, tc := range tests {
		name, tag := splitImageRef(tc.in)
		if name != tc.name || tag != tc.tag {
			t.Fatalf("splitImageRef(%q) = %q, %q", tc.in, name, tag)
		}
	}
}
