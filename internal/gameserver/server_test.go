package gameserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/shipohoy/shipohoytest"
	"pkt.systems/afkcraft/schema"
)

func newTestManager(t *testing.T, rt shipohoy.Runtime) *Manager {
	t.Helper()
	m, err := New(Config{ControlTimeout: 50 * time.Millisecond}, rt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestStartRunsServerContainer(t *testing.T) {
	rt := shipohoytest.New()
	m := newTestManager(t, rt)
	ref, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ref.Name != "mc-server" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	spec := rt.Runs()[0]
	if spec.Env["EULA"] != "TRUE" || spec.Env["MEMORY"] != "1024M" {
		t.Fatalf("unexpected env %v", spec.Env)
	}
	if spec.Network != "afk_network" || spec.RestartPolicy != shipohoy.RestartUnlessStopped {
		t.Fatalf("unexpected placement %+v", spec)
	}
	if len(spec.Ports) != 1 || spec.Ports[0].ContainerPort != 25565 || spec.Ports[0].HostPort != 25565 {
		t.Fatalf("unexpected ports %+v", spec.Ports)
	}
	if len(spec.Volumes) != 1 || spec.Volumes[0].Volume != "mc-server-data" || spec.Volumes[0].Target != "/data" {
		t.Fatalf("unexpected volumes %+v", spec.Volumes)
	}
	if nets := rt.Networks(); len(nets) != 1 || nets[0] != "afk_network" {
		t.Fatalf("expected network ensure, got %v", nets)
	}

	_, err = m.Start(context.Background())
	if kind, _ := schema.KindOf(err); kind != schema.SessionErrorAlreadyRunning {
		t.Fatalf("expected already_running, got %v", err)
	}
}

func TestStartReplacesExitedServer(t *testing.T) {
	rt := shipohoytest.New()
	old := rt.Seed("mc-server", "exited")
	m := newTestManager(t, rt)
	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if removed := rt.Removed(); len(removed) != 1 || removed[0] != old.ID() {
		t.Fatalf("expected old server removal, got %v", removed)
	}
}

func TestStatusReadsRuntime(t *testing.T) {
	rt := shipohoytest.New()
	m := newTestManager(t, rt)
	ctx := context.Background()

	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Existence != schema.ExistenceAbsent || st.RunState != schema.RunStateUnknown {
		t.Fatalf("unexpected absent status %+v", st)
	}

	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, err = m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RunState != schema.RunStateRunning || st.UptimeSeconds != shipohoytest.SampleUptime.Seconds() {
		t.Fatalf("unexpected running status %+v", st)
	}

	rt.Fail(shipohoytest.MethodStats, &shipohoy.APIError{Runtime: "fake", StatusCode: http.StatusConflict})
	st, err = m.Status(ctx)
	if err != nil {
		t.Fatalf("Status with denied stats: %v", err)
	}
	if st.RunState != schema.RunStateRunning || st.UptimeSeconds != 0 {
		t.Fatalf("expected running without uptime, got %+v", st)
	}
}

func TestStopBestEffort(t *testing.T) {
	rt := shipohoytest.New()
	m := newTestManager(t, rt)
	ctx := context.Background()
	if m.Stop(ctx) {
		t.Fatalf("expected false when absent")
	}
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.Stop(ctx) {
		t.Fatalf("expected true after start")
	}
	if m.Stop(ctx) {
		t.Fatalf("expected false on second stop")
	}
}

func TestStopWaitsOutRuntimeGrace(t *testing.T) {
	rt := shipohoytest.New()
	m, err := New(Config{ControlTimeout: 50 * time.Millisecond, StopGrace: 300 * time.Millisecond}, rt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rt.StopDelay = 150 * time.Millisecond
	if !m.Stop(ctx) {
		t.Fatalf("expected stop true while the server saves within its grace")
	}
	if len(rt.Removed()) != 1 {
		t.Fatalf("expected server removed, got %v", rt.Removed())
	}
}

func TestStatusTimeout(t *testing.T) {
	rt := shipohoytest.New()
	rt.Block(shipohoytest.MethodGet)
	m := newTestManager(t, rt)
	_, err := m.Status(context.Background())
	if kind, _ := schema.KindOf(err); kind != schema.SessionErrorRuntimeTimeout {
		t.Fatalf("expected runtime_timeout, got %v", err)
	}
}
