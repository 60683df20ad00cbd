// Package gameserver runs the shared game server container that every
// client connects to. Whether it runs is always read from the runtime.
package gameserver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"pkt.systems/afkcraft/internal/session"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/status"
	"pkt.systems/afkcraft/schema"
	"pkt.systems/pslog"
)

const (
	DefaultName   = "mc-server"
	DefaultImage  = "docker.io/itzg/minecraft-server:latest"
	DefaultVolume = "mc-server-data"
	DefaultMemory = "1024M"
	DefaultPort   = 25565

	// RoleServer is the session.LabelRole value of the server container.
	RoleServer = "server"
)

// Config configures the server container.
type Config struct {
	Name           string
	Image          string
	Network        string
	Port           int
	Memory         string
	Volume         string
	ControlTimeout time.Duration
	StatsTimeout   time.Duration
	// StopGrace is the runtime's SIGTERM grace; the server saves the world in it.
	StopGrace time.Duration
}

// Manager starts, stops and reports on the shared server container.
type Manager struct {
	cfg Config
	rt  shipohoy.Runtime
	mu  sync.Mutex
}

// New constructs a Manager.
func New(cfg Config, rt shipohoy.Runtime) (*Manager, error) {
	if rt == nil {
		return nil, errors.New("server runtime is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if strings.TrimSpace(cfg.Image) == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Network == "" {
		cfg.Network = session.DefaultNetwork
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Memory == "" {
		cfg.Memory = DefaultMemory
	}
	if cfg.Volume == "" {
		cfg.Volume = DefaultVolume
	}
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = session.DefaultControlTimeout
	}
	if cfg.StatsTimeout <= 0 {
		cfg.StatsTimeout = session.DefaultStatsTimeout
	}
	return &Manager{cfg: cfg, rt: rt}, nil
}

// Start runs the server. A running server is reported as already running and
// an exited one is replaced.
func (m *Manager) Start(ctx context.Context) (schema.SessionRef, error) {
	const op = "server start"
	m.mu.Lock()
	defer m.mu.Unlock()
	log := pslog.Ctx(ctx).With("container", m.cfg.Name)

	fail := func(err error) (schema.SessionRef, error) {
		se := &schema.SessionError{Kind: schema.SessionErrorCreateFailed, Op: op, Err: session.Classify("runtime", err)}
		log.Warn("server start failed", "err", err)
		return schema.SessionRef{}, se
	}

	existing, err := m.get(ctx)
	switch {
	case err == nil:
		if status.MapState(existing.State.Status) != schema.RunStateExited {
			log.Info("server start rejected", "state", existing.State.Status)
			return schema.SessionRef{}, &schema.SessionError{
				Kind:    schema.SessionErrorAlreadyRunning,
				Op:      op,
				Message: "server is already running",
			}
		}
		if err := m.control(ctx, func(ctx context.Context) error { return m.rt.Remove(ctx, existing) }); err != nil {
			return fail(err)
		}
	case errors.Is(err, shipohoy.ErrNotFound):
	default:
		return fail(err)
	}

	if err := m.control(ctx, func(ctx context.Context) error {
		return m.rt.EnsureNetwork(ctx, shipohoy.NetworkSpec{
			Name:   m.cfg.Network,
			Labels: map[string]string{shipohoy.LabelManaged: "true"},
		})
	}); err != nil && !errors.Is(err, shipohoy.ErrConflict) {
		return fail(err)
	}

	var handle shipohoy.Handle
	if err := m.control(ctx, func(ctx context.Context) error {
		var err error
		handle, err = m.rt.Run(ctx, m.containerSpec())
		return err
	}); err != nil {
		if errors.Is(err, shipohoy.ErrConflict) {
			return schema.SessionRef{}, &schema.SessionError{Kind: schema.SessionErrorAlreadyRunning, Op: op, Message: "server is already running"}
		}
		return fail(err)
	}
	log.Info("server start ok", "container_id", handle.ID())
	return schema.SessionRef{ID: handle.ID(), Name: handle.Name()}, nil
}

// Stop stops and removes the server. Failures are logged and reported as false.
func (m *Manager) Stop(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := pslog.Ctx(ctx).With("container", m.cfg.Name)
	existing, err := m.get(ctx)
	if err != nil {
		if errors.Is(err, shipohoy.ErrNotFound) {
			log.Info("server stop skipped", "reason", "not running")
		} else {
			log.Warn("server stop failed", "stage", "inspect", "err", err)
		}
		return false
	}
	stopCtx, cancel := context.WithTimeout(ctx, session.StopDeadline(m.cfg.StopGrace, m.cfg.ControlTimeout))
	err = m.rt.Stop(stopCtx, existing)
	cancel()
	if err != nil && !errors.Is(err, shipohoy.ErrNotFound) {
		log.Warn("server stop failed", "stage", "stop", "err", err)
		return false
	}
	if err := m.control(ctx, func(ctx context.Context) error { return m.rt.Remove(ctx, existing) }); err != nil {
		log.Warn("server stop failed", "stage", "remove", "err", err)
		return false
	}
	log.Info("server stop ok", "container_id", existing.ID())
	return true
}

// Status reports the server state and its uptime as measured by the daemon.
func (m *Manager) Status(ctx context.Context) (schema.ServerStatus, error) {
	const op = "server status"
	existing, err := m.get(ctx)
	if err != nil {
		if errors.Is(err, shipohoy.ErrNotFound) {
			return schema.ServerStatus{Existence: schema.ExistenceAbsent, RunState: schema.RunStateUnknown}, nil
		}
		return schema.ServerStatus{}, session.Classify(op, err)
	}
	out := schema.ServerStatus{
		Existence:   schema.ExistencePresent,
		RunState:    status.MapState(existing.State.Status),
		ContainerID: existing.ID(),
	}
	if out.RunState != schema.RunStateRunning {
		return out, nil
	}
	statsCtx, cancel := context.WithTimeout(ctx, m.cfg.StatsTimeout)
	defer cancel()
	sample, err := m.rt.Stats(statsCtx, existing)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, shipohoy.ErrUnavailable) {
			return schema.ServerStatus{}, session.Classify(op, err)
		}
		pslog.Ctx(ctx).Debug("server stats unavailable", "err", err)
		return out, nil
	}
	out.UptimeSeconds = status.Uptime(existing.State, sample)
	return out, nil
}

func (m *Manager) containerSpec() shipohoy.ContainerSpec {
	return shipohoy.ApplyPlan(shipohoy.ContainerSpec{
		Name:  m.cfg.Name,
		Image: m.cfg.Image,
		Env: map[string]string{
			"EULA":   "TRUE",
			"MEMORY": m.cfg.Memory,
		},
		Labels:  map[string]string{session.LabelRole: RoleServer},
		Volumes: []shipohoy.VolumeMount{{Volume: m.cfg.Volume, Target: session.DataDir}},
		Ports:   []shipohoy.PortBinding{{ContainerPort: m.cfg.Port, HostPort: m.cfg.Port, Protocol: "tcp"}},
	}, shipohoy.Plan{
		Network:       m.cfg.Network,
		RestartPolicy: shipohoy.RestartUnlessStopped,
	})
}

func (m *Manager) get(ctx context.Context) (shipohoy.Container, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ControlTimeout)
	defer cancel()
	return m.rt.Get(ctx, m.cfg.Name)
}

func (m *Manager) control(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ControlTimeout)
	defer cancel()
	return fn(ctx)
}
