// Package docker implements shipohoy.Runtime on the Docker Engine API client.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/pslog"
)

// Config configures the Docker runtime.
type Config struct {
	// Host is a daemon address such as unix:///var/run/docker.sock. Empty uses DOCKER_HOST.
	Host string
	// APIVersion pins the API version. Empty negotiates with the daemon.
	APIVersion  string
	PullTimeout time.Duration
	StopTimeout time.Duration
}

// Runtime implements shipohoy.Runtime using the Docker Engine client.
type Runtime struct {
	cli         *client.Client
	pullTimeout time.Duration
	stopTimeout time.Duration
}

var _ shipohoy.Runtime = (*Runtime)(nil)

// New constructs a Docker runtime and pings the daemon.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	log := pslog.Ctx(ctx).With("runtime", "docker")
	opts := []client.Opt{client.FromEnv}
	if host := strings.TrimSpace(cfg.Host); host != "" {
		opts = append(opts, client.WithHost(host))
	}
	if v := strings.TrimSpace(cfg.APIVersion); v != "" {
		opts = append(opts, client.WithVersion(v))
	} else {
		opts = append(opts, client.WithAPIVersionNegotiation())
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		log.Warn("docker client create failed", "err", err)
		return nil, err
	}
	rt := newRuntime(cli, cfg)
	if err := rt.Ping(ctx); err != nil {
		_ = cli.Close()
		log.Warn("docker runtime unavailable", "host", cli.DaemonHost(), "err", err)
		return nil, err
	}
	log.Info("docker runtime ready", "host", cli.DaemonHost())
	return rt, nil
}

func newRuntime(cli *client.Client, cfg Config) *Runtime {
	pull := cfg.PullTimeout
	if pull == 0 {
		pull = 5 * time.Minute
	}
	stop := cfg.StopTimeout
	if stop <= 0 {
		stop = 10 * time.Second
	}
	return &Runtime{cli: cli, pullTimeout: pull, stopTimeout: stop}
}

// Close releases the underlying client.
func (r *Runtime) Close() error {
	if r == nil || r.cli == nil {
		return nil
	}
	return r.cli.Close()
}

// Ping checks that the daemon answers.
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return classify(err)
}

// EnsureImage pulls the image if it is not available.
func (r *Runtime) EnsureImage(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return errors.New("image is required")
	}
	log := r.logger(ctx).With("image", ref)
	log.Info("docker ensure image start")
	_, _, err := r.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		log.Info("docker ensure image ok")
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		log.Warn("docker image check failed", "err", err)
		return classify(err)
	}
	pullCtx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()
	rc, err := r.cli.ImagePull(pullCtx, ref, image.PullOptions{})
	if err != nil {
		log.Warn("docker image pull failed", "err", err)
		return classify(err)
	}
	defer func() { _ = rc.Close() }()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		log.Warn("docker image pull failed", "err", err)
		return err
	}
	log.Info("docker ensure image ok")
	return nil
}

// EnsureNetwork creates the network unless it already exists.
func (r *Runtime) EnsureNetwork(ctx context.Context, spec shipohoy.NetworkSpec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("network name is required")
	}
	log := r.logger(ctx).With("network", name)
	_, err := r.cli.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		log.Debug("docker network present")
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		log.Warn("docker network inspect failed", "err", err)
		return classify(err)
	}
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}
	_, err = r.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		if cerrdefs.IsConflict(err) {
			log.Debug("docker network create raced")
			return nil
		}
		if _, inspectErr := r.cli.NetworkInspect(ctx, name, network.InspectOptions{}); inspectErr == nil {
			log.Debug("docker network create raced")
			return nil
		}
		log.Warn("docker network create failed", "err", err)
		return classify(err)
	}
	log.Info("docker network created", "driver", driver)
	return nil
}

// Run creates and starts a container. A container whose start fails is removed again.
func (r *Runtime) Run(ctx context.Context, spec shipohoy.ContainerSpec) (shipohoy.Handle, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, errors.New("container name is required")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return nil, errors.New("container image is required")
	}
	log := r.logger(ctx).With("container", spec.Name, "image", spec.Image)
	log.Info("docker run start")
	cfg, hostCfg := buildConfigs(spec)
	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		log.Warn("docker create failed", "err", err)
		return nil, classify(err)
	}
	h := shipohoy.NewHandle(spec.Name, created.ID)
	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		log.Warn("docker start failed", "id", created.ID, "err", err)
		if rmErr := r.Remove(context.WithoutCancel(ctx), h); rmErr != nil {
			log.Warn("docker cleanup after failed start failed", "id", created.ID, "err", rmErr)
		}
		return nil, classify(err)
	}
	log.Info("docker run ok", "id", created.ID)
	return h, nil
}

// Get inspects a container by name or id.
func (r *Runtime) Get(ctx context.Context, name string) (shipohoy.Container, error) {
	info, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		return shipohoy.Container{}, classify(err)
	}
	out := shipohoy.Container{
		ContainerID:   info.ID,
		ContainerName: shipohoy.ContainerName(info.Name),
	}
	if info.Config != nil {
		out.Image = info.Config.Image
		out.Env = shipohoy.ParseEnv(info.Config.Env)
		out.Labels = info.Config.Labels
	}
	if info.State != nil {
		out.State = shipohoy.ContainerState{
			Status:     string(info.State.Status),
			Running:    info.State.Running,
			ExitCode:   info.State.ExitCode,
			StartedAt:  shipohoy.ParseTimestamp(info.State.StartedAt),
			FinishedAt: shipohoy.ParseTimestamp(info.State.FinishedAt),
		}
	}
	return out, nil
}

// Stop stops a running container.
func (r *Runtime) Stop(ctx context.Context, handle shipohoy.Handle) error {
	if handle == nil {
		return nil
	}
	log := r.logger(ctx).With("container", handle.Name(), "id", handle.ID())
	log.Info("docker stop start")
	seconds := int(r.stopTimeout / time.Second)
	if err := r.cli.ContainerStop(ctx, handle.ID(), container.StopOptions{Timeout: &seconds}); err != nil {
		log.Warn("docker stop failed", "err", err)
		return classify(err)
	}
	log.Info("docker stop ok")
	return nil
}

// Remove removes a container. A missing container is not an error.
func (r *Runtime) Remove(ctx context.Context, handle shipohoy.Handle) error {
	if handle == nil {
		return nil
	}
	log := r.logger(ctx).With("container", handle.Name(), "id", handle.ID())
	log.Info("docker remove start")
	if err := r.cli.ContainerRemove(ctx, handle.ID(), container.RemoveOptions{Force: true}); err != nil {
		if cerrdefs.IsNotFound(err) {
			log.Info("docker remove skipped", "reason", "not found")
			return nil
		}
		log.Warn("docker remove failed", "err", err)
		return classify(err)
	}
	log.Info("docker remove ok")
	return nil
}

// Stats returns one stats sample for a container.
func (r *Runtime) Stats(ctx context.Context, handle shipohoy.Handle) (shipohoy.Stats, error) {
	if handle == nil {
		return shipohoy.Stats{}, errors.New("container handle is required")
	}
	resp, err := r.cli.ContainerStats(ctx, handle.ID(), false)
	if err != nil {
		return shipohoy.Stats{}, classify(err)
	}
	defer func() { _ = resp.Body.Close() }()
	return shipohoy.DecodeStats(resp.Body)
}

// Logs returns the last tail lines of combined stdout and stderr.
func (r *Runtime) Logs(ctx context.Context, handle shipohoy.Handle, tail int) ([]string, error) {
	if handle == nil {
		return nil, errors.New("container handle is required")
	}
	if tail <= 0 {
		tail = 10
	}
	rc, err := r.cli.ContainerLogs(ctx, handle.ID(), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, bytes.NewReader(data)); err != nil {
		combined.Reset()
		_, _ = combined.Write(data)
	}
	return shipohoy.TailLines(combined.String(), tail), nil
}

// Janitor removes managed containers that are no longer running.
func (r *Runtime) Janitor(ctx context.Context, spec shipohoy.JanitorSpec) (int, error) {
	log := r.logger(ctx)
	log.Info("docker janitor start")
	args := filters.NewArgs(
		filters.Arg("label", shipohoy.LabelManaged+"=true"),
		filters.Arg("status", "created"),
		filters.Arg("status", "exited"),
		filters.Arg("status", "dead"),
	)
	for k, v := range spec.LabelSelector {
		if strings.TrimSpace(k) == "" {
			continue
		}
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}
	list, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		log.Warn("docker janitor failed", "err", err)
		return 0, classify(err)
	}
	removed := 0
	cutoff := time.Now().Add(-spec.MinAge)
	for _, item := range list {
		if spec.MinAge > 0 && time.Unix(item.Created, 0).After(cutoff) {
			continue
		}
		name := ""
		if len(item.Names) > 0 {
			name = shipohoy.ContainerName(item.Names[0])
		}
		if err := r.Remove(ctx, shipohoy.NewHandle(name, item.ID)); err != nil {
			log.Warn("docker janitor failed", "err", err)
			return removed, err
		}
		removed++
	}
	log.Info("docker janitor ok", "removed", removed)
	return removed, nil
}

func (r *Runtime) logger(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx).With("runtime", "docker")
}

func buildConfigs(spec shipohoy.ContainerSpec) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    shipohoy.EnvSlice(spec.Env),
		Labels: spec.Labels,
	}
	if len(spec.Command) > 0 {
		cfg.Cmd = spec.Command
	}
	hostCfg := &container.HostConfig{
		Binds: shipohoy.VolumeBinds(spec.Volumes),
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}
	if spec.RestartPolicy != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)}
	}
	if spec.ResourceCaps != nil {
		hostCfg.Resources.Memory = spec.ResourceCaps.MemoryBytes
		hostCfg.Resources.NanoCPUs = spec.ResourceCaps.NanoCPUs
	}
	if len(spec.Ports) > 0 {
		cfg.ExposedPorts = nat.PortSet{}
		hostCfg.PortBindings = nat.PortMap{}
		for _, p := range spec.Ports {
			port := nat.Port(shipohoy.PortKey(p))
			hostPort := p.HostPort
			if hostPort == 0 {
				hostPort = p.ContainerPort
			}
			cfg.ExposedPorts[port] = struct{}{}
			hostCfg.PortBindings[port] = append(hostCfg.PortBindings[port], nat.PortBinding{HostPort: strconv.Itoa(hostPort)})
		}
	}
	return cfg, hostCfg
}

// classify maps Docker client errors onto the shipohoy sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return err
	case client.IsErrConnectionFailed(err), cerrdefs.IsUnavailable(err):
		return shipohoy.Unavailable(err)
	case cerrdefs.IsNotFound(err):
		return fmt.Errorf("%w: %w", shipohoy.ErrNotFound, err)
	case cerrdefs.IsConflict(err):
		return fmt.Errorf("%w: %w", shipohoy.ErrConflict, err)
	default:
		return err
	}
}
