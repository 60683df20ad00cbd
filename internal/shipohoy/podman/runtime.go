package podman

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/pslog"
)

// Config configures the Podman runtime.
type Config struct {
	Address     string
	UserNSMode  string
	PullTimeout time.Duration
	StopTimeout time.Duration
}

// Runtime implements shipohoy.Runtime using Podman's HTTP API.
type Runtime struct {
	client      *client
	pullTimeout time.Duration
	stopTimeout time.Duration
	usernsMode  string
}

var _ shipohoy.Runtime = (*Runtime)(nil)

// New constructs a Podman runtime, trying fallback socket paths if needed.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	log := pslog.Ctx(ctx).With("runtime", "podman")
	addresses := candidateAddresses(cfg.Address)
	var lastErr error
	for _, addr := range addresses {
		log.Debug("podman connect attempt", "address", addr)
		cl, err := newClient(addr)
		if err != nil {
			log.Warn("podman connect failed", "address", addr, "err", err)
			lastErr = err
			continue
		}
		if err := cl.ping(ctx); err != nil {
			log.Warn("podman ping failed", "address", addr, "err", err)
			lastErr = err
			continue
		}
		log.Info("podman runtime ready", "address", addr)
		return newRuntime(cl, cfg), nil
	}
	if lastErr == nil {
		lastErr = errors.New("podman address not configured")
	}
	log.Warn("podman runtime unavailable", "err", lastErr)
	return nil, lastErr
}

func newRuntime(cl *client, cfg Config) *Runtime {
	pull := cfg.PullTimeout
	if pull == 0 {
		pull = 5 * time.Minute
	}
	stop := cfg.StopTimeout
	if stop <= 0 {
		stop = 10 * time.Second
	}
	return &Runtime{
		client:      cl,
		pullTimeout: pull,
		stopTimeout: stop,
		usernsMode:  strings.TrimSpace(cfg.UserNSMode),
	}
}

// Close releases any resources held by the runtime.
func (r *Runtime) Close() error { return nil }

// Ping checks that the daemon answers.
func (r *Runtime) Ping(ctx context.Context) error {
	return r.client.ping(ctx)
}

// ImageExists reports whether an image exists locally without pulling.
func (r *Runtime) ImageExists(ctx context.Context, image string) (bool, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		r.logger(ctx).Warn("podman image check rejected", "reason", "missing image")
		return false, errors.New("image is required")
	}
	log := r.logger(ctx).With("image", image)
	log.Debug("podman image exists check")
	res, err := r.client.do(ctx, http.MethodGet, fmt.Sprintf("/libpod/images/%s/exists", escapeImagePath(image)), nil, nil, "")
	if err != nil {
		log.Warn("podman image check failed", "err", err)
		return false, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == http.StatusNotFound {
		log.Debug("podman image missing")
		return false, nil
	}
	if res.StatusCode >= 300 {
		log.Warn("podman image check failed", "status", res.StatusCode)
		return false, readAPIError(res)
	}
	return true, nil
}

// EnsureImage pulls the image if it is not available.
func (r *Runtime) EnsureImage(ctx context.Context, image string) error {
	log := r.logger(ctx).With("image", image)
	log.Info("podman ensure image start")
	ok, err := r.ImageExists(ctx, image)
	if err != nil {
		log.Warn("podman ensure image failed", "err", err)
		return err
	}
	if ok {
		log.Info("podman ensure image ok")
		return nil
	}
	pullCtx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()
	query := url.Values{}
	name, tag := splitImageRef(image)
	query.Set("fromImage", name)
	if tag != "" {
		query.Set("tag", tag)
	}
	res, err := r.client.do(pullCtx, http.MethodPost, "/images/create", query, nil, "")
	if err != nil {
		log.Warn("podman image pull failed", "err", err)
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		log.Warn("podman image pull failed", "status", res.StatusCode)
		return readAPIError(res)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	log.Info("podman ensure image ok")
	return nil
}

// EnsureNetwork creates the network unless it already exists.
func (r *Runtime) EnsureNetwork(ctx context.Context, spec shipohoy.NetworkSpec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("network name is required")
	}
	log := r.logger(ctx).With("network", name)
	exists, err := r.networkExists(ctx, name)
	if err != nil {
		log.Warn("podman network inspect failed", "err", err)
		return err
	}
	if exists {
		log.Debug("podman network present")
		return nil
	}
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}
	payload, err := json.Marshal(map[string]any{
		"Name":           name,
		"Driver":         driver,
		"Labels":         spec.Labels,
		"CheckDuplicate": true,
	})
	if err != nil {
		return err
	}
	res, err := r.client.do(ctx, http.MethodPost, "/networks/create", nil, bytes.NewReader(payload), "application/json")
	if err != nil {
		log.Warn("podman network create failed", "err", err)
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == http.StatusConflict {
		log.Debug("podman network create raced", "status", res.StatusCode)
		return nil
	}
	if res.StatusCode >= 300 {
		apiErr := readAPIError(res)
		if ok, inspectErr := r.networkExists(ctx, name); inspectErr == nil && ok {
			log.Debug("podman network create raced", "status", res.StatusCode)
			return nil
		}
		log.Warn("podman network create failed", "status", res.StatusCode)
		return apiErr
	}
	log.Info("podman network created", "driver", driver)
	return nil
}

func (r *Runtime) networkExists(ctx context.Context, name string) (bool, error) {
	res, err := r.client.do(ctx, http.MethodGet, fmt.Sprintf("/networks/%s", url.PathEscape(name)), nil, nil, "")
	if err != nil {
		return false, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.StatusCode >= 300 {
		return false, readAPIError(res)
	}
	var inspect networkInspect
	if err := json.NewDecoder(res.Body).Decode(&inspect); err != nil {
		return false, err
	}
	return true, nil
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
	log.Info("podman run start")
	created, err := r.createContainer(ctx, spec)
	if err != nil {
		log.Warn("podman create failed", "err", err)
		return nil, err
	}
	h := shipohoy.NewHandle(spec.Name, created.ID)
	if err := r.startContainer(ctx, created.ID); err != nil {
		log.Warn("podman start failed", "id", created.ID, "err", err)
		if rmErr := r.Remove(context.WithoutCancel(ctx), h); rmErr != nil {
			log.Warn("podman cleanup after failed start failed", "id", created.ID, "err", rmErr)
		}
		return nil, err
	}
	log.Info("podman run ok", "id", created.ID)
	return h, nil
}

// Get inspects a container by name or id.
func (r *Runtime) Get(ctx context.Context, name string) (shipohoy.Container, error) {
	res, err := r.client.do(ctx, http.MethodGet, fmt.Sprintf("/containers/%s/json", url.PathEscape(name)), nil, nil, "")
	if err != nil {
		return shipohoy.Container{}, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return shipohoy.Container{}, readAPIError(res)
	}
	var inspect inspectContainer
	if err := json.NewDecoder(res.Body).Decode(&inspect); err != nil {
		return shipohoy.Container{}, err
	}
	return shipohoy.Container{
		ContainerID:   inspect.ID,
		ContainerName: shipohoy.ContainerName(inspect.Name),
		Image:         inspect.Config.Image,
		Env:           shipohoy.ParseEnv(inspect.Config.Env),
		Labels:        inspect.Config.Labels,
		State: shipohoy.ContainerState{
			Status:     inspect.State.Status,
			Running:    inspect.State.Running,
			ExitCode:   inspect.State.ExitCode,
			StartedAt:  shipohoy.ParseTimestamp(inspect.State.StartedAt),
			FinishedAt: shipohoy.ParseTimestamp(inspect.State.FinishedAt),
		},
	}, nil
}

// Stop stops a running container.
func (r *Runtime) Stop(ctx context.Context, handle shipohoy.Handle) error {
	if handle == nil {
		return nil
	}
	log := r.logger(ctx).With("container", handle.Name(), "id", handle.ID())
	log.Info("podman stop start")
	query := url.Values{}
	query.Set("t", strconv.Itoa(int(r.stopTimeout/time.Second)))
	res, err := r.client.do(ctx, http.MethodPost, fmt.Sprintf("/containers/%s/stop", url.PathEscape(handle.ID())), query, nil, "")
	if err != nil {
		log.Warn("podman stop failed", "err", err)
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == http.StatusNotModified {
		log.Info("podman stop skipped", "status", res.StatusCode)
		return nil
	}
	if res.StatusCode >= 300 {
		log.Warn("podman stop failed", "status", res.StatusCode)
		return readAPIError(res)
	}
	log.Info("podman stop ok")
	return nil
}

// Remove removes a container.
func (r *Runtime) Remove(ctx context.Context, handle shipohoy.Handle) error {
	if handle == nil {
		return nil
	}
	log := r.logger(ctx).With("container", handle.Name(), "id", handle.ID())
	log.Info("podman remove start")
	query := url.Values{}
	query.Set("force", "true")
	res, err := r.client.do(ctx, http.MethodDelete, fmt.Sprintf("/containers/%s", url.PathEscape(handle.ID())), query, nil, "")
	if err != nil {
		log.Warn("podman remove failed", "err", err)
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == http.StatusNotFound {
		log.Info("podman remove skipped", "reason", "not found")
		return nil
	}
	if res.StatusCode >= 300 {
		log.Warn("podman remove failed", "status", res.StatusCode)
		return readAPIError(res)
	}
	log.Info("podman remove ok")
	return nil
}

// Stats returns one stats sample for a container.
func (r *Runtime) Stats(ctx context.Context, handle shipohoy.Handle) (shipohoy.Stats, error) {
	if handle == nil {
		return shipohoy.Stats{}, errors.New("container handle is required")
	}
	query := url.Values{}
	query.Set("stream", "false")
	res, err := r.client.do(ctx, http.MethodGet, fmt.Sprintf("/containers/%s/stats", url.PathEscape(handle.ID())), query, nil, "")
	if err != nil {
		return shipohoy.Stats{}, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return shipohoy.Stats{}, readAPIError(res)
	}
	return shipohoy.DecodeStats(res.Body)
}

// Logs returns the last tail lines of combined stdout and stderr.
func (r *Runtime) Logs(ctx context.Context, handle shipohoy.Handle, tail int) ([]string, error) {
	if handle == nil {
		return nil, errors.New("container handle is required")
	}
	if tail <= 0 {
		tail = 10
	}
	query := url.Values{}
	query.Set("follow", "0")
	query.Set("tail", strconv.Itoa(tail))
	query.Set("stdout", "1")
	query.Set("stderr", "1")
	res, err := r.client.do(ctx, http.MethodGet, fmt.Sprintf("/containers/%s/logs", url.PathEscape(handle.ID())), query, nil, "")
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return nil, readAPIError(res)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	var combined bytes.Buffer
	if err := copyDockerStream(bytes.NewReader(data), &combined, &combined); err != nil {
		combined.Reset()
		_, _ = combined.Write(data)
	}
	return shipohoy.TailLines(combined.String(), tail), nil
}

// Janitor removes managed containers that are no longer running.
func (r *Runtime) Janitor(ctx context.Context, spec shipohoy.JanitorSpec) (int, error) {
	log := r.logger(ctx)
	log.Info("podman janitor start")
	labels := []string{shipohoy.LabelManaged + "=true"}
	for k, v := range spec.LabelSelector {
		if strings.TrimSpace(k) == "" {
			continue
		}
		labels = append(labels, fmt.Sprintf("%s=%s", k, v))
	}
	filterJSON, err := json.Marshal(map[string][]string{
		"label":  labels,
		"status": {"created", "exited", "dead"},
	})
	if err != nil {
		return 0, err
	}
	query := url.Values{}
	query.Set("all", "1")
	query.Set("filters", string(filterJSON))
	res, err := r.client.do(ctx, http.MethodGet, "/containers/json", query, nil, "")
	if err != nil {
		log.Warn("podman janitor failed", "err", err)
		return 0, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		log.Warn("podman janitor failed", "status", res.StatusCode)
		return 0, readAPIError(res)
	}
	var list []containerListItem
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		log.Warn("podman janitor failed", "err", err)
		return 0, err
	}
	removed := 0
	cutoff := time.Now().Add(-spec.MinAge)
	for _, item := range list {
		if spec.MinAge > 0 && time.Unix(item.Created, 0).After(cutoff) {
			continue
		}
		if err := r.Remove(ctx, shipohoy.NewHandle(listName(item), item.ID)); err != nil {
			log.Warn("podman janitor failed", "err", err)
			return removed, err
		}
		removed++
	}
	log.Info("podman janitor ok", "removed", removed)
	return removed, nil
}

func (r *Runtime) logger(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx).With("runtime", "podman")
}

func (r *Runtime) createContainer(ctx context.Context, spec shipohoy.ContainerSpec) (createResponse, error) {
	req := map[string]any{
		"Image":  spec.Image,
		"Labels": spec.Labels,
	}
	if len(spec.Command) > 0 {
		req["Cmd"] = spec.Command
	}
	if env := shipohoy.EnvSlice(spec.Env); len(env) > 0 {
		req["Env"] = env
	}
	hostConfig := map[string]any{}
	if spec.Network != "" {
		hostConfig["NetworkMode"] = spec.Network
	}
	if spec.RestartPolicy != "" {
		hostConfig["RestartPolicy"] = map[string]any{"Name": spec.RestartPolicy}
	}
	if r.usernsMode != "" {
		hostConfig["UsernsMode"] = r.usernsMode
	}
	if spec.ResourceCaps != nil {
		if spec.ResourceCaps.MemoryBytes > 0 {
			hostConfig["Memory"] = spec.ResourceCaps.MemoryBytes
		}
		if spec.ResourceCaps.NanoCPUs > 0 {
			hostConfig["NanoCPUs"] = spec.ResourceCaps.NanoCPUs
		}
	}
	if binds := shipohoy.VolumeBinds(spec.Volumes); len(binds) > 0 {
		hostConfig["Binds"] = binds
	}
	if len(spec.Ports) > 0 {
		exposed := map[string]any{}
		bindings := map[string][]map[string]string{}
		for _, p := range spec.Ports {
			key := shipohoy.PortKey(p)
			exposed[key] = struct{}{}
			hostPort := p.HostPort
			if hostPort == 0 {
				hostPort = p.ContainerPort
			}
			bindings[key] = append(bindings[key], map[string]string{"HostPort": strconv.Itoa(hostPort)})
		}
		req["ExposedPorts"] = exposed
		hostConfig["PortBindings"] = bindings
	}
	if len(hostConfig) > 0 {
		req["HostConfig"] = hostConfig
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return createResponse{}, err
	}
	query := url.Values{}
	query.Set("name", spec.Name)
	res, err := r.client.do(ctx, http.MethodPost, "/containers/create", query, bytes.NewReader(payload), "application/json")
	if err != nil {
		return createResponse{}, err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode >= 300 {
		return createResponse{}, readAPIError(res)
	}
	var created createResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return createResponse{}, err
	}
	if created.ID == "" {
		return createResponse{}, errors.New("podman create did not return container id")
	}
	return created, nil
}

func (r *Runtime) startContainer(ctx context.Context, id string) error {
	res, err := r.client.do(ctx, http.MethodPost, fmt.Sprintf("/containers/%s/start", url.PathEscape(id)), nil, nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode == http.StatusNotModified {
		return nil
	}
	if res.StatusCode >= 300 {
		return readAPIError(res)
	}
	return nil
}

// copyDockerStream demultiplexes the 8-byte framed log stream.
func copyDockerStream(r io.Reader, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if header[0] > 2 || header[1] != 0 || header[2] != 0 || header[3] != 0 {
			return errors.New("log stream is not multiplexed")
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		dst := stdout
		if header[0] == 2 {
			dst = stderr
		}
		if _, err := io.CopyN(dst, r, int64(size)); err != nil {
			return err
		}
	}
}

func listName(item containerListItem) string {
	if len(item.Names) == 0 {
		return ""
	}
	return shipohoy.ContainerName(item.Names[0])
}

func splitImageRef(image string) (string, string) {
	image = strings.TrimSpace(image)
	if image == "" {
		return "", ""
	}
	if at := strings.Index(image, "@"); at != -1 {
		return image, ""
	}
	lastSlash := strings.LastIndex(image, "/")
	lastColon := strings.LastIndex(image, ":")
	if lastColon > lastSlash {
		return image[:lastColon], image[lastColon+1:]
	}
	return image, ""
}
