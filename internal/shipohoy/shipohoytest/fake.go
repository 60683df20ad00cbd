// Package shipohoytest provides an in-memory shipohoy.Runtime for tests.
package shipohoytest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pkt.systems/afkcraft/internal/shipohoy"
)

// StartedAt is the start time reported for every fake container.
var StartedAt = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

// SampleUptime is the distance between StartedAt and the fake stats sample.
const SampleUptime = 42 * time.Second

// Method names accepted by Block and Fail.
const (
	MethodPing    = "ping"
	MethodImage   = "image"
	MethodNetwork = "network"
	MethodRun     = "run"
	MethodGet     = "get"
	MethodStop    = "stop"
	MethodRemove  = "remove"
	MethodStats   = "stats"
	MethodLogs    = "logs"
	MethodJanitor = "janitor"
)

// Runtime is an in-memory shipohoy.Runtime. Blocked methods wait for their
// context to expire; failed methods return the configured error.
type Runtime struct {
	// GetDelay is slept after each Get lookup, widening check-then-act races.
	GetDelay time.Duration
	// StopDelay is how long Stop takes, as a daemon waiting out a stop grace.
	StopDelay time.Duration
	// LogLines is returned by Logs.
	LogLines []string

	mu         sync.Mutex
	containers map[string]shipohoy.Container
	nextID     int
	runs       []shipohoy.ContainerSpec
	removed    []string
	stopped    []string
	networks   []string
	images     []string
	calls      int
	block      map[string]bool
	errs       map[string]error
}

var _ shipohoy.Runtime = (*Runtime)(nil)

// New returns an empty fake runtime.
func New() *Runtime {
	return &Runtime{
		containers: map[string]shipohoy.Container{},
		block:      map[string]bool{},
		errs:       map[string]error{},
	}
}

// Block makes method wait for context expiry.
func (f *Runtime) Block(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block[method] = true
}

// Fail makes method return err. A nil err clears the failure.
func (f *Runtime) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// Seed registers an existing container with the given engine status.
func (f *Runtime) Seed(name, status string) shipohoy.Container {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := shipohoy.Container{
		ContainerID:   fmt.Sprintf("old-%d", f.nextID),
		ContainerName: name,
		Image:         "seeded:latest",
		State: shipohoy.ContainerState{
			Status:    status,
			Running:   status == "running",
			StartedAt: StartedAt,
		},
	}
	f.containers[name] = c
	return c
}

// Calls counts every runtime method invocation.
func (f *Runtime) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Runs returns the specs passed to successful Run calls.
func (f *Runtime) Runs() []shipohoy.ContainerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shipohoy.ContainerSpec(nil), f.runs...)
}

// Removed returns the ids passed to Remove.
func (f *Runtime) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// Stopped returns the ids passed to Stop.
func (f *Runtime) Stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

// Networks returns the networks ensured so far.
func (f *Runtime) Networks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.networks...)
}

// Images returns the images ensured so far.
func (f *Runtime) Images() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.images...)
}

func (f *Runtime) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls++
	block := f.block[method]
	err := f.errs[method]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *Runtime) Ping(ctx context.Context) error {
	return f.enter(ctx, MethodPing)
}

func (f *Runtime) EnsureImage(ctx context.Context, image string) error {
	if err := f.enter(ctx, MethodImage); err != nil {
		return err
	}
	f.mu.Lock()
	f.images = append(f.images, image)
	f.mu.Unlock()
	return nil
}

func (f *Runtime) EnsureNetwork(ctx context.Context, spec shipohoy.NetworkSpec) error {
	if err := f.enter(ctx, MethodNetwork); err != nil {
		return err
	}
	f.mu.Lock()
	f.networks = append(f.networks, spec.Name)
	f.mu.Unlock()
	return nil
}

func (f *Runtime) Run(ctx context.Context, spec shipohoy.ContainerSpec) (shipohoy.Handle, error) {
	if err := f.enter(ctx, MethodRun); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[spec.Name]; ok {
		return nil, &shipohoy.APIError{Runtime: "fake", StatusCode: http.StatusConflict, Message: "name in use"}
	}
	f.nextID++
	env := make(map[string]string, len(spec.Env))
	for k, v := range spec.Env {
		env[k] = v
	}
	c := shipohoy.Container{
		ContainerID:   fmt.Sprintf("id-%d", f.nextID),
		ContainerName: spec.Name,
		Image:         spec.Image,
		Env:           env,
		Labels:        spec.Labels,
		State: shipohoy.ContainerState{
			Status:    "running",
			Running:   true,
			StartedAt: StartedAt,
		},
	}
	f.containers[spec.Name] = c
	f.runs = append(f.runs, spec)
	return shipohoy.NewHandle(c.ContainerName, c.ContainerID), nil
}

func (f *Runtime) Get(ctx context.Context, name string) (shipohoy.Container, error) {
	if err := f.enter(ctx, MethodGet); err != nil {
		return shipohoy.Container{}, err
	}
	f.mu.Lock()
	c, ok := f.containers[name]
	delay := f.GetDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		return shipohoy.Container{}, fmt.Errorf("get %s: %w", name, shipohoy.ErrNotFound)
	}
	return c, nil
}

func (f *Runtime) Stop(ctx context.Context, h shipohoy.Handle) error {
	if err := f.enter(ctx, MethodStop); err != nil {
		return err
	}
	if f.StopDelay > 0 {
		timer := time.NewTimer(f.StopDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h.ID())
	for name, c := range f.containers {
		if c.ContainerID == h.ID() {
			c.State.Status = "exited"
			c.State.Running = false
			f.containers[name] = c
		}
	}
	return nil
}

func (f *Runtime) Remove(ctx context.Context, h shipohoy.Handle) error {
	if err := f.enter(ctx, MethodRemove); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, h.ID())
	for name, c := range f.containers {
		if c.ContainerID == h.ID() {
			delete(f.containers, name)
		}
	}
	return nil
}

func (f *Runtime) Stats(ctx context.Context, h shipohoy.Handle) (shipohoy.Stats, error) {
	if err := f.enter(ctx, MethodStats); err != nil {
		return shipohoy.Stats{}, err
	}
	return shipohoy.Stats{
		Read:             StartedAt.Add(SampleUptime),
		CPUTotalNanos:    1500,
		MemoryUsageBytes: 2048,
		MemoryLimitBytes: 4096,
	}, nil
}

func (f *Runtime) Logs(ctx context.Context, h shipohoy.Handle, tail int) ([]string, error) {
	if err := f.enter(ctx, MethodLogs); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := append([]string(nil), f.LogLines...)
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return lines, nil
}

func (f *Runtime) Janitor(ctx context.Context, spec shipohoy.JanitorSpec) (int, error) {
	if err := f.enter(ctx, MethodJanitor); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for name, c := range f.containers {
		if c.State.Running {
			continue
		}
		match := true
		for k, v := range spec.LabelSelector {
			if c.Labels[k] != v {
				match = false
			}
		}
		if match {
			delete(f.containers, name)
			n++
		}
	}
	return n, nil
}
