// Package session maps users to their AFK client containers and enforces
// one container per user. The runtime is the only source of truth: nothing
// about a session is kept in process between calls.
package session

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/moby/locker"

	"pkt.systems/afkcraft/internal/logx"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/status"
	"pkt.systems/afkcraft/schema"
)

const (
	// ContainerPrefix prefixes every client container name.
	ContainerPrefix = "mc-client-"
	// VolumePrefix prefixes every per-user data volume.
	VolumePrefix = "mc-data-"
	// DataDir is where the user volume is mounted in the client.
	DataDir = "/data"

	// LabelUser carries the user key on client containers.
	LabelUser = "afkcraft.user"
	// LabelRole distinguishes client and server containers.
	LabelRole = "afkcraft.role"
	// RoleClient is the LabelRole value of client containers.
	RoleClient = "client"

	DefaultNetwork        = "afk_network"
	DefaultServerHost     = "mc-server"
	DefaultServerPort     = 25565
	DefaultControlTimeout = 5 * time.Second
	DefaultStatsTimeout   = 10 * time.Second
	DefaultCredentialEnv  = "MC_PASSWORD"
)

// Decrypter opens stored credentials.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Config configures the orchestrator.
type Config struct {
	Image          string
	Network        string
	ServerHost     string
	ServerPort     int
	LogTail        int
	ControlTimeout time.Duration
	StatsTimeout   time.Duration
	// StopGrace is the SIGTERM grace the runtime gives a container before
	// killing it. Stop waits StopGrace plus ControlTimeout.
	StopGrace time.Duration
	// CredentialEnv is the env var that carries the decrypted credential.
	CredentialEnv string
	ResourceCaps  shipohoy.ResourceCaps
}

// StartRequest asks for a session for User. Credential is decrypted only
// when Credential.Store is set.
type StartRequest struct {
	User       schema.UserKey
	Credential schema.StoredCredential
}

// Orchestrator runs per-user client containers.
type Orchestrator struct {
	cfg        Config
	rt         shipohoy.Runtime
	vault      Decrypter
	locks      *locker.Locker
	plan       shipohoy.Plan
	translator status.Translator
}

// ContainerName returns the client container name for user.
func ContainerName(user schema.UserKey) string {
	return ContainerPrefix + string(user)
}

// StopDeadline is the client-side deadline for a stop request given the
// runtime's stop grace.
func StopDeadline(grace, control time.Duration) time.Duration {
	if grace < 0 {
		grace = 0
	}
	return grace + control
}

// VolumeName returns the data volume name for user.
func VolumeName(user schema.UserKey) string {
	return VolumePrefix + string(user)
}

// New constructs an Orchestrator. vault may be nil when no user stores a credential.
func New(cfg Config, rt shipohoy.Runtime, vault Decrypter) (*Orchestrator, error) {
	if rt == nil {
		return nil, errors.New("session runtime is required")
	}
	if strings.TrimSpace(cfg.Image) == "" {
		return nil, errors.New("client image is required")
	}
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
	if cfg.ServerHost == "" {
		cfg.ServerHost = DefaultServerHost
	}
	if cfg.ServerPort <= 0 {
		cfg.ServerPort = DefaultServerPort
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = status.DefaultLogTail
	}
	if cfg.ControlTimeout <= 0 {
		cfg.ControlTimeout = DefaultControlTimeout
	}
	if cfg.StatsTimeout <= 0 {
		cfg.StatsTimeout = DefaultStatsTimeout
	}
	if cfg.CredentialEnv == "" {
		cfg.CredentialEnv = DefaultCredentialEnv
	}
	return &Orchestrator{
		cfg:   cfg,
		rt:    rt,
		vault: vault,
		locks: locker.New(),
		plan: shipohoy.Plan{
			Network:       cfg.Network,
			RestartPolicy: shipohoy.RestartUnlessStopped,
			Labels:        map[string]string{LabelRole: RoleClient},
			ResourceCaps:  cfg.ResourceCaps,
		},
		translator: status.Translator{
			LogTail:       cfg.LogTail,
			CredentialEnv: []string{cfg.CredentialEnv},
		},
	}, nil
}

// Network returns the shared network name.
func (o *Orchestrator) Network() string {
	return o.cfg.Network
}

// Image returns the client image.
func (o *Orchestrator) Image() string {
	return o.cfg.Image
}

// Start creates and starts the user's client container. A running or
// unknown-state container is left alone and reported as already running; an
// exited one is removed and recreated.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (schema.SessionRef, error) {
	const op = "start"
	user := req.User
	if err := schema.ValidateUserKey(user); err != nil {
		return schema.SessionRef{}, schema.NewSessionError(schema.SessionErrorInvalidUser, op, err)
	}
	ctx = logx.ContextWithUserLogger(ctx, logx.WithUser(ctx, user), user)
	name := ContainerName(user)
	log := logx.WithContainer(logx.Ctx(ctx), name, "")

	o.locks.Lock(string(user))
	defer func() { _ = o.locks.Unlock(string(user)) }()

	log.Info("session start begin")
	secret, err := o.openCredential(req.Credential)
	if err != nil {
		log.Warn("session start failed", "kind", schema.SessionErrorCredential, "err", err)
		return schema.SessionRef{}, err
	}
	fail := func(err error) (schema.SessionRef, error) {
		se := createFailed(op, err, secret)
		log.Warn("session start failed", "kind", se.Kind, "cause", causeKind(se), "err", se)
		return schema.SessionRef{}, se
	}

	existing, err := o.get(ctx, name)
	switch {
	case err == nil:
		state := status.MapState(existing.State.Status)
		if state != schema.RunStateExited {
			log.Info("session start rejected", "state", existing.State.Status)
			return schema.SessionRef{}, alreadyRunning(op, user)
		}
		log.Info("session stale container remove", "state", existing.State.Status, "container_id", existing.ID())
		if err := o.remove(ctx, existing); err != nil {
			return fail(err)
		}
	case errors.Is(err, shipohoy.ErrNotFound):
	default:
		return fail(err)
	}

	if err := o.ensureNetwork(ctx); err != nil {
		return fail(err)
	}

	spec := shipohoy.ApplyPlan(o.containerSpec(user, secret), o.plan)
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ControlTimeout)
	handle, err := o.rt.Run(runCtx, spec)
	cancel()
	if err != nil {
		if errors.Is(err, shipohoy.ErrConflict) {
			log.Info("session start rejected", "reason", "name in use")
			return schema.SessionRef{}, alreadyRunning(op, user)
		}
		return fail(err)
	}
	log.Info("session start ok", "container_id", handle.ID())
	return schema.SessionRef{ID: handle.ID(), Name: handle.Name()}, nil
}

// Stop stops and removes the user's container. It reports whether a
// container was removed; runtime failures are logged and reported as false.
func (o *Orchestrator) Stop(ctx context.Context, user schema.UserKey) bool {
	if err := schema.ValidateUserKey(user); err != nil {
		logx.Ctx(ctx).Warn("session stop rejected", "err", err)
		return false
	}
	ctx = logx.ContextWithUserLogger(ctx, logx.WithUser(ctx, user), user)
	name := ContainerName(user)
	log := logx.WithContainer(logx.Ctx(ctx), name, "")

	o.locks.Lock(string(user))
	defer func() { _ = o.locks.Unlock(string(user)) }()

	existing, err := o.get(ctx, name)
	if err != nil {
		if errors.Is(err, shipohoy.ErrNotFound) {
			log.Info("session stop skipped", "reason", "not running")
			return false
		}
		log.Warn("session stop failed", "stage", "inspect", "err", err)
		return false
	}
	stopCtx, cancel := context.WithTimeout(ctx, StopDeadline(o.cfg.StopGrace, o.cfg.ControlTimeout))
	err = o.rt.Stop(stopCtx, existing)
	cancel()
	if err != nil && !errors.Is(err, shipohoy.ErrNotFound) {
		log.Warn("session stop failed", "stage", "stop", "err", err)
		return false
	}
	if err := o.remove(ctx, existing); err != nil {
		log.Warn("session stop failed", "stage", "remove", "err", err)
		return false
	}
	log.Info("session stop ok", "container_id", existing.ID())
	return true
}

func (o *Orchestrator) openCredential(cred schema.StoredCredential) (string, error) {
	if !cred.Store {
		return "", nil
	}
	const op = "decrypt credential"
	if strings.TrimSpace(cred.Ciphertext) == "" {
		return "", &schema.SessionError{
			Kind:    schema.SessionErrorCredential,
			Op:      op,
			Message: "stored credential is missing",
		}
	}
	if o.vault == nil {
		return "", &schema.SessionError{
			Kind:    schema.SessionErrorCredential,
			Op:      op,
			Message: "credential vault is not configured",
		}
	}
	secret, err := o.vault.Decrypt(cred.Ciphertext)
	if err != nil {
		return "", &schema.SessionError{
			Kind:    schema.SessionErrorCredential,
			Op:      op,
			Message: "stored credential could not be decrypted",
			Err:     err,
		}
	}
	if secret == "" {
		return "", &schema.SessionError{
			Kind:    schema.SessionErrorCredential,
			Op:      op,
			Message: "stored credential is empty",
		}
	}
	return secret, nil
}

func (o *Orchestrator) containerSpec(user schema.UserKey, secret string) shipohoy.ContainerSpec {
	env := map[string]string{
		"MC_USERNAME": string(user),
		"MC_SERVER":   o.cfg.ServerHost,
		"MC_PORT":     strconv.Itoa(o.cfg.ServerPort),
		"EULA":        "TRUE",
	}
	if secret != "" {
		env[o.cfg.CredentialEnv] = secret
	}
	return shipohoy.ContainerSpec{
		Name:   ContainerName(user),
		Image:  o.cfg.Image,
		Env:    env,
		Labels: map[string]string{LabelUser: string(user)},
		Volumes: []shipohoy.VolumeMount{{
			Volume: VolumeName(user),
			Target: DataDir,
		}},
	}
}

func (o *Orchestrator) get(ctx context.Context, name string) (shipohoy.Container, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ControlTimeout)
	defer cancel()
	return o.rt.Get(ctx, name)
}

func (o *Orchestrator) remove(ctx context.Context, h shipohoy.Handle) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ControlTimeout)
	defer cancel()
	return o.rt.Remove(ctx, h)
}

func (o *Orchestrator) ensureNetwork(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ControlTimeout)
	defer cancel()
	err := o.rt.EnsureNetwork(ctx, shipohoy.NetworkSpec{
		Name:   o.cfg.Network,
		Labels: map[string]string{shipohoy.LabelManaged: "true"},
	})
	if errors.Is(err, shipohoy.ErrConflict) {
		return nil
	}
	return err
}
