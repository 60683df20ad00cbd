package main

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/gameserver"
	"pkt.systems/afkcraft/internal/session"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/shipohoy/docker"
	"pkt.systems/afkcraft/internal/shipohoy/podman"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/internal/vault"
	"pkt.systems/pslog"
)

// runtimeFactory is replaced in tests.
var runtimeFactory = selectRuntime

func selectRuntime(ctx context.Context, cfg appconfig.Config) (shipohoy.Runtime, func() error, error) {
	pull := time.Duration(cfg.Runtime.PullTimeoutMinutes) * time.Minute
	stop := time.Duration(cfg.Runtime.StopTimeoutSeconds) * time.Second
	switch cfg.Runtime.Driver {
	case appconfig.RuntimePodman:
		rt, err := podman.New(ctx, podman.Config{
			Address:     cfg.Runtime.Podman.Address,
			UserNSMode:  cfg.Runtime.Podman.UserNSMode,
			PullTimeout: pull,
			StopTimeout: stop,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("podman connection failed (%s): %w", cfg.Runtime.Podman.Address, err)
		}
		return rt, rt.Close, nil
	case appconfig.RuntimeDocker:
		rt, err := docker.New(ctx, docker.Config{
			Host:        cfg.Runtime.Docker.Host,
			APIVersion:  cfg.Runtime.Docker.APIVersion,
			PullTimeout: pull,
			StopTimeout: stop,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("docker connection failed (%s): %w", cfg.Runtime.Docker.Host, err)
		}
		return rt, rt.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported runtime.driver %q", cfg.Runtime.Driver)
	}
}

func openStore(ctx context.Context, cfg appconfig.Config) (*store.Store, error) {
	return store.Open(ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
}

func openVault(cfg appconfig.Config, logger pslog.Logger) (vault.Vault, error) {
	return vault.New(vault.Config{
		Driver:       cfg.Vault.Driver,
		KeyStorePath: cfg.Vault.KeyStorePath,
		Key:          cfg.Vault.Key,
		Logger:       logger,
	})
}

func newSessions(cfg appconfig.Config, rt shipohoy.Runtime, v session.Decrypter, logger pslog.Logger) (*session.Orchestrator, error) {
	return session.New(session.Config{
		Image:          cfg.Client.Image,
		Network:        cfg.Client.Network,
		ServerHost:     cfg.Client.ServerHost,
		ServerPort:     cfg.Client.ServerPort,
		LogTail:        cfg.Client.LogTail,
		ControlTimeout: time.Duration(cfg.Runtime.ControlTimeoutSeconds) * time.Second,
		StatsTimeout:   time.Duration(cfg.Runtime.StatsTimeoutSeconds) * time.Second,
		StopGrace:      time.Duration(cfg.Runtime.StopTimeoutSeconds) * time.Second,
		CredentialEnv:  cfg.Client.CredentialEnv,
		ResourceCaps:   shipohoy.ResourceCapsFromPercent(cfg.Client.CPUPercent, cfg.Client.MemoryPercent, logger),
	}, rt, v)
}

func newGameServer(cfg appconfig.Config, rt shipohoy.Runtime) (*gameserver.Manager, error) {
	return gameserver.New(gameserver.Config{
		Name:           cfg.Server.Name,
		Image:          cfg.Server.Image,
		Network:        cfg.Client.Network,
		Port:           cfg.Server.Port,
		Memory:         cfg.Server.Memory,
		Volume:         cfg.Server.Volume,
		ControlTimeout: time.Duration(cfg.Runtime.ControlTimeoutSeconds) * time.Second,
		StatsTimeout:   time.Duration(cfg.Runtime.StatsTimeoutSeconds) * time.Second,
		StopGrace:      time.Duration(cfg.Runtime.StopTimeoutSeconds) * time.Second,
	}, rt)
}
