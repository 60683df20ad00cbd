package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/httpapi"
	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/auth"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/version"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var skipPull bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the afkcraft HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			logger.Info("afkcraft serve start", "version", version.Current(), "runtime", cfg.Runtime.Driver, "database", cfg.Database.Driver)

			rt, closeFn, err := runtimeFactory(ctx, cfg)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer func() { _ = closeFn() }()
			}
			if !skipPull {
				if err := prepareRuntime(ctx, rt, cfg); err != nil {
					return err
				}
			}

			handler, closeDeps, err := buildAPI(ctx, cfg, rt, logger)
			if err != nil {
				return err
			}
			defer closeDeps()

			logger.Info("http listening", "addr", cfg.HTTP.Addr, "base_path", cfg.HTTP.BasePath)
			return httpapi.ListenAndServe(ctx, cfg.HTTP.Addr, handler)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&skipPull, "skip-pull", false, "do not pull the client image or create the network on startup")
	return cmd
}

// prepareRuntime makes sure the client image and the shared network exist
// before the first session start.
func prepareRuntime(ctx context.Context, rt shipohoy.Runtime, cfg appconfig.Config) error {
	logger := pslog.Ctx(ctx)
	if err := rt.EnsureImage(ctx, cfg.Client.Image); err != nil {
		return fmt.Errorf("client image %s: %w", cfg.Client.Image, err)
	}
	logger.Info("client image ready", "image", cfg.Client.Image)
	if err := rt.EnsureNetwork(ctx, shipohoy.NetworkSpec{
		Name:   cfg.Client.Network,
		Labels: map[string]string{shipohoy.LabelManaged: "true"},
	}); err != nil {
		return fmt.Errorf("network %s: %w", cfg.Client.Network, err)
	}
	logger.Info("network ready", "network", cfg.Client.Network)
	return nil
}

// buildAPI wires the store, vault, accounts, orchestrators and HTTP server.
// The returned func releases the store.
func buildAPI(ctx context.Context, cfg appconfig.Config, rt shipohoy.Runtime, logger pslog.Logger) (http.Handler, func(), error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() { _ = st.Close() }

	v, err := openVault(cfg, logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	ttl := time.Duration(cfg.HTTP.TokenTTLMinutes) * time.Minute
	tokens, err := auth.NewTokens(cfg.HTTP.JWTSecret, ttl)
	if err != nil {
		closeStore()
		return nil, nil, fmt.Errorf("jwt secret (set AFKCRAFT_JWT_SECRET): %w", err)
	}
	accounts, err := auth.NewService(st, v, tokens)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	if err := accounts.Seed(ctx, cfg.Auth.SeedUsers); err != nil {
		closeStore()
		return nil, nil, err
	}
	sessions, err := newSessions(cfg, rt, v, logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	server, err := newGameServer(cfg, rt)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	api, err := httpapi.NewServer(httpapi.Config{
		Addr:                 cfg.HTTP.Addr,
		BasePath:             cfg.HTTP.BasePath,
		SessionRatePerMinute: cfg.HTTP.SessionRateLimit,
		SessionRateBurst:     cfg.HTTP.SessionRateBurst,
	}, httpapi.Deps{
		Accounts:  accounts,
		Sessions:  sessions,
		Server:    server,
		Directory: st,
		Runtime:   rt,
		TokenTTL:  tokens.TTL(),
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return api.Handler(), closeStore, nil
}
