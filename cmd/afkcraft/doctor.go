package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/pslog"
)

const doctorProbe = "afkcraft-doctor-probe"

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run afkcraft diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			rt, closeFn, err := runtimeFactory(ctx, cfg)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer func() { _ = closeFn() }()
			}
			if err := rt.Ping(ctx); err != nil {
				return fmt.Errorf("doctor runtime ping: %w", err)
			}
			logger.Info("doctor runtime ok", "driver", cfg.Runtime.Driver)

			if err := prepareRuntime(ctx, rt, cfg); err != nil {
				return err
			}
			logger.Info("doctor image and network ok", "image", cfg.Client.Image, "network", cfg.Client.Network)

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if err := st.Ping(ctx); err != nil {
				return fmt.Errorf("doctor database ping: %w", err)
			}
			logger.Info("doctor database ok", "driver", st.Driver())

			v, err := openVault(cfg, logger)
			if err != nil {
				return err
			}
			sealed, err := v.Encrypt(doctorProbe)
			if err != nil {
				return fmt.Errorf("doctor vault encrypt: %w", err)
			}
			plain, err := v.Decrypt(sealed)
			if err != nil {
				return fmt.Errorf("doctor vault decrypt: %w", err)
			}
			if plain != doctorProbe {
				return errors.New("doctor vault round trip mismatch")
			}
			logger.Info("doctor vault ok", "driver", cfg.Vault.Driver)

			logger.Info("doctor complete")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}
