package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/session"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
	"pkt.systems/pslog"
)

func newSessionCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Control AFK client sessions directly",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "start <ign>",
		Short: "Start the AFK client for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withSessions(cmd.Context(), cfgPath, true, func(st *store.Store, o *session.Orchestrator) error {
				account, err := st.UserByIGN(cmd.Context(), user)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no account with ign %s", user)
					}
					return err
				}
				ref, err := o.Start(cmd.Context(), session.StartRequest{User: user, Credential: account.Credential()})
				if err != nil {
					return err
				}
				return writeJSONOut(cmd.OutOrStdout(), ref)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop <ign>",
		Short: "Stop and remove the AFK client for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withSessions(cmd.Context(), cfgPath, false, func(_ *store.Store, o *session.Orchestrator) error {
				result := "not_running"
				if o.Stop(cmd.Context(), user) {
					result = "stopped"
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), result)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status <ign>",
		Short: "Show the AFK client status for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withSessions(cmd.Context(), cfgPath, false, func(_ *store.Store, o *session.Orchestrator) error {
				snap, err := o.Status(cmd.Context(), user)
				if err != nil {
					return err
				}
				return writeJSONOut(cmd.OutOrStdout(), snap)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats <ign>",
		Short: "Show resource figures for a running AFK client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withSessions(cmd.Context(), cfgPath, false, func(_ *store.Store, o *session.Orchestrator) error {
				stats, err := o.Stats(cmd.Context(), user)
				switch {
				case schema.IsKind(err, schema.SessionErrorNotRunning):
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "not_running")
					return nil
				case err != nil:
					return err
				case stats == nil:
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no_sample")
					return nil
				}
				return writeJSONOut(cmd.OutOrStdout(), stats)
			})
		},
	})
	var minAge time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove exited client containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessions(cmd.Context(), cfgPath, false, func(_ *store.Store, o *session.Orchestrator) error {
				n, err := o.Prune(cmd.Context(), minAge)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pruned: %d\n", n)
				return nil
			})
		},
	}
	prune.Flags().DurationVar(&minAge, "min-age", time.Hour, "only prune containers older than this")
	cmd.AddCommand(prune)
	return cmd
}

func parseUser(value string) (schema.UserKey, error) {
	if err := validateIGN(value); err != nil {
		return "", err
	}
	return schema.UserKey(value), nil
}

// withSessions wires the runtime, store and orchestrator for one command.
// The vault is only loaded when needVault is set.
func withSessions(ctx context.Context, cfgPath string, needVault bool, fn func(*store.Store, *session.Orchestrator) error) error {
	logger := pslog.Ctx(ctx)
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return err
	}
	rt, closeFn, err := runtimeFactory(ctx, cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	var dec session.Decrypter
	if needVault {
		v, err := openVault(cfg, logger)
		if err != nil {
			return err
		}
		dec = v
	}
	o, err := newSessions(cfg, rt, dec, logger)
	if err != nil {
		return err
	}
	return fn(st, o)
}

// withRuntime wires only the runtime for one command.
func withRuntime(ctx context.Context, cfgPath string, fn func(appconfig.Config, shipohoy.Runtime) error) error {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return err
	}
	rt, closeFn, err := runtimeFactory(ctx, cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}
	return fn(cfg, rt)
}

func writeJSONOut(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
