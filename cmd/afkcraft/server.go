package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/shipohoy"
)

func newServerCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Control the shared game server container",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), cfgPath, func(cfg appconfig.Config, rt shipohoy.Runtime) error {
				m, err := newGameServer(cfg, rt)
				if err != nil {
					return err
				}
				ref, err := m.Start(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSONOut(cmd.OutOrStdout(), ref)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop and remove the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), cfgPath, func(cfg appconfig.Config, rt shipohoy.Runtime) error {
				m, err := newGameServer(cfg, rt)
				if err != nil {
					return err
				}
				result := "not_running"
				if m.Stop(cmd.Context()) {
					result = "stopped"
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), result)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the game server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), cfgPath, func(cfg appconfig.Config, rt shipohoy.Runtime) error {
				m, err := newGameServer(cfg, rt)
				if err != nil {
					return err
				}
				st, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSONOut(cmd.OutOrStdout(), st)
			})
		},
	})
	return cmd
}
