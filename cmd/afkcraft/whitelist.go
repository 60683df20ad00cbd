package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
)

const cliActor = "cli"

func newWhitelistCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage in-game names approved for AFK sessions",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List whitelist entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfgPath, func(_ appconfig.Config, st *store.Store) error {
				entries, err := st.ListWhitelist(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					_, _ = fmt.Fprintf(out, "%s\tapproved=%t\tadded_by=%s\n", e.IGN, e.Approved, e.AddedBy)
				}
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add <ign>",
		Short: "Approve an in-game name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateIGN(args[0]); err != nil {
				return err
			}
			return withStore(cmd.Context(), cfgPath, func(_ appconfig.Config, st *store.Store) error {
				if _, err := st.AddWhitelist(cmd.Context(), schema.UserKey(args[0]), cliActor); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "whitelisted: %s\n", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <ign>",
		Short: "Remove an in-game name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateIGN(args[0]); err != nil {
				return err
			}
			return withStore(cmd.Context(), cfgPath, func(_ appconfig.Config, st *store.Store) error {
				if err := st.RemoveWhitelist(cmd.Context(), schema.UserKey(args[0])); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed: %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}
