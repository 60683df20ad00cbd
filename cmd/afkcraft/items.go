package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/store"
)

func newItemsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Record and list collected items",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	var count, shiny int64
	var rarity string
	record := &cobra.Command{
		Use:   "record <ign> <item>",
		Short: "Add to a player's item tally",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfgPath, func(_ appconfig.Config, st *store.Store) error {
				if err := st.RecordItem(cmd.Context(), user, args[1], rarity, count, shiny); err != nil {
					return err
				}
				totals, err := st.ItemTotals(cmd.Context(), user)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "items_collected=%d shiny_items=%d\n", totals.ItemsCollected, totals.ShinyItems)
				return nil
			})
		},
	}
	record.Flags().Int64Var(&count, "count", 1, "items collected")
	record.Flags().Int64Var(&shiny, "shiny", 0, "shiny items among them")
	record.Flags().StringVar(&rarity, "rarity", "", "item rarity")
	cmd.AddCommand(record)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <ign>",
		Short: "List a player's items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := parseUser(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfgPath, func(_ appconfig.Config, st *store.Store) error {
				items, err := st.ListItems(cmd.Context(), user)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, it := range items {
					_, _ = fmt.Fprintf(out, "%s\t%s\tcount=%d\tshiny=%d\n", it.ItemName, it.Rarity, it.Count, it.ShinyCount)
				}
				return nil
			})
		},
	})
	return cmd
}
