package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/internal/vault"
	"pkt.systems/afkcraft/schema"
	"pkt.systems/pslog"
)

func newVaultCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the credential vault",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the key store if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Vault.Driver != vault.DriverKeystore {
				return fmt.Errorf("vault driver %q has no key store", cfg.Vault.Driver)
			}
			if err := vault.EnsureKeyStore(cfg.Vault.KeyStorePath, pslog.Ctx(cmd.Context())); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "key store: %s\n", cfg.Vault.KeyStorePath)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "encrypt [email]",
		Short: "Seal a credential read from stdin",
		Long: "Reads a credential from stdin and seals it. With an email the sealed " +
			"credential is stored on that account; otherwise the ciphertext is printed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			secret := strings.TrimSpace(string(data))
			if secret == "" {
				return errors.New("credential from stdin is empty")
			}
			return withStore(cmd.Context(), cfgPath, func(cfg appconfig.Config, st *store.Store) error {
				v, err := openVault(cfg, pslog.Ctx(cmd.Context()))
				if err != nil {
					return err
				}
				sealed, err := v.Encrypt(secret)
				if err != nil {
					return err
				}
				if len(args) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), sealed)
					return nil
				}
				email, err := schema.NormalizeEmail(args[0])
				if err != nil {
					return err
				}
				if err := st.SetCredential(cmd.Context(), email, true, sealed); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "credential stored: %s\n", email)
				return nil
			})
		},
	})
	return cmd
}
