package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/pquerna/otp/totp"
	"github.com/spf13/cobra"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/auth"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
	"pkt.systems/kryptograf/keymgmt"
)

const (
	defaultPasswordLength = 20
	totpIssuer            = "afkcraft"
)

func newUsersCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage afkcraft accounts",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")

	cmd.AddCommand(newUsersListCmd(&cfgPath))
	cmd.AddCommand(newUsersAddCmd(&cfgPath))
	cmd.AddCommand(newUsersDeleteCmd(&cfgPath))
	cmd.AddCommand(newUsersSetAdminCmd(&cfgPath))
	cmd.AddCommand(newUsersTOTPCmd(&cfgPath))
	cmd.AddCommand(newUsersChpasswdCmd(&cfgPath))

	return cmd
}

// withStore loads the config, opens the store and hands both to fn.
func withStore(ctx context.Context, cfgPath string, fn func(appconfig.Config, *store.Store) error) error {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(cfg, st)
}

func newUsersListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), *cfgPath, func(_ appconfig.Config, st *store.Store) error {
				users, err := st.ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, u := range users {
					_, _ = fmt.Fprintf(out, "%s\t%s\tadmin=%t\ttotp=%t\tstored_credential=%t\n",
						u.Email, u.IGN, u.IsAdmin, u.TOTPSecret != "", u.StorePassword)
				}
				return nil
			})
		},
	}
}

func newUsersAddCmd(cfgPath *string) *cobra.Command {
	var ign string
	var admin bool
	var enrollTOTP bool
	var passwordFromStdin bool
	var autoPassword bool
	cmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := schema.NormalizeEmail(args[0])
			if err != nil {
				return fmt.Errorf("invalid email %q", args[0])
			}
			if err := validateIGN(ign); err != nil {
				return err
			}
			password, generated, err := resolvePassword(cmd, passwordFromStdin, autoPassword)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			var secret, url string
			if enrollTOTP {
				if secret, url, err = generateTOTP(email); err != nil {
					return err
				}
			}
			return withStore(cmd.Context(), *cfgPath, func(_ appconfig.Config, st *store.Store) error {
				if _, err := st.CreateUser(cmd.Context(), store.User{
					Email:        email,
					PasswordHash: hash,
					IGN:          schema.UserKey(ign),
					TOTPSecret:   secret,
					IsAdmin:      admin,
				}); err != nil {
					return err
				}
				printEnrollment(cmd.OutOrStdout(), email, ign, password, generated, secret, url)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ign, "ign", "", "in-game name")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin rights")
	cmd.Flags().BoolVar(&enrollTOTP, "totp", false, "enroll a TOTP second factor")
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	cmd.Flags().BoolVar(&autoPassword, "auto-password", false, "generate a random password")
	return cmd
}

func newUsersDeleteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <email>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := schema.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), *cfgPath, func(_ appconfig.Config, st *store.Store) error {
				if err := st.DeleteUser(cmd.Context(), email); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted user: %s\n", email)
				return nil
			})
		},
	}
}

func newUsersSetAdminCmd(cfgPath *string) *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "set-admin <email>",
		Short: "Grant or revoke admin rights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := schema.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), *cfgPath, func(_ appconfig.Config, st *store.Store) error {
				if err := st.SetAdmin(cmd.Context(), email, !revoke); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s admin=%t\n", email, !revoke)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "revoke instead of grant")
	return cmd
}

func newUsersTOTPCmd(cfgPath *string) *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "totp <email>",
		Short: "Rotate or disable the TOTP secret of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := schema.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), *cfgPath, func(_ appconfig.Config, st *store.Store) error {
				if disable {
					if err := st.SetTOTPSecret(cmd.Context(), email, ""); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "totp disabled: %s\n", email)
					return nil
				}
				secret, url, err := generateTOTP(email)
				if err != nil {
					return err
				}
				if err := st.SetTOTPSecret(cmd.Context(), email, secret); err != nil {
					return err
				}
				printEnrollment(cmd.OutOrStdout(), email, "", "", false, secret, url)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&disable, "disable", false, "remove the TOTP secret")
	return cmd
}

func newUsersChpasswdCmd(cfgPath *string) *cobra.Command {
	var passwordFromStdin bool
	var autoPassword bool
	cmd := &cobra.Command{
		Use:   "chpasswd <email>",
		Short: "Change an account password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := schema.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			password, generated, err := resolvePassword(cmd, passwordFromStdin, autoPassword)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), *cfgPath, func(_ appconfig.Config, st *store.Store) error {
				if err := st.SetPasswordHash(cmd.Context(), email, hash); err != nil {
					return err
				}
				printEnrollment(cmd.OutOrStdout(), email, "", password, generated, "", "")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&passwordFromStdin, "password-from-stdin", false, "read password from stdin")
	cmd.Flags().BoolVar(&autoPassword, "auto-password", false, "generate a random password")
	return cmd
}

func resolvePassword(cmd *cobra.Command, fromStdin, auto bool) (string, bool, error) {
	if fromStdin && auto {
		return "", false, errors.New("choose one of --password-from-stdin or --auto-password")
	}
	if fromStdin {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", false, err
		}
		pass := strings.TrimSpace(string(data))
		if pass == "" {
			return "", false, errors.New("password from stdin is empty")
		}
		return pass, false, nil
	}
	if auto {
		pass, err := generatePassword(defaultPasswordLength)
		if err != nil {
			return "", false, err
		}
		return pass, true, nil
	}
	passphrase, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", false, err
	}
	confirm, err := keymgmt.PromptPassphrase(cmd.InOrStdin(), "Confirm password: ", cmd.ErrOrStderr())
	if err != nil {
		return "", false, err
	}
	if string(passphrase) != string(confirm) {
		return "", false, errors.New("passwords do not match")
	}
	pass := string(passphrase)
	if pass == "" {
		return "", false, errors.New("password is empty")
	}
	return pass, false, nil
}

func generatePassword(length int) (string, error) {
	if length <= 0 {
		length = defaultPasswordLength
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = charset[int(b)%len(charset)]
	}
	return string(buf), nil
}

func generateTOTP(account string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// printEnrollment shows the login password only when it was generated.
func printEnrollment(w io.Writer, email, ign, password string, showPassword bool, secret, url string) {
	_, _ = fmt.Fprintf(w, "email: %s\n", email)
	if ign != "" {
		_, _ = fmt.Fprintf(w, "ign: %s\n", ign)
	}
	if showPassword && password != "" {
		_, _ = fmt.Fprintf(w, "password: %s\n", password)
	}
	if secret != "" {
		_, _ = fmt.Fprintf(w, "totp_secret: %s\n", secret)
	}
	if url != "" {
		_, _ = fmt.Fprintf(w, "otpauth_url: %s\n", url)
		_, _ = fmt.Fprintln(w, "totp_qr:")
		qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	}
}

func validateIGN(ign string) error {
	if err := schema.ValidateUserKey(schema.UserKey(ign)); err != nil {
		return errors.New("invalid ign: must match [A-Za-z0-9_]{1,16}")
	}
	return nil
}
