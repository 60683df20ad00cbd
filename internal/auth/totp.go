package auth

import (
	"context"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"pkt.systems/afkcraft/schema"
	"pkt.systems/pslog"
)

// EnrollTOTP generates and stores a new TOTP secret for the account. The
// returned key carries the provisioning URL for QR display.
func (s *Service) EnrollTOTP(ctx context.Context, email string) (*otp.Key, error) {
	normalized, err := schema.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tokenIssuer,
		AccountName: normalized,
	})
	if err != nil {
		return nil, err
	}
	if err := s.users.SetTOTPSecret(ctx, normalized, key.Secret()); err != nil {
		return nil, err
	}
	pslog.Ctx(ctx).Info("auth totp enrolled", "email", normalized)
	return key, nil
}

// DisableTOTP clears the account's TOTP secret.
func (s *Service) DisableTOTP(ctx context.Context, email string) error {
	normalized, err := schema.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.users.SetTOTPSecret(ctx, normalized, ""); err != nil {
		return err
	}
	pslog.Ctx(ctx).Info("auth totp disabled", "email", normalized)
	return nil
}
