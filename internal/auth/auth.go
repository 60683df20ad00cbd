// Package auth registers accounts, verifies logins and issues bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/store"
	"pkt.systems/afkcraft/schema"
	"pkt.systems/pslog"
)

const minPasswordLen = 8

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTOTPRequired is returned when the account has TOTP and no code was given.
	ErrTOTPRequired = errors.New("totp code required")
	// ErrInvalidTOTP is returned for a wrong TOTP code.
	ErrInvalidTOTP = errors.New("invalid totp code")
	// ErrVaultUnavailable is returned when a credential must be stored but no vault is configured.
	ErrVaultUnavailable = errors.New("credential vault unavailable")
)

// Users is the account persistence the service needs.
type Users interface {
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	UserByEmail(ctx context.Context, email string) (store.User, error)
	SetAdmin(ctx context.Context, email string, admin bool) error
	SetTOTPSecret(ctx context.Context, email, secret string) error
}

// Encrypter seals credentials before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Service implements registration, login and token verification.
type Service struct {
	users  Users
	vault  Encrypter
	tokens *Tokens
}

// NewService binds users, the credential vault and the token issuer. vault may
// be nil when no account stores credentials.
func NewService(users Users, vault Encrypter, tokens *Tokens) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	return &Service{users: users, vault: vault, tokens: tokens}, nil
}

// Tokens returns the token issuer.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	Email         string         `json:"email"`
	Password      string         `json:"password"`
	IGN           schema.UserKey `json:"ign"`
	StorePassword bool           `json:"store_password"`
	MSCredentials string         `json:"ms_credentials,omitempty"`
}

// Register creates an account. The third-party credential is only sealed and
// kept when StorePassword is set.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (store.User, error) {
	email, err := schema.NormalizeEmail(req.Email)
	if err != nil {
		return store.User{}, fmt.Errorf("%w: invalid email", err)
	}
	if err := schema.ValidateUserKey(req.IGN); err != nil {
		return store.User{}, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}
	u := store.User{Email: email, PasswordHash: hash, IGN: req.IGN}
	if req.StorePassword {
		if strings.TrimSpace(req.MSCredentials) == "" {
			return store.User{}, fmt.Errorf("%w: ms_credentials required when store_password is set", schema.ErrInvalidRequest)
		}
		if s.vault == nil {
			return store.User{}, ErrVaultUnavailable
		}
		sealed, err := s.vault.Encrypt(req.MSCredentials)
		if err != nil {
			return store.User{}, fmt.Errorf("seal credential: %w", err)
		}
		u.StorePassword = true
		u.EncryptedCredentials = sealed
	}
	log := pslog.Ctx(ctx).With("email", email, "user", string(req.IGN))
	created, err := s.users.CreateUser(ctx, u)
	if err != nil {
		log.Warn("auth register failed", "err", err)
		return store.User{}, err
	}
	log.Info("auth register ok", "store_password", created.StorePassword)
	return created, nil
}

// Login checks email, password and, when enrolled, the TOTP code. It returns
// a signed token and the account.
func (s *Service) Login(ctx context.Context, email, password, totpCode string) (string, store.User, error) {
	normalized, err := schema.NormalizeEmail(email)
	if err != nil {
		return "", store.User{}, ErrInvalidCredentials
	}
	log := pslog.Ctx(ctx).With("email", normalized)
	u, err := s.users.UserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("auth login failed", "reason", "unknown email")
			return "", store.User{}, ErrInvalidCredentials
		}
		return "", store.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		log.Info("auth login failed", "reason", "password")
		return "", store.User{}, ErrInvalidCredentials
	}
	if u.TOTPSecret != "" {
		code := strings.TrimSpace(totpCode)
		if code == "" {
			return "", store.User{}, ErrTOTPRequired
		}
		if !totp.Validate(code, u.TOTPSecret) {
			log.Info("auth login failed", "reason", "totp")
			return "", store.User{}, ErrInvalidTOTP
		}
	}
	token, _, err := s.tokens.Issue(u.Email)
	if err != nil {
		return "", store.User{}, err
	}
	log.Info("auth login ok", "user", string(u.IGN))
	return token, u, nil
}

// Authenticate resolves a bearer token to its account.
func (s *Service) Authenticate(ctx context.Context, token string) (store.User, error) {
	email, err := s.tokens.Verify(token)
	if err != nil {
		return store.User{}, err
	}
	u, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidToken
		}
		return store.User{}, err
	}
	return u, nil
}

// Seed creates configured accounts that do not exist yet and applies their
// admin flag.
func (s *Service) Seed(ctx context.Context, seeds []appconfig.SeedUser) error {
	log := pslog.Ctx(ctx)
	for _, seed := range seeds {
		email, err := schema.NormalizeEmail(seed.Email)
		if err != nil {
			return fmt.Errorf("seed user %q: %w", seed.Email, err)
		}
		if err := schema.ValidateUserKey(schema.UserKey(seed.IGN)); err != nil {
			return fmt.Errorf("seed user %q: %w", seed.Email, err)
		}
		if strings.TrimSpace(seed.PasswordHash) == "" {
			return fmt.Errorf("seed user %q: password_hash is required", seed.Email)
		}
		_, err = s.users.UserByEmail(ctx, email)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			if _, err := s.users.CreateUser(ctx, store.User{
				Email:        email,
				PasswordHash: seed.PasswordHash,
				IGN:          schema.UserKey(seed.IGN),
				IsAdmin:      seed.Admin,
			}); err != nil {
				return fmt.Errorf("seed user %q: %w", email, err)
			}
			log.Info("auth seed user created", "email", email, "admin", seed.Admin)
			continue
		default:
			return err
		}
		if seed.Admin {
			if err := s.users.SetAdmin(ctx, email, true); err != nil {
				return fmt.Errorf("seed user %q: %w", email, err)
			}
		}
	}
	return nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("%w: password must be at least %d characters", schema.ErrInvalidRequest, minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password is too long", schema.ErrInvalidRequest)
		}
		return "", err
	}
	return string(hash), nil
}

// now is swapped in tests.
var now = time.Now
