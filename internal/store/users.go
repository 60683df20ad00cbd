package store

import (
	"context"
	"time"

	"pkt.systems/afkcraft/schema"
)

// User is an account row.
type User struct {
	ID                   int64
	Email                string
	PasswordHash         string
	IGN                  schema.UserKey
	StorePassword        bool
	EncryptedCredentials string
	TOTPSecret           string
	IsAdmin              bool
	CreatedAt            time.Time
}

// Credential returns the stored credential fields the session layer reads.
func (u User) Credential() schema.StoredCredential {
	return schema.StoredCredential{Store: u.StorePassword, Ciphertext: u.EncryptedCredentials}
}

const userColumns = "id, email, password_hash, ign, store_password, encrypted_ms_credentials, totp_secret, is_admin, created_at"

// CreateUser inserts u. Duplicate email or ign yields ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	err := s.queryRow(ctx, `INSERT INTO users (email, password_hash, ign, store_password, encrypted_ms_credentials, totp_secret, is_admin, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		u.Email, u.PasswordHash, string(u.IGN), u.StorePassword, u.EncryptedCredentials, u.TOTPSecret, u.IsAdmin, toMillis(u.CreatedAt),
	).Scan(&u.ID)
	if err != nil {
		return User{}, mapError(err)
	}
	u.CreatedAt = fromMillis(toMillis(u.CreatedAt))
	return u, nil
}

// UserByEmail loads a user by normalized email.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// UserByIGN loads a user by in-game name.
func (s *Store) UserByIGN(ctx context.Context, ign schema.UserKey) (User, error) {
	return scanUser(s.queryRow(ctx, "SELECT "+userColumns+" FROM users WHERE ign = ?", string(ign)))
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.query(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUser removes the user with email.
func (s *Store) DeleteUser(ctx context.Context, email string) error {
	res, err := s.exec(ctx, "DELETE FROM users WHERE email = ?", email)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetAdmin grants or revokes admin rights.
func (s *Store) SetAdmin(ctx context.Context, email string, admin bool) error {
	res, err := s.exec(ctx, "UPDATE users SET is_admin = ? WHERE email = ?", admin, email)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetPasswordHash replaces the login password hash.
func (s *Store) SetPasswordHash(ctx context.Context, email, hash string) error {
	res, err := s.exec(ctx, "UPDATE users SET password_hash = ? WHERE email = ?", hash, email)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetTOTPSecret stores the TOTP secret. An empty secret disables TOTP.
func (s *Store) SetTOTPSecret(ctx context.Context, email, secret string) error {
	res, err := s.exec(ctx, "UPDATE users SET totp_secret = ? WHERE email = ?", secret, email)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetCredential replaces the stored credential settings.
func (s *Store) SetCredential(ctx context.Context, email string, store bool, ciphertext string) error {
	res, err := s.exec(ctx, "UPDATE users SET store_password = ?, encrypted_ms_credentials = ? WHERE email = ?", store, ciphertext, email)
	if err != nil {
		return err
	}
	return expectOne(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u       User
		ign     string
		created int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &ign, &u.StorePassword, &u.EncryptedCredentials, &u.TOTPSecret, &u.IsAdmin, &created); err != nil {
		return User{}, mapError(err)
	}
	u.IGN = schema.UserKey(ign)
	u.CreatedAt = fromMillis(created)
	return u, nil
}
