package schema

import "strings"

const maxUserKeyLen = 16

// ValidateUserKey ensures an in-game name matches [A-Za-z0-9_]{1,16} with no normalization.
func ValidateUserKey(key UserKey) error {
	raw := string(key)
	if raw == "" || len(raw) > maxUserKeyLen {
		return ErrInvalidUserKey
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '_' {
			continue
		}
		return ErrInvalidUserKey
	}
	return nil
}

// NormalizeEmail lowercases and trims an account email.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" || strings.ContainsAny(trimmed, " \t\r\n") {
		return "", ErrInvalidRequest
	}
	at := strings.Index(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 || strings.Count(trimmed, "@") != 1 {
		return "", ErrInvalidRequest
	}
	return trimmed, nil
}
