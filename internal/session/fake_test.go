package session

import "errors"

type fakeVault map[string]string

func (v fakeVault) Decrypt(ciphertext string) (string, error) {
	plain, ok := v[ciphertext]
	if !ok {
		return "", errors.New("vault decrypt: message authentication failed")
	}
	return plain, nil
}
