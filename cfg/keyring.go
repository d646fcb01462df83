package cfg

import (
	"fmt"

	"github.com/99designs/keyring"
)

const keyringService = "gbackup"

// SecretStore is the part of the keyring used to read passwords
type SecretStore interface {
	Get(key string) (keyring.Item, error)
}

// OpenKeyring opens the OS keyring
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// LoadPassword reads the password from the keyring, using the username as a key.
// Nothing happens if the account already has a password or doesn't use the keyring.
func (a *Account) LoadPassword(ring SecretStore) error {
	if a.Password != "" || !a.Keyring {
		return nil
	}
	if a.Username == "" {
		return fmt.Errorf("missing username to load the password from the keyring")
	}
	item, err := ring.Get(a.Username)
	if err != nil {
		return fmt.Errorf("getting password for %q: %w", a.Username, err)
	}
	a.Password = string(item.Data)
	return nil
}
