// Package credentials keeps provider API keys in the system keyring
// (macOS Keychain, Windows Credential Manager, Secret Service on Linux).
//
// Keys are stored under the service "minutes" with the provider name as
// the account, so "openai" and "anthropic" can hold different keys.
package credentials

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/zalando/go-keyring"
)

// Service is the keyring service name.
const Service = "minutes"

// ErrUnavailable reports that the system keyring could not be reached.
var ErrUnavailable = errors.New("credentials: system keyring unavailable")

// Set stores key for provider, replacing any previous key.
func Set(provider, key string) error {
	provider, err := account(provider)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("credentials: key must not be empty")
	}
	if err := keyring.Set(Service, provider, key); err != nil {
		return fmt.Errorf("%w: store %s key: %v", ErrUnavailable, provider, err)
	}
	return nil
}

// Get returns the stored key for provider. A provider without a stored key
// yields "" and no error.
func Get(provider string) (string, error) {
	provider, err := account(provider)
	if err != nil {
		return "", err
	}
	key, err := keyring.Get(Service, provider)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, keyring.ErrNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("%w: read %s key: %v", ErrUnavailable, provider, err)
	}
}

// Delete removes the stored key for provider. Deleting a missing key is
// not an error.
func Delete(provider string) error {
	provider, err := account(provider)
	if err != nil {
		return err
	}
	if err := keyring.Delete(Service, provider); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: delete %s key: %v", ErrUnavailable, provider, err)
	}
	return nil
}

// Lookup is Get for callers that treat an unreachable keyring like a
// missing key, such as headless servers without a Secret Service.
func Lookup(provider string) string {
	key, err := Get(provider)
	if err != nil {
		slog.Debug("credentials: keyring lookup failed", "provider", provider, "err", err)
		return ""
	}
	return key
}

// Backend names the keyring implementation of this platform.
func Backend() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "Secret Service"
	}
}

func account(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", errors.New("credentials: provider name must not be empty")
	}
	return provider, nil
}
