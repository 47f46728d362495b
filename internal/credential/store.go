// Package credential stores the gitlab and toggl tokens the agent sends with
// every report.
//
// Tokens live in the system keychain when one is available:
//   - macOS: Keychain
//   - Linux: Secret Service (GNOME keyring, KWallet)
//   - Windows: Credential Manager
//
// Headless machines fall back to a YAML file with 0600 permissions in the
// agent's config directory. The file backend refuses to read a file whose
// permissions have been widened.
package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/majorcontext/asrtt/internal/log"
	"github.com/zalando/go-keyring"
)

const (
	// ServiceName is the default keychain service. ASRTT_KEYRING_SERVICE
	// overrides it so tests can use an isolated entry.
	ServiceName = "asrtt"

	// GitLab and Toggl are the token names the agent uses.
	GitLab = "gitlab"
	Toggl  = "toggl"

	// TokensFile is the fallback file name inside the config directory.
	TokensFile = "tokens.yaml"
)

var (
	// ErrNotFound is returned when no backend holds the token.
	ErrNotFound = errors.New("token not found")
	// ErrInsecurePermissions is returned when the token file is readable by
	// anyone but its owner.
	ErrInsecurePermissions = errors.New("token file has insecure permissions")
)

// Store reads and writes named tokens.
type Store interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
	// Name describes where tokens are kept, for user-facing messages.
	Name() string
}

func serviceName() string {
	if name := os.Getenv("ASRTT_KEYRING_SERVICE"); name != "" {
		return name
	}
	return ServiceName
}

// Keychain stores tokens in the system keychain.
type Keychain struct {
	Service string
}

// NewKeychain returns a keychain store for the configured service.
func NewKeychain() *Keychain {
	return &Keychain{Service: serviceName()}
}

func (k *Keychain) Get(name string) (string, error) {
	v, err := keyring.Get(k.Service, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return v, nil
}

func (k *Keychain) Set(name, value string) error {
	if err := keyring.Set(k.Service, name, value); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *Keychain) Delete(name string) error {
	err := keyring.Delete(k.Service, name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *Keychain) Name() string { return "system keychain" }

// Fallback tries Primary first and uses Secondary when Primary is
// unavailable.
type Fallback struct {
	Primary   Store
	Secondary Store
}

// New returns the default store: the system keychain backed by a token file
// in dir.
func New(dir string) *Fallback {
	return &Fallback{
		Primary:   NewKeychain(),
		Secondary: NewFile(dir),
	}
}

// Get returns the first value found. A token written to the file while the
// keychain was unavailable is still found once the keychain comes back.
func (f *Fallback) Get(name string) (string, error) {
	v, err := f.Primary.Get(name)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		log.Debug("primary token store unavailable", "store", f.Primary.Name(), "error", err)
	}
	return f.Secondary.Get(name)
}

func (f *Fallback) Set(name, value string) error {
	primaryErr := f.Primary.Set(name, value)
	if primaryErr == nil {
		// Drop any stale copy so Get cannot disagree later.
		if err := f.Secondary.Delete(name); err != nil {
			log.Debug("removing stale token copy", "store", f.Secondary.Name(), "error", err)
		}
		return nil
	}

	log.Info("system keychain unavailable, using file-based token storage",
		"fallback", f.Secondary.Name())
	if err := f.Secondary.Set(name, value); err != nil {
		return fmt.Errorf("storing %s token failed.\n"+
			"  Keychain (%s): %v\n"+
			"  File (%s): %v",
			name, f.Primary.Name(), primaryErr, f.Secondary.Name(), err)
	}
	return nil
}

// Delete removes the token from both stores. It fails only if both fail.
func (f *Fallback) Delete(name string) error {
	primaryErr := f.Primary.Delete(name)
	secondaryErr := f.Secondary.Delete(name)
	if primaryErr != nil && secondaryErr != nil {
		return fmt.Errorf("deleting %s token: %w", name, errors.Join(primaryErr, secondaryErr))
	}
	return nil
}

func (f *Fallback) Name() string {
	return f.Primary.Name() + " (fallback: " + f.Secondary.Name() + ")"
}
