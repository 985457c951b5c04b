// Package merchant resolves merchant payout settings. Intents that omit a
// destination wallet are completed from the merchant's stored settings.
package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arcpay-hq/settler/pkg/chains"
)

// ErrNotConfigured is returned when a merchant has no stored settings and no
// defaults are configured.
var ErrNotConfigured = errors.New("merchant has no payout settings configured")

// Settings is a merchant's payout destination.
type Settings struct {
	DestinationWallet string         `json:"destination_wallet"`
	DestinationChain  chains.ChainID `json:"destination_chain"`
}

// Validate checks the wallet address and chain.
func (s Settings) Validate() error {
	if !common.IsHexAddress(s.DestinationWallet) {
		return fmt.Errorf("invalid destination wallet address: %s", s.DestinationWallet)
	}
	if !s.DestinationChain.Valid() {
		return fmt.Errorf("invalid destination chain: %s", s.DestinationChain)
	}
	return nil
}

// Directory looks up merchant payout settings.
type Directory interface {
	Settings(ctx context.Context, merchantID string) (Settings, error)
}

// FileDirectory stores merchant settings in a JSON file, falling back to
// process-wide defaults for merchants without an entry.
type FileDirectory struct {
	path     string
	defaults *Settings

	mu       sync.RWMutex
	settings map[string]Settings
}

// NewFileDirectory loads merchant settings from the given JSON file. A
// missing file starts the directory empty. Defaults may be nil.
func NewFileDirectory(path string, defaults *Settings) (*FileDirectory, error) {
	d := &FileDirectory{
		path:     path,
		defaults: defaults,
		settings: make(map[string]Settings),
	}

	if defaults != nil {
		if err := defaults.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default merchant settings: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("failed to read merchant settings file: %w", err)
	}
	if err := json.Unmarshal(data, &d.settings); err != nil {
		return nil, fmt.Errorf("failed to parse merchant settings file: %w", err)
	}

	for id, s := range d.settings {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("invalid settings for merchant %s: %w", id, err)
		}
	}
	return d, nil
}

// Settings returns the payout settings for a merchant. Merchants without an
// entry fall back to the directory defaults.
func (d *FileDirectory) Settings(_ context.Context, merchantID string) (Settings, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if s, exists := d.settings[merchantID]; exists {
		return s, nil
	}
	if d.defaults != nil {
		return *d.defaults, nil
	}
	return Settings{}, ErrNotConfigured
}

// SaveSettings validates and stores the settings for a merchant, persisting
// the full directory to disk.
func (d *FileDirectory) SaveSettings(_ context.Context, merchantID string, s Settings) error {
	if merchantID == "" {
		return errors.New("merchant id is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.settings[merchantID] = s
	return d.persistLocked()
}

// persistLocked writes the settings map to disk. Caller must hold the lock.
func (d *FileDirectory) persistLocked() error {
	data, err := json.MarshalIndent(d.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal merchant settings: %w", err)
	}
	if err := os.WriteFile(d.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write merchant settings file: %w", err)
	}
	return nil
}

// StaticDirectory serves a fixed settings map, used in tests.
type StaticDirectory struct {
	Entries map[string]Settings
}

func (d *StaticDirectory) Settings(_ context.Context, merchantID string) (Settings, error) {
	if s, exists := d.Entries[merchantID]; exists {
		return s, nil
	}
	return Settings{}, ErrNotConfigured
}
