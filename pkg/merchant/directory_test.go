package merchant

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcpay-hq/settler/pkg/chains"
)

const testWallet = "0x4444444444444444444444444444444444444444"

func TestFileDirectoryMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merchants.json")

	d, err := NewFileDirectory(path, nil)
	require.NoError(t, err)

	_, err = d.Settings(context.Background(), "acme")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFileDirectorySaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merchants.json")

	d, err := NewFileDirectory(path, nil)
	require.NoError(t, err)

	settings := Settings{
		DestinationWallet: testWallet,
		DestinationChain:  chains.ArcTestnet,
	}
	require.NoError(t, d.SaveSettings(context.Background(), "acme", settings))

	got, err := d.Settings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, settings, got)

	// A fresh directory reads the persisted file
	reloaded, err := NewFileDirectory(path, nil)
	require.NoError(t, err)
	got, err = reloaded.Settings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, settings, got)
}

func TestFileDirectoryDefaultsFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merchants.json")
	defaults := &Settings{
		DestinationWallet: testWallet,
		DestinationChain:  chains.PolygonAmoy,
	}

	d, err := NewFileDirectory(path, defaults)
	require.NoError(t, err)

	got, err := d.Settings(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, *defaults, got)
}

func TestFileDirectoryRejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merchants.json")
	d, err := NewFileDirectory(path, nil)
	require.NoError(t, err)

	err = d.SaveSettings(context.Background(), "acme", Settings{
		DestinationWallet: "not-an-address",
		DestinationChain:  chains.ArcTestnet,
	})
	assert.Error(t, err)

	err = d.SaveSettings(context.Background(), "acme", Settings{
		DestinationWallet: testWallet,
		DestinationChain:  chains.ChainID("DOGECOIN"),
	})
	assert.Error(t, err)

	err = d.SaveSettings(context.Background(), "", Settings{
		DestinationWallet: testWallet,
		DestinationChain:  chains.ArcTestnet,
	})
	assert.Error(t, err)
}

func TestFileDirectoryRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merchants.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileDirectory(path, nil)
	assert.Error(t, err)
}

func TestStaticDirectory(t *testing.T) {
	d := &StaticDirectory{Entries: map[string]Settings{
		"acme": {DestinationWallet: testWallet, DestinationChain: chains.ArcTestnet},
	}}

	got, err := d.Settings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, chains.ArcTestnet, got.DestinationChain)

	_, err = d.Settings(context.Background(), "other")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
