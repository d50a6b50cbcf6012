package addonsync

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigReturnsDefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigSaveLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stkswrapper.conf")
	cfg := DefaultConfig()
	cfg.FetchKarts = true
	cfg.AutoupdateInterval = 90 * time.Minute
	cfg.AutoinstallBanlist = []string{"foo", "bar"}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, loaded.FetchKarts)
	assert.Equal(t, 90*time.Minute, loaded.AutoupdateInterval)
	assert.Equal(t, []string{"foo", "bar"}, loaded.AutoinstallBanlist)
}

func TestBanlistHelpers(t *testing.T) {
	list, added := addToBanlist(nil, "a")
	assert.True(t, added)
	list, added = addToBanlist(list, "a")
	assert.False(t, added)
	assert.Equal(t, []string{"a"}, list)

	list, removed := removeFromBanlist(list, "a")
	assert.True(t, removed)
	assert.Empty(t, list)
	_, removed = removeFromBanlist(list, "a")
	assert.False(t, removed)
}
