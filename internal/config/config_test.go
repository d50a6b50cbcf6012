package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenMissing(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), f)
}

func TestSaveLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.json")
	f := Default()
	f.STKVersion = "1.5"
	f.Servers["main"] = &ServerEntry{DataPath: "/srv/main"}
	require.NoError(t, f.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1.5", loaded.STKVersion)
	require.Contains(t, loaded.Servers, "main")
	assert.Equal(t, "/srv/main", loaded.Servers["main"].DataPath)
}

func TestEffectiveServerInheritsDefaultsAndAppliesOverrides(t *testing.T) {
	f := Default()
	f.ExecutablePath = "/usr/bin/supertuxkart"
	f.Servers["alt"] = &ServerEntry{DataPath: "/srv/alt"}

	eff := f.EffectiveServer("alt")
	assert.Equal(t, "/usr/bin/supertuxkart", eff.ExecutablePath, "inherits fleet default")
	assert.Equal(t, "/srv/alt", eff.DataPath, "overridden by the server entry")

	noEntry := f.EffectiveServer("missing")
	assert.Equal(t, "/usr/bin/supertuxkart", noEntry.ExecutablePath)
	assert.Equal(t, f.DataPath, noEntry.DataPath)
}

func TestDiffFromDefaultsOmitsUnchangedAttributes(t *testing.T) {
	f := Default()
	resolved := f.EffectiveServer("anything")
	resolved.ExecutablePath = "/custom/stk"

	diff := f.DiffFromDefaults(resolved)
	assert.Equal(t, "/custom/stk", diff.ExecutablePath)
	assert.Nil(t, diff.Autostart, "autostart unchanged from default is omitted")
	assert.Nil(t, diff.AutorestartPause)
}

func TestDumpYAMLIncludesTopLevelFields(t *testing.T) {
	f := Default()
	out, err := f.DumpYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "stk_version:")
	assert.Contains(t, string(out), "executable_path:")
}

func TestLogIgnoreTableMatchesFullLineOnly(t *testing.T) {
	table := LogIgnoreTable{
		"ServerLobby": LevelIgnores{
			"2": {`^heartbeat from \d+$`},
		},
	}
	assert.True(t, table.Matches("ServerLobby", 2, "heartbeat from 7"))
	assert.False(t, table.Matches("ServerLobby", 2, "extra heartbeat from 7 text"), "fullmatch, not substring")
	assert.False(t, table.Matches("ServerLobby", 3, "heartbeat from 7"), "wrong level")
	assert.False(t, table.Matches("Other", 2, "heartbeat from 7"), "wrong object")
}
