package fleet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nobwow/stkwrapper-go/internal/config"
)

// scriptExecutable writes a shell script Launch can exec, ignoring
// whatever argv it's handed, mirroring instance package's test helper.
func scriptExecutable(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fakeserver.sh")
	content := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func writeFleetConfig(t *testing.T, mutate func(*config.Fleet)) string {
	t.Helper()
	cfg := config.Default()
	cfg.Autorestart = false
	cfg.ServerStartupTimeout = 2
	cfg.ServerShutdownTimeout = 2
	if mutate != nil {
		mutate(cfg)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "fleet.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func addServer(cfg *config.Fleet, name, exe string) {
	cfg.Servers[name] = &config.ServerEntry{ExecutablePath: exe, ConfigPath: "cfg.json"}
}

func TestNewBuildsInstanceForEveryConfiguredServer(t *testing.T) {
	exe := scriptExecutable(t, "cat")
	path := writeFleetConfig(t, func(cfg *config.Fleet) {
		addServer(cfg, "alpha", exe)
		addServer(cfg, "beta", exe)
	})

	f, err := New(path)
	require.NoError(t, err)

	_, ok := f.Instance("alpha")
	assert.True(t, ok)
	_, ok = f.Instance("beta")
	assert.True(t, ok)
	_, ok = f.Instance("missing")
	assert.False(t, ok)
}

func TestListServersPagination(t *testing.T) {
	exe := scriptExecutable(t, "cat")
	path := writeFleetConfig(t, func(cfg *config.Fleet) {
		for _, name := range []string{"s01", "s02", "s03", "s04", "s05", "s06", "s07", "s08", "s09", "s10", "s11"} {
			addServer(cfg, name, exe)
		}
	})

	f, err := New(path)
	require.NoError(t, err)

	page1, maxPage := f.ListServers(1)
	assert.Equal(t, 2, maxPage)
	assert.Len(t, page1, 10)

	page2, _ := f.ListServers(2)
	assert.Len(t, page2, 1)
}

func TestCreateEditDeleteServerLifecycle(t *testing.T) {
	exe := scriptExecutable(t, "cat")
	path := writeFleetConfig(t, nil)

	f, err := New(path)
	require.NoError(t, err)

	require.NoError(t, f.CreateServer("gamma", config.ServerEntry{ExecutablePath: exe, ConfigPath: "cfg.json"}))
	assert.ErrorIs(t, f.CreateServer("gamma", config.ServerEntry{}), ErrAlreadyExists)

	require.NoError(t, f.EditServer("gamma", func(entry *config.ServerEntry) {
		entry.ExtraArgs = []string{"--network-console"}
	}))
	assert.ErrorIs(t, f.EditServer("nope", func(*config.ServerEntry) {}), ErrNotFound)

	reloaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"--network-console"}, reloaded.Servers["gamma"].ExtraArgs)

	require.NoError(t, f.DeleteServer(context.Background(), "gamma"))
	_, ok := f.Instance("gamma")
	assert.False(t, ok)
	assert.ErrorIs(t, f.DeleteServer(context.Background(), "gamma"), ErrNotFound)
}

func TestStartStopRestartServer(t *testing.T) {
	exe := scriptExecutable(t, `echo "[INFO ] ServerLobby: Server 1 is now online."
cat`)
	path := writeFleetConfig(t, func(cfg *config.Fleet) {
		addServer(cfg, "srv", exe)
	})

	f, err := New(path)
	require.NoError(t, err)

	require.NoError(t, f.StartServer(context.Background(), "srv"))
	in, _ := f.Instance("srv")
	assert.True(t, in.Active())

	require.NoError(t, f.RestartServer(context.Background(), "srv"))
	assert.True(t, in.Active())

	require.NoError(t, f.StopServer(context.Background(), "srv", false))
	assert.False(t, in.Active())

	assert.ErrorIs(t, f.StartServer(context.Background(), "ghost"), ErrNotFound)
}

func TestStopAllStopsOnlyActiveInstances(t *testing.T) {
	exe := scriptExecutable(t, `echo "[INFO ] ServerLobby: Server 1 is now online."
cat`)
	path := writeFleetConfig(t, func(cfg *config.Fleet) {
		addServer(cfg, "running", exe)
		addServer(cfg, "idle", exe)
	})

	f, err := New(path)
	require.NoError(t, err)
	require.NoError(t, f.StartServer(context.Background(), "running"))

	f.StopAll(context.Background())

	in, _ := f.Instance("running")
	assert.False(t, in.Active())
}

func TestReloadConfigSoftUpdatesSpecWithoutStoppingRunning(t *testing.T) {
	exe := scriptExecutable(t, `echo "[INFO ] ServerLobby: Server 1 is now online."
cat`)
	path := writeFleetConfig(t, func(cfg *config.Fleet) {
		addServer(cfg, "srv", exe)
	})

	f, err := New(path)
	require.NoError(t, err)
	require.NoError(t, f.StartServer(context.Background(), "srv"))

	require.NoError(t, f.EditServer("srv", func(entry *config.ServerEntry) {
		entry.ExtraArgs = []string{"--wan"}
	}))
	require.NoError(t, f.ReloadConfig(context.Background(), false))

	in, _ := f.Instance("srv")
	assert.True(t, in.Active(), "soft reload must not touch a running instance")
}

func TestReloadConfigHardStopsAndRebuilds(t *testing.T) {
	exe := scriptExecutable(t, `echo "[INFO ] ServerLobby: Server 1 is now online."
cat`)
	path := writeFleetConfig(t, func(cfg *config.Fleet) {
		addServer(cfg, "srv", exe)
	})

	f, err := New(path)
	require.NoError(t, err)
	require.NoError(t, f.StartServer(context.Background(), "srv"))
	before, _ := f.Instance("srv")
	require.True(t, before.Active())

	require.NoError(t, f.ReloadConfig(context.Background(), true))

	after, ok := f.Instance("srv")
	require.True(t, ok)
	assert.False(t, after.Active())
	assert.NotSame(t, before, after, "hard reload rebuilds the instance map from scratch")
}

func TestRunAutostartsConfiguredServers(t *testing.T) {
	exe := scriptExecutable(t, `echo "[INFO ] ServerLobby: Server 1 is now online."
cat`)
	path := writeFleetConfig(t, func(cfg *config.Fleet) {
		addServer(cfg, "srv", exe)
	})

	f, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	in, _ := f.Instance("srv")
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !in.Active() {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, in.Active(), "autostart server should have launched")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.False(t, in.Active())
}

func TestRunAutorestartsOnNonZeroExit(t *testing.T) {
	exe := scriptExecutable(t, `echo "[INFO ] ServerLobby: Server 1 is now online."
exit 1`)
	path := writeFleetConfig(t, func(cfg *config.Fleet) {
		cfg.Servers["srv"] = &config.ServerEntry{
			ExecutablePath:   exe,
			ConfigPath:       "cfg.json",
			Autorestart:      boolPtrForTest(true),
			AutorestartPause: floatPtrForTest(0.01),
		}
	})

	f, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	in, _ := f.Instance("srv")
	restarted := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if in.LastExitCode() == 1 && in.Active() {
			restarted = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, restarted, "autorestart should relaunch after a non-zero exit")
}

func TestCreateServerWhileRunningStartsSupervisor(t *testing.T) {
	exe := scriptExecutable(t, `echo "[INFO ] ServerLobby: Server 1 is now online."
exit 1`)
	path := writeFleetConfig(t, nil)

	f, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	require.NoError(t, f.CreateServer("late", config.ServerEntry{
		ExecutablePath:   exe,
		ConfigPath:       "cfg.json",
		Autorestart:      boolPtrForTest(true),
		AutorestartPause: floatPtrForTest(0.01),
	}))

	in, _ := f.Instance("late")
	require.NoError(t, f.StartServer(context.Background(), "late"))

	restarted := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if in.LastExitCode() == 1 && in.Active() {
			restarted = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, restarted, "a server created after Run started must still be supervised")
}

func boolPtrForTest(b bool) *bool       { return &b }
func floatPtrForTest(f float64) *float64 { return &f }
