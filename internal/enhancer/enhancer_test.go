package enhancer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nobwow/stkwrapper-go/internal/config"
	"github.com/nobwow/stkwrapper-go/internal/instance"
	"github.com/nobwow/stkwrapper-go/internal/logparser"
	"github.com/nobwow/stkwrapper-go/internal/syncutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultServerConfigXML = `<server-config>
  <server-mode value="6"/>
  <server-difficulty value="1"/>
</server-config>`

func testInstance(t *testing.T) *instance.Instance {
	t.Helper()
	gate := instance.FleetGate{
		StartStop:     &sync.Mutex{},
		RestartSignal: syncutil.NewBroadcaster(),
		GlobalLogIgnores: func() config.LogIgnoreTable {
			return nil
		},
	}
	return instance.New(instance.Spec{Name: "s1"}, gate)
}

func testEnhancer(t *testing.T) (*instance.Instance, *Enhancer) {
	t.Helper()
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "stkdefault.xml")
	require.NoError(t, os.WriteFile(defaultPath, []byte(defaultServerConfigXML), 0o644))
	cfgPath := filepath.Join(dir, "server.xml")

	inst := testInstance(t)
	e, err := New(inst, cfgPath, defaultPath)
	require.NoError(t, err)
	return inst, e
}

func emitLine(t *testing.T, inst *instance.Instance, object string, level logparser.Level, message string) {
	t.Helper()
	inst.LogEvent.Emit(context.Background(), logparser.Event{Level: level, ObjectName: object, Message: message}, nil)
}

func TestNewLoadsGamemodeAndDifficultyFromSeededDefault(t *testing.T) {
	_, e := testEnhancer(t)
	running, stopped, gamemode, difficulty := e.GameState()
	assert.False(t, running)
	assert.False(t, stopped)
	assert.Equal(t, 6, gamemode)
	assert.Equal(t, 1, difficulty)
}

func TestJoinMirroredIndependentlyOfInstance(t *testing.T) {
	inst, e := testEnhancer(t)
	emitLine(t, inst, "STKHost", logparser.LevelInfo, "New player Alice with online id 3 from ipv4 with 1.0.")
	assert.Contains(t, e.Players(), "Alice")
	// instance's own player set is unaffected by enhancer's mirror.
	assert.Empty(t, inst.Players())
}

func TestJoinVetoKeepsPlayerOutOfSet(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "stkdefault.xml")
	require.NoError(t, os.WriteFile(defaultPath, []byte(defaultServerConfigXML), 0o644))
	cfgPath := filepath.Join(dir, "server.xml")
	inst := testInstance(t)
	e, err := New(inst, cfgPath, defaultPath)
	require.NoError(t, err)

	e.PlayerJoin.AddHandler(func(context.Context, string, map[string]any) bool { return false })
	emitLine(t, inst, "STKHost", logparser.LevelInfo, "New player Bob with online id 4 from ipv4 with 1.0.")

	assert.NotContains(t, e.Players(), "Bob")
}

func TestSoccerGoalTracksOwnScore(t *testing.T) {
	inst, e := testEnhancer(t)
	s := NewSoccer(e)

	emitLine(t, inst, "GoalLog", logparser.LevelInfo, "goal Racer red.")
	red, blue := s.Score()
	assert.Equal(t, 1, red)
	assert.Equal(t, 0, blue)
}

func TestSoccerScoreMovesPastSixNine(t *testing.T) {
	inst, e := testEnhancer(t)
	s := NewSoccer(e)

	for i := 0; i < 6; i++ {
		emitLine(t, inst, "GoalLog", logparser.LevelInfo, "goal Racer red.")
	}
	for i := 0; i < 9; i++ {
		emitLine(t, inst, "GoalLog", logparser.LevelInfo, "goal Racer blue.")
	}
	red, blue := s.Score()
	assert.Equal(t, 6, red)
	assert.Equal(t, 9, blue)
	// Every further goal strictly changes the tuple away from (6, 9), so
	// the unconditional check in recordGoal cannot match a second time.
	emitLine(t, inst, "GoalLog", logparser.LevelInfo, "goal Racer red.")
	red, blue = s.Score()
	assert.Equal(t, 7, red)
	assert.Equal(t, 9, blue)
}

func TestSoccerScoreCountsWithNoNice(t *testing.T) {
	inst, e := testEnhancer(t)
	s := NewSoccer(e)
	s.NoNice = true

	for i := 0; i < 6; i++ {
		emitLine(t, inst, "GoalLog", logparser.LevelInfo, "goal Racer red.")
	}
	for i := 0; i < 9; i++ {
		emitLine(t, inst, "GoalLog", logparser.LevelInfo, "goal Racer blue.")
	}
	red, blue := s.Score()
	assert.Equal(t, 6, red)
	assert.Equal(t, 9, blue)
}

func TestGameStartResetsScore(t *testing.T) {
	inst, e := testEnhancer(t)
	s := NewSoccer(e)

	emitLine(t, inst, "GoalLog", logparser.LevelInfo, "goal Racer red.")
	red, _ := s.Score()
	require.Equal(t, 1, red)

	emitLine(t, inst, "ServerLobby", logparser.LevelInfo, "Max ping from peers: 20, jitter tolerance: 40")
	red, blue := s.Score()
	assert.Equal(t, 0, red)
	assert.Equal(t, 0, blue)
}

func TestSaveServerConfigRejectsWhileActive(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "stkdefault.xml")
	require.NoError(t, os.WriteFile(defaultPath, []byte(defaultServerConfigXML), 0o644))
	cfgPath := filepath.Join(dir, "server.xml")

	scriptPath := filepath.Join(dir, "fakeserver.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\necho \"[INFO ] ServerLobby: Server 1 is now online.\"\ncat\n"), 0o755))

	gate := instance.FleetGate{
		StartStop:        &sync.Mutex{},
		RestartSignal:    syncutil.NewBroadcaster(),
		GlobalLogIgnores: func() config.LogIgnoreTable { return nil },
	}
	inst := instance.New(instance.Spec{
		Name:            "s2",
		ExecutablePath:  scriptPath,
		DataPath:        dir,
		ConfigPath:      "cfg.json",
		StartupTimeout:  2 * time.Second,
		ShutdownTimeout: 2 * time.Second,
	}, gate)
	require.NoError(t, inst.Launch(context.Background()))
	defer func() { _ = inst.Stop(context.Background(), false) }()

	e, err := New(inst, cfgPath, defaultPath)
	require.NoError(t, err)

	err = e.SaveServerConfig(false)
	assert.Error(t, err)
}
