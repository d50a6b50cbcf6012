package logparser

import (
	"testing"

	"github.com/nobwow/stkwrapper-go/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestParseStructuredLine(t *testing.T) {
	p := New(false)
	ev, ok := p.Parse("[INFO ] ServerLobby: Server 7 is now online.", nil, nil)
	assert.True(t, ok)
	assert.Equal(t, LevelInfo, ev.Level)
	assert.Equal(t, "ServerLobby", ev.ObjectName)
	assert.Equal(t, "Server 7 is now online.", ev.Message)
}

func TestParseWithTimestampPrefix(t *testing.T) {
	p := New(false)
	ev, ok := p.Parse("Mon Jan 12 10:02:03 2026 [INFO ] STKHost: 5 peers.", nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "STKHost", ev.ObjectName)
	assert.Equal(t, "5 peers.", ev.Message)
}

func TestParseUnknownLevelDefaultsToDebug(t *testing.T) {
	p := New(false)
	ev, ok := p.Parse("[TRACE] Foo: bar", nil, nil)
	assert.True(t, ok)
	assert.Equal(t, LevelDebug, ev.Level)
}

func TestParsePlainLineDroppedUnlessShowPlain(t *testing.T) {
	p := New(false)
	_, ok := p.Parse("just some unstructured output", nil, nil)
	assert.False(t, ok)

	p2 := New(true)
	ev, ok := p2.Parse("just some unstructured output", nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "just some unstructured output", ev.Message)
}

func TestParseStripsANSIEscapes(t *testing.T) {
	p := New(false)
	ev, ok := p.Parse("\x1b[31m[INFO ] ServerLobby: Server 1 is now online.\x1b[0m", nil, nil)
	assert.True(t, ok)
	assert.Equal(t, "Server 1 is now online.", ev.Message)
}

func TestParseIdleProbeEchoSuppressed(t *testing.T) {
	p := New(true)
	_, ok := p.Parse("Unknown command: \x01", nil, nil)
	assert.False(t, ok)
}

func TestParseGlobalLogIgnoreSuppresses(t *testing.T) {
	p := New(false)
	global := config.LogIgnoreTable{
		"STKHost": {"1": []string{`noisy heartbeat.*`}},
	}
	_, ok := p.Parse("[INFO ] STKHost: noisy heartbeat tick", global, nil)
	assert.False(t, ok)
}

func TestParseInstanceLogIgnoreSuppresses(t *testing.T) {
	p := New(false)
	instance := config.LogIgnoreTable{
		"STKHost": {"1": []string{`specific noise`}},
	}
	_, ok := p.Parse("[INFO ] STKHost: specific noise", nil, instance)
	assert.False(t, ok)
}

func TestParseNonMatchingIgnorePasses(t *testing.T) {
	p := New(false)
	global := config.LogIgnoreTable{
		"STKHost": {"1": []string{`unrelated`}},
	}
	ev, ok := p.Parse("[INFO ] STKHost: something else", global, nil)
	assert.True(t, ok)
	assert.Equal(t, "something else", ev.Message)
}
