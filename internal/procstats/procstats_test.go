package procstats

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchProducesSamplesForLiveProcess(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	s := NewSampler(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Watch(ctx, "inst1", int32(cmd.Process.Pid))
		close(done)
	}()
	<-done

	_, ok := s.Latest("inst1")
	assert.True(t, ok, "expected at least one sample before the process disappeared from the ring")
}

func TestLatestReportsFalseForUnknownInstance(t *testing.T) {
	s := NewSampler(time.Second)
	_, ok := s.Latest("never-watched")
	assert.False(t, ok)
}

func TestWatchExitsWhenProcessGone(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	s := NewSampler(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Watch(ctx, "gone", int32(pid))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Watch did not return after the process exited")
	}
	_, ok := s.Latest("gone")
	assert.False(t, ok)
}
