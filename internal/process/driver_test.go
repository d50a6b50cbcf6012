package process

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLineEchoedBack(t *testing.T) {
	d, err := New(Spec{Executable: "cat"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, d.WriteLine("hello"))
	line, err := d.ReadStdoutLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", line)

	require.NoError(t, d.Kill())
	_, _ = d.Wait()
}

func TestReadStdoutLineEOFAfterExit(t *testing.T) {
	d, err := New(Spec{Executable: "sh", Args: []string{"-c", "echo one; echo two"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	line, err := d.ReadStdoutLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", line)

	line, err = d.ReadStdoutLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", line)

	code, err := d.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, err = d.ReadStdoutLine(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadStdoutLineRespectsContextCancel(t *testing.T) {
	d, err := New(Spec{Executable: "sleep", Args: []string{"5"}})
	require.NoError(t, err)
	defer func() {
		_ = d.Kill()
		_, _ = d.Wait()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = d.ReadStdoutLine(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitReturnsNonZeroExitCode(t *testing.T) {
	d, err := New(Spec{Executable: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)

	code, err := d.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestPIDPositiveAndKillOnRunningProcess(t *testing.T) {
	d, err := New(Spec{Executable: "sleep", Args: []string{"5"}})
	require.NoError(t, err)
	assert.Greater(t, d.PID(), 0)
	require.NoError(t, d.Kill())
	_, _ = d.Wait()
}
