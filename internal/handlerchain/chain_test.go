package handlerchain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitOrderPreserved(t *testing.T) {
	c := New[int](false)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		c.AddHandler(func(_ context.Context, payload int, _ map[string]any) bool {
			order = append(order, i)
			return true
		})
	}
	accepted := c.Emit(context.Background(), 1, nil)
	assert.True(t, accepted)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestEmitCancellableVetoStopsRemainingHandlers(t *testing.T) {
	c := New[string](true)
	var ran []int
	c.AddHandler(func(_ context.Context, _ string, _ map[string]any) bool {
		ran = append(ran, 0)
		return true
	})
	c.AddHandler(func(_ context.Context, _ string, _ map[string]any) bool {
		ran = append(ran, 1)
		return false
	})
	c.AddHandler(func(_ context.Context, _ string, _ map[string]any) bool {
		ran = append(ran, 2)
		return true
	})

	accepted := c.Emit(context.Background(), "x", nil)
	assert.False(t, accepted)
	assert.Equal(t, []int{0, 1}, ran, "handler after the veto must not run")
}

func TestEmitNonCancellableIgnoresReturn(t *testing.T) {
	c := New[string](false)
	c.AddHandler(func(_ context.Context, _ string, _ map[string]any) bool {
		return false
	})
	accepted := c.Emit(context.Background(), "x", nil)
	assert.True(t, accepted)
}

func TestHandlerPanicIsolated(t *testing.T) {
	c := New[int](true)
	var secondRan bool
	c.AddHandler(func(_ context.Context, _ int, _ map[string]any) bool {
		panic("boom")
	})
	c.AddHandler(func(_ context.Context, _ int, _ map[string]any) bool {
		secondRan = true
		return true
	})

	assert.NotPanics(t, func() {
		c.Emit(context.Background(), 1, nil)
	})
	assert.True(t, secondRan)
}

func TestRemoveHandlerIsIdempotent(t *testing.T) {
	c := New[int](false)
	var ran bool
	id := c.AddHandler(func(_ context.Context, _ int, _ map[string]any) bool {
		ran = true
		return true
	})
	c.RemoveHandler(id)
	c.RemoveHandler(id) // second removal is a no-op

	c.Emit(context.Background(), 1, nil)
	assert.False(t, ran)
	assert.Equal(t, 0, c.Len())
}

func TestEmitAndHandleCommit(t *testing.T) {
	c := New[int](true)
	h := c.EmitAndHandle(context.Background(), 42, nil)
	require.True(t, h.Accepted)
	h.Commit(false) // caller rolls back after all handlers ran
	h.Commit(true)  // second call must be a no-op, not a double notify
}

func TestWaitForSuccessfulUnblocksOnAccept(t *testing.T) {
	c := New[int](true)
	done := make(chan error, 1)
	go func() {
		done <- c.WaitForSuccessful(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	c.Emit(context.Background(), 1, nil)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForSuccessful did not unblock")
	}
}

func TestWaitForSuccessfulRespectsContext(t *testing.T) {
	c := New[int](true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.WaitForSuccessful(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
