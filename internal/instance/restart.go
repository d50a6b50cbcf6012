package instance

import (
	"context"
	"log/slog"
	"time"
)

// runConditionRestarter wakes on every fleet-wide restart broadcast, waits
// for this instance's own empty-server signal, then stops it with
// restart intent left true so the exit handler relaunches it. Matches the
// documented "broadcast restart while occupied" scenario: an empty
// instance restarts immediately, a busy one waits until it empties.
//
// The actual Stop call runs on a detached goroutine rather than inline:
// Stop waits for every background goroutine of this instance (including
// this one) to finish, so calling it synchronously here would deadlock
// against our own bgWG.Done().
func (in *Instance) runConditionRestarter(ctx context.Context) {
	defer in.bgWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-in.gate.RestartSignal.Chan():
		}

		select {
		case <-ctx.Done():
			return
		case <-in.emptyServer.C():
		}

		if ctx.Err() != nil {
			return
		}
		if in.State() != StateRunning {
			continue
		}
		go in.stopAsync(true)
		return
	}
}

// runTimedRestarter sleeps the configured interval, then stops the
// instance (restart intent unchanged from autorestart) regardless of
// occupancy — unlike the condition-restarter it does not wait for empty.
func (in *Instance) runTimedRestarter(ctx context.Context, interval time.Duration) {
	defer in.bgWG.Done()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if in.State() != StateRunning {
		return
	}
	go in.stopAsync(in.spec.Autorestart)
}

// stopAsync runs Stop on its own goroutine, detached from bgWG, so a
// restarter task can trigger a shutdown without waiting on itself.
func (in *Instance) stopAsync(restart bool) {
	stopCtx, cancel := context.WithTimeout(context.Background(), in.spec.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := in.Stop(stopCtx, restart); err != nil {
		slog.Warn("instance: restarter stop failed", "name", in.Name, "err", err)
	}
}
