package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nobwow/stkwrapper-go/internal/instance"
	"github.com/nobwow/stkwrapper-go/internal/store"
)

// stoppedPollInterval bounds how quickly runSupervisor re-checks whether
// an instance's stopped gate has cleared after a stop it chose not to
// (or failed to) turn into a restart. instance.Instance.Stopped is
// level-triggered, so re-selecting on it while it stays set would
// otherwise busy-loop; polling at this interval is the simplest way to
// wait for "stopped, then not stopped again" without adding edge-detection
// to Gate itself.
const stoppedPollInterval = 200 * time.Millisecond

// Run launches every autostart instance, then runs each instance's
// autorestart supervisor loop until ctx is cancelled, at which point it
// stops every active instance before returning. Mirrors the teacher's
// errgroup-per-subsystem orchestration in cmd/gameserver/main.go.
//
// Servers created or deleted via CreateServer/DeleteServer/ReloadConfig
// while Run is active get their supervisor goroutine started or cancelled
// on the fly through startSupervisor/stopSupervisor — Run itself only
// seeds the initial set present at call time.
func (f *Fleet) Run(ctx context.Context) error {
	f.mu.RLock()
	names := make([]string, 0, len(f.instances))
	for name := range f.instances {
		names = append(names, name)
	}
	f.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	f.runMu.Lock()
	f.runCtx = gctx
	f.runGroup = g
	f.runMu.Unlock()

	for _, name := range names {
		in, ok := f.Instance(name)
		if !ok {
			continue
		}
		f.startSupervisor(name, in)
		if in.SpecAutostart() {
			name, in := name, in
			g.Go(func() error {
				slog.Info("fleet: autostarting server", "name", name)
				if err := f.launchAndWatch(gctx, name, in); err != nil {
					slog.Error("fleet: autostart failed", "name", name, "err", err)
				}
				return nil
			})
		}
	}

	<-gctx.Done()
	f.StopAll(context.Background())
	_ = g.Wait()

	f.runMu.Lock()
	f.runCtx = nil
	f.runGroup = nil
	f.supervisors = map[string]context.CancelFunc{}
	f.runMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// startSupervisor spawns name's autorestart supervisor loop if the fleet
// is currently running (Run has been called and hasn't returned yet) and
// no supervisor is already tracking it. Outside of Run, it is a no-op —
// Run seeds a supervisor for every instance present when it starts.
func (f *Fleet) startSupervisor(name string, in *instance.Instance) {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	if f.runCtx == nil {
		return
	}
	if _, exists := f.supervisors[name]; exists {
		return
	}
	ctx, cancel := context.WithCancel(f.runCtx)
	f.supervisors[name] = cancel
	f.runGroup.Go(func() error {
		f.runSupervisor(ctx, name, in)
		return nil
	})
}

// stopSupervisor cancels and forgets name's supervisor goroutine, if one
// is tracked. Called by DeleteServer and by ReloadConfig(hard) so a
// removed server's autorestart loop can't relaunch a deleted instance.
func (f *Fleet) stopSupervisor(name string) {
	f.runMu.Lock()
	cancel, ok := f.supervisors[name]
	if ok {
		delete(f.supervisors, name)
	}
	f.runMu.Unlock()
	if ok {
		cancel()
	}
}

// launchAndWatch calls Launch and, on success, hands the new PID to the
// resource sampler so stk-servers can report RSS/CPU without the
// supervisor polling the OS itself on every query.
func (f *Fleet) launchAndWatch(ctx context.Context, name string, in *instance.Instance) error {
	if err := in.Launch(ctx); err != nil {
		return err
	}
	f.recordEvent(store.EventServerStarted, name, "")
	if pid := in.PID(); pid > 0 {
		go f.sampler.Watch(ctx, name, int32(pid))
	}
	return nil
}

// runSupervisor waits for name to stop, then — if the stop was requested
// with restart intent and the instance is configured for autorestart —
// relaunches it after AutorestartPause, skipping the pause on a clean
// (zero) exit code. Matches `_reader`'s tail: `if self.autorestart and
// self.restart: if returncode != 0: sleep(pause); launch()`.
func (f *Fleet) runSupervisor(ctx context.Context, name string, in *instance.Instance) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-in.Stopped().C():
		}
		if ctx.Err() != nil {
			return
		}

		if code := in.LastExitCode(); code != 0 {
			f.recordEvent(store.EventServerCrashed, name, fmt.Sprintf("exit code %d", code))
		} else {
			f.recordEvent(store.EventServerStopped, name, "")
		}

		if in.RestartIntent() && in.Autorestart() {
			pause := in.AutorestartPause()
			if in.LastExitCode() == 0 {
				pause = 0
			}
			if pause > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(pause):
				}
			}
			slog.Debug("fleet: autorestarting server", "name", name)
			if err := f.launchAndWatch(ctx, name, in); err != nil {
				slog.Error("fleet: autorestart failed", "name", name, "err", err)
			}
		}

		if !f.waitForClear(ctx, in) {
			return
		}
	}
}

// waitForClear blocks until in.Stopped() clears (the instance launched
// again, automatically or by command) or ctx is done.
func (f *Fleet) waitForClear(ctx context.Context, in *instance.Instance) bool {
	for in.Stopped().IsSet() {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(stoppedPollInterval):
		}
	}
	return true
}
