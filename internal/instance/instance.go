// Package instance implements ServerInstance: one supervised child
// process, its restart state machine, and its extracted event chains.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nobwow/stkwrapper-go/internal/config"
	"github.com/nobwow/stkwrapper-go/internal/handlerchain"
	"github.com/nobwow/stkwrapper-go/internal/logparser"
	"github.com/nobwow/stkwrapper-go/internal/process"
	"github.com/nobwow/stkwrapper-go/internal/syncutil"
)

// State is one of the ServerInstance lifecycle states.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Spec is the fully resolved launch configuration for one instance,
// produced by config.Fleet.EffectiveServer.
type Spec struct {
	Name                     string
	ExecutablePath           string
	DataPath                 string
	ConfigPath               string
	ExtraEnv                 map[string]string
	ExtraArgs                []string
	Autostart                bool
	Autorestart              bool
	AutorestartPause         time.Duration
	TimedAutorestart         bool
	TimedAutorestartInterval time.Duration
	StartupTimeout           time.Duration
	ShutdownTimeout          time.Duration
	LogIgnores               config.LogIgnoreTable
	ShowPlain                bool
}

// FleetGate is the subset of SupervisorFleet's shared state a ServerInstance
// needs: the fleet-wide start/stop mutex and the broadcast restart
// condition. Passed in at construction so this package never imports
// fleet.
type FleetGate struct {
	StartStop        *sync.Mutex
	RestartSignal    *syncutil.Broadcaster
	GlobalLogIgnores func() config.LogIgnoreTable
}

// Instance is one supervised child process.
type Instance struct {
	spec  Spec
	gate  FleetGate
	Name  string

	mu            sync.Mutex
	state         State
	driver        *process.Driver
	restartIntent bool
	lastExitCode  int
	idleCancel    context.CancelFunc

	players    map[string]struct{}
	validated  map[string]struct{}
	gameRunning bool
	gameStopped bool
	gamemode    int
	difficulty  int
	scoreRed    int
	scoreBlue   int

	emptyServer *syncutil.Gate
	stopped     *syncutil.Gate

	LogEvent    *handlerchain.Chain[logparser.Event]
	ReadyEvent  *handlerchain.Chain[int]
	PlayerJoin  *handlerchain.Chain[PlayerJoin]
	PlayerLeave *handlerchain.Chain[string]
	GameStart   *handlerchain.Chain[struct{}]
	GameEnd     *handlerchain.Chain[struct{}]
	GameStop    *handlerchain.Chain[struct{}]
	GameResume  *handlerchain.Chain[struct{}]
	ModeDiff    *handlerchain.Chain[ModeDifficulty]
	Goal        *handlerchain.Chain[Goal]

	parser *logparser.Parser

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs a stopped Instance. It does not launch anything.
func New(spec Spec, gate FleetGate) *Instance {
	return &Instance{
		spec:        spec,
		gate:        gate,
		Name:        spec.Name,
		state:       StateStopped,
		players:     map[string]struct{}{},
		validated:   map[string]struct{}{},
		emptyServer: syncutil.NewGate(true),
		stopped:     syncutil.NewGate(true),
		LogEvent:    handlerchain.New[logparser.Event](false),
		ReadyEvent:  handlerchain.New[int](false),
		PlayerJoin:  handlerchain.New[PlayerJoin](true),
		PlayerLeave: handlerchain.New[string](false),
		GameStart:   handlerchain.New[struct{}](false),
		GameEnd:     handlerchain.New[struct{}](false),
		GameStop:    handlerchain.New[struct{}](false),
		GameResume:  handlerchain.New[struct{}](false),
		ModeDiff:    handlerchain.New[ModeDifficulty](false),
		Goal:        handlerchain.New[Goal](true),
		parser:      logparser.New(spec.ShowPlain),
	}
}

// State returns the current lifecycle state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Active reports whether a child process currently exists and has not yet
// reported exit.
func (in *Instance) Active() bool {
	s := in.State()
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// EmptyServer exposes the level-triggered empty-server signal.
func (in *Instance) EmptyServer() *syncutil.Gate { return in.emptyServer }

// Stopped exposes a level-triggered signal that is set whenever the
// instance reaches StateStopped, whether via an explicit Stop or an
// unprompted crash, and cleared at the start of the next Launch. The
// fleet's supervisor loop waits on this to decide when to relaunch.
func (in *Instance) Stopped() *syncutil.Gate { return in.stopped }

// Launch spawns the child process and drives it to the running state (or
// fails it back to stopped on a ready timeout). It acquires the fleet-wide
// start/stop mutex for the duration of the race to readiness, per the
// spec's documented known startup race in the supervised binary.
func (in *Instance) Launch(ctx context.Context) error {
	in.mu.Lock()
	if in.state != StateStopped {
		in.mu.Unlock()
		return ErrAlreadyActive
	}
	in.state = StateStarting
	in.restartIntent = in.spec.Autorestart
	in.mu.Unlock()
	in.stopped.Clear()

	in.gate.StartStop.Lock()
	released := false
	release := func() {
		if !released {
			released = true
			in.gate.StartStop.Unlock()
		}
	}
	defer release()

	env := make([]string, 0, len(in.spec.ExtraEnv)+1)
	env = append(env, "SUPERTUXKART_DATADIR="+in.spec.DataPath)
	for k, v := range in.spec.ExtraEnv {
		env = append(env, k+"="+v)
	}

	args := append([]string{"--server-config=" + in.spec.ConfigPath}, in.spec.ExtraArgs...)
	args = append(args, "--network-console")

	drv, err := process.New(process.Spec{
		Executable: in.spec.ExecutablePath,
		Args:       args,
		Env:        env,
		Dir:        in.spec.DataPath,
	})
	if err != nil {
		in.mu.Lock()
		in.state = StateStopped
		in.mu.Unlock()
		in.stopped.Set()
		return fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	in.mu.Lock()
	in.driver = drv
	in.mu.Unlock()

	bgCtx, cancel := context.WithCancel(ctx)
	in.bgCtx = bgCtx
	in.bgCancel = cancel

	readyCh := make(chan struct{})
	in.bgWG.Add(1)
	go in.runReader(bgCtx, readyCh)

	in.bgWG.Add(1)
	go in.runStderrReader(bgCtx)

	if in.spec.TimedAutorestart {
		in.bgWG.Add(1)
		go in.runTimedRestarter(bgCtx, in.spec.TimedAutorestartInterval)
	}
	in.bgWG.Add(1)
	go in.runConditionRestarter(bgCtx)

	select {
	case <-readyCh:
		in.mu.Lock()
		in.state = StateRunning
		in.mu.Unlock()
		release()
		return nil
	case <-time.After(in.spec.StartupTimeout):
		// Killing the child makes its stdout pipe hit EOF, which drives
		// runReader's handleUnpromptedExit to reap it, finish the state
		// transition, and set the stopped signal; wait for that here so
		// Launch does not return before the instance is fully quiesced.
		_ = drv.Kill()
		cancel()
		in.bgWG.Wait()
		release()
		slog.Warn("instance: ready timeout", "name", in.Name)
		return ErrReadyTimeout
	case <-ctx.Done():
		_ = drv.Kill()
		cancel()
		in.bgWG.Wait()
		release()
		return ctx.Err()
	}
}

// Stop requests an orderly shutdown, writing "quit\n" and waiting up to
// ShutdownTimeout for exit before killing. restart controls whether the
// exit handler relaunches the instance afterward (autorestart permitting).
func (in *Instance) Stop(ctx context.Context, restart bool) error {
	in.mu.Lock()
	if in.state != StateRunning && in.state != StateStarting {
		in.mu.Unlock()
		return ErrNotActive
	}
	in.state = StateStopping
	in.restartIntent = restart
	drv := in.driver
	in.mu.Unlock()

	in.gate.StartStop.Lock()
	defer in.gate.StartStop.Unlock()

	_ = in.interruptingIdleFor(func() error {
		return drv.WriteLine("quit")
	})

	done := make(chan struct{})
	var code int
	var waitErr error
	go func() {
		code, waitErr = drv.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(in.spec.ShutdownTimeout):
		slog.Warn("instance: shutdown timeout, killing", "name", in.Name)
		_ = drv.Kill()
		<-done
	case <-ctx.Done():
		_ = drv.Kill()
		<-done
	}

	in.mu.Lock()
	in.lastExitCode = code
	in.state = StateStopped
	in.mu.Unlock()

	in.emptyServer.Set()
	if in.bgCancel != nil {
		in.bgCancel()
	}
	in.bgWG.Wait()
	in.stopped.Set()

	if waitErr != nil {
		return fmt.Errorf("instance: wait: %w", waitErr)
	}
	return nil
}

// Stuff writes line through the idle-interruption protocol, guaranteeing
// it never interleaves with an in-flight stdout read.
func (in *Instance) Stuff(line string) error {
	in.mu.Lock()
	drv, state := in.driver, in.state
	in.mu.Unlock()
	if drv == nil || state == StateStopped {
		return ErrNotActive
	}
	return in.interruptingIdleFor(func() error {
		return drv.WriteLine(line)
	})
}

// Chat writes msg as a lobby chat line. Unless allowCmd is true, a leading
// "/" is escaped with an extra leading space so it cannot be misread as a
// lobby command.
func (in *Instance) Chat(msg string, allowCmd bool) error {
	if !allowCmd && len(msg) > 0 && msg[0] == '/' {
		msg = " " + msg
	}
	return in.Stuff(msg)
}

// interruptingIdleFor cancels any in-flight idle stdout read, acquires the
// instance lock, runs fn, then releases — guaranteeing fn's write never
// races with a concurrent readline.
func (in *Instance) interruptingIdleFor(fn func() error) error {
	in.mu.Lock()
	if in.idleCancel != nil {
		in.idleCancel()
	}
	defer in.mu.Unlock()
	return fn()
}

func (in *Instance) runReader(ctx context.Context, readyCh chan struct{}) {
	defer in.bgWG.Done()
	readyClosed := false
	closeReady := func() {
		if !readyClosed {
			readyClosed = true
			close(readyCh)
		}
	}
	defer closeReady() // in case the process dies before ready

	for {
		readCtx, cancel := context.WithCancel(ctx)
		in.mu.Lock()
		in.idleCancel = cancel
		in.mu.Unlock()

		line, err := in.driver.ReadStdoutLine(readCtx)

		in.mu.Lock()
		in.idleCancel = nil
		in.mu.Unlock()
		cancel()

		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				continue // interrupted for a write, not a shutdown
			}
			in.handleUnpromptedExit()
			return
		}

		in.handleLine(ctx, line, readyCh, &readyClosed)
	}
}

// handleUnpromptedExit reaps a child that exited without Stop having been
// called (a crash), transitioning the instance to stopped and waking
// anything waiting on emptyServer. It is also reached when the reader's
// context is cancelled while the child still runs; the child is killed
// before being reaped so it does not outlive the instance. If Stop is
// already driving the shutdown (state already StateStopping), it owns this
// bookkeeping instead and this is a no-op.
func (in *Instance) handleUnpromptedExit() {
	in.mu.Lock()
	if in.state == StateStopping || in.state == StateStopped {
		// Stop() is already driving (or has finished) this shutdown and
		// owns the exit-code bookkeeping; avoid a second drv.Wait() call,
		// which would return a bogus exit code for an already-reaped
		// process.
		in.mu.Unlock()
		return
	}
	in.state = StateStopped
	in.mu.Unlock()

	_ = in.driver.Kill() // no effect on a child that has already exited
	code, _ := in.driver.Wait()
	in.mu.Lock()
	in.lastExitCode = code
	in.mu.Unlock()
	in.emptyServer.Set()
	if in.bgCancel != nil {
		in.bgCancel()
	}
	in.stopped.Set()

	slog.Warn("instance: process exited unprompted", "name", in.Name, "code", code)
}

func (in *Instance) runStderrReader(ctx context.Context) {
	defer in.bgWG.Done()
	for {
		line, err := in.driver.ReadStderrLine(ctx)
		if err != nil {
			return
		}
		slog.Debug("instance: stderr", "name", in.Name, "line", line)
	}
}

func (in *Instance) handleLine(ctx context.Context, line string, readyCh chan struct{}, readyClosed *bool) {
	global := in.gate.GlobalLogIgnores()
	in.mu.Lock()
	ignores := in.spec.LogIgnores
	in.mu.Unlock()

	ev, ok := in.parser.Parse(line, global, ignores)
	if !ok {
		return
	}
	in.LogEvent.Emit(ctx, ev, nil)
	in.dispatchEvent(ctx, ev, readyCh, readyClosed)
}

func (in *Instance) dispatchEvent(ctx context.Context, ev logparser.Event, readyCh chan struct{}, readyClosed *bool) {
	switch ev.ObjectName {
	case "ServerLobby":
		if ev.Level != logparser.LevelInfo {
			return
		}
		if m := reReady.FindStringSubmatch(ev.Message); m != nil {
			port, _ := strconv.Atoi(m[1])
			in.ReadyEvent.Emit(ctx, port, nil)
			if !*readyClosed {
				*readyClosed = true
				close(readyCh)
			}
			return
		}
		if reGameStart.MatchString(ev.Message) {
			in.mu.Lock()
			wasRunning := in.gameRunning
			if !wasRunning {
				in.gameRunning = true
				in.gameStopped = false
			}
			in.mu.Unlock()
			if !wasRunning {
				in.GameStart.Emit(ctx, struct{}{}, nil)
			}
			return
		}
		if reGameStop.MatchString(ev.Message) {
			in.mu.Lock()
			in.gameStopped = true
			in.mu.Unlock()
			in.GameStop.Emit(ctx, struct{}{}, nil)
			return
		}
		if reGameResume.MatchString(ev.Message) {
			in.mu.Lock()
			in.gameStopped = false
			in.mu.Unlock()
			in.GameResume.Emit(ctx, struct{}{}, nil)
			return
		}
		if m := reModeDiff.FindStringSubmatch(ev.Message); m != nil {
			diff, _ := strconv.Atoi(m[1])
			mode, _ := strconv.Atoi(m[2])
			in.mu.Lock()
			in.difficulty = diff
			in.gamemode = mode
			in.mu.Unlock()
			in.ModeDiff.Emit(ctx, ModeDifficulty{Difficulty: diff, Gamemode: mode}, nil)
			return
		}
	case "STKHost":
		if m := rePeerCount.FindStringSubmatch(ev.Message); m != nil {
			count, _ := strconv.Atoi(m[1])
			if count == 0 {
				in.emptyServer.Set()
			} else {
				in.emptyServer.Clear()
			}
			return
		}
		if m := reJoin.FindStringSubmatch(ev.Message); m != nil {
			onlineID, _ := strconv.Atoi(m[2])
			payload := PlayerJoin{Name: m[1], OnlineID: onlineID, RawAddress: m[5]}
			handle := in.PlayerJoin.EmitAndHandle(ctx, payload, nil)
			if handle.Accepted {
				in.mu.Lock()
				in.players[payload.Name] = struct{}{}
				in.mu.Unlock()
			} else {
				_ = in.Stuff(fmt.Sprintf("/kick %s", payload.Name))
			}
			handle.Commit(handle.Accepted)
			return
		}
		if m := reValidated.FindStringSubmatch(ev.Message); m != nil {
			in.mu.Lock()
			in.validated[m[1]] = struct{}{}
			in.mu.Unlock()
			return
		}
		if m := reDisconnect.FindStringSubmatch(ev.Message); m != nil {
			in.mu.Lock()
			delete(in.players, m[1])
			delete(in.validated, m[1])
			in.mu.Unlock()
			in.PlayerLeave.Emit(ctx, m[1], nil)
			return
		}
	case "ProtocolManager":
		if ev.Level == logparser.LevelInfo && reGameEnd.MatchString(ev.Message) {
			in.mu.Lock()
			in.gameRunning = false
			in.gameStopped = false
			in.mu.Unlock()
			in.GameEnd.Emit(ctx, struct{}{}, nil)
			return
		}
	case "GoalLog":
		if ev.Level == logparser.LevelInfo {
			if m := reGoal.FindStringSubmatch(ev.Message); m != nil {
				g := Goal{Own: m[1] != "", ScorerName: m[2], Color: m[3]}
				handle := in.Goal.EmitAndHandle(ctx, g, nil)
				if handle.Accepted {
					in.mu.Lock()
					if g.Color == "red" {
						in.scoreRed++
					} else {
						in.scoreBlue++
					}
					in.mu.Unlock()
				}
				handle.Commit(handle.Accepted)
			}
		}
	}
}

// Players returns a snapshot of the current player set.
func (in *Instance) Players() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]string, 0, len(in.players))
	for p := range in.players {
		out = append(out, p)
	}
	return out
}

// Score returns the current soccer score (red, blue).
func (in *Instance) Score() (red, blue int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.scoreRed, in.scoreBlue
}

// GameState returns the (running, stopped, gamemode, difficulty) tuple.
func (in *Instance) GameState() (running, stopped bool, gamemode, difficulty int) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.gameRunning, in.gameStopped, in.gamemode, in.difficulty
}

// LastExitCode returns the exit code observed on the most recent Stop/exit.
func (in *Instance) LastExitCode() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastExitCode
}

// RestartIntent reports the restart flag of the most recent Stop, or, if
// the instance has not been stopped since its last Launch (for example
// after a crash), the Autorestart value Launch recorded. The fleet
// consults this (together with Autorestart) after a stop or exit to
// decide whether to relaunch.
func (in *Instance) RestartIntent() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.restartIntent
}

// Autorestart reports the configured autorestart flag.
func (in *Instance) Autorestart() bool { return in.spec.Autorestart }

// AutorestartPause returns the configured post-crash pause duration.
func (in *Instance) AutorestartPause() time.Duration { return in.spec.AutorestartPause }

// SpecAutostart reports whether this instance is configured to launch
// automatically when the fleet starts.
func (in *Instance) SpecAutostart() bool { return in.spec.Autostart }

// PID returns the current child process id, or -1 if no process is active.
func (in *Instance) PID() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.driver == nil || in.state == StateStopped {
		return -1
	}
	return in.driver.PID()
}

// UpdateSpec replaces the launch configuration used by future Launch
// calls. It does not affect an already-running process — a soft config
// reload per spec.md §4.5 only takes effect on the next restart.
func (in *Instance) UpdateSpec(spec Spec) {
	in.mu.Lock()
	defer in.mu.Unlock()
	spec.Name = in.Name
	in.spec = spec
}

// SetAutorestart toggles the crash-autorestart flag consulted after
// future stops/exits and returns its previous value, matching
// stk-norestart's toggle semantics in the original.
func (in *Instance) SetAutorestart(v bool) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	prev := in.spec.Autorestart
	in.spec.Autorestart = v
	return prev
}

// RestartTimedRestarter enables TimedAutorestart with interval for future
// launches and, if the instance is currently active, starts a fresh
// timed-restarter goroutine against the running background context right
// away — matching stk-timed-restart's "replace the timer" command. Any
// previously started timed-restarter is one-shot and guards on
// State()==StateRunning before acting, so letting it run to completion
// alongside the new one is harmless: at most one of the two will still
// find the instance running when its interval elapses.
func (in *Instance) RestartTimedRestarter(interval time.Duration) {
	in.mu.Lock()
	in.spec.TimedAutorestart = true
	in.spec.TimedAutorestartInterval = interval
	ctx := in.bgCtx
	active := in.state == StateRunning || in.state == StateStarting
	in.mu.Unlock()
	if active && ctx != nil {
		in.bgWG.Add(1)
		go in.runTimedRestarter(ctx, interval)
	}
}
