// Package enhancer implements Enhancer and SoccerEnhancer: optional,
// attachable companions to a ServerInstance that mirror its player/game
// state independently and add session-management features (expiry timers,
// save-on-empty config edits, kick) the bare instance does not need to
// know about.
package enhancer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nobwow/stkwrapper-go/internal/handlerchain"
	"github.com/nobwow/stkwrapper-go/internal/instance"
	"github.com/nobwow/stkwrapper-go/internal/logparser"
)

// Enhancer mirrors one instance's player/game state and offers session
// features on top of it. Its own PlayerJoin/PlayerLeave/GameStart/GameEnd/
// GameStop/GameResume chains are independent of the instance's — nothing in
// ServerInstance observes or is affected by them.
type Enhancer struct {
	inst *instance.Instance
	name string

	PlayerJoin  *handlerchain.Chain[string]
	PlayerLeave *handlerchain.Chain[string]
	GameStart   *handlerchain.Chain[struct{}]
	GameEnd     *handlerchain.Chain[struct{}]
	GameStop    *handlerchain.Chain[struct{}]
	GameResume  *handlerchain.Chain[struct{}]

	mu           sync.Mutex
	players      map[string]struct{}
	validPlayers map[string]struct{}
	gameRunning  bool
	gameStopped  bool
	gamemode     int
	difficulty   int

	cfgPath string
	cfg     *ServerConfig

	logHandlerID handlerchain.HandlerID

	expiryMu    sync.Mutex
	expiryTimer *time.Timer

	saveMu      sync.Mutex
	saveOnEmpty bool
}

// New attaches a regular (non-soccer) Enhancer to inst. cfgPath is the
// supervised binary's own per-server XML config document, loaded
// immediately (defaultPath is used if cfgPath does not yet exist).
func New(inst *instance.Instance, cfgPath, defaultPath string) (*Enhancer, error) {
	e := &Enhancer{
		inst:         inst,
		name:         inst.Name,
		PlayerJoin:   handlerchain.New[string](true),
		PlayerLeave:  handlerchain.New[string](false),
		GameStart:    handlerchain.New[struct{}](false),
		GameEnd:      handlerchain.New[struct{}](false),
		GameStop:     handlerchain.New[struct{}](false),
		GameResume:   handlerchain.New[struct{}](false),
		players:      map[string]struct{}{},
		validPlayers: map[string]struct{}{},
		cfgPath:      cfgPath,
	}

	if !inst.EmptyServer().IsSet() {
		slog.Warn("enhancer: attached to a non-empty server; player list is not synchronized", "name", e.name)
	}

	cfg, err := loadOrSeedConfig(cfgPath, defaultPath, inst.Active())
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	if v, ok := cfg.Get("server-mode"); ok {
		e.gamemode, _ = strconv.Atoi(v)
	} else {
		e.gamemode = 3
	}
	if v, ok := cfg.Get("server-difficulty"); ok {
		e.difficulty, _ = strconv.Atoi(v)
	} else {
		e.difficulty = 3
	}

	e.logHandlerID = inst.LogEvent.AddHandler(e.handleLogEvent)
	return e, nil
}

func loadOrSeedConfig(cfgPath, defaultPath string, serverActive bool) (*ServerConfig, error) {
	if cfg, err := LoadServerConfig(cfgPath); err == nil {
		return cfg, nil
	}
	cfg, err := LoadServerConfig(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("enhancer: loading default server config: %w", err)
	}
	if !serverActive {
		if err := cfg.Save(cfgPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Cleanup detaches the enhancer from its instance's LogEvent chain and
// stops any pending expiry timer. A deferred config save that is already
// waiting for the server to empty is not cancelled. Safe to call more
// than once.
func (e *Enhancer) Cleanup() {
	e.inst.LogEvent.RemoveHandler(e.logHandlerID)
	e.expiryMu.Lock()
	if e.expiryTimer != nil {
		e.expiryTimer.Stop()
	}
	e.expiryMu.Unlock()
}

// Players returns a snapshot of the enhancer's own mirrored player set.
func (e *Enhancer) Players() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.players))
	for p := range e.players {
		out = append(out, p)
	}
	return out
}

// GameState returns the mirrored (running, stopped, gamemode, difficulty).
func (e *Enhancer) GameState() (running, stopped bool, gamemode, difficulty int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gameRunning, e.gameStopped, e.gamemode, e.difficulty
}

func (e *Enhancer) handleLogEvent(ctx context.Context, ev logparser.Event, _ map[string]any) bool {
	e.dispatch(ctx, ev)
	return true // Enhancer never vetoes LogEvent; it is a pure observer.
}

func (e *Enhancer) dispatch(ctx context.Context, ev logparser.Event) {
	switch ev.ObjectName {
	case "STKHost":
		if m := reJoin.FindStringSubmatch(ev.Message); m != nil {
			name := m[1]
			e.mu.Lock()
			_, already := e.players[name]
			e.mu.Unlock()
			if already {
				return
			}
			if e.PlayerJoin.Emit(ctx, name, nil) {
				e.mu.Lock()
				e.players[name] = struct{}{}
				e.mu.Unlock()
			} else {
				_ = e.Kick(name)
			}
			return
		}
		if m := reValidated.FindStringSubmatch(ev.Message); m != nil {
			e.mu.Lock()
			e.validPlayers[m[1]] = struct{}{}
			e.mu.Unlock()
			return
		}
		if m := reDisconnect.FindStringSubmatch(ev.Message); m != nil {
			name := m[1]
			e.mu.Lock()
			_, present := e.players[name]
			e.mu.Unlock()
			if !present {
				return
			}
			if e.PlayerLeave.Emit(ctx, name, nil) {
				e.mu.Lock()
				delete(e.players, name)
				delete(e.validPlayers, name)
				e.mu.Unlock()
			}
			return
		}
	case "ServerLobby":
		if ev.Level != logparser.LevelInfo {
			return
		}
		if reGameStart.MatchString(ev.Message) {
			e.mu.Lock()
			wasRunning := e.gameRunning
			if !wasRunning {
				e.gameRunning = true
				e.gameStopped = false
			}
			e.mu.Unlock()
			if !wasRunning {
				e.GameStart.Emit(ctx, struct{}{}, nil)
			}
			return
		}
		if ev.Message == gameStoppedLine {
			e.mu.Lock()
			e.gameStopped = true
			e.mu.Unlock()
			e.GameStop.Emit(ctx, struct{}{}, nil)
			return
		}
		if ev.Message == gameResumedLine {
			e.mu.Lock()
			e.gameStopped = false
			e.mu.Unlock()
			e.GameResume.Emit(ctx, struct{}{}, nil)
			return
		}
		if m := reModeDiff.FindStringSubmatch(ev.Message); m != nil {
			diff, _ := strconv.Atoi(m[1])
			mode, _ := strconv.Atoi(m[2])
			e.mu.Lock()
			e.difficulty = diff
			e.gamemode = mode
			e.mu.Unlock()
		}
	case "ProtocolManager":
		if ev.Level == logparser.LevelInfo && reGameEnd.MatchString(ev.Message) {
			e.mu.Lock()
			e.gameRunning = false
			e.gameStopped = false
			e.mu.Unlock()
			e.GameEnd.Emit(ctx, struct{}{}, nil)
		}
	}
}

// Kick issues "/kick <name>" through the allow-cmd chat path.
func (e *Enhancer) Kick(name string) error {
	return e.Chat(fmt.Sprintf("/kick %s", name), true)
}

// Chat writes a lobby chat line through the instance, escaping a leading
// "/" unless allowCmd is set.
func (e *Enhancer) Chat(msg string, allowCmd bool) error {
	return e.inst.Chat(msg, allowCmd)
}

// SaveServerConfig persists the in-memory server config document. If later
// is true, the save is deferred until the instance next reports empty —
// matching the original's "only one such task in flight" rule: a second
// deferred save request while one is already pending is a no-op.
func (e *Enhancer) SaveServerConfig(later bool) error {
	if !later {
		if e.inst.Active() {
			return fmt.Errorf("enhancer: cannot save server config while %q is running", e.name)
		}
		return e.cfg.Save(e.cfgPath)
	}

	e.saveMu.Lock()
	if e.saveOnEmpty {
		e.saveMu.Unlock()
		return nil
	}
	e.saveOnEmpty = true
	e.saveMu.Unlock()

	go e.saveOnEmptyTask()
	return nil
}

func (e *Enhancer) saveOnEmptyTask() {
	defer func() {
		e.saveMu.Lock()
		e.saveOnEmpty = false
		e.saveMu.Unlock()
	}()

	<-e.inst.EmptyServer().C()
	_ = e.inst.Stop(context.Background(), false)
	if err := e.cfg.Save(e.cfgPath); err != nil {
		slog.Error("enhancer: deferred config save failed", "name", e.name, "err", err)
		return
	}
	slog.Info("enhancer: config saved for empty server", "name", e.name)
	if err := e.inst.Launch(context.Background()); err != nil {
		slog.Error("enhancer: relaunch after config save failed", "name", e.name, "err", err)
	}
}

// ExpireAt stops the instance (without restart) at the given deadline.
// Rescheduling cancels any prior timer.
func (e *Enhancer) ExpireAt(at time.Time) {
	e.schedule(time.Until(at))
}

// ExpireIn stops the instance (without restart) after d elapses.
// Rescheduling cancels any prior timer.
func (e *Enhancer) ExpireIn(d time.Duration) {
	e.schedule(d)
}

func (e *Enhancer) schedule(d time.Duration) {
	e.expiryMu.Lock()
	defer e.expiryMu.Unlock()
	if e.expiryTimer != nil {
		e.expiryTimer.Stop()
	}
	e.expiryTimer = time.AfterFunc(d, func() {
		slog.Info("enhancer: server expired, shutting down", "name", e.name)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.inst.Stop(ctx, false); err != nil {
			slog.Warn("enhancer: expiry stop failed", "name", e.name, "err", err)
		}
	})
}
