// Package fleet implements SupervisorFleet: the named map of
// ServerInstances, the fleet-wide start/stop mutex and restart broadcast
// they all share, global log-ignore tables, and the config
// persist/reload cycle. It is the top-level object a command surface
// drives.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nobwow/stkwrapper-go/internal/config"
	"github.com/nobwow/stkwrapper-go/internal/instance"
	"github.com/nobwow/stkwrapper-go/internal/procstats"
	"github.com/nobwow/stkwrapper-go/internal/store"
	"github.com/nobwow/stkwrapper-go/internal/syncutil"
)

const recordEventTimeout = 5 * time.Second

// ErrAlreadyExists and ErrNotFound are the two sentinel cases the CLI
// layer needs to distinguish from a generic failure.
var (
	ErrAlreadyExists = fmt.Errorf("fleet: server already exists")
	ErrNotFound      = fmt.Errorf("fleet: server not found")
)

// Fleet owns every ServerInstance plus the shared primitives they consult
// through instance.FleetGate.
type Fleet struct {
	cfgPath string

	mu        sync.RWMutex
	cfg       *config.Fleet
	instances map[string]*instance.Instance

	startStop     sync.Mutex
	restartSignal *syncutil.Broadcaster

	// runMu guards the running-fleet bookkeeping below, separate from mu
	// (which guards config/instance data) so CreateServer/DeleteServer can
	// start or stop a supervisor goroutine without holding mu.
	runMu       sync.Mutex
	runCtx      context.Context
	runGroup    *errgroup.Group
	supervisors map[string]context.CancelFunc

	// Tasks is a named background-task registry, mirroring ace.tasks in
	// the original. No fleet code registers in it: supervisor goroutines
	// are tracked in supervisors above, and addonsync.Syncer keeps a
	// registry of its own for the autoupdate loop.
	Tasks *syncutil.TaskRegistry

	store   store.Store
	sampler *procstats.Sampler
}

// New loads the fleet document at cfgPath and constructs (but does not
// launch) a ServerInstance for every configured server.
func New(cfgPath string) (*Fleet, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	f := &Fleet{
		cfgPath:       cfgPath,
		cfg:           cfg,
		instances:     map[string]*instance.Instance{},
		restartSignal: syncutil.NewBroadcaster(),
		supervisors:   map[string]context.CancelFunc{},
		Tasks:         syncutil.NewTaskRegistry(),
		store:         store.NullStore{},
		sampler:       procstats.NewSampler(10 * time.Second),
	}
	for name := range cfg.Servers {
		f.instances[name] = f.buildInstance(name)
	}
	return f, nil
}

// SetStore overrides the audit-log sink (default NullStore).
func (f *Fleet) SetStore(st store.Store) { f.store = st }

// RestartSignal exposes the fleet-wide restart broadcaster so other
// subsystems (addonsync) can trigger it and instances can subscribe to it.
func (f *Fleet) RestartSignal() *syncutil.Broadcaster { return f.restartSignal }

// Sampler exposes the resource-usage sampler backing stk-servers.
func (f *Fleet) Sampler() *procstats.Sampler { return f.sampler }

// STKVersion returns the configured SuperTuxKart addon-compatibility
// version string, passed to addonsync.New so catalog queries filter to
// addons compatible with the fleet's configured game version.
func (f *Fleet) STKVersion() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.STKVersion
}

func (f *Fleet) recordEvent(kind store.EventKind, instanceName, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordEventTimeout)
	defer cancel()
	if err := f.store.RecordEvent(ctx, store.Event{Kind: kind, InstanceName: instanceName, Detail: detail, OccurredAt: time.Now()}); err != nil {
		slog.Warn("fleet: failed to record audit event", "kind", kind, "name", instanceName, "err", err)
	}
}

func (f *Fleet) globalLogIgnores() config.LogIgnoreTable {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.GlobalLogIgnores
}

// GlobalLogIgnores returns the live fleet-wide log-ignore table, for the
// stk-globallogignore-{levels,objects} commands.
func (f *Fleet) GlobalLogIgnores() config.LogIgnoreTable {
	return f.globalLogIgnores()
}

// ServerLogIgnores returns name's per-server log-ignore table, for the
// stk-logignore{,-levels,-objects} command family.
func (f *Fleet) ServerLogIgnores(name string) (config.LogIgnoreTable, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cfg.Servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return entry.LogIgnores, nil
}

// EditGlobalLogIgnores mutates the fleet-wide log-ignore table and
// persists the document. No instance rebuild is required: every instance
// consults this table live through FleetGate.GlobalLogIgnores.
func (f *Fleet) EditGlobalLogIgnores(mutate func(config.LogIgnoreTable)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg.GlobalLogIgnores == nil {
		f.cfg.GlobalLogIgnores = config.LogIgnoreTable{}
	}
	mutate(f.cfg.GlobalLogIgnores)
	return f.cfg.Save(f.cfgPath)
}

// buildInstance constructs (but does not launch) the Instance for an
// already-loaded config entry. Caller holds f.mu for writing, or this is
// called before the Fleet is shared (New).
func (f *Fleet) buildInstance(name string) *instance.Instance {
	eff := f.cfg.EffectiveServer(name)
	return instance.New(toSpec(name, eff), instance.FleetGate{
		StartStop:        &f.startStop,
		RestartSignal:    f.restartSignal,
		GlobalLogIgnores: f.globalLogIgnores,
	})
}

func toSpec(name string, eff config.ServerEntry) instance.Spec {
	spec := instance.Spec{
		Name:           name,
		ExecutablePath: eff.ExecutablePath,
		DataPath:       eff.DataPath,
		ConfigPath:     eff.ConfigPath,
		ExtraEnv:       eff.ExtraEnv,
		ExtraArgs:      eff.ExtraArgs,
		LogIgnores:     eff.LogIgnores,
	}
	if eff.Autostart != nil {
		spec.Autostart = *eff.Autostart
	}
	if eff.Autorestart != nil {
		spec.Autorestart = *eff.Autorestart
	}
	if eff.AutorestartPause != nil {
		spec.AutorestartPause = time.Duration(*eff.AutorestartPause * float64(time.Second))
	}
	if eff.TimedAutorestart != nil {
		spec.TimedAutorestart = *eff.TimedAutorestart
	}
	if eff.TimedAutorestartInterval != nil {
		spec.TimedAutorestartInterval = time.Duration(*eff.TimedAutorestartInterval * float64(time.Second))
	}
	if eff.StartupTimeout != nil {
		spec.StartupTimeout = time.Duration(*eff.StartupTimeout * float64(time.Second))
	}
	if eff.ShutdownTimeout != nil {
		spec.ShutdownTimeout = time.Duration(*eff.ShutdownTimeout * float64(time.Second))
	}
	return spec
}

// DumpYAML renders the whole fleet document as YAML, backing stk-getcfg.
func (f *Fleet) DumpYAML() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.DumpYAML()
}

// EditDefaults mutates the fleet-wide defaults document and persists it,
// backing stk-setcfg. It does not retroactively touch any already-built
// Instance's Spec — per-server EditServer (or a subsequent ReloadConfig)
// is what propagates a changed default to a particular instance.
func (f *Fleet) EditDefaults(mutate func(*config.Fleet)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mutate(f.cfg)
	return f.cfg.Save(f.cfgPath)
}

// Instance returns the named instance, or (nil, false).
func (f *Fleet) Instance(name string) (*instance.Instance, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, ok := f.instances[name]
	return in, ok
}

// ListServers returns instance names in sorted order, paginated 10 per
// page (matching the addon query surfaces' page size).
func (f *Fleet) ListServers(page int) ([]string, int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.instances))
	for name := range f.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	maxPage, start, end := paginate(len(names), 10, page)
	return names[start:end], maxPage
}

func paginate(total, pageSize, page int) (maxPage, start, end int) {
	maxPage = (total + pageSize - 1) / pageSize
	if maxPage < 1 {
		maxPage = 1
	}
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	start = (page - 1) * pageSize
	if start > total {
		start = total
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return maxPage, start, end
}

// CreateServer adds a new configured server, persists the fleet document,
// and constructs (but does not launch) its Instance.
func (f *Fleet) CreateServer(name string, entry config.ServerEntry) error {
	f.mu.Lock()
	if _, exists := f.instances[name]; exists {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	f.cfg.Servers[name] = &entry
	if err := f.cfg.Save(f.cfgPath); err != nil {
		delete(f.cfg.Servers, name)
		f.mu.Unlock()
		return err
	}
	in := f.buildInstance(name)
	f.instances[name] = in
	f.mu.Unlock()

	f.startSupervisor(name, in)
	return nil
}

// EditServer merges attrs onto the existing server entry, re-resolves the
// effective spec, persists, and updates the live Instance's spec for its
// next launch (an already-running process is unaffected, per spec.md
// §4.5's soft-reload semantics).
func (f *Fleet) EditServer(name string, mutate func(entry *config.ServerEntry)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.instances[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	entry, ok := f.cfg.Servers[name]
	if !ok {
		entry = &config.ServerEntry{}
		f.cfg.Servers[name] = entry
	}
	mutate(entry)
	if err := f.cfg.Save(f.cfgPath); err != nil {
		return err
	}
	in.UpdateSpec(toSpec(name, f.cfg.EffectiveServer(name)))
	return nil
}

// DeleteServer stops (if active) and removes name from both the live
// fleet and the persisted document.
func (f *Fleet) DeleteServer(ctx context.Context, name string) error {
	f.mu.Lock()
	in, ok := f.instances[name]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(f.instances, name)
	delete(f.cfg.Servers, name)
	err := f.cfg.Save(f.cfgPath)
	f.mu.Unlock()

	f.stopSupervisor(name)
	if in.Active() {
		_ = in.Stop(ctx, false)
	}
	return err
}

// StartServer launches name (if not already active).
func (f *Fleet) StartServer(ctx context.Context, name string) error {
	in, ok := f.Instance(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f.launchAndWatch(ctx, name, in)
}

// StopServer stops name. restart controls whether the instance's own
// autorestart/condition-restart logic should still apply afterward.
func (f *Fleet) StopServer(ctx context.Context, name string, restart bool) error {
	in, ok := f.Instance(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return in.Stop(ctx, restart)
}

// RestartServer stops then relaunches name unconditionally.
func (f *Fleet) RestartServer(ctx context.Context, name string) error {
	in, ok := f.Instance(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if in.Active() {
		if err := in.Stop(ctx, false); err != nil {
			return err
		}
	}
	return f.launchAndWatch(ctx, name, in)
}

// StopAll stops every active instance concurrently, matching
// `asyncio.gather(*(server.stop(10) for server in ace.servers.values() if
// server.active))`: each instance is killed after 10s, or after its own
// ShutdownTimeout if that is shorter.
func (f *Fleet) StopAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	f.mu.RLock()
	instances := make([]*instance.Instance, 0, len(f.instances))
	for _, in := range f.instances {
		instances = append(instances, in)
	}
	f.mu.RUnlock()

	var wg sync.WaitGroup
	for _, in := range instances {
		if !in.Active() {
			continue
		}
		wg.Add(1)
		go func(in *instance.Instance) {
			defer wg.Done()
			if err := in.Stop(ctx, false); err != nil {
				slog.Warn("fleet: stop-all", "name", in.Name, "err", err)
			}
		}(in)
	}
	wg.Wait()
}

// BroadcastRestart wakes every instance's condition-restarter: an empty
// instance restarts immediately, a busy one waits until it empties.
func (f *Fleet) BroadcastRestart() {
	f.restartSignal.Broadcast()
}

// ReloadConfig re-reads the fleet document from disk. soft updates live
// attributes on existing instances in place (matching `wrapper_reloadcfg`
// without `full`); hard additionally stops every active instance with a
// 10s grace period and rebuilds the instance map from scratch, discarding
// any instance created since the last load that was never persisted.
func (f *Fleet) ReloadConfig(ctx context.Context, hard bool) error {
	if hard {
		f.StopAll(ctx)
		f.mu.Lock()
		names := make([]string, 0, len(f.instances))
		for name := range f.instances {
			names = append(names, name)
		}
		f.instances = map[string]*instance.Instance{}
		f.mu.Unlock()
		for _, name := range names {
			f.stopSupervisor(name)
		}
	}

	newCfg, err := config.Load(f.cfgPath)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.cfg = newCfg
	var added []string
	for name := range newCfg.Servers {
		if in, exists := f.instances[name]; exists {
			in.UpdateSpec(toSpec(name, newCfg.EffectiveServer(name)))
			continue
		}
		f.instances[name] = f.buildInstance(name)
		added = append(added, name)
	}
	f.mu.Unlock()

	for _, name := range added {
		if in, ok := f.Instance(name); ok {
			f.startSupervisor(name, in)
		}
	}
	return nil
}
