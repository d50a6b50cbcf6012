// Package addonsync fetches the remote SuperTuxKart addon catalog,
// reconciles it against the locally installed addon tree, and performs
// the download/unpack/remove operations needed to keep them in sync. It
// mirrors addon_updater.py's AddonUpdater extension: a catalog cache, an
// installed-addon mirror classified by game mode, install/update/
// uninstall operations gated by a status allow/deny predicate, and an
// autoupdate loop that can trigger a fleet-wide restart broadcast.
package addonsync

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nobwow/stkwrapper-go/internal/handlerchain"
	"github.com/nobwow/stkwrapper-go/internal/store"
	"github.com/nobwow/stkwrapper-go/internal/syncutil"
	"golang.org/x/sync/semaphore"
)

// Syncer owns the catalog cache, the installed-addon mirror, and the
// autoupdate background task. One Syncer serves the whole fleet — addons
// are not per-instance.
type Syncer struct {
	cfg     *Config
	cfgPath string

	stkVersion string
	httpClient *http.Client
	downloadSem *semaphore.Weighted

	store         store.Store
	restartSignal *syncutil.Broadcaster

	mu               sync.Mutex
	catalog          map[string]*Addon
	installed        map[string]*Addon
	byType           map[string]map[string]*Addon
	updatesAvailable []*Addon

	modFlag atomic.Bool

	// AddonInstalled/AddonUninstalled are cancellable: a handler returning
	// false vetoes the operation before any filesystem change happens.
	// AddonUpdated and AddonBulkModified are observer-only.
	AddonInstalled    *handlerchain.Chain[*Addon]
	AddonUninstalled  *handlerchain.Chain[*Addon]
	AddonUpdated      *handlerchain.Chain[*Addon]
	AddonBulkModified *handlerchain.Chain[struct{}]

	tasks *syncutil.TaskRegistry
}

// New constructs a Syncer. cfgPath is the extension's own INI document
// (loaded immediately, seeded with DefaultConfig() if absent); stkVersion
// is the supervised binary's version string, used for catalog version
// gating.
func New(cfgPath, stkVersion string) (*Syncer, error) {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := cfg.Save(cfgPath); err != nil {
			return nil, err
		}
	}

	s := &Syncer{
		cfg:               cfg,
		cfgPath:           cfgPath,
		stkVersion:        stkVersion,
		httpClient:        &http.Client{Timeout: 5 * time.Minute},
		downloadSem:       semaphore.NewWeighted(4),
		store:             store.NullStore{},
		restartSignal:     syncutil.NewBroadcaster(),
		catalog:           map[string]*Addon{},
		installed:         map[string]*Addon{},
		byType:            map[string]map[string]*Addon{"track": {}, "soccer": {}, "arena": {}, "kart": {}},
		AddonInstalled:    handlerchain.New[*Addon](true),
		AddonUninstalled:  handlerchain.New[*Addon](true),
		AddonUpdated:      handlerchain.New[*Addon](false),
		AddonBulkModified: handlerchain.New[struct{}](false),
		tasks:             syncutil.NewTaskRegistry(),
	}
	if err := s.FetchInstalled(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetStore attaches the audit-log store (defaults to store.NullStore{}).
func (s *Syncer) SetStore(st store.Store) { s.store = st }

// SetRestartSignal attaches the fleet-wide restart broadcaster that
// UpdateAllInstallMore and the autoupdate loop signal after a bulk
// modification (wired to the same FleetGate.RestartSignal instances
// observe — see internal/fleet).
func (s *Syncer) SetRestartSignal(b *syncutil.Broadcaster) { s.restartSignal = b }

func (s *Syncer) recordEvent(kind store.EventKind, addonID, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordEvent(ctx, store.Event{Kind: kind, AddonID: addonID, Detail: detail, OccurredAt: time.Now()}); err != nil {
		slog.Warn("addonsync: failed to record audit event", "kind", kind, "addon_id", addonID, "err", err)
	}
}

// downloadAddon downloads a catalog entry's zip to downloadpath/<id>.zip,
// logging progress on every 16th chunk read and when it reaches 100%.
func (s *Syncer) downloadAddon(ctx context.Context, id, url string) (string, error) {
	if err := s.downloadSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.downloadSem.Release(1)

	if err := os.MkdirAll(s.cfg.DownloadPath, 0o755); err != nil {
		return "", fmt.Errorf("addonsync: creating download path: %w", err)
	}
	path := filepath.Join(s.cfg.DownloadPath, id+".zip")
	slog.Info("addonsync: downloading addon", "id", id, "url", url, "path", path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("addonsync: building download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("addonsync: downloading %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("addonsync: downloading %s: unexpected status %s", id, resp.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("addonsync: creating %s: %w", path, err)
	}
	defer f.Close()

	total := resp.ContentLength
	slog.Info("addonsync: downloadable zip size", "id", id, "kb", float64(total)/1024)

	var downloaded int64
	buf := make([]byte, 32*1024)
	chunk := 0
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("addonsync: writing %s: %w", path, werr)
			}
			downloaded += int64(n)
			progress := 0
			if total > 0 {
				progress = int(math.Floor(float64(downloaded) / float64(total) * 100))
			}
			if progress == 100 || chunk%16 == 0 {
				slog.Info("addonsync: download progress", "id", id, "percent", progress)
			}
			chunk++
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("addonsync: downloading %s: %w", id, rerr)
		}
	}
	slog.Info("addonsync: addon downloaded", "id", id)
	return path, nil
}

// unpackAddon extracts a downloaded zip into addonpath/<dirtag(tag)>s/<id>,
// clearing any prior contents first (non-atomic — a failure partway
// through leaves the target directory partially overwritten, matching the
// original's rmtree-then-extractall sequence).
func (s *Syncer) unpackAddon(id, tag, archivePath string) (string, error) {
	target := filepath.Join(s.cfg.AddonPath, dirTag(tag)+"s", id)
	slog.Info("addonsync: unpacking addon", "id", id, "path", archivePath, "target", target)
	if _, err := os.Stat(target); err == nil {
		if err := os.RemoveAll(target); err != nil {
			return "", fmt.Errorf("addonsync: clearing %s: %w", target, err)
		}
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("addonsync: creating %s: %w", target, err)
	}
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("addonsync: opening %s: %w", archivePath, err)
	}
	defer r.Close()
	for _, f := range r.File {
		if err := extractOne(target, f); err != nil {
			return "", fmt.Errorf("addonsync: extracting %s: %w", f.Name, err)
		}
	}
	slog.Info("addonsync: addon extracted", "id", id)
	return target, nil
}

func extractOne(target string, f *zip.File) error {
	destPath := filepath.Join(target, f.Name)
	if rel, err := filepath.Rel(target, destPath); err != nil || rel == ".." || len(rel) >= 2 && rel[:2] == ".." {
		return fmt.Errorf("zip entry %q escapes target directory", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// DownloadPath returns the directory downloaded archives are written to,
// so callers (the unpackaddon command) can locate a previously
// downloaded archive without re-downloading it.
func (s *Syncer) DownloadPath() string { return s.cfg.DownloadPath }

// DownloadAddon downloads addon's archive to the download directory
// without unpacking it, backing the standalone downloadaddon command
// (addon_updater.py's download_addon).
func (s *Syncer) DownloadAddon(ctx context.Context, addon *Addon) (string, error) {
	return s.downloadAddon(ctx, addon.ID, addon.File)
}

// UnpackAddon extracts addon's previously downloaded archive at
// archivePath into the addon tree, backing the standalone unpackaddon
// command (addon_updater.py's unpack_addon). It does not update the
// installed-addon mirror; only FetchInstalled rescans the addon tree.
func (s *Syncer) UnpackAddon(addon *Addon, archivePath string) (string, error) {
	return s.unpackAddon(addon.ID, addon.Tag, archivePath)
}

// InstallAddon downloads and unpacks a catalog addon not already
// installed. Returns false without changing anything if a registered
// AddonInstalled handler vetoes it.
func (s *Syncer) InstallAddon(ctx context.Context, addon *Addon, restart bool) (bool, error) {
	if !s.AddonInstalled.Emit(ctx, addon, nil) {
		return false, nil
	}
	archivePath, err := s.downloadAddon(ctx, addon.ID, addon.File)
	if err != nil {
		return false, err
	}
	addonType := dirTag(addon.Tag)
	dir, err := s.unpackAddon(addon.ID, addon.Tag, archivePath)
	if err != nil {
		return false, err
	}
	installed, err := loadInstalledAddonAt(dir, addon.ID, addonType)
	if err != nil {
		return false, fmt.Errorf("addonsync: addon %s missing %s.xml after install: %w", addon.ID, addonType, err)
	}

	s.mu.Lock()
	for _, cls := range Classify(installed) {
		if m, ok := s.byType[cls]; ok {
			m[addon.ID] = installed
		}
	}
	s.installed[addon.ID] = installed
	s.mu.Unlock()

	s.modFlag.Store(true)
	s.recordEvent(store.EventAddonInstalled, addon.ID, addon.Name)
	slog.Info("addonsync: addon installed", "id", addon.ID, "tag", addon.Tag)
	if restart {
		s.broadcastRestart()
	}
	return true, nil
}

func loadInstalledAddonAt(dirPath, id, tag string) (*Addon, error) {
	xmlPath := filepath.Join(dirPath, tag+".xml")
	data, err := os.ReadFile(xmlPath)
	if err != nil {
		return nil, err
	}
	var x addonXML
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	a, err := x.toAddon()
	if err != nil {
		return nil, err
	}
	a.ID = id
	a.Tag = tag
	return a, nil
}

// UpdateAddon re-downloads and re-unpacks addon over its current install,
// rewriting the installed revision. removeFromUpdates controls whether the
// entry is dropped from UpdatesAvailable (UpdateAll passes true).
func (s *Syncer) UpdateAddon(ctx context.Context, addon *Addon, removeFromUpdates, restart bool) error {
	archivePath, err := s.downloadAddon(ctx, addon.ID, addon.File)
	if err != nil {
		return err
	}
	if _, err := s.unpackAddon(addon.ID, addon.Tag, archivePath); err != nil {
		return err
	}

	s.mu.Lock()
	if installed, ok := s.installed[addon.ID]; ok {
		installed.Revision = addon.Revision
	}
	if removeFromUpdates {
		s.updatesAvailable = removeAddon(s.updatesAvailable, addon.ID)
	}
	s.mu.Unlock()

	s.modFlag.Store(true)
	s.AddonUpdated.Emit(ctx, addon, nil)
	s.recordEvent(store.EventAddonUpdated, addon.ID, addon.Name)
	slog.Info("addonsync: addon updated", "id", addon.ID, "tag", addon.Tag)
	if restart {
		s.broadcastRestart()
	}
	return nil
}

func removeAddon(list []*Addon, id string) []*Addon {
	out := list[:0]
	for _, a := range list {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// UninstallAddon removes an installed addon's directory and, unless ban is
// false, adds its id to the autoinstall banlist so it is not immediately
// reinstalled by the next autoupdate pass.
func (s *Syncer) UninstallAddon(ctx context.Context, id string, ban bool) (bool, error) {
	s.mu.Lock()
	addon, ok := s.installed[id]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("addonsync: addon %q is not installed", id)
	}
	if !s.AddonUninstalled.Emit(ctx, addon, nil) {
		return false, nil
	}

	target := filepath.Join(s.cfg.AddonPath, dirTag(addon.Tag)+"s", id)
	if _, err := os.Stat(target); err != nil {
		return false, fmt.Errorf("addonsync: cannot uninstall %s: directory %q not found: %w", id, target, err)
	}
	if err := os.RemoveAll(target); err != nil {
		return false, fmt.Errorf("addonsync: removing %s: %w", target, err)
	}

	s.mu.Lock()
	delete(s.installed, id)
	for _, m := range s.byType {
		delete(m, id)
	}
	s.mu.Unlock()

	if ban {
		s.BanAddon(id)
	}
	s.modFlag.Store(true)
	s.recordEvent(store.EventAddonUninstalled, id, addon.Name)
	slog.Info("addonsync: addon uninstalled", "id", id)
	return true, nil
}

// BanAddon appends id to the persisted autoinstall banlist, if not
// already present.
func (s *Syncer) BanAddon(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, added := addToBanlist(s.cfg.AutoinstallBanlist, id)
	if !added {
		return false
	}
	s.cfg.AutoinstallBanlist = updated
	if err := s.cfg.Save(s.cfgPath); err != nil {
		slog.Error("addonsync: failed to persist ban list", "err", err)
		return false
	}
	slog.Info("addonsync: banned addon from autoinstall", "id", id)
	return true
}

// UnbanAddon removes id from the persisted autoinstall banlist.
func (s *Syncer) UnbanAddon(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, removed := removeFromBanlist(s.cfg.AutoinstallBanlist, id)
	if !removed {
		return false
	}
	s.cfg.AutoinstallBanlist = updated
	if err := s.cfg.Save(s.cfgPath); err != nil {
		slog.Error("addonsync: failed to persist ban list", "err", err)
		return false
	}
	slog.Info("addonsync: unbanned addon from autoinstall", "id", id)
	return true
}

func (s *Syncer) broadcastRestart() {
	s.restartSignal.Broadcast()
	s.recordEvent(store.EventRestartBroadcast, "", "addon modification")
}

// ClearDownloads removes everything under the download directory,
// matching the autoupdate loop's cleanup step.
func (s *Syncer) ClearDownloads() error {
	entries, err := os.ReadDir(s.cfg.DownloadPath)
	if err != nil {
		return fmt.Errorf("addonsync: scanning download path: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.cfg.DownloadPath, e.Name())); err != nil {
			return fmt.Errorf("addonsync: clearing %s: %w", e.Name(), err)
		}
	}
	return nil
}
