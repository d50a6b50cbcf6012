package addonsync

import (
	"context"
	"log/slog"
	"time"
)

// StopTask cancels a named background task (currently only "autoupdate")
// if one is running.
func (s *Syncer) StopTask(name string) bool {
	return s.tasks.Stop(name)
}

// UpdateAll installs every pending catalog update not present in
// AutoupdateBanlist. Failures on individual addons are logged and do not
// interrupt the remaining batch, matching update_all's try/except-per-item
// loop.
func (s *Syncer) UpdateAll(ctx context.Context) error {
	s.mu.Lock()
	pending := append([]*Addon(nil), s.updatesAvailable...)
	banned := map[string]bool{}
	for _, id := range s.cfg.AutoupdateBanlist {
		banned[id] = true
	}
	s.mu.Unlock()

	slog.Info("addonsync: updating all addons", "count", len(pending))
	for _, addon := range pending {
		if banned[addon.ID] {
			slog.Debug("addonsync: skipping frozen addon", "id", addon.ID, "name", addon.Name)
			continue
		}
		if err := s.UpdateAddon(ctx, addon, true, false); err != nil {
			slog.Error("addonsync: update_all: error updating addon", "id", addon.ID, "err", err)
		}
	}
	slog.Info("addonsync: addons updated")
	return nil
}

// InstallNewAddons installs every catalog addon that is not yet installed,
// meets the rating floor, is not banned, respects the kart gate, and
// passes the configured status requirements.
func (s *Syncer) InstallNewAddons(ctx context.Context) error {
	s.mu.Lock()
	allow, deny := ParseRequirements(s.cfg.AutoinstallRequirements)
	banned := map[string]bool{}
	for _, id := range s.cfg.AutoinstallBanlist {
		banned[id] = true
	}
	var candidates []*Addon
	for id, addon := range s.catalog {
		if _, installed := s.installed[id]; installed {
			continue
		}
		if addon.Rating < s.cfg.AutoinstallMinRating {
			continue
		}
		if banned[id] {
			continue
		}
		if addon.Tag == "kart" && !s.cfg.AutoinstallKarts {
			continue
		}
		if !PassesFilter(addon.Status, allow, deny) {
			continue
		}
		candidates = append(candidates, addon)
	}
	s.mu.Unlock()

	slog.Info("addonsync: installing new addons", "count", len(candidates))
	for _, addon := range candidates {
		if _, err := s.InstallAddon(ctx, addon, false); err != nil {
			slog.Error("addonsync: cannot install new addon", "id", addon.ID, "name", addon.Name, "err", err)
		}
	}
	return nil
}

// UpdateAllInstallMore runs UpdateAll, optionally InstallNewAddons, and —
// if either modified anything — broadcasts the fleet restart signal and
// emits AddonBulkModified, clearing the modification flag.
func (s *Syncer) UpdateAllInstallMore(ctx context.Context, installMore bool) error {
	if err := s.UpdateAll(ctx); err != nil {
		return err
	}
	if installMore {
		if err := s.InstallNewAddons(ctx); err != nil {
			return err
		}
	}
	if s.modFlag.Swap(false) {
		s.broadcastRestart()
		s.AddonBulkModified.Emit(ctx, struct{}{}, nil)
	}
	return nil
}

// AutoupdateTask runs the long-lived autoupdate loop: sleep the configured
// interval, fetch the catalog, update everything outdated, optionally
// install new addons, clear the download directory, and broadcast a
// restart if anything changed. Returns once ctx is cancelled, Config's
// Autoupdate flag turns false, or StopTask("autoupdate") is called. Only
// one instance may run at a time.
func (s *Syncer) AutoupdateTask(ctx context.Context) {
	taskCtx, ok := s.tasks.Start(ctx, "autoupdate")
	if !ok {
		slog.Error("addonsync: another autoupdate task is already running, aborting")
		return
	}
	defer s.tasks.End("autoupdate")

	slog.Info("addonsync: autofetcher enabled", "interval", s.cfg.AutoupdateInterval)
	for s.cfg.Autoupdate {
		select {
		case <-ctx.Done():
			return
		case <-taskCtx.Done():
			return
		case <-time.After(s.cfg.AutoupdateInterval):
		}

		if err := s.FetchCatalog(taskCtx); err != nil {
			slog.Error("addonsync: autoupdate fetch failed", "err", err)
			continue
		}
		if err := s.UpdateAll(taskCtx); err != nil {
			slog.Error("addonsync: autoupdate update failed", "err", err)
		}
		if s.cfg.Autoinstall {
			if err := s.InstallNewAddons(taskCtx); err != nil {
				slog.Error("addonsync: autoupdate install failed", "err", err)
			}
		}
		slog.Info("addonsync: cleaning downloads directory")
		if err := s.ClearDownloads(); err != nil {
			slog.Error("addonsync: failed to clear downloads", "err", err)
		}
		if s.modFlag.Swap(false) {
			s.broadcastRestart()
		}
	}
}
