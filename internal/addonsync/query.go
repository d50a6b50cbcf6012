package addonsync

import (
	"fmt"
	"sort"
)

// paginate returns the (maxPage, start, end) slice bounds for a pageSize-
// item page out of total, clamping page into [1, maxPage].
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
	end = start + pageSize
	if end > total {
		end = total
	}
	if start > end {
		start = end
	}
	return maxPage, start, end
}

func sortedByID(m map[string]*Addon) []*Addon {
	out := make([]*Addon, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAddons returns one page (10 per page) of the online catalog,
// optionally restricted to a requirements string (as ParseRequirements
// accepts) and/or to addons not yet installed.
func (s *Syncer) ListAddons(page int, requirements string, notInstalled bool) (addons []*Addon, maxPage int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var allow, deny AddonStatus
	filtered := requirements != ""
	if filtered {
		allow, deny = ParseRequirements(requirements)
	}
	all := sortedByID(s.catalog)
	var out []*Addon
	for _, a := range all {
		if notInstalled {
			if _, ok := s.installed[a.ID]; ok {
				continue
			}
		}
		if filtered && !PassesFilter(a.Status, allow, deny) {
			continue
		}
		out = append(out, a)
	}
	maxPage, start, end := paginate(len(out), 10, page)
	return out[start:end], maxPage
}

// ListInstalled returns one page (10 per page) of installed addons,
// optionally restricted to one classification ("track", "soccer",
// "arena", "kart").
func (s *Syncer) ListInstalled(page int, addonType string) (addons []*Addon, maxPage int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*Addon
	if m, ok := s.byType[addonType]; ok {
		all = sortedByID(m)
	} else {
		all = sortedByID(s.installed)
	}
	maxPage, start, end := paginate(len(all), 10, page)
	return all[start:end], maxPage
}

// AddonInfoView is the display-oriented merge of an addon's catalog and
// installed records, covering both "known online, not installed",
// "installed, still online" and "installed, delisted" cases — mirroring
// addoninfo's three-way branch in the original.
type AddonInfoView struct {
	Addon            *Addon
	Installed        bool
	InstalledVersion string
	LocalRevision    string
	RemoteRevision   string
	Classes          []string
}

// AddonInfo resolves display info for id, preferring the catalog record
// and falling back to the installed-only record.
func (s *Syncer) AddonInfo(id string) (*AddonInfoView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remote, hasRemote := s.catalog[id]
	local, hasLocal := s.installed[id]

	switch {
	case hasRemote:
		view := &AddonInfoView{Addon: remote, Installed: hasLocal, RemoteRevision: fmt.Sprintf("%d", remote.Revision)}
		if hasLocal {
			view.InstalledVersion = local.Version
			view.LocalRevision = fmt.Sprintf("%d", local.Revision)
			view.Classes = Classify(local)
		} else {
			view.InstalledVersion = "(on-install)"
			view.LocalRevision = "(on-install)"
			view.Classes = []string{"(on-install)"}
		}
		return view, nil
	case hasLocal:
		return &AddonInfoView{
			Addon:            local,
			Installed:        true,
			InstalledVersion: local.Version,
			LocalRevision:    fmt.Sprintf("%d", local.Revision),
			RemoteRevision:   "(not uploaded)",
			Classes:          Classify(local),
		}, nil
	default:
		return nil, fmt.Errorf("addonsync: addon %q not found", id)
	}
}

// Updates returns one page (10 per page) of the currently pending update
// set.
func (s *Syncer) Updates(page int) (addons []*Addon, maxPage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]*Addon(nil), s.updatesAvailable...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	maxPage, start, end := paginate(len(out), 10, page)
	return out[start:end], maxPage
}

// CatalogAddon looks up a single catalog entry by id.
func (s *Syncer) CatalogAddon(id string) (*Addon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.catalog[id]
	return a, ok
}

// InstalledAddon looks up a single installed addon by id.
func (s *Syncer) InstalledAddon(id string) (*Addon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.installed[id]
	return a, ok
}
