package addonsync

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// catalogDoc matches whatever wraps the flat list of addon entries in
// online_assets.xml; its own element name is never asserted (the upstream
// document's root tag is not part of the contract we depend on).
type catalogDoc struct {
	XMLName xml.Name
	Addons  []addonXML `xml:",any"`
}

// addonXML is the wire shape of one catalog entry or on-disk <type>.xml
// file. Unknown attributes are ignored by encoding/xml, and — unlike
// defusedxml in the original — encoding/xml never resolves external
// entities or DTDs by default, so no extra hardening is needed to satisfy
// the "safe XML parser" requirement.
type addonXML struct {
	XMLName           xml.Name
	ID                string `xml:"id,attr"`
	Name              string `xml:"name,attr"`
	Designer          string `xml:"designer,attr"`
	Uploader          string `xml:"uploader,attr"`
	Rating            string `xml:"rating,attr"`
	Revision          string `xml:"revision,attr"`
	Version           string `xml:"version,attr"`
	File              string `xml:"file,attr"`
	MinIncludeVersion string `xml:"min-include-version,attr"`
	MaxIncludeVersion string `xml:"max-include-version,attr"`
	Status            string `xml:"status,attr"`
	Soccer            string `xml:"soccer,attr"`
	Arena             string `xml:"arena,attr"`
	CTF               string `xml:"ctf,attr"`
	DefaultLapCount   string `xml:"default-lap-count,attr"`
}

func (x addonXML) toAddon() (*Addon, error) {
	a := &Addon{
		ID:                x.ID,
		Name:              x.Name,
		Designer:          x.Designer,
		Uploader:          x.Uploader,
		Version:           x.Version,
		File:              x.File,
		MinIncludeVersion: x.MinIncludeVersion,
		MaxIncludeVersion: x.MaxIncludeVersion,
		Tag:               x.XMLName.Local,
		Soccer:            x.Soccer == "Y",
		Arena:             x.Arena == "Y",
		CTF:               x.CTF == "Y",
		DefaultLapCount:   x.DefaultLapCount,
	}
	if x.Rating != "" {
		r, err := strconv.ParseFloat(x.Rating, 64)
		if err != nil {
			return nil, fmt.Errorf("rating: %w", err)
		}
		a.Rating = r
	}
	if x.Revision != "" {
		rev, err := strconv.Atoi(x.Revision)
		if err != nil {
			return nil, fmt.Errorf("revision: %w", err)
		}
		a.Revision = rev
	}
	if x.Status != "" {
		st, err := strconv.Atoi(x.Status)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		a.Status = AddonStatus(st)
	}
	return a, nil
}

// FetchCatalog retrieves and parses the remote catalog, replacing the
// in-memory catalog map and recomputing UpdatesAvailable. Entries outside
// [min-include-version, max-include-version] for the configured
// stkVersion are dropped; kart entries are dropped unless FetchKarts is
// set; when the same id appears more than once, the highest-revision
// entry wins.
func (s *Syncer) FetchCatalog(ctx context.Context) error {
	if len(s.installed) == 0 {
		slog.Info("addonsync: fetching online catalog for the first time")
	} else {
		slog.Info("addonsync: fetching online catalog again")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.OnlineAssetsURL, nil)
	if err != nil {
		return fmt.Errorf("addonsync: building catalog request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("addonsync: fetching catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("addonsync: fetching catalog: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("addonsync: reading catalog body: %w", err)
	}

	var doc catalogDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("addonsync: parsing catalog: %w", err)
	}
	slog.Info("addonsync: fetched catalog", "bytes", len(body), "entries", len(doc.Addons))

	s.mu.Lock()
	defer s.mu.Unlock()

	catalog := make(map[string]*Addon, len(doc.Addons))
	for _, x := range doc.Addons {
		addon, err := x.toAddon()
		if err != nil {
			slog.Warn("addonsync: skipping malformed catalog entry", "name", x.Name, "err", err)
			continue
		}
		if addon.Tag == "kart" && !s.cfg.FetchKarts {
			continue
		}
		if addon.MinIncludeVersion != "" && compareVersions(s.stkVersion, addon.MinIncludeVersion) < 0 {
			slog.Debug("addonsync: skipping incompatible addon", "id", addon.ID, "name", addon.Name)
			continue
		}
		if addon.MaxIncludeVersion != "" && compareVersions(s.stkVersion, addon.MaxIncludeVersion) > 0 {
			slog.Debug("addonsync: skipping incompatible addon", "id", addon.ID, "name", addon.Name)
			continue
		}
		if existing, ok := catalog[addon.ID]; ok && existing.Revision >= addon.Revision {
			continue
		}
		catalog[addon.ID] = addon
	}
	s.catalog = catalog

	var updates []*Addon
	for id, remote := range catalog {
		if local, ok := s.installed[id]; ok && remote.Revision > local.Revision {
			slog.Info("addonsync: update available", "id", id, "name", remote.Name, "from", local.Revision, "to", remote.Revision)
			updates = append(updates, remote)
		}
	}
	s.updatesAvailable = updates
	slog.Info("addonsync: catalog fetch complete")
	return nil
}

// FetchInstalled rescans the addon tree under AddonPath, rebuilding the
// installed map and per-type classification tables.
func (s *Syncer) FetchInstalled() error {
	slog.Info("addonsync: retrieving local addons")
	installed := map[string]*Addon{}
	byType := map[string]map[string]*Addon{"track": {}, "soccer": {}, "arena": {}, "kart": {}}

	types := []string{"track"}
	if s.cfg.FetchKarts {
		types = append(types, "kart")
	}
	for _, t := range types {
		dir := filepath.Join(s.cfg.AddonPath, t+"s")
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("addonsync: scanning %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			addon, err := loadInstalledAddon(dir, entry.Name(), t)
			if err != nil {
				slog.Error("addonsync: cannot load addon data", "dir", entry.Name(), "err", err)
				continue
			}
			for _, cls := range Classify(addon) {
				if m, ok := byType[cls]; ok {
					m[entry.Name()] = addon
				}
			}
			installed[entry.Name()] = addon
		}
	}

	s.mu.Lock()
	s.installed = installed
	s.byType = byType
	s.mu.Unlock()
	slog.Info("addonsync: local addons retrieved", "count", len(installed))
	return nil
}

func loadInstalledAddon(dir, name, tag string) (*Addon, error) {
	xmlPath := filepath.Join(dir, name, tag+".xml")
	data, err := os.ReadFile(xmlPath)
	if err != nil {
		return nil, fmt.Errorf("missing %s.xml: %w", tag, err)
	}
	var x addonXML
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", xmlPath, err)
	}
	addon, err := x.toAddon()
	if err != nil {
		return nil, err
	}
	addon.ID = name
	addon.Tag = tag
	return addon, nil
}
