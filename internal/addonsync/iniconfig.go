package addonsync

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the AddonUpdater section of the extension's own INI-style
// document (spec.md §6: "Addon subsystem maintains a separate INI-style
// document under the extension directory with section AddonUpdater").
// No general-purpose INI library from the example pack covers a single
// flat key=value section with this exact default-filling behavior, so this
// is a small hand-rolled reader/writer — bufio.Scanner plus strings, the
// one permitted stdlib-only concern in this package (see DESIGN.md).
type Config struct {
	OnlineAssetsURL         string
	FetchKarts              bool
	Autoupdate              bool
	AutoupdateInterval      time.Duration
	AutoupdateBanlist       []string
	Autoinstall             bool
	AutoinstallKarts        bool
	AutoinstallMinRating    float64
	AutoinstallRequirements string
	AutoinstallBanlist      []string
	DownloadPath            string
	AddonPath               string
}

// DefaultConfig mirrors defaultconf['AddonUpdater'] in the original.
func DefaultConfig() *Config {
	return &Config{
		OnlineAssetsURL:         "https://online.supertuxkart.net/downloads/xml/online_assets.xml",
		FetchKarts:              false,
		Autoupdate:              true,
		AutoupdateInterval:      6 * time.Hour,
		AutoupdateBanlist:       nil,
		Autoinstall:             true,
		AutoinstallKarts:        false,
		AutoinstallMinRating:    1.0,
		AutoinstallRequirements: "+APPROVED,+DFSG,-ALPHA",
		AutoinstallBanlist:      nil,
		DownloadPath:            "downloads",
		AddonPath:               "addons",
	}
}

const iniSection = "AddonUpdater"

// LoadConfig reads the section from path; a missing file yields
// DefaultConfig() (the caller is then expected to Save it, matching the
// original's "if not os.path.isfile(config_path): save_config()").
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("addonsync: reading %s: %w", path, err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	inSection := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = strings.EqualFold(strings.Trim(line, "[]"), iniSection)
			continue
		}
		if !inSection {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		applyKV(cfg, strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("addonsync: parsing %s: %w", path, err)
	}
	return cfg, nil
}

func applyKV(cfg *Config, key, value string) {
	switch key {
	case "online_assets_url":
		cfg.OnlineAssetsURL = value
	case "fetch_karts":
		cfg.FetchKarts = parseBool(value)
	case "autoupdate":
		cfg.Autoupdate = parseBool(value)
	case "autoupdate_interval":
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.AutoupdateInterval = time.Duration(secs * float64(time.Second))
		}
	case "autoupdate_banlist":
		cfg.AutoupdateBanlist = splitBanlist(value)
	case "autoinstall":
		cfg.Autoinstall = parseBool(value)
	case "autoinstall_karts":
		cfg.AutoinstallKarts = parseBool(value)
	case "autoinstall_minrating":
		if r, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.AutoinstallMinRating = r
		}
	case "autoinstall_requirements":
		cfg.AutoinstallRequirements = value
	case "autoinstall_banlist":
		cfg.AutoinstallBanlist = splitBanlist(value)
	case "downloadpath":
		cfg.DownloadPath = value
	case "addonpath":
		cfg.AddonPath = value
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "on":
		return true
	default:
		return false
	}
}

func splitBanlist(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := requirementSplit.Split(v, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes cfg back to path as a single [AddonUpdater] section.
func (cfg *Config) Save(path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", iniSection)
	fmt.Fprintf(&b, "online_assets_url = %s\n", cfg.OnlineAssetsURL)
	fmt.Fprintf(&b, "fetch_karts = %t\n", cfg.FetchKarts)
	fmt.Fprintf(&b, "autoupdate = %t\n", cfg.Autoupdate)
	fmt.Fprintf(&b, "autoupdate_interval = %d\n", int(cfg.AutoupdateInterval.Seconds()))
	fmt.Fprintf(&b, "autoupdate_banlist = %s\n", strings.Join(cfg.AutoupdateBanlist, ", "))
	fmt.Fprintf(&b, "autoinstall = %t\n", cfg.Autoinstall)
	fmt.Fprintf(&b, "autoinstall_karts = %t\n", cfg.AutoinstallKarts)
	fmt.Fprintf(&b, "autoinstall_minrating = %g\n", cfg.AutoinstallMinRating)
	fmt.Fprintf(&b, "autoinstall_requirements = %s\n", cfg.AutoinstallRequirements)
	fmt.Fprintf(&b, "autoinstall_banlist = %s\n", strings.Join(cfg.AutoinstallBanlist, ", "))
	fmt.Fprintf(&b, "downloadpath = %s\n", cfg.DownloadPath)
	fmt.Fprintf(&b, "addonpath = %s\n", cfg.AddonPath)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("addonsync: writing %s: %w", path, err)
	}
	return nil
}

func addToBanlist(list []string, id string) ([]string, bool) {
	for _, v := range list {
		if v == id {
			return list, false
		}
	}
	return append(list, id), true
}

func removeFromBanlist(list []string, id string) ([]string, bool) {
	for i, v := range list {
		if v == id {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}
