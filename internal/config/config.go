// Package config loads and persists the supervisor's fleet document.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LevelIgnores maps a stringified log level number to suppression patterns.
type LevelIgnores map[string][]string

// LogIgnoreTable maps an objectName to its per-level suppression patterns.
type LogIgnoreTable map[string]LevelIgnores

// Matches reports whether line would be suppressed for (object, level).
func (t LogIgnoreTable) Matches(object string, level int, line string) bool {
	if t == nil {
		return false
	}
	byLevel, ok := t[object]
	if !ok {
		return false
	}
	patterns, ok := byLevel[levelKey(level)]
	if !ok {
		return false
	}
	for _, p := range patterns {
		if fullMatch(p, line) {
			return true
		}
	}
	return false
}

func levelKey(level int) string {
	return fmt.Sprintf("%d", level)
}

// ServerEntry holds one server's attributes. Any field left at its zero
// value is treated as "inherit the fleet default" by Fleet.EffectiveServer;
// Save writes only the attributes that differ from the default.
type ServerEntry struct {
	ExecutablePath           string            `json:"executable_path,omitempty" yaml:"executable_path,omitempty"`
	DataPath                 string            `json:"datapath,omitempty" yaml:"datapath,omitempty"`
	ConfigPath               string            `json:"config_path,omitempty" yaml:"config_path,omitempty"`
	ExtraEnv                 map[string]string `json:"extra_env,omitempty" yaml:"extra_env,omitempty"`
	ExtraArgs                []string          `json:"extra_args,omitempty" yaml:"extra_args,omitempty"`
	Autostart                *bool             `json:"autostart,omitempty" yaml:"autostart,omitempty"`
	Autorestart              *bool             `json:"autorestart,omitempty" yaml:"autorestart,omitempty"`
	AutorestartPause         *float64          `json:"autorestart_pause,omitempty" yaml:"autorestart_pause,omitempty"`
	TimedAutorestart         *bool             `json:"timed_autorestart,omitempty" yaml:"timed_autorestart,omitempty"`
	TimedAutorestartInterval *float64          `json:"timed_autorestart_interval,omitempty" yaml:"timed_autorestart_interval,omitempty"`
	StartupTimeout           *float64          `json:"startup_timeout,omitempty" yaml:"startup_timeout,omitempty"`
	ShutdownTimeout          *float64          `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
	LogIgnores               LogIgnoreTable    `json:"log_ignores,omitempty" yaml:"log_ignores,omitempty"`
}

// Fleet is the single on-disk JSON document describing the whole
// supervisor: fleet-wide defaults, global log-ignores, and every
// configured server. The persisted format is JSON (per the external
// interface contract); the parallel yaml tags back DumpYAML, which the
// stk-getcfg CLI command uses to show a human-readable view of the whole
// document without round-tripping through JSON's escaping.
type Fleet struct {
	STKVersion               string                  `json:"stk_version" yaml:"stk_version"`
	LogPath                  string                  `json:"logpath" yaml:"logpath"`
	DataPath                 string                  `json:"datapath" yaml:"datapath"`
	ExecutablePath           string                  `json:"executable_path" yaml:"executable_path"`
	Autostart                bool                    `json:"autostart" yaml:"autostart"`
	Autorestart              bool                    `json:"autorestart" yaml:"autorestart"`
	AutorestartPause         float64                 `json:"autorestart_pause" yaml:"autorestart_pause"`
	TimedAutorestart         bool                    `json:"timed_autorestart" yaml:"timed_autorestart"`
	TimedAutorestartInterval float64                 `json:"timed_autorestart_interval" yaml:"timed_autorestart_interval"`
	StartupTimeout           float64                 `json:"startup_timeout" yaml:"startup_timeout"`
	ShutdownTimeout          float64                 `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	ExtraEnv                 map[string]string       `json:"extra_env" yaml:"extra_env"`
	ExtraArgs                []string                `json:"extra_args" yaml:"extra_args"`
	ServerStartupTimeout     float64                 `json:"server_startup_timeout" yaml:"server_startup_timeout"`
	ServerShutdownTimeout    float64                 `json:"server_shutdown_timeout" yaml:"server_shutdown_timeout"`
	GlobalLogIgnores         LogIgnoreTable          `json:"global_logignores" yaml:"global_logignores"`
	Servers                  map[string]*ServerEntry `json:"servers" yaml:"servers"`
}

// Default returns a Fleet with sensible defaults for a fresh install.
func Default() *Fleet {
	return &Fleet{
		STKVersion:               "1.4",
		LogPath:                  "logs",
		DataPath:                 "data",
		ExecutablePath:           "supertuxkart",
		Autostart:                true,
		Autorestart:              true,
		AutorestartPause:         5,
		TimedAutorestart:         false,
		TimedAutorestartInterval: 21600,
		StartupTimeout:           30,
		ShutdownTimeout:          15,
		ExtraEnv:                 map[string]string{},
		ExtraArgs:                nil,
		ServerStartupTimeout:     30,
		ServerShutdownTimeout:    15,
		GlobalLogIgnores:         LogIgnoreTable{},
		Servers:                  map[string]*ServerEntry{},
	}
}

// Load reads a Fleet document from path. A missing file is not an error:
// callers get a fresh Default() fleet (ConfigError per the error-handling
// design is reserved for malformed, not absent, documents).
func Load(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	f := Default()
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return f, nil
}

// Save writes the fleet document to path as indented JSON. Each server
// entry is written reduced by DiffFromDefaults, so attributes equal to the
// fleet defaults are omitted; its own LogIgnores table is written as
// stored. The entries held in f.Servers are not modified.
func (f *Fleet) Save(path string) error {
	out := *f
	out.Servers = make(map[string]*ServerEntry, len(f.Servers))
	for name, entry := range f.Servers {
		reduced := f.DiffFromDefaults(f.EffectiveServer(name))
		reduced.LogIgnores = entry.LogIgnores
		out.Servers[name] = reduced
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling fleet: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// DumpYAML renders the fleet document as YAML for stk-getcfg, which shows
// operators a readable snapshot instead of raw JSON.
func (f *Fleet) DumpYAML() ([]byte, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("config: marshaling fleet as yaml: %w", err)
	}
	return data, nil
}

// EffectiveServer merges a stored ServerEntry's overrides onto the fleet
// defaults, returning the fully resolved attribute set a ServerInstance
// should launch with.
func (f *Fleet) EffectiveServer(name string) ServerEntry {
	eff := ServerEntry{
		ExecutablePath:           f.ExecutablePath,
		DataPath:                 f.DataPath,
		ExtraEnv:                 f.ExtraEnv,
		ExtraArgs:                f.ExtraArgs,
		Autostart:                boolPtr(f.Autostart),
		Autorestart:              boolPtr(f.Autorestart),
		AutorestartPause:         floatPtr(f.AutorestartPause),
		TimedAutorestart:         boolPtr(f.TimedAutorestart),
		TimedAutorestartInterval: floatPtr(f.TimedAutorestartInterval),
		StartupTimeout:           floatPtr(f.ServerStartupTimeout),
		ShutdownTimeout:          floatPtr(f.ServerShutdownTimeout),
		LogIgnores:               f.GlobalLogIgnores,
	}
	entry, ok := f.Servers[name]
	if !ok {
		return eff
	}
	if entry.ExecutablePath != "" {
		eff.ExecutablePath = entry.ExecutablePath
	}
	if entry.DataPath != "" {
		eff.DataPath = entry.DataPath
	}
	if entry.ConfigPath != "" {
		eff.ConfigPath = entry.ConfigPath
	}
	if entry.ExtraEnv != nil {
		eff.ExtraEnv = entry.ExtraEnv
	}
	if entry.ExtraArgs != nil {
		eff.ExtraArgs = entry.ExtraArgs
	}
	if entry.Autostart != nil {
		eff.Autostart = entry.Autostart
	}
	if entry.Autorestart != nil {
		eff.Autorestart = entry.Autorestart
	}
	if entry.AutorestartPause != nil {
		eff.AutorestartPause = entry.AutorestartPause
	}
	if entry.TimedAutorestart != nil {
		eff.TimedAutorestart = entry.TimedAutorestart
	}
	if entry.TimedAutorestartInterval != nil {
		eff.TimedAutorestartInterval = entry.TimedAutorestartInterval
	}
	if entry.StartupTimeout != nil {
		eff.StartupTimeout = entry.StartupTimeout
	}
	if entry.ShutdownTimeout != nil {
		eff.ShutdownTimeout = entry.ShutdownTimeout
	}
	if entry.LogIgnores != nil {
		eff.LogIgnores = entry.LogIgnores
	}
	return eff
}

// DiffFromDefaults reduces a fully resolved ServerEntry to only the
// attributes that differ from the fleet defaults, matching the "per-server
// entries omit any attribute equal to the fleet default" save rule.
func (f *Fleet) DiffFromDefaults(resolved ServerEntry) *ServerEntry {
	diff := &ServerEntry{}
	if resolved.ExecutablePath != f.ExecutablePath {
		diff.ExecutablePath = resolved.ExecutablePath
	}
	if resolved.DataPath != f.DataPath {
		diff.DataPath = resolved.DataPath
	}
	diff.ConfigPath = resolved.ConfigPath
	if !mapEqual(resolved.ExtraEnv, f.ExtraEnv) {
		diff.ExtraEnv = resolved.ExtraEnv
	}
	if !sliceEqual(resolved.ExtraArgs, f.ExtraArgs) {
		diff.ExtraArgs = resolved.ExtraArgs
	}
	if resolved.Autostart != nil && *resolved.Autostart != f.Autostart {
		diff.Autostart = resolved.Autostart
	}
	if resolved.Autorestart != nil && *resolved.Autorestart != f.Autorestart {
		diff.Autorestart = resolved.Autorestart
	}
	if resolved.AutorestartPause != nil && *resolved.AutorestartPause != f.AutorestartPause {
		diff.AutorestartPause = resolved.AutorestartPause
	}
	if resolved.TimedAutorestart != nil && *resolved.TimedAutorestart != f.TimedAutorestart {
		diff.TimedAutorestart = resolved.TimedAutorestart
	}
	if resolved.TimedAutorestartInterval != nil && *resolved.TimedAutorestartInterval != f.TimedAutorestartInterval {
		diff.TimedAutorestartInterval = resolved.TimedAutorestartInterval
	}
	if resolved.StartupTimeout != nil && *resolved.StartupTimeout != f.ServerStartupTimeout {
		diff.StartupTimeout = resolved.StartupTimeout
	}
	if resolved.ShutdownTimeout != nil && *resolved.ShutdownTimeout != f.ServerShutdownTimeout {
		diff.ShutdownTimeout = resolved.ShutdownTimeout
	}
	if resolved.LogIgnores != nil {
		diff.LogIgnores = resolved.LogIgnores
	}
	return diff
}

func boolPtr(b bool) *bool       { return &b }
func floatPtr(f float64) *float64 { return &f }

func mapEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
