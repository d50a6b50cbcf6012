package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nobwow/stkwrapper-go/internal/addonsync"
	"github.com/nobwow/stkwrapper-go/internal/config"
	"github.com/nobwow/stkwrapper-go/internal/enhancer"
	"github.com/nobwow/stkwrapper-go/internal/fleet"
)

type cmdFunc = func(ctx context.Context, d *Dispatcher, args []string) (string, error)

var commandTable map[string]cmdFunc

func init() {
	commandTable = map[string]cmdFunc{
		"stk-help":          cmdHelp,
		"stk-create-server": cmdCreateServer,
		"stk-edit-server":   cmdEditServer,
		"stk-start":         cmdStart,
		"stk-stop":          cmdStop,
		"stk-restart":       cmdRestart,
		"stk-stopall":       cmdStopAll,
		"stk-cmd":           cmdStuff,
		"stk-servers":       cmdServers,
		"stk-norestart":     cmdNorestart,
		"stk-timed-restart": cmdTimedRestart,
		"reloadcfg":         cmdReloadCfg,
		"stk-reloadcfg":     cmdReloadCfg,
		"stk-getcfg":        cmdGetCfg,
		"stk-setcfg":        cmdSetCfg,
		"stk-enhance":       cmdEnhance,
		"stk-ensoccer":      cmdEnsoccer,
		"stk-unenhance":     cmdUnenhance,
		"stk-enhancers":     cmdEnhancers,
		"stk-score":         cmdScore,
		"stk-modediff":      cmdModeDiff,
		"stk-69":            cmd69,

		"stk-logignore-add":      cmdLogIgnoreAdd,
		"stk-logignore-del":      cmdLogIgnoreDel,
		"stk-logignore-dellevel": cmdLogIgnoreDelLevel,
		"stk-logignore-delobj":   cmdLogIgnoreDelObj,
		"stk-logignore-levels":   cmdLogIgnoreLevels,
		"stk-logignore-objects":  cmdLogIgnoreObjects,
		"stk-logignores":         cmdLogIgnores,

		"stk-globallogignore-add":      cmdGlobalLogIgnoreAdd,
		"stk-globallogignore-del":      cmdGlobalLogIgnoreDel,
		"stk-globallogignore-dellevel": cmdGlobalLogIgnoreDelLevel,
		"stk-globallogignore-delobj":   cmdGlobalLogIgnoreDelObj,
		"stk-globallogignore-levels":   cmdGlobalLogIgnoreLevels,
		"stk-globallogignore-objects":  cmdGlobalLogIgnoreObjects,

		"check-available": cmdCheckAvailable,
		"listaddons":      cmdListAddons,
		"listinstalled":   cmdListInstalled,
		"addoninfo":       cmdAddonInfo,
		"updates":         cmdUpdates,
		"installaddon":    cmdInstallAddon,
		"updateaddon":     cmdUpdateAddon,
		"updateall":       cmdUpdateAll,
		"uninstalladdon":  cmdUninstallAddon,
		"banaddon":        cmdBanAddon,
		"unbanaddon":      cmdUnbanAddon,
		"downloadaddon":   cmdDownloadAddon,
		"unpackaddon":     cmdUnpackAddon,
	}
}

func cmdHelp(_ context.Context, d *Dispatcher, _ []string) (string, error) {
	names := commandNames(d.commands)
	return "commands: " + strings.Join(names, ", "), nil
}

// --- fleet lifecycle ---

func cmdCreateServer(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 2, "stk-create-server <name> <executable> [configpath]"); err != nil {
		return "", err
	}
	entry := config.ServerEntry{ExecutablePath: args[1]}
	if len(args) > 2 {
		entry.ConfigPath = args[2]
	}
	if err := d.Fleet.CreateServer(args[0], entry); err != nil {
		return "", err
	}
	return fmt.Sprintf("server %q created", args[0]), nil
}

func cmdEditServer(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 3, "stk-edit-server <name> <field> <value>"); err != nil {
		return "", err
	}
	name, field, value := args[0], args[1], strings.Join(args[2:], " ")
	var applyErr error
	err := d.Fleet.EditServer(name, func(entry *config.ServerEntry) {
		applyErr = applyServerField(entry, field, value)
	})
	if err != nil {
		return "", err
	}
	if applyErr != nil {
		return "", applyErr
	}
	return fmt.Sprintf("server %q: %s set", name, field), nil
}

func cmdStart(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-start <name>"); err != nil {
		return "", err
	}
	if err := d.Fleet.StartServer(ctx, args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("server %q started", args[0]), nil
}

func cmdStop(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-stop <name> [restart]"); err != nil {
		return "", err
	}
	restart := len(args) > 1 && (args[1] == "restart" || args[1] == "true")
	if err := d.Fleet.StopServer(ctx, args[0], restart); err != nil {
		return "", err
	}
	return fmt.Sprintf("server %q stopped", args[0]), nil
}

func cmdRestart(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-restart <name>"); err != nil {
		return "", err
	}
	if err := d.Fleet.RestartServer(ctx, args[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("server %q restarted", args[0]), nil
}

func cmdStopAll(ctx context.Context, d *Dispatcher, _ []string) (string, error) {
	d.Fleet.StopAll(ctx)
	return "all active servers stopped", nil
}

func cmdStuff(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 2, "stk-cmd <name> <text...>"); err != nil {
		return "", err
	}
	in, ok := d.Fleet.Instance(args[0])
	if !ok {
		return "", fleet.ErrNotFound
	}
	if err := in.Stuff(strings.Join(args[1:], " ")); err != nil {
		return "", err
	}
	return "", nil
}

func cmdServers(_ context.Context, d *Dispatcher, args []string) (string, error) {
	page := 1
	if len(args) > 0 {
		page = parseIntArg(args[0], 1)
	}
	names, maxPage := d.Fleet.ListServers(page)
	var b strings.Builder
	fmt.Fprintf(&b, "stk servers (page %d of %d):\n", page, maxPage)
	for _, name := range names {
		in, ok := d.Fleet.Instance(name)
		pid := -1
		if ok {
			pid = in.PID()
		}
		if s, ok := d.Fleet.Sampler().Latest(name); ok && pid > 0 {
			fmt.Fprintf(&b, "%s: pid %d, rss %d KiB, cpu %.1f%%\n", name, pid, s.RSSBytes/1024, s.CPUPercent)
			continue
		}
		fmt.Fprintf(&b, "%s: pid %d\n", name, pid)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func cmdNorestart(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-norestart <name>"); err != nil {
		return "", err
	}
	in, ok := d.Fleet.Instance(args[0])
	if !ok {
		return "", fleet.ErrNotFound
	}
	was := in.SetAutorestart(!in.Autorestart())
	if was {
		return fmt.Sprintf("autorestart for %q disabled", args[0]), nil
	}
	return fmt.Sprintf("autorestart for %q enabled", args[0]), nil
}

func cmdTimedRestart(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 2, "stk-timed-restart <name> <interval_mins>"); err != nil {
		return "", err
	}
	mins, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("invalid interval_mins: %w", err)
	}
	in, ok := d.Fleet.Instance(args[0])
	if !ok {
		return "", fleet.ErrNotFound
	}
	in.RestartTimedRestarter(time.Duration(mins) * time.Minute)
	return fmt.Sprintf("timed restarter enabled for %q with %d minutes", args[0], mins), nil
}

func cmdReloadCfg(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	full := len(args) > 0 && (args[0] == "full" || args[0] == "--full")
	if err := d.Fleet.ReloadConfig(ctx, full); err != nil {
		return "", err
	}
	if full {
		return "fleet document reloaded (full: all servers stopped and rebuilt)", nil
	}
	return "fleet document reloaded (soft: running servers unaffected)", nil
}

func cmdGetCfg(_ context.Context, d *Dispatcher, _ []string) (string, error) {
	data, err := d.Fleet.DumpYAML()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func cmdSetCfg(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 2, "stk-setcfg <field> <value>"); err != nil {
		return "", err
	}
	field, value := args[0], strings.Join(args[1:], " ")
	var applyErr error
	err := d.Fleet.EditDefaults(func(cfg *config.Fleet) {
		applyErr = applyFleetField(cfg, field, value)
	})
	if err != nil {
		return "", err
	}
	if applyErr != nil {
		return "", applyErr
	}
	return fmt.Sprintf("fleet default %s set", field), nil
}

// --- log-ignore CRUD (per-server and global twin) ---

func cmdLogIgnoreAdd(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 4, "stk-logignore-add <name> <object> <level> <pattern>"); err != nil {
		return "", err
	}
	name, object, level, pattern := args[0], args[1], args[2], strings.Join(args[3:], " ")
	var applyErr error
	err := d.Fleet.EditServer(name, func(entry *config.ServerEntry) {
		if entry.LogIgnores == nil {
			entry.LogIgnores = config.LogIgnoreTable{}
		}
		applyErr = addLogIgnore(entry.LogIgnores, object, level, pattern)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("log-ignore added for %q/%s level %s", name, object, level), applyErr
}

func cmdLogIgnoreObjects(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-logignore-objects <name>"); err != nil {
		return "", err
	}
	t, err := d.Fleet.ServerLogIgnores(args[0])
	if err != nil {
		return "", err
	}
	var objects []string
	for obj := range t {
		objects = append(objects, obj)
	}
	sort.Strings(objects)
	return strings.Join(objects, ", "), nil
}

func cmdGlobalLogIgnoreAdd(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 3, "stk-globallogignore-add <object> <level> <pattern>"); err != nil {
		return "", err
	}
	object, level, pattern := args[0], args[1], strings.Join(args[2:], " ")
	var applyErr error
	err := d.Fleet.EditGlobalLogIgnores(func(t config.LogIgnoreTable) {
		applyErr = addLogIgnore(t, object, level, pattern)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("global log-ignore added for %s level %s", object, level), applyErr
}

func cmdGlobalLogIgnoreObjects(_ context.Context, d *Dispatcher, _ []string) (string, error) {
	t := d.Fleet.GlobalLogIgnores()
	var objects []string
	for obj := range t {
		objects = append(objects, obj)
	}
	return strings.Join(objects, ", "), nil
}

func cmdLogIgnoreDel(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 4, "stk-logignore-del <name> <object> <level> <pattern>"); err != nil {
		return "", err
	}
	name, object, level, pattern := args[0], args[1], args[2], strings.Join(args[3:], " ")
	err := d.Fleet.EditServer(name, func(entry *config.ServerEntry) {
		delLogIgnore(entry.LogIgnores, object, level, pattern)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("log-ignore removed for %q/%s level %s", name, object, level), nil
}

func cmdLogIgnoreDelLevel(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 3, "stk-logignore-dellevel <name> <object> <level>"); err != nil {
		return "", err
	}
	name, object, level := args[0], args[1], args[2]
	err := d.Fleet.EditServer(name, func(entry *config.ServerEntry) {
		if byLevel := entry.LogIgnores[object]; byLevel != nil {
			delete(byLevel, level)
		}
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("log-ignore level %s removed for %q/%s", level, name, object), nil
}

func cmdLogIgnoreDelObj(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 2, "stk-logignore-delobj <name> <object>"); err != nil {
		return "", err
	}
	name, object := args[0], args[1]
	err := d.Fleet.EditServer(name, func(entry *config.ServerEntry) {
		delete(entry.LogIgnores, object)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("log-ignore object %q removed for %q", object, name), nil
}

func cmdLogIgnoreLevels(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 2, "stk-logignore-levels <name> <object>"); err != nil {
		return "", err
	}
	t, err := d.Fleet.ServerLogIgnores(args[0])
	if err != nil {
		return "", err
	}
	var levels []string
	for level := range t[args[1]] {
		levels = append(levels, level)
	}
	sort.Strings(levels)
	return strings.Join(levels, ", "), nil
}

// cmdLogIgnores implements stk-logignores: a page-by-page listing of
// name's full per-object/per-level suppression pattern table, matching
// the original's list_logignores.
func cmdLogIgnores(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-logignores <name> [page]"); err != nil {
		return "", err
	}
	t, err := d.Fleet.ServerLogIgnores(args[0])
	if err != nil {
		return "", err
	}
	page := 1
	if len(args) > 1 {
		page = parseIntArg(args[1], 1)
	}
	return renderLogIgnoreTable(t, page), nil
}

// renderLogIgnoreTable paginates (object, level, pattern) rows 10/page,
// matching the rest of the CLI's listing commands.
func renderLogIgnoreTable(t config.LogIgnoreTable, page int) string {
	type row struct{ object, level, pattern string }
	var rows []row
	var objects []string
	for obj := range t {
		objects = append(objects, obj)
	}
	sort.Strings(objects)
	for _, obj := range objects {
		var levels []string
		for level := range t[obj] {
			levels = append(levels, level)
		}
		sort.Strings(levels)
		for _, level := range levels {
			for _, pattern := range t[obj][level] {
				rows = append(rows, row{obj, level, pattern})
			}
		}
	}

	const pageSize = 10
	maxPage := (len(rows) + pageSize - 1) / pageSize
	if maxPage < 1 {
		maxPage = 1
	}
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "log-ignores (page %d of %d):\n", page, maxPage)
	for _, r := range rows[start:end] {
		fmt.Fprintf(&b, "%s level %s: %s\n", r.object, r.level, r.pattern)
	}
	return strings.TrimRight(b.String(), "\n")
}

func cmdGlobalLogIgnoreDel(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 3, "stk-globallogignore-del <object> <level> <pattern>"); err != nil {
		return "", err
	}
	object, level, pattern := args[0], args[1], strings.Join(args[2:], " ")
	return "", d.Fleet.EditGlobalLogIgnores(func(t config.LogIgnoreTable) {
		delLogIgnore(t, object, level, pattern)
	})
}

func cmdGlobalLogIgnoreDelLevel(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 2, "stk-globallogignore-dellevel <object> <level>"); err != nil {
		return "", err
	}
	object, level := args[0], args[1]
	return "", d.Fleet.EditGlobalLogIgnores(func(t config.LogIgnoreTable) {
		if byLevel := t[object]; byLevel != nil {
			delete(byLevel, level)
		}
	})
}

func cmdGlobalLogIgnoreDelObj(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-globallogignore-delobj <object>"); err != nil {
		return "", err
	}
	object := args[0]
	return "", d.Fleet.EditGlobalLogIgnores(func(t config.LogIgnoreTable) {
		delete(t, object)
	})
}

func cmdGlobalLogIgnoreLevels(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-globallogignore-levels <object>"); err != nil {
		return "", err
	}
	byLevel := d.Fleet.GlobalLogIgnores()[args[0]]
	var levels []string
	for level := range byLevel {
		levels = append(levels, level)
	}
	return strings.Join(levels, ", "), nil
}

func addLogIgnore(t config.LogIgnoreTable, object, level, pattern string) error {
	if _, err := strconv.Atoi(level); err != nil {
		return fmt.Errorf("level must be numeric: %w", err)
	}
	if t[object] == nil {
		t[object] = config.LevelIgnores{}
	}
	t[object][level] = append(t[object][level], pattern)
	return nil
}

func delLogIgnore(t config.LogIgnoreTable, object, level, pattern string) {
	byLevel, ok := t[object]
	if !ok {
		return
	}
	patterns := byLevel[level]
	out := patterns[:0]
	for _, p := range patterns {
		if p != pattern {
			out = append(out, p)
		}
	}
	byLevel[level] = out
}

// --- enhancer attach/detach ---

func cmdEnhance(_ context.Context, d *Dispatcher, args []string) (string, error) {
	return d.attachEnhancer(args, false)
}

func cmdEnsoccer(_ context.Context, d *Dispatcher, args []string) (string, error) {
	return d.attachEnhancer(args, true)
}

func (d *Dispatcher) attachEnhancer(args []string, soccer bool) (string, error) {
	if err := requireArgs(args, 2, "stk-enhance <name> <cfgpath> [defaultpath]"); err != nil {
		return "", err
	}
	name, cfgPath := args[0], args[1]
	defaultPath := cfgPath
	if len(args) > 2 {
		defaultPath = args[2]
	}
	in, ok := d.Fleet.Instance(name)
	if !ok {
		return "", fleet.ErrNotFound
	}

	d.enhMu.Lock()
	defer d.enhMu.Unlock()
	if _, exists := d.enhancers[name]; exists {
		return "", fmt.Errorf("cli: %q already has an attached enhancer", name)
	}
	e, err := enhancer.New(in, cfgPath, defaultPath)
	if err != nil {
		return "", err
	}
	entry := &enhancerEntry{base: e}
	if soccer {
		entry.soccer = enhancer.NewSoccer(e)
	}
	d.enhancers[name] = entry
	if soccer {
		return fmt.Sprintf("soccer enhancer attached to %q", name), nil
	}
	return fmt.Sprintf("enhancer attached to %q", name), nil
}

func cmdUnenhance(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-unenhance <name>"); err != nil {
		return "", err
	}
	d.enhMu.Lock()
	defer d.enhMu.Unlock()
	entry, ok := d.enhancers[args[0]]
	if !ok {
		return "", fmt.Errorf("cli: %q has no attached enhancer", args[0])
	}
	entry.base.Cleanup()
	delete(d.enhancers, args[0])
	return fmt.Sprintf("enhancer detached from %q", args[0]), nil
}

func cmdEnhancers(_ context.Context, d *Dispatcher, _ []string) (string, error) {
	d.enhMu.Lock()
	defer d.enhMu.Unlock()
	var names []string
	for name, entry := range d.enhancers {
		kind := "enhancer"
		if entry.soccer != nil {
			kind = "soccer enhancer"
		}
		names = append(names, fmt.Sprintf("%s (%s)", name, kind))
	}
	return strings.Join(names, ", "), nil
}

func cmdScore(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-score <name>"); err != nil {
		return "", err
	}
	d.enhMu.Lock()
	entry, ok := d.enhancers[args[0]]
	d.enhMu.Unlock()
	if !ok || entry.soccer == nil {
		return "", fmt.Errorf("cli: %q has no attached soccer enhancer", args[0])
	}
	red, blue := entry.soccer.Score()
	return fmt.Sprintf("%s: red %d - blue %d", args[0], red, blue), nil
}

func cmdModeDiff(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-modediff <name>"); err != nil {
		return "", err
	}
	in, ok := d.Fleet.Instance(args[0])
	if !ok {
		return "", fleet.ErrNotFound
	}
	_, _, mode, difficulty := in.GameState()
	return fmt.Sprintf("%s: mode %d, difficulty %d", args[0], mode, difficulty), nil
}

func cmd69(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "stk-69 <name>"); err != nil {
		return "", err
	}
	d.enhMu.Lock()
	entry, ok := d.enhancers[args[0]]
	d.enhMu.Unlock()
	if !ok || entry.soccer == nil {
		return "", fmt.Errorf("cli: %q has no attached soccer enhancer", args[0])
	}
	if err := entry.soccer.Chat("nice", true); err != nil {
		return "", err
	}
	return "69'd", nil
}

// --- addonsync ---

func cmdCheckAvailable(ctx context.Context, d *Dispatcher, _ []string) (string, error) {
	if err := d.Syncer.FetchCatalog(ctx); err != nil {
		return "", err
	}
	return "addon catalog refreshed", nil
}

func cmdListAddons(_ context.Context, d *Dispatcher, args []string) (string, error) {
	page := 1
	requirements := ""
	if len(args) > 0 {
		page = parseIntArg(args[0], 1)
	}
	if len(args) > 1 {
		requirements = strings.Join(args[1:], " ")
	}
	addons, maxPage := d.Syncer.ListAddons(page, requirements, false)
	return summarizeAddons(d.Syncer, addons, page, maxPage), nil
}

func cmdListInstalled(_ context.Context, d *Dispatcher, args []string) (string, error) {
	page := 1
	addonType := ""
	if len(args) > 0 {
		page = parseIntArg(args[0], 1)
	}
	if len(args) > 1 {
		addonType = args[1]
	}
	addons, maxPage := d.Syncer.ListInstalled(page, addonType)
	return summarizeAddons(d.Syncer, addons, page, maxPage), nil
}

func summarizeAddons(s *addonsync.Syncer, addons []*addonsync.Addon, page, maxPage int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "addons (page %d of %d):\n", page, maxPage)
	for _, a := range addons {
		_, installed := s.InstalledAddon(a.ID)
		b.WriteString(a.Summary(installed))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func cmdAddonInfo(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "addoninfo <id>"); err != nil {
		return "", err
	}
	view, err := d.Syncer.AddonInfo(args[0])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: installed=%v version=%s local_rev=%s remote_rev=%s classes=%s",
		view.Addon.ID, view.Installed, view.InstalledVersion, view.LocalRevision, view.RemoteRevision,
		strings.Join(view.Classes, ",")), nil
}

func cmdUpdates(_ context.Context, d *Dispatcher, args []string) (string, error) {
	page := 1
	if len(args) > 0 {
		page = parseIntArg(args[0], 1)
	}
	addons, maxPage := d.Syncer.Updates(page)
	return summarizeAddons(d.Syncer, addons, page, maxPage), nil
}

func cmdInstallAddon(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "installaddon <id>"); err != nil {
		return "", err
	}
	addon, ok := d.Syncer.CatalogAddon(args[0])
	if !ok {
		return "", fmt.Errorf("cli: addon %q not found in catalog", args[0])
	}
	restart := len(args) > 1 && args[1] == "restart"
	modified, err := d.Syncer.InstallAddon(ctx, addon, restart)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("installed %q (modified=%v)", args[0], modified), nil
}

func cmdUpdateAddon(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "updateaddon <id>"); err != nil {
		return "", err
	}
	addon, ok := d.Syncer.CatalogAddon(args[0])
	if !ok {
		return "", fmt.Errorf("cli: addon %q not found in catalog", args[0])
	}
	restart := len(args) > 1 && args[1] == "restart"
	if err := d.Syncer.UpdateAddon(ctx, addon, true, restart); err != nil {
		return "", err
	}
	return fmt.Sprintf("updated %q", args[0]), nil
}

func cmdUpdateAll(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	installMore := len(args) > 0 && args[0] == "installmore"
	if err := d.Syncer.UpdateAllInstallMore(ctx, installMore); err != nil {
		return "", err
	}
	return "addons updated", nil
}

// cmdDownloadAddon implements downloadaddon: fetch a catalog addon's
// archive to the download directory without unpacking it, matching
// addon_updater.py's standalone downloadaddon command.
func cmdDownloadAddon(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "downloadaddon <id>"); err != nil {
		return "", err
	}
	addon, ok := d.Syncer.CatalogAddon(args[0])
	if !ok {
		return "", fmt.Errorf("cli: addon %q not found in catalog", args[0])
	}
	path, err := d.Syncer.DownloadAddon(ctx, addon)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("addon %q downloaded to %s", args[0], path), nil
}

// cmdUnpackAddon implements unpackaddon: extract a previously downloaded
// archive into the addon tree, matching addon_updater.py's standalone
// unpackaddon command. It expects downloadaddon (or installaddon) to
// have already placed the archive at <downloadpath>/<id>.zip.
func cmdUnpackAddon(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "unpackaddon <id>"); err != nil {
		return "", err
	}
	addon, ok := d.Syncer.CatalogAddon(args[0])
	if !ok {
		return "", fmt.Errorf("cli: addon %q not found in catalog", args[0])
	}
	archivePath := filepath.Join(d.Syncer.DownloadPath(), args[0]+".zip")
	if _, err := os.Stat(archivePath); err != nil {
		return "", fmt.Errorf("cli: addon %q is not downloaded: %w", args[0], err)
	}
	target, err := d.Syncer.UnpackAddon(addon, archivePath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("addon %q extracted to %s", args[0], target), nil
}

func cmdUninstallAddon(ctx context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "uninstalladdon <id> [ban]"); err != nil {
		return "", err
	}
	ban := len(args) > 1 && args[1] == "ban"
	removed, err := d.Syncer.UninstallAddon(ctx, args[0], ban)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("uninstalled %q (removed=%v)", args[0], removed), nil
}

func cmdBanAddon(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "banaddon <id>"); err != nil {
		return "", err
	}
	if !d.Syncer.BanAddon(args[0]) {
		return "", fmt.Errorf("cli: addon %q not found", args[0])
	}
	return fmt.Sprintf("%q banned", args[0]), nil
}

func cmdUnbanAddon(_ context.Context, d *Dispatcher, args []string) (string, error) {
	if err := requireArgs(args, 1, "unbanaddon <id>"); err != nil {
		return "", err
	}
	if !d.Syncer.UnbanAddon(args[0]) {
		return "", fmt.Errorf("cli: addon %q not found", args[0])
	}
	return fmt.Sprintf("%q unbanned", args[0]), nil
}

// --- field setters ---

func applyServerField(entry *config.ServerEntry, field, value string) error {
	switch field {
	case "executable_path":
		entry.ExecutablePath = value
	case "datapath":
		entry.DataPath = value
	case "config_path":
		entry.ConfigPath = value
	case "extra_args":
		entry.ExtraArgs = strings.Split(value, ",")
	case "autostart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		entry.Autostart = &b
	case "autorestart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		entry.Autorestart = &b
	case "autorestart_pause":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		entry.AutorestartPause = &f
	case "timed_autorestart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		entry.TimedAutorestart = &b
	case "timed_autorestart_interval":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		entry.TimedAutorestartInterval = &f
	case "startup_timeout":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		entry.StartupTimeout = &f
	case "shutdown_timeout":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		entry.ShutdownTimeout = &f
	default:
		return fmt.Errorf("cli: unknown server field %q", field)
	}
	return nil
}

func applyFleetField(cfg *config.Fleet, field, value string) error {
	switch field {
	case "stk_version":
		cfg.STKVersion = value
	case "logpath":
		cfg.LogPath = value
	case "datapath":
		cfg.DataPath = value
	case "executable_path":
		cfg.ExecutablePath = value
	case "extra_args":
		cfg.ExtraArgs = strings.Split(value, ",")
	case "autostart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Autostart = b
	case "autorestart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.Autorestart = b
	case "autorestart_pause":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.AutorestartPause = f
	case "timed_autorestart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.TimedAutorestart = b
	case "timed_autorestart_interval":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.TimedAutorestartInterval = f
	case "server_startup_timeout":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.ServerStartupTimeout = f
	case "server_shutdown_timeout":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		cfg.ServerShutdownTimeout = f
	default:
		return fmt.Errorf("cli: unknown fleet field %q", field)
	}
	return nil
}
