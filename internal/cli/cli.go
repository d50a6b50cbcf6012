// Package cli implements the interactive line-prompt command surface
// (stk-* command family, spec.md §6) wired on top of SupervisorFleet,
// AddonSync, and an on-demand Enhancer registry. Grounded on the
// readline-driven REPL shape used elsewhere in the example pack
// (agentic-shell's cmd/agsh) for history, Ctrl-D/Ctrl-C handling, and
// live tab completion.
package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/nobwow/stkwrapper-go/internal/addonsync"
	"github.com/nobwow/stkwrapper-go/internal/config"
	"github.com/nobwow/stkwrapper-go/internal/enhancer"
	"github.com/nobwow/stkwrapper-go/internal/fleet"
)

// enhancerEntry tracks one attached Enhancer and, if it was attached as a
// SoccerEnhancer, the soccer-specific view needed for stk-score/stk-69.
type enhancerEntry struct {
	base   *enhancer.Enhancer
	soccer *enhancer.SoccerEnhancer
}

// Dispatcher owns the live command namespace: the fleet, the addon
// syncer, and every currently-attached Enhancer.
type Dispatcher struct {
	Fleet  *fleet.Fleet
	Syncer *addonsync.Syncer

	enhMu     sync.Mutex
	enhancers map[string]*enhancerEntry

	commands map[string]func(ctx context.Context, d *Dispatcher, args []string) (string, error)
}

// New constructs a Dispatcher ready to Run.
func New(f *fleet.Fleet, s *addonsync.Syncer) *Dispatcher {
	d := &Dispatcher{
		Fleet:     f,
		Syncer:    s,
		enhancers: map[string]*enhancerEntry{},
	}
	d.commands = commandTable
	return d
}

// Run drives the readline REPL until ctx is cancelled, the user types
// "exit"/"quit", or EOF (Ctrl-D) is read. Errors from individual commands
// are printed, not fatal — only a fatal readline initialization failure
// returns an error, matching spec.md §6's "exit codes: non-zero only on
// fatal initialization failure."
func (d *Dispatcher) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "stk> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    d,
	})
	if err != nil {
		return fmt.Errorf("cli: initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		fields := strings.Fields(line)
		if fields[0] == "stk-nc" {
			d.runTunnel(rl, fields[1:])
			continue
		}
		if fields[0] == "stk-make-server" {
			d.runMakeServer(ctx, rl, fields[1:])
			continue
		}
		d.dispatch(ctx, rl, line)
	}
}

// runTunnel implements stk-nc, the "tunnel terminal": every subsequent
// line read from the prompt is stuffed verbatim to name's stdin until the
// quitword (default "quit") is seen, matching the original's server_nc.
func (d *Dispatcher) runTunnel(rl *readline.Instance, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(rl.Stderr(), "usage: stk-nc <name> [quitword]")
		return
	}
	name := args[0]
	quitword := "quit"
	if len(args) > 1 {
		quitword = args[1]
	}
	in, ok := d.Fleet.Instance(name)
	if !ok {
		fmt.Fprintf(rl.Stderr(), "error: %v\n", fleet.ErrNotFound)
		return
	}
	rl.SetPrompt(name + "> ")
	defer rl.SetPrompt("stk> ")
	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		if line == quitword {
			return
		}
		if err := in.Stuff(line); err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
			return
		}
	}
}

// runMakeServer implements stk-make-server, the interactive server
// creation wizard (the original's make_server with edit_existing=False):
// prompt for the name if not given on the command line, then prompt for
// each server field in turn, taking the default shown in brackets on an
// empty line (an empty path leaves the fleet default in effect; the
// autostart prompt defaults to no), and finally offer to start the new
// server immediately.
func (d *Dispatcher) runMakeServer(ctx context.Context, rl *readline.Instance, args []string) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	for name == "" {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		name = strings.TrimSpace(line)
	}
	if _, exists := d.Fleet.Instance(name); exists {
		fmt.Fprintln(rl.Stderr(), "error: this server already exists, specify another name")
		return
	}

	prompt := func(label, def string) (string, bool) {
		rl.SetPrompt(fmt.Sprintf("%s [%s]: ", label, def))
		line, err := rl.Readline()
		rl.SetPrompt("stk> ")
		if err != nil {
			return "", false
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return def, true
		}
		return line, true
	}
	promptYesNo := func(label string, def bool) (bool, bool) {
		defStr := "y"
		if !def {
			defStr = "n"
		}
		answer, ok := prompt(label, defStr)
		if !ok {
			return false, false
		}
		return strings.HasPrefix(strings.ToLower(answer), "y"), true
	}

	executablePath, ok := prompt("exec", "")
	if !ok {
		return
	}
	configPath, ok := prompt("cfgpath", "")
	if !ok {
		return
	}
	dataPath, ok := prompt("datapath", "")
	if !ok {
		return
	}
	autostart, ok := promptYesNo("autostart?", false)
	if !ok {
		return
	}
	autorestart, ok := promptYesNo("autorestart?", true)
	if !ok {
		return
	}
	intervalStr, ok := prompt("timed autorestart minutes (or empty)", "")
	if !ok {
		return
	}
	extraArgsStr, ok := prompt("extra args", "")
	if !ok {
		return
	}

	entry := config.ServerEntry{
		ExecutablePath: executablePath,
		ConfigPath:     configPath,
		DataPath:       dataPath,
		Autostart:      &autostart,
		Autorestart:    &autorestart,
	}
	if extraArgsStr != "" && extraArgsStr != "-" {
		entry.ExtraArgs = strings.Fields(extraArgsStr)
	}
	if intervalStr != "" && intervalStr != "0" {
		mins, err := strconv.Atoi(intervalStr)
		if err != nil {
			fmt.Fprintf(rl.Stderr(), "error: invalid timed autorestart minutes: %v\n", err)
			return
		}
		timed := true
		interval := float64(mins * 60)
		entry.TimedAutorestart = &timed
		entry.TimedAutorestartInterval = &interval
	}

	if err := d.Fleet.CreateServer(name, entry); err != nil {
		fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		return
	}
	fmt.Fprintln(rl.Stdout(), "server successfully created.")

	start, ok := promptYesNo(fmt.Sprintf("start %s?", name), false)
	if !ok || !start {
		return
	}
	if err := d.Fleet.StartServer(ctx, name); err != nil {
		fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		return
	}
	fmt.Fprintf(rl.Stdout(), "starting server %s\n", name)
}

func (d *Dispatcher) dispatch(ctx context.Context, rl *readline.Instance, line string) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	handler, ok := d.commands[name]
	if !ok {
		fmt.Fprintf(rl.Stderr(), "unknown command %q (try stk-servers, stk-help)\n", name)
		return
	}
	out, err := handler(ctx, d, args)
	if err != nil {
		fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		return
	}
	if out != "" {
		fmt.Fprintln(rl.Stdout(), out)
	}
}

// Do implements readline.AutoCompleter: the first token completes against
// the command table, the second token completes against live fleet
// server names (also for the enhancer commands stk-unenhance/stk-score/
// stk-modediff/stk-69) or, for addon commands, against catalog and
// installed addon ids, matching spec.md §6's "tab completion hints names
// from the live fleet and addon dictionaries."
func (d *Dispatcher) Do(line []rune, pos int) (newLine [][]rune, length int) {
	prefix := string(line[:pos])
	fields := strings.Fields(prefix)
	trailingSpace := strings.HasSuffix(prefix, " ")

	if len(fields) == 0 || (len(fields) == 1 && !trailingSpace) {
		partial := ""
		if len(fields) == 1 {
			partial = fields[0]
		}
		return completeFrom(commandNames(d.commands), partial)
	}

	cmd := fields[0]
	partial := ""
	if !trailingSpace {
		partial = fields[len(fields)-1]
	}
	switch {
	case serverNameCommands[cmd]:
		return completeFrom(d.allServerNames(), partial)
	case addonIDCommands[cmd]:
		return completeFrom(d.installedAndCatalogIDs(), partial)
	default:
		return nil, 0
	}
}

var serverNameCommands = map[string]bool{
	"stk-edit-server": true, "stk-start": true, "stk-stop": true,
	"stk-restart": true, "stk-cmd": true, "stk-nc": true,
	"stk-norestart": true, "stk-timed-restart": true, "stk-enhance": true,
	"stk-ensoccer": true, "stk-unenhance": true, "stk-score": true,
	"stk-modediff": true, "stk-69": true, "stk-logignore-add": true,
	"stk-logignore-del": true, "stk-logignore-dellevel": true,
	"stk-logignore-delobj": true, "stk-logignore-levels": true,
	"stk-logignore-objects": true, "stk-logignores": true,
	"stk-make-server": true,
}

var addonIDCommands = map[string]bool{
	"addoninfo": true, "installaddon": true, "updateaddon": true,
	"uninstalladdon": true, "banaddon": true, "unbanaddon": true,
	"downloadaddon": true, "unpackaddon": true,
}

func (d *Dispatcher) allServerNames() []string {
	var out []string
	for p := 1; ; p++ {
		names, maxPage := d.Fleet.ListServers(p)
		out = append(out, names...)
		if p >= maxPage {
			break
		}
	}
	return out
}

func (d *Dispatcher) installedAndCatalogIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, page := range []func(int) ([]*addonsync.Addon, int){
		func(p int) ([]*addonsync.Addon, int) { return d.Syncer.ListAddons(p, "", false) },
		func(p int) ([]*addonsync.Addon, int) { return d.Syncer.ListInstalled(p, "") },
	} {
		for p := 1; ; p++ {
			addons, maxPage := page(p)
			for _, a := range addons {
				if !seen[a.ID] {
					seen[a.ID] = true
					out = append(out, a.ID)
				}
			}
			if p >= maxPage {
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func commandNames(m map[string]func(context.Context, *Dispatcher, []string) (string, error)) []string {
	out := make([]string, 0, len(m))
	for name := range m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func completeFrom(candidates []string, partial string) ([][]rune, int) {
	var out [][]rune
	for _, c := range candidates {
		if strings.HasPrefix(c, partial) {
			out = append(out, []rune(c[len(partial):]))
		}
	}
	return out, len(partial)
}

func requireArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func parseIntArg(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
