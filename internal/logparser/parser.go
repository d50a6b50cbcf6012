// Package logparser extracts structured events from the supervised
// process's human-readable log lines.
package logparser

import (
	"regexp"
	"strings"

	"github.com/nobwow/stkwrapper-go/internal/config"
)

// Level mirrors the supervised binary's own severity ordering.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = map[string]Level{
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARNING": LevelWarning,
	"WARN":    LevelWarning,
	"ERROR":   LevelError,
	"FATAL":   LevelFatal,
}

// String returns the canonical uppercase name for a level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "DEBUG"
	}
}

// Event is a parsed structured log line.
type Event struct {
	Level      Level
	ObjectName string
	Message    string
}

var (
	ansiEscape = regexp.MustCompile(`(?:\x{9B}|\x1B\[)[0-?]*[ -/]*[@-~]`)

	// header matches an optional leading timestamp, a bracketed level
	// name, an optional object name before the colon, and the message.
	header = regexp.MustCompile(
		`^(?:\w{3} \w{3} +\d{1,2} \d{2}:\d{2}:\d{2} \d{4} )?\[(\w+) *\] ?([^:]+)?: (.*)$`,
	)

	// idleProbeEcho is the hard-coded ignore for the server's echo of the
	// idle probe command (the \x01 byte) sent while waiting for input:
	// "Unknown command: \x01".
	idleProbeEcho = regexp.MustCompile("^Unknown command: \x01\\s*$")
)

// Parser strips terminal escapes, classifies a raw log line, and applies
// the global then instance log-ignore tables. A Parser is stateless and
// safe for concurrent use except that the ignore tables it is given are
// expected to be mutated only from the command path (see package config).
type Parser struct {
	ShowPlain bool
}

// New returns a ready-to-use Parser. showPlain controls whether
// unstructured ("plain") lines are surfaced (true) or dropped (false).
func New(showPlain bool) *Parser {
	return &Parser{ShowPlain: showPlain}
}

// Parse classifies one raw line (already newline-stripped by the caller's
// line reader). ok is false when the line should not reach any handler,
// either because it was suppressed by a log-ignore table, matched the
// hard-coded idle-probe echo, or was a plain line with ShowPlain off.
func (p *Parser) Parse(line string, global, instance config.LogIgnoreTable) (ev Event, ok bool) {
	stripped := ansiEscape.ReplaceAllString(line, "")

	if idleProbeEcho.MatchString(stripped) {
		return Event{}, false
	}

	m := header.FindStringSubmatch(stripped)
	if m == nil {
		if p.ShowPlain {
			return Event{Level: LevelDebug, ObjectName: "", Message: stripped}, true
		}
		return Event{}, false
	}

	levelName := strings.ToUpper(strings.TrimSpace(m[1]))
	level, known := levelNames[levelName]
	if !known {
		level = LevelDebug
	}
	object := strings.TrimSpace(m[2])
	message := m[3]

	ev = Event{Level: level, ObjectName: object, Message: message}

	if global.Matches(object, int(level), message) {
		return Event{}, false
	}
	if instance.Matches(object, int(level), message) {
		return Event{}, false
	}
	return ev, true
}
