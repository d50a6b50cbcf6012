package enhancer

import "regexp"

// These mirror instance/events.go's extraction patterns rather than
// consuming the instance's own structured event chains, matching the
// original ServerEnhancer.handle_stdout, which independently re-parses raw
// log messages off log_event instead of trusting STKServer's own join/leave
// bookkeeping. Keeping the Enhancer's player/game mirror fully independent
// is what lets it be attached, detached, and re-attached without needing
// ServerInstance to expose anything beyond its raw LogEvent feed.
var (
	reJoin       = regexp.MustCompile(`^New player (\S+) with online id (\d+) from (?:(ipv4)|(ipv6))?(?::\d+)? with (.*)\..*$`)
	reValidated  = regexp.MustCompile(`^(\S+) validated$`)
	reDisconnect = regexp.MustCompile(`^(\S+) disconnected$`)
	reGameStart  = regexp.MustCompile(`^Max ping from peers: \d+, jitter tolerance: \d+$`)
	reGameEnd    = regexp.MustCompile(`^A \d+GameProtocol protocol has been terminated\.$`)
	reModeDiff   = regexp.MustCompile(`^Updating server info with new difficulty: (\d+), game mode: (\d+) to stk-addons\.$`)
	reGoalRed    = regexp.MustCompile(`^(own_)?goal (\S*) red\.?$`)
	reGoalBlue   = regexp.MustCompile(`^(own_)?goal (\S*) blue\.?$`)

	gameStoppedLine = "The game is stopped."
	gameResumedLine = "The game is resumed."
)
