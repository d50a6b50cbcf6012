package instance

import "regexp"

var (
	reReady = regexp.MustCompile(`^Server (\d+) is now online\.$`)

	rePeerCount = regexp.MustCompile(`^.+ has just (?:dis)?connected\. There are now (\d+) peers\.$`)

	reJoin = regexp.MustCompile(
		`^New player (\S+) with online id (\d+) from (?:(ipv4)|(ipv6))?(?::\d+)? with (.*)\..*$`,
	)
	reValidated   = regexp.MustCompile(`^(\S+) validated$`)
	reDisconnect  = regexp.MustCompile(`^(\S+) disconnected$`)
	reGameStart   = regexp.MustCompile(`^Max ping from peers: \d+, jitter tolerance: \d+$`)
	reGameEnd     = regexp.MustCompile(`^A \d+GameProtocol protocol has been terminated\.$`)
	reGameStop    = regexp.MustCompile(`^The game is stopped\.$`)
	reGameResume  = regexp.MustCompile(`^The game is resumed\.$`)
	reModeDiff    = regexp.MustCompile(`^Updating server info with new difficulty: (\d+), game mode: (\d+) to stk-addons\.$`)
	reGoal        = regexp.MustCompile(`^(own_)?goal (\S*) (red|blue)\.?$`)
)

// PlayerJoin is the payload emitted on Instance.PlayerJoin.
type PlayerJoin struct {
	Name       string
	OnlineID   int
	RawAddress string
}

// Goal is the payload emitted on Instance.Goal. Own is true for an own-goal.
type Goal struct {
	ScorerName string
	Color      string // "red" or "blue"
	Own        bool
}

// ModeDifficulty is the payload emitted on Instance.ModeDiff.
type ModeDifficulty struct {
	Difficulty int
	Gamemode   int
}
