package enhancer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nobwow/stkwrapper-go/internal/handlerchain"
	"github.com/nobwow/stkwrapper-go/internal/logparser"
)

// Goal is the payload emitted on SoccerEnhancer.Goal: the scoring player's
// name, which side scored, and whether it was an own goal.
type Goal struct {
	ScorerName string
	Blue       bool
	Own        bool
}

// SoccerEnhancer adds goal tracking and the two chat easter eggs to a
// regular Enhancer: "nice" at exactly 6-9, and a flag-emoji pair at exactly
// 1-7 or 7-1. Both are individually suppressible.
type SoccerEnhancer struct {
	*Enhancer

	Goal *handlerchain.Chain[Goal]

	NoNice bool // suppresses the 6-9 "nice" chat line
	NoBrDe bool // suppresses the 1-7/7-1 flag-emoji chat line

	scoreMu   sync.Mutex
	scoreRed  int
	scoreBlue int
}

// NewSoccer attaches a SoccerEnhancer, wrapping a regular Enhancer.
func NewSoccer(e *Enhancer) *SoccerEnhancer {
	s := &SoccerEnhancer{
		Enhancer: e,
		Goal:     handlerchain.New[Goal](false),
	}
	s.GameStart.AddHandler(func(context.Context, struct{}, map[string]any) bool {
		s.resetScore()
		return true
	})
	// Replace the base dispatch with one that also watches for goals.
	e.Cleanup()
	e.logHandlerID = e.inst.LogEvent.AddHandler(s.handleLogEvent)
	return s
}

func (s *SoccerEnhancer) resetScore() {
	s.scoreMu.Lock()
	s.scoreRed = 0
	s.scoreBlue = 0
	s.scoreMu.Unlock()
}

// Score returns the soccer enhancer's own mirrored score.
func (s *SoccerEnhancer) Score() (red, blue int) {
	s.scoreMu.Lock()
	defer s.scoreMu.Unlock()
	return s.scoreRed, s.scoreBlue
}

func (s *SoccerEnhancer) handleLogEvent(ctx context.Context, ev logparser.Event, kv map[string]any) bool {
	s.Enhancer.dispatch(ctx, ev)

	if ev.ObjectName != "GoalLog" || ev.Level != logparser.LevelInfo {
		return true
	}
	_, stopped, _, _ := s.GameState()
	if stopped {
		return true
	}

	if m := reGoalRed.FindStringSubmatch(ev.Message); m != nil {
		s.recordGoal(ctx, Goal{ScorerName: m[2], Blue: false, Own: m[1] != ""}, false)
		return true
	}
	if m := reGoalBlue.FindStringSubmatch(ev.Message); m != nil {
		s.recordGoal(ctx, Goal{ScorerName: m[2], Blue: true, Own: m[1] != ""}, true)
	}
	return true
}

func (s *SoccerEnhancer) recordGoal(ctx context.Context, g Goal, blue bool) {
	if !s.Goal.Emit(ctx, g, nil) {
		return
	}
	s.scoreMu.Lock()
	if blue {
		s.scoreBlue++
	} else {
		s.scoreRed++
	}
	red, blueScore := s.scoreRed, s.scoreBlue
	s.scoreMu.Unlock()

	if !s.NoNice && red == 6 && blueScore == 9 {
		slog.Info("enhancer: 6-9 nice!", "name", s.name)
		_ = s.Chat("nice", true)
	}
	if !s.NoBrDe && ((red == 1 && blueScore == 7) || (red == 7 && blueScore == 1)) {
		slog.Info("enhancer: brazil and germany be like", "name", s.name, "score_red", red, "score_blue", blueScore)
		_ = s.Chat("\U0001F1E7\U0001F1F7 \U0001F1E9\U0001F1EA", true)
	}
}
