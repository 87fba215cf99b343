package roundtable

import "fmt"

// phase distinguishes coach turns from moderator turns for snippet timing.
type phase int

const (
	phaseCoach phase = iota
	phaseModerator
)

// snippetKey maps an injection timing to the cache key for a given turn and
// reports whether that turn should receive snippets at all. Turns sharing a
// key share one retrieval; the exchange fetches each distinct key at most
// once.
//
//	off       never fetches
//	message   one fetch for the whole exchange
//	round     one fetch per round, all phases of that round share it
//	coach     one fetch per coach turn, moderator turns get none
//	moderator moderator turns only, one fetch shared across sub-phases
func snippetKey(timing KBTiming, round int, ph phase, coachID string) (string, bool) {
	switch timing {
	case KBMessage:
		return "message", true
	case KBRound:
		return fmt.Sprintf("round:%d", round), true
	case KBCoach:
		if ph != phaseCoach {
			return "", false
		}
		return fmt.Sprintf("coach:%d:%s", round, coachID), true
	case KBModerator:
		if ph != phaseModerator {
			return "", false
		}
		return "moderator", true
	default:
		return "", false
	}
}

// clampBudget bounds a client-requested retrieval budget.
func clampBudget(requested, fallback, ceiling int) int {
	if requested <= 0 {
		requested = fallback
	}
	if ceiling > 0 && requested > ceiling {
		return ceiling
	}
	return requested
}
