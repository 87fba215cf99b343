package roundtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnippetKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timing  KBTiming
		round   int
		ph      phase
		coachID string
		wantKey string
		wantOK  bool
	}{
		{"off never fetches", KBOff, 1, phaseCoach, "a", "", false},
		{"off never fetches for moderator", KBOff, 1, phaseModerator, "m", "", false},
		{"message is exchange-wide", KBMessage, 2, phaseCoach, "a", "message", true},
		{"message covers moderator too", KBMessage, 1, phaseModerator, "m", "message", true},
		{"round keys by round number", KBRound, 2, phaseCoach, "a", "round:2", true},
		{"round shared with moderator", KBRound, 2, phaseModerator, "m", "round:2", true},
		{"coach keys by round and coach", KBCoach, 3, phaseCoach, "ada", "coach:3:ada", true},
		{"coach skips moderator", KBCoach, 1, phaseModerator, "m", "", false},
		{"moderator only for moderator", KBModerator, 1, phaseModerator, "m", "moderator", true},
		{"moderator skips coaches", KBModerator, 1, phaseCoach, "ada", "", false},
		{"unknown timing is off", KBTiming("bogus"), 1, phaseCoach, "a", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := snippetKey(tt.timing, tt.round, tt.ph, tt.coachID)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestSnippetKey_DistinctCoachTurnsGetDistinctKeys(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for round := 1; round <= 3; round++ {
		for _, id := range []string{"ada", "bo"} {
			key, ok := snippetKey(KBCoach, round, phaseCoach, id)
			assert.True(t, ok)
			assert.False(t, seen[key], "key %q reused", key)
			seen[key] = true
		}
	}
	assert.Len(t, seen, 6)
}

func TestSnippetKey_ModeratorSubPhasesShareOneKey(t *testing.T) {
	t.Parallel()

	// Opening, summary and closing all resolve to the same key, so one
	// exchange fetches for the moderator at most once.
	k1, _ := snippetKey(KBModerator, 1, phaseModerator, "m")
	k2, _ := snippetKey(KBModerator, 1, phaseModerator, "m")
	assert.Equal(t, k1, k2)
}
