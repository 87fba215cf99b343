package roundtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamSource_AllOrNothing(t *testing.T) {
	t.Parallel()

	defaults := ModelParams{Provider: "openai", Model: "gpt-4o", Temperature: 0.5, MaxTokens: 800}

	t.Run("session defaults", func(t *testing.T) {
		src := UseSessionDefaults()
		assert.False(t, src.IsOverride())
		assert.Equal(t, defaults, src.Resolve(defaults))
	})

	t.Run("full override replaces whole bundle", func(t *testing.T) {
		override := ModelParams{Provider: "deepseek", Model: "deepseek-chat"}
		src := UseOverride(override)
		assert.True(t, src.IsOverride())

		got := src.Resolve(defaults)
		assert.Equal(t, override, got)
		// No field leaks through from the session bundle.
		assert.Zero(t, got.Temperature)
		assert.Zero(t, got.MaxTokens)
	})
}

func TestEffectiveParams_FallbacksFromChosenBundleOnly(t *testing.T) {
	t.Parallel()

	coach := Coach{ID: "a", Name: "Ada", Temperature: 0.3}

	t.Run("empty bundle falls back to persona and built-ins", func(t *testing.T) {
		got := effectiveParams(ModelParams{}, coach, KindResponse)
		assert.Equal(t, defaultModel, got.Model)
		assert.InDelta(t, 0.3, float64(got.Temperature), 1e-6)
		assert.Equal(t, defaultCoachMaxTokens, got.MaxTokens)
	})

	t.Run("persona without temperature uses built-in", func(t *testing.T) {
		got := effectiveParams(ModelParams{}, Coach{ID: "b"}, KindResponse)
		assert.InDelta(t, defaultTurnTemperature, float64(got.Temperature), 1e-6)
	})

	t.Run("set fields win", func(t *testing.T) {
		got := effectiveParams(ModelParams{Model: "gpt-4o", Temperature: 0.9, MaxTokens: 100}, coach, KindResponse)
		assert.Equal(t, ModelParams{Model: "gpt-4o", Temperature: 0.9, MaxTokens: 100}, got)
	})

	t.Run("moderator kinds use their own token ceilings", func(t *testing.T) {
		mod := Coach{ID: "m"}
		assert.Equal(t, defaultOpeningMaxTokens, effectiveParams(ModelParams{}, mod, KindOpening).MaxTokens)
		assert.Equal(t, defaultSummaryMaxTokens, effectiveParams(ModelParams{}, mod, KindSummary).MaxTokens)
		assert.Equal(t, defaultClosingMaxTokens, effectiveParams(ModelParams{}, mod, KindClosing).MaxTokens)
	})
}

func TestClampRounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      DiscussionMode
		requested int
		ceiling   int
		want      int
	}{
		{"moderated always one", ModeModerated, 5, 3, 1},
		{"free within ceiling", ModeFree, 2, 3, 2},
		{"free clamped", ModeFree, 10, 3, 3},
		{"free zero becomes one", ModeFree, 0, 3, 1},
		{"free negative becomes one", ModeFree, -4, 3, 1},
		{"no ceiling", ModeFree, 7, 0, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampRounds(tt.mode, tt.requested, tt.ceiling))
		})
	}
}

func TestClampBudget(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, clampBudget(0, 5, 20), "unset uses fallback")
	assert.Equal(t, 8, clampBudget(8, 5, 20))
	assert.Equal(t, 20, clampBudget(50, 5, 20), "ceiling applies")
	assert.Equal(t, 5, clampBudget(-1, 5, 20))
}
