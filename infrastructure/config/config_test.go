package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "development", cfg.Environment)
		assert.Equal(t, 100, cfg.HistoryDepth)
		assert.Equal(t, 3, cfg.InferenceMaxPasses)
		assert.True(t, cfg.IsDevelopment())
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("HISTORY_DEPTH", "25")

		cfg, err := Load()

		require.NoError(t, err)
		assert.False(t, cfg.IsDevelopment())
		assert.Equal(t, 25, cfg.HistoryDepth)
	})

	t.Run("non-positive history depth is rejected", func(t *testing.T) {
		t.Setenv("HISTORY_DEPTH", "0")

		_, err := Load()

		assert.Error(t, err)
	})
}
