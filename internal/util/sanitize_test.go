package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArtifactLabel(t *testing.T) {
	t.Parallel()

	t.Run("replaces separators and unsafe characters", func(t *testing.T) {
		require.Equal(t, "q1_report_2026", ArtifactLabel(` Q1 Report<2026>?`))
	})

	t.Run("blocks path traversal", func(t *testing.T) {
		require.Equal(t, "etc_passwd", ArtifactLabel("../../etc/passwd"))
	})

	t.Run("empty after cleaning", func(t *testing.T) {
		require.Equal(t, "", ArtifactLabel("  ...  "))
	})

	t.Run("strips zero-width characters", func(t *testing.T) {
		require.Equal(t, "annual", ArtifactLabel("ann\u200Bual"))
	})

	t.Run("truncates long labels", func(t *testing.T) {
		require.Len(t, []rune(ArtifactLabel(strings.Repeat("é", 100))), maxLabelRunes)
	})
}
