package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringIncludesBuildInfo(t *testing.T) {
	Version, Commit, BuildDate = "v1.2.3", "abc123", "2026-01-02"
	t.Cleanup(func() { Version, Commit, BuildDate = "dev", "unknown", "unknown" })

	out := String()
	require.Contains(t, out, "floorwatch v1.2.3")
	require.Contains(t, out, "commit: abc123")
	require.Contains(t, out, "built: 2026-01-02")
}
