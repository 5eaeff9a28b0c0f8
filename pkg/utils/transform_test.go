package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupTrimsAndKeepsOrder(t *testing.T) {
	require.Equal(t, []string{"GDP", "UNRATE"}, Dedup([]string{" GDP", "UNRATE", "", "GDP "}))
	require.Empty(t, Dedup(nil))
}

func TestSplitList(t *testing.T) {
	require.Nil(t, SplitList(""))
	require.Equal(t, []string{"GDP", "CPIAUCSL", "FEDFUNDS"}, SplitList("GDP, CPIAUCSL,,FEDFUNDS,GDP"))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 5))
	require.Equal(t, "ab", Truncate("abc", 2))
	require.Equal(t, "", Truncate("abc", 0))
	// multi-byte characters are counted as one
	require.Equal(t, "héé", Truncate("hééllo", 3))
}
