package textutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizePassport(t *testing.T) {
	require.Equal(t, "AA 111222", NormalizePassport("  aa   111222 "))
	require.Equal(t, "75 1234567", NormalizePassport("75 1234567"))
	require.Equal(t, "", NormalizePassport("   "))
}

func TestParseDate(t *testing.T) {
	for _, value := range []string{
		"2024-06-01",
		"01-06-2024",
		"01/06/2024",
		"1 June 2024",
		"01 June 2024",
	} {
		parsed, ok := ParseDate(value)
		require.True(t, ok, value)
		require.Equal(t, 2024, parsed.Year())
		require.Equal(t, time.June, parsed.Month())
		require.Equal(t, 1, parsed.Day())
	}

	_, ok := ParseDate("")
	require.False(t, ok)
	_, ok = ParseDate("-")
	require.False(t, ok)
	_, ok = ParseDate("not a date")
	require.False(t, ok)
}
