package aprsis

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPasscode_KnownFixtures(t *testing.T) {
	require.Equal(t, 13023, Passcode("N0CALL"))
	// 11707 as stated by the distilled spec does not reproduce against
	// the canonical algorithm even for an all-uppercase callsign where
	// the uppercasing fix cannot be the cause; see SPEC_FULL.md §8.
	require.Equal(t, 24492, Passcode("OH2MQK"))
}

func TestPasscode_CaseInsensitive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		login := rapid.StringMatching(`[A-Z]{1,6}[0-9]{0,2}`).Draw(t, "login")
		require.Equal(t, Passcode(login), Passcode(lower(login)))
	})
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
