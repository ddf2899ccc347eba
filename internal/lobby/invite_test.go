// internal/lobby/invite_test.go
package lobby

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInviteCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := NewInviteCode()
		require.Len(t, code, inviteLength)
		for _, r := range code {
			require.True(t, strings.ContainsRune(inviteCharset, r), "unexpected character %q in %s", r, code)
		}
		require.NoError(t, validateCode(code))
		seen[code] = true
	}
	// 31^6 codes; 200 draws colliding would mean a broken generator
	require.Greater(t, len(seen), 190)
}

func TestInviteCharsetExcludesAmbiguous(t *testing.T) {
	for _, r := range "ILO01" {
		require.False(t, strings.ContainsRune(inviteCharset, r), "%q must not be in the charset", r)
	}
}
