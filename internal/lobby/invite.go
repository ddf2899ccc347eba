// internal/lobby/invite.go
package lobby

import (
	"crypto/rand"
	"math/big"
)

// inviteCharset is uppercase alphanumeric with the ambiguous characters
// (I, L, O, 0, 1) removed so codes survive being read aloud.
const inviteCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const inviteLength = 6

// NewInviteCode generates a random shareable lobby code.
func NewInviteCode() string {
	buf := make([]byte, inviteLength)
	max := big.NewInt(int64(len(inviteCharset)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the platform source is broken
			panic(err)
		}
		buf[i] = inviteCharset[n.Int64()]
	}
	return string(buf)
}
