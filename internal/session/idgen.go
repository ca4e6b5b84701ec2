package session

import (
	"crypto/rand"

	"github.com/midterm-hq/midterm/internal/wire"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateID draws wire.SessionIDLen printable ASCII characters from
// [A-Za-z0-9] (§4.4). The 8-byte width is fixed so an id embeds
// directly in the mux frame header with no further encoding. It is a
// package-level var, not a plain func, so tests can substitute a
// deterministic sequence to exercise Manager's collision-retry path.
var generateID = defaultGenerateID

func defaultGenerateID() (string, error) {
	buf := make([]byte, wire.SessionIDLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := make([]byte, wire.SessionIDLen)
	for i, b := range buf {
		id[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(id), nil
}
