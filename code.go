package main

import (
	"crypto/rand"
)

const (
	roomCodeLength   = 4
	roomCodeAlphabet = "0123456789"
)

// randomRoomCode returns a fixed-length numeric code drawn uniformly from
// the digit alphabet, using rejection sampling over crypto/rand bytes.
func randomRoomCode() string {
	const max = byte(255 - (256 % len(roomCodeAlphabet)))

	out := make([]byte, 0, roomCodeLength)
	buf := make([]byte, roomCodeLength*2)

	for {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, roomCodeAlphabet[int(b)%len(roomCodeAlphabet)])
				if len(out) == roomCodeLength {
					return string(out)
				}
			}
		}
	}
}

// newRoomCode generates codes until one is not held by a currently open
// room. With only 10,000 possible codes, collisions are an expected part of
// normal operation, so the retry loop is contract, not optimization. Codes
// held by closed rooms are fair game for reuse.
func newRoomCode(taken func(string) bool) string {
	for {
		code := randomRoomCode()
		if !taken(code) {
			return code
		}
	}
}
