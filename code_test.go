package main

import (
	"strings"
	"testing"
)

func TestRandomRoomCodeFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := randomRoomCode()

		if len(code) != roomCodeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), roomCodeLength)
		}

		for _, r := range code {
			if !strings.ContainsRune(roomCodeAlphabet, r) {
				t.Fatalf("code %q contains %q, outside the digit alphabet", code, r)
			}
		}
	}
}

func TestNewRoomCodeRetriesOnCollision(t *testing.T) {
	// Reject every code except one, forcing the generator to loop until it
	// lands on the single free slot.
	const free = "4821"

	code := newRoomCode(func(code string) bool {
		return code != free
	})

	if code != free {
		t.Fatalf("got code %q, want %q", code, free)
	}
}

func TestNewRoomCodeNoCollisions(t *testing.T) {
	taken := make(map[string]bool)

	for i := 0; i < 500; i++ {
		code := newRoomCode(func(code string) bool {
			return taken[code]
		})

		if taken[code] {
			t.Fatalf("generator returned taken code %q", code)
		}

		taken[code] = true
	}
}

func TestRandomIndexBounds(t *testing.T) {
	for n := 1; n <= 10; n++ {
		for i := 0; i < 100; i++ {
			got := randomIndex(n)
			if got < 0 || got >= n {
				t.Fatalf("randomIndex(%d) = %d, out of range", n, got)
			}
		}
	}
}
