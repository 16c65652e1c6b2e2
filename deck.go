package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

//go:embed assets/decks.json
var builtinDecks []byte

// Decks maps a category name to its ordered pool of prompt strings.
type Decks map[string][]string

// loadDecks parses the built-in decks, or the JSON file at path when one is
// given. Decks are loaded once at startup and shared read-only afterwards.
func loadDecks(path string) (Decks, error) {
	data := builtinDecks

	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read deck file: %w", err)
		}
	}

	var decks Decks
	if err := json.Unmarshal(data, &decks); err != nil {
		return nil, fmt.Errorf("parse deck file: %w", err)
	}

	if len(decks) == 0 {
		return nil, errors.New("deck file defines no categories")
	}

	for category, prompts := range decks {
		if len(prompts) == 0 {
			return nil, fmt.Errorf("category %q has no prompts", category)
		}
	}

	return decks, nil
}

// shuffled returns an independent permutation of every category. The shared
// source decks are never touched, so each room gets its own prompt order.
func (d Decks) shuffled() map[string][]string {
	out := make(map[string][]string, len(d))

	for category, prompts := range d {
		deck := make([]string, len(prompts))
		copy(deck, prompts)
		shuffleStrings(deck)
		out[category] = deck
	}

	return out
}

// shuffleStrings permutes s in place with an unbiased Fisher-Yates pass.
func shuffleStrings(s []string) {
	for i := len(s) - 1; i > 0; i-- {
		j := randomIndex(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// randomIndex returns a uniform random int in [0, n).
func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}

	limit := uint64(1<<32) - (uint64(1<<32) % uint64(n))

	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		v := binary.BigEndian.Uint32(buf[:])
		if uint64(v) < limit {
			return int(v % uint32(n))
		}
	}
}
