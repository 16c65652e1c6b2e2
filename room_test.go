package main

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func testDecks() Decks {
	return Decks{
		"people": {"alpha", "beta", "gamma"},
		"places": {"delta", "epsilon"},
	}
}

func newTestRegistry() *Registry {
	return NewRegistry(testDecks())
}

func TestCreateRoomInitialState(t *testing.T) {
	reg := newTestRegistry()

	code := reg.CreateRoom()

	if len(code) != roomCodeLength {
		t.Fatalf("code %q has length %d, want %d", code, len(code), roomCodeLength)
	}
	if !reg.RoomExists(code) {
		t.Fatal("fresh room does not exist")
	}
	if reg.RoomClosed(code) {
		t.Fatal("fresh room reported closed")
	}
	if reg.RoomStarted(code) {
		t.Fatal("fresh room reported started")
	}

	game, err := reg.Snapshot(code)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(game.Players) != 0 {
		t.Fatalf("fresh room has %d players", len(game.Players))
	}
	if game.JudgeIndex != 0 {
		t.Fatalf("fresh room judge index = %d", game.JudgeIndex)
	}
	if game.Remaining["people"] != 3 || game.Remaining["places"] != 2 {
		t.Fatalf("unexpected remaining counts: %v", game.Remaining)
	}
}

func TestCreateRoomCodesUniqueAmongOpen(t *testing.T) {
	reg := newTestRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := reg.CreateRoom()
		if seen[code] {
			t.Fatalf("open room code %q issued twice", code)
		}
		seen[code] = true
	}
}

func TestAddPlayerDuplicateNickname(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	if err := reg.AddPlayer(code, "Tina"); err != nil {
		t.Fatalf("first AddPlayer: %v", err)
	}

	if err := reg.AddPlayer(code, "Tina"); !errors.Is(err, ErrNicknameTaken) {
		t.Fatalf("duplicate AddPlayer: got %v, want ErrNicknameTaken", err)
	}

	// Case-sensitive comparison: a different casing is a different player.
	if err := reg.AddPlayer(code, "tina"); err != nil {
		t.Fatalf("case-variant AddPlayer: %v", err)
	}

	names := reg.Nicknames(code)
	if len(names) != 2 || names[0] != "Tina" || names[1] != "tina" {
		t.Fatalf("unexpected roster: %v", names)
	}
}

func TestScorePlayer(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	_ = reg.AddPlayer(code, "Tina")
	_ = reg.AddPlayer(code, "Sam")

	index, err := reg.ScorePlayer(code, "Sam")
	if err != nil {
		t.Fatalf("ScorePlayer: %v", err)
	}
	if index != 1 {
		t.Fatalf("winner index = %d, want 1", index)
	}

	game, _ := reg.Snapshot(code)
	if game.Players[1].Score != 1 {
		t.Fatalf("Sam's score = %d, want 1", game.Players[1].Score)
	}
	if game.Players[0].Score != 0 {
		t.Fatalf("Tina's score = %d, want 0", game.Players[0].Score)
	}

	if _, err := reg.ScorePlayer(code, "Nobody"); !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("unknown nickname: got %v, want ErrPlayerNotFound", err)
	}
}

func TestAdvanceJudgeWraps(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	_ = reg.AddPlayer(code, "a")
	_ = reg.AddPlayer(code, "b")
	_ = reg.AddPlayer(code, "c")

	want := []int{1, 2, 0, 1}
	for _, expected := range want {
		if err := reg.AdvanceJudge(code); err != nil {
			t.Fatalf("AdvanceJudge: %v", err)
		}
		game, _ := reg.Snapshot(code)
		if game.JudgeIndex != expected {
			t.Fatalf("judge index = %d, want %d", game.JudgeIndex, expected)
		}
	}
}

func TestAdvanceJudgeEmptyRoster(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	if err := reg.AdvanceJudge(code); err != nil {
		t.Fatalf("AdvanceJudge on empty roster: %v", err)
	}

	game, _ := reg.Snapshot(code)
	if game.JudgeIndex != 0 {
		t.Fatalf("judge index = %d, want 0", game.JudgeIndex)
	}
}

func TestDrawPromptFollowsPermutation(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	deck := append([]string(nil), reg.rooms[code].decks["people"]...)

	for i, want := range deck {
		prompt, err := reg.DrawPrompt(code, "people")
		if err != nil {
			t.Fatalf("draw %d: %v", i, err)
		}
		if prompt != want {
			t.Fatalf("draw %d = %q, want %q", i, prompt, want)
		}
	}

	if _, err := reg.DrawPrompt(code, "people"); !errors.Is(err, ErrDeckExhausted) {
		t.Fatalf("draw past deck end: got %v, want ErrDeckExhausted", err)
	}

	// The cursor must stop at the deck bound.
	if next := reg.rooms[code].next["people"]; next != len(deck) {
		t.Fatalf("cursor = %d, want %d", next, len(deck))
	}

	game, _ := reg.Snapshot(code)
	if game.Remaining["people"] != 0 {
		t.Fatalf("remaining = %d, want 0", game.Remaining["people"])
	}
}

func TestDrawPromptUnknownCategory(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	if _, err := reg.DrawPrompt(code, "animals"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("got %v, want ErrUnknownCategory", err)
	}
}

func TestCloseRoom(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	if err := reg.CloseRoom(code); err != nil {
		t.Fatalf("CloseRoom: %v", err)
	}

	if reg.RoomExists(code) {
		t.Fatal("closed room still reported open")
	}
	if !reg.RoomClosed(code) {
		t.Fatal("closed room not reported closed")
	}

	if err := reg.AddPlayer(code, "Tina"); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("AddPlayer on closed room: got %v, want ErrRoomClosed", err)
	}
	if err := reg.StartGame(code); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("StartGame on closed room: got %v, want ErrRoomClosed", err)
	}

	// Snapshots stay readable for hosts collecting final data.
	if _, err := reg.Snapshot(code); err != nil {
		t.Fatalf("Snapshot on closed room: %v", err)
	}
}

func TestResponsesSurviveClose(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	payload := json.RawMessage(`{"answer":42}`)
	if err := reg.AppendResponse(code, payload); err != nil {
		t.Fatalf("AppendResponse: %v", err)
	}

	_ = reg.CloseRoom(code)

	responses, err := reg.Responses(code)
	if err != nil {
		t.Fatalf("Responses: %v", err)
	}
	if len(responses) != 1 || string(responses[0]) != `{"answer":42}` {
		t.Fatalf("unexpected responses: %v", responses)
	}
}

func TestBindings(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()

	reg.Bind("dev-1", code)
	reg.Bind("dev-2", code)

	if got := reg.RoomFor("dev-1"); got != code {
		t.Fatalf("RoomFor = %q, want %q", got, code)
	}

	devices := reg.Devices(code)
	if len(devices) != 2 {
		t.Fatalf("Devices = %v, want 2 entries", devices)
	}

	// Rebinding replaces the previous entry for the identity.
	other := reg.CreateRoom()
	reg.Bind("dev-1", other)
	if got := reg.RoomFor("dev-1"); got != other {
		t.Fatalf("after rebind RoomFor = %q, want %q", got, other)
	}
	if len(reg.Devices(code)) != 1 {
		t.Fatal("old room still lists rebound device")
	}

	reg.Unbind("dev-2")
	if got := reg.RoomFor("dev-2"); got != "" {
		t.Fatalf("after unbind RoomFor = %q, want empty", got)
	}
}

func TestCloseIdleThenReapClosed(t *testing.T) {
	reg := newTestRegistry()

	stale := reg.CreateRoom()
	fresh := reg.CreateRoom()

	reg.Bind("dev-1", stale)
	reg.Bind("dev-2", fresh)

	cutoff := time.Now().Add(-time.Hour)

	reg.rooms[stale].lastActive = time.Now().Add(-2 * time.Hour)

	closed := reg.CloseIdle(cutoff)
	if len(closed) != 1 || closed[0] != stale {
		t.Fatalf("closed %v, want [%s]", closed, stale)
	}
	if !reg.RoomClosed(stale) {
		t.Fatal("idle room not closed")
	}

	// Closing keeps the binding alive so the device can be told, and it
	// refreshes the activity clock, so an immediate reap leaves it alone.
	if got := reg.RoomFor("dev-1"); got != stale {
		t.Fatalf("binding dropped on close: %q", got)
	}
	if reaped := reg.ReapClosed(cutoff); len(reaped) != 0 {
		t.Fatalf("just-closed room reaped early: %v", reaped)
	}

	reg.rooms[stale].lastActive = time.Now().Add(-2 * time.Hour)

	reaped := reg.ReapClosed(cutoff)
	if len(reaped) != 1 || reaped[0] != stale {
		t.Fatalf("reaped %v, want [%s]", reaped, stale)
	}
	if reg.RoomExists(stale) || reg.RoomClosed(stale) {
		t.Fatal("reaped room still present")
	}
	if got := reg.RoomFor("dev-1"); got != "" {
		t.Fatalf("binding to reaped room survived: %q", got)
	}

	if !reg.RoomExists(fresh) {
		t.Fatal("fresh room touched")
	}
	if got := reg.RoomFor("dev-2"); got != fresh {
		t.Fatalf("fresh binding dropped: %q", got)
	}
}

func TestCloseIdleSkipsClosedRooms(t *testing.T) {
	reg := newTestRegistry()

	code := reg.CreateRoom()
	if err := reg.CloseRoom(code); err != nil {
		t.Fatalf("CloseRoom: %v", err)
	}
	reg.rooms[code].lastActive = time.Now().Add(-2 * time.Hour)

	if closed := reg.CloseIdle(time.Now().Add(-time.Hour)); len(closed) != 0 {
		t.Fatalf("re-closed an already closed room: %v", closed)
	}
}

func TestClosedCodeEligibleForReuse(t *testing.T) {
	reg := newTestRegistry()
	code := reg.CreateRoom()
	_ = reg.CloseRoom(code)

	// The collision predicate used by CreateRoom only counts open rooms, so
	// a closed room's code is free again.
	room, ok := reg.rooms[code]
	if !ok || room.Status != RoomClosed {
		t.Fatal("expected a lingering closed room")
	}

	taken := func(candidate string) bool {
		r, ok := reg.rooms[candidate]
		return ok && r.Status == RoomOpen
	}
	if taken(code) {
		t.Fatalf("closed code %q still counted as taken", code)
	}
}
