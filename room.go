package main

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomClosed      = errors.New("room closed")
	ErrNicknameTaken   = errors.New("nickname already taken")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrUnknownCategory = errors.New("unknown prompt category")
	ErrDeckExhausted   = errors.New("prompt deck exhausted")
)

// RoomStatus is an explicit state field on the room, rather than membership
// in a side list of closed codes.
type RoomStatus int

const (
	RoomOpen RoomStatus = iota
	RoomClosed
)

// Player is one roster entry. Score starts at zero and only ever increments.
type Player struct {
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}

// Room is one logical game session: roster, per-room prompt permutations,
// judge pointer, and lifecycle status.
type Room struct {
	Code       string
	Players    []Player
	JudgeIndex int
	Started    bool
	Status     RoomStatus

	decks     map[string][]string
	next      map[string]int
	responses []json.RawMessage

	createdAt  time.Time
	lastActive time.Time
}

// GameData is the wire snapshot of a room.
type GameData struct {
	Room       string         `json:"room"`
	Players    []Player       `json:"players"`
	JudgeIndex int            `json:"judgeIndex"`
	Started    bool           `json:"started"`
	Remaining  map[string]int `json:"remaining"`
}

// Registry owns every room and the binding from device identity to room
// code. It is constructed at server start and torn down with the process;
// nothing survives a restart.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	bindings map[string]string
	decks    Decks
}

func NewRegistry(decks Decks) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		bindings: make(map[string]string),
		decks:    decks,
	}
}

// CreateRoom registers a fresh room under a code unique among open rooms
// and returns the code. A lingering closed room under the same code is
// replaced, which is how codes get recycled.
func (r *Registry) CreateRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := newRoomCode(func(code string) bool {
		room, ok := r.rooms[code]
		return ok && room.Status == RoomOpen
	})

	now := time.Now()
	r.rooms[code] = &Room{
		Code:       code,
		Players:    []Player{},
		decks:      r.decks.shuffled(),
		next:       make(map[string]int),
		createdAt:  now,
		lastActive: now,
	}

	return code
}

// RoomExists reports whether code names a currently open room.
func (r *Registry) RoomExists(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[code]

	return ok && room.Status == RoomOpen
}

// RoomClosed reports whether code names a room that has been closed but not
// yet reaped.
func (r *Registry) RoomClosed(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[code]

	return ok && room.Status == RoomClosed
}

func (r *Registry) RoomStarted(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[code]

	return ok && room.Started
}

// openRoom resolves code to an open room. Callers hold r.mu.
func (r *Registry) openRoom(code string) (*Room, error) {
	room, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if room.Status == RoomClosed {
		return nil, ErrRoomClosed
	}

	return room, nil
}

// anyRoom resolves code to a room regardless of status. Callers hold r.mu.
func (r *Registry) anyRoom(code string) (*Room, error) {
	room, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	return room, nil
}

// AddPlayer appends a zero-score roster entry. Nicknames are unique within
// a room, compared case-sensitively.
func (r *Registry) AddPlayer(code, nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.openRoom(code)
	if err != nil {
		return err
	}

	for _, p := range room.Players {
		if p.Nickname == nickname {
			return ErrNicknameTaken
		}
	}

	room.Players = append(room.Players, Player{Nickname: nickname})
	room.lastActive = time.Now()

	return nil
}

// Nicknames returns the current roster names in join order. The slice is
// never nil, so it serializes as an empty list for a fresh room.
func (r *Registry) Nicknames(code string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := []string{}

	room, ok := r.rooms[code]
	if !ok {
		return names
	}

	for _, p := range room.Players {
		names = append(names, p.Nickname)
	}

	return names
}

// StartGame marks the room as started. Starting twice is harmless.
func (r *Registry) StartGame(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.openRoom(code)
	if err != nil {
		return err
	}

	room.Started = true
	room.lastActive = time.Now()

	return nil
}

// DrawPrompt returns the next prompt in the room's permutation of category
// and advances the cursor. Once the cursor reaches the deck length the
// category is spent and every further draw reports ErrDeckExhausted; the
// cursor never passes the deck bound.
func (r *Registry) DrawPrompt(code, category string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.openRoom(code)
	if err != nil {
		return "", err
	}

	deck, ok := room.decks[category]
	if !ok {
		return "", ErrUnknownCategory
	}

	cursor := room.next[category]
	if cursor >= len(deck) {
		return "", ErrDeckExhausted
	}

	room.next[category] = cursor + 1
	room.lastActive = time.Now()

	return deck[cursor], nil
}

// AdvanceJudge moves the judge pointer one position, wrapping at the end of
// the roster. An empty roster pins the pointer at zero.
func (r *Registry) AdvanceJudge(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.openRoom(code)
	if err != nil {
		return err
	}

	if len(room.Players) == 0 {
		room.JudgeIndex = 0
		return nil
	}

	room.JudgeIndex = (room.JudgeIndex + 1) % len(room.Players)
	room.lastActive = time.Now()

	return nil
}

// ScorePlayer increments the named player's score by one and returns the
// player's roster index.
func (r *Registry) ScorePlayer(code, nickname string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.openRoom(code)
	if err != nil {
		return 0, err
	}

	for i := range room.Players {
		if room.Players[i].Nickname == nickname {
			room.Players[i].Score++
			room.lastActive = time.Now()
			return i, nil
		}
	}

	return 0, ErrPlayerNotFound
}

// AppendResponse adds a raw response payload to the room's log for later
// collection by the host.
func (r *Registry) AppendResponse(code string, data json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.openRoom(code)
	if err != nil {
		return err
	}

	room.responses = append(room.responses, data)
	room.lastActive = time.Now()

	return nil
}

// Responses returns a copy of the room's response log. Works on closed
// rooms too, since hosts collect final responses while shutting down.
func (r *Registry) Responses(code string) ([]json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, err := r.anyRoom(code)
	if err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, len(room.responses))
	copy(out, room.responses)

	return out, nil
}

// CloseRoom flips the room to closed. The room stops accepting joins but
// devices already inside keep their bindings until they disconnect.
func (r *Registry) CloseRoom(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, err := r.anyRoom(code)
	if err != nil {
		return err
	}

	room.Status = RoomClosed
	room.lastActive = time.Now()

	return nil
}

// Snapshot builds the wire view of a room, open or closed.
func (r *Registry) Snapshot(code string) (GameData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, err := r.anyRoom(code)
	if err != nil {
		return GameData{}, err
	}

	players := make([]Player, len(room.Players))
	copy(players, room.Players)

	remaining := make(map[string]int, len(room.decks))
	for category, deck := range room.decks {
		remaining[category] = len(deck) - room.next[category]
	}

	return GameData{
		Room:       room.Code,
		Players:    players,
		JudgeIndex: room.JudgeIndex,
		Started:    room.Started,
		Remaining:  remaining,
	}, nil
}

// Bind points a device identity at a room code, replacing any previous
// binding held by that identity. A reconnecting device arrives with a fresh
// identity, so its old binding simply goes stale until that identity
// disconnects.
func (r *Registry) Bind(device, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings[device] = code
}

func (r *Registry) Unbind(device string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.bindings, device)
}

// RoomFor returns the code the device is currently bound to, or "". Always
// consulted fresh at event time, never cached by callers.
func (r *Registry) RoomFor(device string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.bindings[device]
}

// Devices lists the identities currently bound to code.
func (r *Registry) Devices(code string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var devices []string
	for device, bound := range r.bindings {
		if bound == code {
			devices = append(devices, device)
		}
	}

	return devices
}

// CloseIdle closes open rooms with no activity since cutoff and returns
// their codes. Bound devices keep their bindings so the caller can still
// reach them with a notification; closing refreshes the activity clock, so
// a just-closed room is not reaped until a later pass.
func (r *Registry) CloseIdle(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var closed []string

	for code, room := range r.rooms {
		if room.Status == RoomOpen && room.lastActive.Before(cutoff) {
			room.Status = RoomClosed
			room.lastActive = time.Now()
			closed = append(closed, code)
		}
	}

	return closed
}

// ReapClosed drops closed rooms with no activity since cutoff, along with
// any bindings still pointing at them, and returns the dropped codes.
// Reaped codes become fully recyclable.
func (r *Registry) ReapClosed(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []string

	for code, room := range r.rooms {
		if room.Status == RoomClosed && room.lastActive.Before(cutoff) {
			delete(r.rooms, code)
			reaped = append(reaped, code)
		}
	}

	for device, code := range r.bindings {
		if _, ok := r.rooms[code]; !ok {
			delete(r.bindings, device)
		}
	}

	return reaped
}
