// Promptpit party game
//
// One host device creates a room and receives a short numeric code. Player
// devices join with that code, register a nickname, and the server relays
// rounds between them: the host draws a prompt from a category, players
// answer, the judge picks a winner, the judge seat rotates.
//
// Features:
// - Single websocket endpoint, rooms multiplexed by 4-digit numeric codes
// - Codes unique among open rooms only; closed codes are recycled
// - Per-room shuffled copies of the shared prompt decks, one cursor each
// - Duplicate nicknames rejected per room, scores survive disconnects
// - Devices get a fresh identity per connection; rejoin rebinds it
// - Idle rooms reaped after a configurable timeout
// - In-browser QR code to share a room's join URL, backed by go-qrcode

package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// ClientMessage is the envelope for every inbound event. Only the fields
// relevant to the named type are read; the rest stay empty.
type ClientMessage struct {
	Type     string          `json:"type"`
	Room     string          `json:"room,omitempty"`     // joinGameRoom / rejoinGameRoom / checkGameStatus
	Nickname string          `json:"nickname,omitempty"` // setNickname
	Category string          `json:"category,omitempty"` // startRound
	Winner   string          `json:"winner,omitempty"`   // endRound
	Device   string          `json:"device,omitempty"`   // rejectDeviceParticipation
	Data     json.RawMessage `json:"data,omitempty"`     // sendResponseData
}

// EventMessage carries events that need no payload.
type EventMessage struct {
	Type string `json:"type"`
}

type RoomMessage struct {
	Type string `json:"type"` // "gameRoomEstablished", "rejoinedGameRoom"
	Room string `json:"room"`
}

type RoomJoinedMessage struct {
	Type      string   `json:"type"` // "roomJoined"
	Room      string   `json:"room"`
	Nicknames []string `json:"nicknames"`
}

type DeviceMessage struct {
	Type   string `json:"type"` // "connected", "gameDeviceConnected", "rejoinedRoom", "gameStatusRequested", "deviceDisconnection"
	Device string `json:"device"`
}

type NicknameMessage struct {
	Type     string `json:"type"` // "nicknameAccepted", "nicknameRejected", "newUserConnected"
	Nickname string `json:"nickname"`
}

type PromptMessage struct {
	Type     string `json:"type"` // "newPrompt"
	Category string `json:"category"`
	Prompt   string `json:"prompt"`
}

type CategoryMessage struct {
	Type     string `json:"type"` // "promptsExhausted"
	Category string `json:"category"`
}

type ResponseMessage struct {
	Type   string          `json:"type"` // "incomingResponseData"
	Device string          `json:"device"`
	Data   json.RawMessage `json:"data"`
}

type RoundWinnerMessage struct {
	Type   string `json:"type"` // "roundWinner"
	Winner string `json:"winner"`
	Index  int    `json:"index"`
}

type GameDataMessage struct {
	Type string `json:"type"` // "incomingGameData"
	GameData
}

type FinalResponsesMessage struct {
	Type string `json:"type"` // "incomingResponses"
	GameData
	Responses []json.RawMessage `json:"responses"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string
}

type inbound struct {
	client *Client
	msg    ClientMessage
}

// Hub relays events between connected devices. A single run loop drains all
// channels, so one inbound event is fully handled, registry mutation and
// outbound emission included, before the next is looked at. That loop is the
// unit of atomicity; handlers never block on I/O.
type Hub struct {
	registry *Registry
	clients  map[string]*Client

	register chan *Client
	unreg    chan *Client
	events   chan inbound
}

func newHub(registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[string]*Client),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		events:   make(chan inbound),
	}
}

func (h *Hub) run(cfg *Config) {
	var reap <-chan time.Time
	if cfg.roomTimeout > 0 {
		ticker := time.NewTicker(cfg.roomTimeout / 2)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unreg:
			h.handleDisconnect(cfg, c)

		case in := <-h.events:
			h.dispatch(cfg, in)

		case <-reap:
			h.reapRooms(cfg, time.Now().Add(-cfg.roomTimeout))
		}
	}
}

// reapRooms retires idle rooms in two passes. Open rooms past the cutoff
// are closed first, with a broadcast so bound devices learn the game is
// over; closing refreshes the activity clock, so the room and its bindings
// are dropped on a later pass.
func (h *Hub) reapRooms(cfg *Config, cutoff time.Time) {
	for _, code := range h.registry.CloseIdle(cutoff) {
		h.broadcast(code, EventMessage{Type: "activityCanceled"})
		logf(cfg, "GAMES: Closed idle room %s", code)
	}

	for _, code := range h.registry.ReapClosed(cutoff) {
		logf(cfg, "GAMES: Reaped room %s", code)
	}
}

func (h *Hub) registerClient(c *Client) {
	h.clients[c.id] = c

	// Greet the device with its transport identity.
	h.sendTo(c, DeviceMessage{Type: "connected", Device: c.id})
}

// sendTo delivers msg to one client, dropping the client if its buffer is
// full rather than stalling the event loop. A client that was already
// dropped can still reach here from its unwinding pumps; its send channel
// is closed by then and must not be written.
func (h *Hub) sendTo(c *Client, msg any) {
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		return
	}

	select {
	case c.send <- msg:
	default:
		h.dropClient(c)
	}
}

func (h *Hub) dropClient(c *Client) {
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// broadcast delivers msg to every device currently bound to the room. The
// membership is resolved through the registry at call time, never cached,
// because a reconnect can rebind an identity mid-session.
func (h *Hub) broadcast(code string, msg any) {
	for _, device := range h.registry.Devices(code) {
		if c, ok := h.clients[device]; ok {
			h.sendTo(c, msg)
		}
	}
}

func (h *Hub) dispatch(cfg *Config, in inbound) {
	c, msg := in.client, in.msg

	switch msg.Type {
	case "createRoom":
		h.handleCreateRoom(cfg, c)
	case "joinGameRoom":
		h.handleJoinRoom(cfg, c, msg.Room)
	case "setNickname":
		h.handleSetNickname(cfg, c, msg.Nickname)
	case "requestGameData":
		h.handleRequestGameData(c)
	case "sendStartSignal":
		h.handleStartSignal(cfg, c)
	case "startRound":
		h.handleStartRound(cfg, c, msg.Category)
	case "sendResponseData":
		h.handleSendResponse(c, msg.Data)
	case "endRound":
		h.handleEndRound(cfg, c, msg.Winner)
	case "rejoinGameRoom":
		h.handleRejoinRoom(cfg, c, msg.Room)
	case "checkGameStatus":
		h.handleCheckGameStatus(c, msg.Room)
	case "rejectDeviceParticipation":
		h.handleRejectParticipation(c, msg.Device)
	case "cancelGame":
		h.handleCancelGame(cfg, c)
	case "endGameSession":
		h.handleEndGameSession(c)
	case "endSession":
		h.handleEndSession(cfg, c)
	case "confirmResponsesReceipt":
		h.handleConfirmReceipt(cfg, c)
	default:
		// ignore unknown types
	}
}

// boundRoom resolves the acting connection's room, answering the requester
// with a rejection when it has none.
func (h *Hub) boundRoom(c *Client) (string, bool) {
	room := h.registry.RoomFor(c.id)
	if room == "" {
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return "", false
	}

	return room, true
}

func (h *Hub) handleCreateRoom(cfg *Config, c *Client) {
	code := h.registry.CreateRoom()
	h.registry.Bind(c.id, code)

	h.sendTo(c, RoomMessage{Type: "gameRoomEstablished", Room: code})

	logf(cfg, "GAMES: Device %s established room %s", c.id, code)
}

func (h *Hub) handleJoinRoom(cfg *Config, c *Client, room string) {
	if !h.registry.RoomExists(room) || h.registry.RoomClosed(room) {
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return
	}

	h.registry.Bind(c.id, room)

	h.sendTo(c, RoomJoinedMessage{
		Type:      "roomJoined",
		Room:      room,
		Nicknames: h.registry.Nicknames(room),
	})
	h.broadcast(room, DeviceMessage{Type: "gameDeviceConnected", Device: c.id})

	logf(cfg, "GAMES: Device %s joined room %s", c.id, room)
}

func (h *Hub) handleSetNickname(cfg *Config, c *Client, nickname string) {
	if nickname == "" {
		h.sendTo(c, NicknameMessage{Type: "nicknameRejected", Nickname: nickname})
		return
	}

	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	if err := h.registry.AddPlayer(room, nickname); err != nil {
		h.sendTo(c, NicknameMessage{Type: "nicknameRejected", Nickname: nickname})
		return
	}

	h.sendTo(c, NicknameMessage{Type: "nicknameAccepted", Nickname: nickname})
	h.broadcast(room, NicknameMessage{Type: "newUserConnected", Nickname: nickname})

	// Late joiners arrive after the start signal went out, so repeat it.
	if h.registry.RoomStarted(room) {
		h.broadcast(room, EventMessage{Type: "allowGameStart"})
	}

	logf(cfg, "GAMES: %q registered in room %s", nickname, room)
}

func (h *Hub) handleRequestGameData(c *Client) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	game, err := h.registry.Snapshot(room)
	if err != nil {
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return
	}

	h.sendTo(c, GameDataMessage{Type: "incomingGameData", GameData: game})
}

func (h *Hub) handleStartSignal(cfg *Config, c *Client) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	if err := h.registry.StartGame(room); err != nil {
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return
	}

	h.broadcast(room, EventMessage{Type: "allowGameStart"})

	logf(cfg, "GAMES: Room %s started", room)
}

func (h *Hub) handleStartRound(cfg *Config, c *Client, category string) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	prompt, err := h.registry.DrawPrompt(room, category)
	switch {
	case errors.Is(err, ErrDeckExhausted), errors.Is(err, ErrUnknownCategory):
		h.sendTo(c, CategoryMessage{Type: "promptsExhausted", Category: category})
		return
	case err != nil:
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return
	}

	h.broadcast(room, PromptMessage{Type: "newPrompt", Category: category, Prompt: prompt})

	logf(cfg, "GAMES: Room %s drew a %q prompt", room, category)
}

func (h *Hub) handleSendResponse(c *Client, data json.RawMessage) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	if err := h.registry.AppendResponse(room, data); err != nil {
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return
	}

	h.sendTo(c, EventMessage{Type: "responseReceiptConfirmed"})
	h.broadcast(room, ResponseMessage{Type: "incomingResponseData", Device: c.id, Data: data})
}

func (h *Hub) handleEndRound(cfg *Config, c *Client, winner string) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	index, err := h.registry.ScorePlayer(room, winner)
	if err != nil {
		h.sendTo(c, NicknameMessage{Type: "nicknameRejected", Nickname: winner})
		return
	}

	if err := h.registry.AdvanceJudge(room); err != nil {
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return
	}

	h.broadcast(room, RoundWinnerMessage{Type: "roundWinner", Winner: winner, Index: index})

	game, err := h.registry.Snapshot(room)
	if err == nil {
		h.broadcast(room, GameDataMessage{Type: "incomingGameData", GameData: game})
	}

	logf(cfg, "GAMES: %q won a round in room %s", winner, room)
}

// handleRejoinRoom rebinds a reconnecting device, which arrives under a new
// identity, to its old room. The code must have actually been issued: open
// rooms and closed-but-unreaped rooms both qualify, so a device can still
// collect final data after the game ends. Unknown codes are rejected the
// same way an initial join is.
func (h *Hub) handleRejoinRoom(cfg *Config, c *Client, room string) {
	if !h.registry.RoomExists(room) && !h.registry.RoomClosed(room) {
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return
	}

	h.registry.Bind(c.id, room)

	h.sendTo(c, RoomMessage{Type: "rejoinedGameRoom", Room: room})
	h.broadcast(room, DeviceMessage{Type: "rejoinedRoom", Device: c.id})

	logf(cfg, "GAMES: Device %s rejoined room %s", c.id, room)
}

func (h *Hub) handleCheckGameStatus(c *Client, room string) {
	h.broadcast(room, DeviceMessage{Type: "gameStatusRequested", Device: c.id})
}

func (h *Hub) handleRejectParticipation(c *Client, device string) {
	if target, ok := h.clients[device]; ok {
		h.sendTo(target, EventMessage{Type: "participationRejected"})
	}
}

func (h *Hub) handleCancelGame(cfg *Config, c *Client) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	_ = h.registry.CloseRoom(room)
	h.registry.Unbind(c.id)

	// The acting device already left; the rest of the room learns here.
	h.broadcast(room, EventMessage{Type: "activityCanceled"})

	logf(cfg, "GAMES: Room %s canceled", room)
}

func (h *Hub) handleEndGameSession(c *Client) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	game, err := h.registry.Snapshot(room)
	if err != nil {
		h.sendTo(c, EventMessage{Type: "roomJoinRejected"})
		return
	}

	responses, _ := h.registry.Responses(room)

	h.sendTo(c, FinalResponsesMessage{
		Type:      "incomingResponses",
		GameData:  game,
		Responses: responses,
	})
}

func (h *Hub) handleEndSession(cfg *Config, c *Client) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	h.broadcast(room, EventMessage{Type: "sessionEnded"})

	_ = h.registry.CloseRoom(room)
	h.registry.Unbind(c.id)

	logf(cfg, "GAMES: Room %s session ended", room)
}

func (h *Hub) handleConfirmReceipt(cfg *Config, c *Client) {
	room, ok := h.boundRoom(c)
	if !ok {
		return
	}

	_ = h.registry.CloseRoom(room)
	h.registry.Unbind(c.id)

	h.broadcast(room, EventMessage{Type: "activityCanceled"})

	logf(cfg, "GAMES: Room %s closed after response receipt", room)
}

// handleDisconnect notifies the departing device and its room, then drops
// only this identity's binding. Roster and scores stay put so the player can
// rejoin later.
func (h *Hub) handleDisconnect(cfg *Config, c *Client) {
	// Look up the room before clearing the binding.
	room := h.registry.RoomFor(c.id)

	h.sendTo(c, EventMessage{Type: "disconnected"})
	h.dropClient(c)
	h.registry.Unbind(c.id)

	if room != "" {
		h.broadcast(room, DeviceMessage{Type: "deviceDisconnection", Device: c.id})
		logf(cfg, "GAMES: Device %s left room %s", c.id, room)
	}
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   uuid.NewString(),
		}

		h.register <- client

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		h.events <- inbound{client: c, msg: msg}
	}
}

// writePump drains the send channel and keeps the connection alive with
// periodic pings. A missed pong trips the read deadline in readPump, which
// tears the whole session down.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped this client.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// QR handler: generates a PNG QR code for a room's join URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code := ps.ByName("code")
	if code == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../qr/:code; point the QR at the room landing page.
	path := strings.TrimSuffix(r.URL.Path, "/qr/"+code) + "/room/" + code

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// serveRoomPage renders a landing page for a shared room link; this is the
// URL the QR at /qr/:code encodes.
func serveRoomPage(cfg *Config, registry *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")

		body := "Room " + code + " is ready. Connect a device to /party/ws and join with this code."
		if !registry.RoomExists(code) {
			body = "Room " + code + " is not open. Connect a host device to /party/ws to start a new game."
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage("promptpit", body)))
	}
}

// registerPartyGame sets up routes so that:
//   - $path/ws         → shared websocket endpoint speaking the game protocol
//   - $path/room/:code → landing page for a shared room link
//   - $path/qr/:code   → PNG QR code for a room's landing URL
func registerPartyGame(cfg *Config, path string, mux *httprouter.Router, registry *Registry) {
	hub := newHub(registry)
	go hub.run(cfg)

	mux.GET(cfg.prefix+path+"/ws", serveWS(hub))

	mux.GET(cfg.prefix+path+"/room/:code", serveRoomPage(cfg, registry))

	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler)
}
