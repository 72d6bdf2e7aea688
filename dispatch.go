package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/samber/lo"
)

const (
	roleGM     = "gm"
	rolePlayer = "player"
)

const (
	boostAddTime      = "add-time"
	boostDoublePoints = "double-points"
	boostReveal       = "reveal"
)

const (
	addTimeBonusMs    = 10000
	doublePointsBonus = 2
)

// envelope is an outbound message. Error envelopes carry a top-level message
// instead of a payload.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// command is an inbound message; payloads are decoded per command kind.
type command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one device connection plus its session entry: which room it is
// attached to, as which role, and under which identity. Session fields are
// only touched by the dispatcher under gameServer.mu.
type client struct {
	conn *websocket.Conn
	send chan envelope

	code string
	role string
	id   string
}

func (c *client) trySend(env envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

type hostCreatePayload struct {
	Name       string     `json:"name"`
	Config     GameConfig `json:"config"`
	GMPass     string     `json:"gmPass"`
	PlayerPass string     `json:"playerPass"`
}

type hostResumePayload struct {
	Code    string `json:"code"`
	GMToken string `json:"gmToken"`
	GMPass  string `json:"gmPass"`
}

type hostConfigPayload struct {
	Config  json.RawMessage `json:"config"`
	GMToken string          `json:"gmToken"`
}

type hostRoomPayload struct {
	Code    string `json:"code"`
	GMToken string `json:"gmToken"`
}

type playerJoinPayload struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	ClientID   string `json:"clientId"`
	PIN        string `json:"pin"`
	PlayerPass string `json:"playerPass"`
}

type playerProgressPayload struct {
	ClientID   string            `json:"clientId"`
	Placements map[string]string `json:"placements"`
}

type playerIdentPayload struct {
	ClientID string `json:"clientId"`
}

type playerBoostPayload struct {
	ClientID string `json:"clientId"`
	Type     string `json:"type"`
}

type hostCreatedPayload struct {
	Code    string        `json:"code"`
	GMToken string        `json:"gmToken"`
	PIN     string        `json:"pin"`
	Room    *RoomSnapshot `json:"room"`
}

type pinRotatedPayload struct {
	PIN string `json:"pin"`
}

type hintGrantPayload struct {
	QuoteID string `json:"quoteId"`
	Phase   string `json:"phase"`
}

type boostAppliedPayload struct {
	Type       string `json:"type"`
	TargetName string `json:"targetName"`
}

func (gs *gameServer) sendError(c *client, message string) {
	c.trySend(envelope{Type: "error", Message: message})
}

// broadcastLocked fans an event out to every connection in the room. The
// payload callback is evaluated at most twice: once for GM-role connections
// and once for the rest, since GM snapshots include secrets. Sends never
// block; a full buffer drops the frame for that connection only.
func (gs *gameServer) broadcastLocked(room *Room, typ string, payload func(gm bool) any) {
	var gmPayload, publicPayload any
	gmReady, publicReady := false, false

	for cl := range room.clients {
		var p any
		if cl.role == roleGM {
			if !gmReady {
				gmPayload = payload(true)
				gmReady = true
			}
			p = gmPayload
		} else {
			if !publicReady {
				publicPayload = payload(false)
				publicReady = true
			}
			p = publicPayload
		}

		if !cl.trySend(envelope{Type: typ, Payload: p}) {
			logf(gs.cfg, "SOCKET: Dropped %s frame for slow connection in %s", typ, room.Code)
		}
	}
}

func (gs *gameServer) broadcastRoomLocked(room *Room) {
	gs.broadcastLocked(room, "room:update", func(gm bool) any {
		return room.snapshot(gm)
	})
}

// detachLocked removes the connection from whatever room it is currently in.
// A connection is attached to at most one room at a time.
func (gs *gameServer) detachLocked(c *client) {
	if c.code == "" {
		return
	}
	if room := gs.rooms[c.code]; room != nil {
		delete(room.clients, c)
	}
	c.code, c.role, c.id = "", "", ""
}

func (gs *gameServer) disconnect(c *client) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.detachLocked(c)
}

// dispatch is the single entry point for inbound commands.
func (gs *gameServer) dispatch(c *client, msg command) {
	switch msg.Type {
	case "host:create":
		gs.handleHostCreate(c, msg.Payload)
	case "host:resume":
		gs.handleHostResume(c, msg.Payload)
	case "host:update-config":
		gs.handleHostUpdateConfig(c, msg.Payload)
	case "host:rotate-pin":
		gs.handleHostRotatePin(c, msg.Payload)
	case "host:start":
		gs.handleHostStart(c, msg.Payload)
	case "host:end":
		gs.handleHostEnd(c, msg.Payload)
	case "player:join":
		gs.handlePlayerJoin(c, msg.Payload)
	case "player:update-progress":
		gs.handlePlayerProgress(c, msg.Payload)
	case "player:use-hint":
		gs.handlePlayerHint(c, msg.Payload)
	case "player:use-boost":
		gs.handlePlayerBoost(c, msg.Payload)
	case "ping":
		// keepalive, nothing to do
	default:
		gs.sendError(c, "Unknown message type")
	}
}

func (gs *gameServer) handleHostCreate(c *client, raw json.RawMessage) {
	var p hostCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	name := p.Name
	if name == "" {
		name = "GM"
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	room, err := gs.createRoomLocked(name, p.Config, p.GMPass, p.PlayerPass)
	if err != nil {
		logf(gs.cfg, "GAMES: Create failed: %v", err)
		gs.sendError(c, "Unable to create room.")
		return
	}

	gs.detachLocked(c)
	room.clients[c] = true
	c.code, c.role, c.id = room.Code, roleGM, "gm"

	c.trySend(envelope{Type: "host:created", Payload: hostCreatedPayload{
		Code:    room.Code,
		GMToken: room.GMToken,
		PIN:     room.PIN,
		Room:    room.snapshot(true),
	}})
	c.trySend(envelope{Type: "room:update", Payload: room.snapshot(true)})

	gs.persistLocked()

	logf(gs.cfg, "GAMES: Room %s created by %q", room.Code, name)
}

func (gs *gameServer) handleHostResume(c *client, raw json.RawMessage) {
	var p hostResumePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	room := gs.rooms[p.Code]
	if room == nil || room.GMToken != p.GMToken {
		gs.sendError(c, "Invalid room code or GM token.")
		return
	}

	key := gmAttemptKey(p.Code)
	if gs.attempts.isLocked(key) {
		logf(gs.cfg, "GUARD: GM resume locked code=%s", p.Code)
		gs.sendError(c, "Too many failed GM attempts. Try again in 60s.")
		return
	}

	if room.GMHash != "" && room.GMSalt != "" {
		if hashPass(p.GMPass, room.GMSalt) != room.GMHash {
			rec := gs.attempts.registerFailure(key)
			msg := "GM passcode incorrect."
			if rec.locked(time.Now()) {
				msg = "GM locked out for 60s due to failed attempts."
			}
			logf(gs.cfg, "GUARD: GM resume fail code=%s fails=%d", p.Code, rec.fails)
			gs.sendError(c, msg)
			return
		}
	}
	gs.attempts.clear(key)

	gs.detachLocked(c)
	room.clients[c] = true
	c.code, c.role, c.id = room.Code, roleGM, "gm"

	c.trySend(envelope{Type: "room:update", Payload: room.snapshot(true)})
}

func (gs *gameServer) handleHostUpdateConfig(c *client, raw json.RawMessage) {
	var p hostConfigPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if c.role != roleGM {
		gs.sendError(c, "Only GM can update config.")
		return
	}

	room := gs.rooms[c.code]
	if room == nil {
		return
	}
	if len(p.Config) == 0 || p.GMToken != room.GMToken {
		gs.sendError(c, "Invalid GM token for config update.")
		return
	}
	if room.Status == StatusEnded {
		gs.sendError(c, "Game already ended.")
		return
	}

	// Partial update: unmarshalling onto a copy of the current config leaves
	// omitted fields untouched.
	merged := room.Config
	if err := json.Unmarshal(p.Config, &merged); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}
	room.Config = merged

	gs.broadcastRoomLocked(room)
	gs.persistLocked()
}

func (gs *gameServer) handleHostRotatePin(c *client, raw json.RawMessage) {
	var p hostRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if c.role != roleGM {
		gs.sendError(c, "Only GM can rotate PIN.")
		return
	}

	room := gs.rooms[p.Code]
	if room == nil || p.GMToken != room.GMToken {
		gs.sendError(c, "Invalid GM token for PIN rotation.")
		return
	}
	if room.Status == StatusEnded {
		gs.sendError(c, "Game already ended.")
		return
	}

	pin, err := generatePIN()
	if err != nil {
		gs.sendError(c, "Unable to rotate PIN.")
		return
	}
	room.PIN = pin

	gs.persistLocked()

	c.trySend(envelope{Type: "host:pin-rotated", Payload: pinRotatedPayload{PIN: pin}})
}

func (gs *gameServer) handleHostStart(c *client, raw json.RawMessage) {
	var p hostRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if c.role != roleGM {
		gs.sendError(c, "Only GM can start the game.")
		return
	}

	room := gs.rooms[p.Code]
	if room == nil {
		return
	}
	if p.GMToken != room.GMToken {
		gs.sendError(c, "Invalid GM token for start.")
		return
	}
	if room.Status != StatusLobby {
		gs.sendError(c, "Game already started.")
		return
	}

	gs.startRoomLocked(room, time.Now())
	gs.broadcastLocked(room, "game:started", func(gm bool) any {
		return room.snapshot(gm)
	})
	gs.persistLocked()

	logf(gs.cfg, "GAMES: Room %s started", room.Code)
}

func (gs *gameServer) handleHostEnd(c *client, raw json.RawMessage) {
	var p hostRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	if c.role != roleGM {
		gs.sendError(c, "Only GM can end the game.")
		return
	}

	room := gs.rooms[p.Code]
	if room == nil {
		return
	}
	if p.GMToken != room.GMToken {
		gs.sendError(c, "Invalid GM token for end.")
		return
	}
	if room.Status == StatusEnded {
		return
	}

	gs.endRoomLocked(room, time.Now())
	gs.persistLocked()

	logf(gs.cfg, "GAMES: Room %s ended by GM", room.Code)
}

func (gs *gameServer) handlePlayerJoin(c *client, raw json.RawMessage) {
	var p playerJoinPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}
	if p.ClientID == "" {
		gs.sendError(c, "Missing client id.")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	room := gs.rooms[p.Code]
	if room == nil {
		gs.sendError(c, "Room not found")
		return
	}

	key := playerAttemptKey(p.Code, p.ClientID)
	if gs.attempts.isLocked(key) {
		logf(gs.cfg, "GUARD: Join locked code=%s client=%s", p.Code, p.ClientID)
		gs.sendError(c, "Too many failed attempts. Try again in 60s.")
		return
	}

	if room.PIN != "" && p.PIN != room.PIN {
		rec := gs.attempts.registerFailure(key)
		msg := "PIN is incorrect."
		if rec.locked(time.Now()) {
			msg = "Locked for 60s after bad PIN."
		}
		logf(gs.cfg, "GUARD: PIN fail code=%s client=%s fails=%d", p.Code, p.ClientID, rec.fails)
		gs.sendError(c, msg)
		return
	}

	if room.PlayerHash != "" && room.PlayerSalt != "" {
		if hashPass(p.PlayerPass, room.PlayerSalt) != room.PlayerHash {
			rec := gs.attempts.registerFailure(key)
			msg := "Player passcode incorrect."
			if rec.locked(time.Now()) {
				msg = "Locked for 60s after bad passcode."
			}
			logf(gs.cfg, "GUARD: Passcode fail code=%s client=%s fails=%d", p.Code, p.ClientID, rec.fails)
			gs.sendError(c, msg)
			return
		}
	}
	gs.attempts.clear(key)

	gs.detachLocked(c)
	room.clients[c] = true
	c.code, c.role, c.id = room.Code, rolePlayer, p.ClientID

	player := room.Players[p.ClientID]
	if player == nil {
		player = newPlayer(p.ClientID, p.Name, room.Config)
		room.Players[p.ClientID] = player
		logf(gs.cfg, "GAMES: Player %q joined %s", p.Name, room.Code)
	} else {
		player.Name = p.Name
	}

	now := time.Now()
	room.gradePlayer(player, now)
	room.mergeLeaderboard(now)

	gs.broadcastRoomLocked(room)
	gs.persistLocked()
}

// sessionPlayerLocked authorizes a player command: the connection's recorded
// identity must match the payload's claimed identity.
func (gs *gameServer) sessionPlayerLocked(c *client, claimed string) (*Room, *Player, bool) {
	if c.role != rolePlayer || claimed == "" || c.id != claimed {
		return nil, nil, false
	}

	room := gs.rooms[c.code]
	if room == nil {
		return nil, nil, true
	}

	return room, room.Players[claimed], true
}

func (gs *gameServer) handlePlayerProgress(c *client, raw json.RawMessage) {
	var p playerProgressPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	room, player, authed := gs.sessionPlayerLocked(c, p.ClientID)
	if !authed {
		gs.sendError(c, "Player authentication failed.")
		return
	}
	if room == nil || player == nil {
		return
	}

	placements := make(map[string]string, len(p.Placements))
	for id, phase := range p.Placements {
		if !validPhase(phase) {
			gs.sendError(c, "Invalid phase.")
			return
		}
		placements[id] = phase
	}
	player.Placements = placements

	now := time.Now()
	room.gradePlayer(player, now)
	room.mergeLeaderboard(now)

	gs.broadcastRoomLocked(room)
	gs.persistLocked()
}

func (gs *gameServer) handlePlayerHint(c *client, raw json.RawMessage) {
	var p playerIdentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	room, player, authed := gs.sessionPlayerLocked(c, p.ClientID)
	if !authed {
		gs.sendError(c, "Player authentication failed.")
		return
	}
	if room == nil || player == nil || room.Status == StatusEnded {
		return
	}
	if !room.Config.AllowHints || player.HintsLeft <= 0 {
		return
	}

	incorrect := lo.Filter(quoteSet, func(q Quote, _ int) bool {
		return player.Placements[q.ID] != q.Phase
	})
	if len(incorrect) == 0 {
		// Everything already placed correctly; don't burn the hint.
		return
	}

	hint := incorrect[randomIndex(len(incorrect))]
	player.HintsLeft--

	c.trySend(envelope{Type: "hint:grant", Payload: hintGrantPayload{
		QuoteID: hint.ID,
		Phase:   hint.Phase,
	}})

	now := time.Now()
	room.gradePlayer(player, now)
	room.mergeLeaderboard(now)

	gs.broadcastRoomLocked(room)
	gs.persistLocked()
}

func (gs *gameServer) handlePlayerBoost(c *client, raw json.RawMessage) {
	var p playerBoostPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		gs.sendError(c, "Invalid payload")
		return
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	room, player, authed := gs.sessionPlayerLocked(c, p.ClientID)
	if !authed {
		gs.sendError(c, "Player authentication failed.")
		return
	}
	if room == nil || player == nil || room.Status == StatusEnded {
		return
	}
	if !room.Config.BoostsEnabled || player.BoostsLeft <= 0 {
		return
	}

	player.BoostsLeft--

	switch p.Type {
	case boostAddTime:
		player.TimeBonus += addTimeBonusMs
	case boostDoublePoints:
		// Flat adjustment outside the grading formula; grading re-applies it,
		// so repeated uses stack.
		player.BonusPoints += doublePointsBonus
	case boostReveal:
		incorrect := lo.Filter(quoteSet, func(q Quote, _ int) bool {
			return player.Placements[q.ID] != q.Phase
		})
		if len(incorrect) > 0 {
			hint := incorrect[randomIndex(len(incorrect))]
			c.trySend(envelope{Type: "hint:grant", Payload: hintGrantPayload{
				QuoteID: hint.ID,
				Phase:   hint.Phase,
			}})
		}
	}

	now := time.Now()
	room.gradePlayer(player, now)
	room.mergeLeaderboard(now)

	gs.broadcastLocked(room, "boost:applied", func(gm bool) any {
		return boostAppliedPayload{Type: p.Type, TargetName: player.Name}
	})
	gs.broadcastRoomLocked(room)
	gs.persistLocked()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, gs *gameServer) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SOCKET: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan envelope, 32),
		}

		go c.writePump()
		c.readPump(gs)
	}
}

func (c *client) readPump(gs *gameServer) {
	defer func() {
		gs.disconnect(c)
		close(c.send)
		_ = c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg command
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.trySend(envelope{Type: "error", Message: "Invalid JSON"})
			continue
		}

		gs.dispatch(c, msg)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
