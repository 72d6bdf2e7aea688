package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// RoomStatus is the lifecycle state of a room: lobby -> active -> ended.
// There is no transition out of ended.
type RoomStatus string

const (
	StatusLobby  RoomStatus = "lobby"
	StatusActive RoomStatus = "active"
	StatusEnded  RoomStatus = "ended"
)

const (
	playerReady   = "ready"
	playerPlaying = "playing"
)

// Room codes exclude ambiguous characters: 0, O, 1, I, L
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 4

type GameConfig struct {
	TimeLimitSeconds  int    `json:"timeLimitSeconds"`
	AllowHints        bool   `json:"allowHints"`
	HintsPerPlayer    int    `json:"hintsPerPlayer"`
	BoostsEnabled     bool   `json:"boostsEnabled"`
	BoostsPerPlayer   int    `json:"boostsPerPlayer"`
	ThemeID           string `json:"themeId"`
	ShowPhaseOutlines bool   `json:"showPhaseOutlines"`
}

// Player is the server-side state for one device identity in a room.
// Placements is the only field clients set directly; everything else is
// derived by grading or decremented by hint/boost use.
type Player struct {
	ID          string            `json:"id"`
	ClientID    string            `json:"clientId"`
	Name        string            `json:"name"`
	Score       int               `json:"score"`
	Correct     int               `json:"correct"`
	Placements  map[string]string `json:"placements"`
	HintsLeft   int               `json:"hintsLeft"`
	BoostsLeft  int               `json:"boostsLeft"`
	TimeBonus   int64             `json:"timeBonus"`
	BonusPoints int               `json:"bonusPoints,omitempty"`
	Status      string            `json:"status"`
}

type LeaderboardEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
	ElapsedMs  int64  `json:"time"`
	RecordedAt int64  `json:"timestamp"`
}

type Room struct {
	Code        string
	HostName    string
	Status      RoomStatus
	StartAt     time.Time // zero until the game starts
	Config      GameConfig
	Players     map[string]*Player
	Leaderboard []LeaderboardEntry
	GMToken     string
	PIN         string
	GMSalt      string
	GMHash      string
	PlayerSalt  string
	PlayerHash  string

	clients map[*client]bool
}

// RoomSnapshot is the wire shape of a room. Secrets are only filled in for
// snapshots addressed to the GM.
type RoomSnapshot struct {
	Code        string             `json:"code"`
	Status      RoomStatus         `json:"status"`
	StartAt     *int64             `json:"startAt"`
	GameConfig  GameConfig         `json:"gameConfig"`
	Players     []*Player          `json:"players"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	GMToken     string             `json:"gmToken,omitempty"`
	PIN         string             `json:"pin,omitempty"`
}

// snapshot returns a detached copy of the room's wire state. Snapshots are
// enqueued for delivery and marshalled after the registry lock is released,
// so they must not alias live player structs or the leaderboard backing array.
func (r *Room) snapshot(includeSecrets bool) *RoomSnapshot {
	players := make([]*Player, 0, len(r.Players))
	for _, p := range r.Players {
		cp := *p
		cp.Placements = maps.Clone(p.Placements)
		players = append(players, &cp)
	}
	slices.SortFunc(players, func(a, b *Player) int {
		return strings.Compare(a.ID, b.ID)
	})

	leaderboard := slices.Clone(r.Leaderboard)
	if leaderboard == nil {
		leaderboard = []LeaderboardEntry{}
	}

	snap := &RoomSnapshot{
		Code:        r.Code,
		Status:      r.Status,
		GameConfig:  r.Config,
		Players:     players,
		Leaderboard: leaderboard,
	}

	if !r.StartAt.IsZero() {
		ms := r.StartAt.UnixMilli()
		snap.StartAt = &ms
	}

	if includeSecrets {
		snap.GMToken = r.GMToken
		snap.PIN = r.PIN
	}

	return snap
}

func newPlayer(clientID, name string, cfg GameConfig) *Player {
	return &Player{
		ID:         clientID,
		ClientID:   clientID,
		Name:       name,
		Placements: make(map[string]string),
		HintsLeft:  cfg.HintsPerPlayer,
		BoostsLeft: cfg.BoostsPerPlayer,
		Status:     playerReady,
	}
}

// gameServer owns every room. All mutation happens under mu, so command
// handlers and the sweeper never interleave their effects.
type gameServer struct {
	cfg *Config

	mu       sync.Mutex
	rooms    map[string]*Room
	attempts *attemptTracker
	store    statePersister
}

func newGameServer(cfg *Config, store statePersister) *gameServer {
	return &gameServer{
		cfg:      cfg,
		rooms:    make(map[string]*Room),
		attempts: newAttemptTracker(),
		store:    store,
	}
}

func (gs *gameServer) roomCount() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	return len(gs.rooms)
}

func (gs *gameServer) getRoom(code string) *Room {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	return gs.rooms[code]
}

// createRoomLocked allocates a room with a unique code and fresh credentials.
func (gs *gameServer) createRoomLocked(hostName string, cfg GameConfig, gmPass, playerPass string) (*Room, error) {
	var code string
	for attempt := 0; attempt < 10; attempt++ {
		candidate, err := generateRoomCode()
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := gs.rooms[candidate]; exists {
			continue
		}
		code = candidate
		break
	}
	if code == "" {
		return nil, fmt.Errorf("failed to generate unique room code after 10 attempts")
	}

	pin, err := generatePIN()
	if err != nil {
		return nil, fmt.Errorf("generating pin: %w", err)
	}

	room := &Room{
		Code:        code,
		HostName:    hostName,
		Status:      StatusLobby,
		Config:      cfg,
		Players:     make(map[string]*Player),
		Leaderboard: []LeaderboardEntry{},
		GMToken:     uuid.NewString(),
		PIN:         pin,
		clients:     make(map[*client]bool),
	}

	if gmPass != "" {
		room.GMSalt = randomSalt()
		room.GMHash = hashPass(gmPass, room.GMSalt)
	}
	if playerPass != "" {
		room.PlayerSalt = randomSalt()
		room.PlayerHash = hashPass(playerPass, room.PlayerSalt)
	}

	gs.rooms[code] = room

	return room, nil
}

// startRoomLocked performs the lobby -> active transition.
func (gs *gameServer) startRoomLocked(room *Room, now time.Time) {
	room.Status = StatusActive
	room.StartAt = now

	for _, p := range room.Players {
		p.Status = playerPlaying
		room.gradePlayer(p, now)
	}
	room.mergeLeaderboard(now)
}

// endRoomLocked performs the active -> ended transition and announces it.
// Idempotent toward ended; callers persist.
func (gs *gameServer) endRoomLocked(room *Room, now time.Time) {
	room.Status = StatusEnded
	room.mergeLeaderboard(now)
	gs.broadcastLocked(room, "game:ended", func(gm bool) any {
		return room.snapshot(gm)
	})
}

// sweepLoop force-ends rooms whose deadline has passed, so a stalled room
// still terminates with no further client traffic.
func (gs *gameServer) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(gs.cfg.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gs.sweepExpired(time.Now())
		}
	}
}

// sweepExpired runs one sweeper tick to completion, returning how many rooms
// it ended.
func (gs *gameServer) sweepExpired(now time.Time) int {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	ended := 0

	for _, room := range gs.rooms {
		if room.Status != StatusActive || room.StartAt.IsZero() {
			continue
		}

		var maxBonus int64
		if players := lo.Values(room.Players); len(players) > 0 {
			top := lo.MaxBy(players, func(a, b *Player) bool {
				return a.TimeBonus > b.TimeBonus
			})
			maxBonus = max(top.TimeBonus, 0)
		}

		deadline := room.StartAt.
			Add(time.Duration(room.Config.TimeLimitSeconds) * time.Second).
			Add(time.Duration(maxBonus) * time.Millisecond)

		if now.After(deadline) {
			gs.endRoomLocked(room, now)
			logf(gs.cfg, "GAMES: Room %s timed out", room.Code)
			ended++
		}
	}

	if ended > 0 {
		gs.persistLocked()
	}

	return ended
}

func generateRoomCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}

func generatePIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

func randomSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

func hashPass(pass, salt string) string {
	sum := sha256.Sum256([]byte(pass + salt))
	return hex.EncodeToString(sum[:])
}

// randomIndex picks uniformly in [0, n). Falls back to 0 if the system
// randomness source fails.
func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
