package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// persistedRoom is the durable subset of a room: identity, config, roster,
// credentials and leaderboard. Status, start time and connections are
// transient and deliberately absent.
type persistedRoom struct {
	Code        string             `json:"code"`
	HostName    string             `json:"hostName"`
	GameConfig  GameConfig         `json:"gameConfig"`
	Players     []*Player          `json:"players"`
	GMToken     string             `json:"gmToken"`
	PIN         string             `json:"pin"`
	GMSalt      string             `json:"gmSalt,omitempty"`
	GMHash      string             `json:"gmHash,omitempty"`
	PlayerSalt  string             `json:"playerSalt,omitempty"`
	PlayerHash  string             `json:"playerHash,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type stateFile struct {
	Rooms []persistedRoom `json:"rooms"`
}

// statePersister is the persistence port: a full-registry snapshot written
// after every mutation. The file-backed implementation below can be swapped
// for incremental logging without touching the dispatcher.
type statePersister interface {
	Save(rooms []persistedRoom) error
	Load() ([]persistedRoom, error)
}

type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

func (f *fileStore) Save(rooms []persistedRoom) error {
	data, err := json.MarshalIndent(stateFile{Rooms: rooms}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0644)
}

func (f *fileStore) Load() ([]persistedRoom, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	return state.Rooms, nil
}

// persistLocked writes the full registry through the persistence port.
// Failures are logged and swallowed: in-memory state stays correct for live
// clients even if durability momentarily fails.
func (gs *gameServer) persistLocked() {
	rooms := make([]persistedRoom, 0, len(gs.rooms))
	for _, room := range gs.rooms {
		players := lo.Values(room.Players)
		sort.Slice(players, func(i, j int) bool {
			return players[i].ID < players[j].ID
		})

		rooms = append(rooms, persistedRoom{
			Code:        room.Code,
			HostName:    room.HostName,
			GameConfig:  room.Config,
			Players:     players,
			GMToken:     room.GMToken,
			PIN:         room.PIN,
			GMSalt:      room.GMSalt,
			GMHash:      room.GMHash,
			PlayerSalt:  room.PlayerSalt,
			PlayerHash:  room.PlayerHash,
			Leaderboard: room.Leaderboard,
		})
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].Code < rooms[j].Code
	})

	if err := gs.store.Save(rooms); err != nil {
		fmt.Printf("%s | ERROR: failed to persist rooms: %v\n", time.Now().Format(logDate), err)
	}
}

// loadState rehydrates persisted rooms at startup. Every room comes back as a
// lobby with no start time; persisted scores are not trusted, so each player
// is regraded and the leaderboard remerged before the corrected snapshot is
// written back out.
func (gs *gameServer) loadState() error {
	rooms, err := gs.store.Load()
	if err != nil {
		return err
	}

	now := time.Now()

	gs.mu.Lock()
	defer gs.mu.Unlock()

	for _, pr := range rooms {
		room := &Room{
			Code:        pr.Code,
			HostName:    pr.HostName,
			Status:      StatusLobby,
			Config:      pr.GameConfig,
			Players:     make(map[string]*Player, len(pr.Players)),
			Leaderboard: pr.Leaderboard,
			GMToken:     pr.GMToken,
			PIN:         pr.PIN,
			GMSalt:      pr.GMSalt,
			GMHash:      pr.GMHash,
			PlayerSalt:  pr.PlayerSalt,
			PlayerHash:  pr.PlayerHash,
			clients:     make(map[*client]bool),
		}

		if room.GMToken == "" {
			room.GMToken = uuid.NewString()
		}
		if room.PIN == "" {
			pin, err := generatePIN()
			if err != nil {
				return fmt.Errorf("generating pin for room %s: %w", room.Code, err)
			}
			room.PIN = pin
		}
		if room.Leaderboard == nil {
			room.Leaderboard = []LeaderboardEntry{}
		}

		for _, p := range pr.Players {
			if p.ID == "" {
				continue
			}
			p.Status = playerReady
			if p.Placements == nil {
				p.Placements = make(map[string]string)
			}
			room.Players[p.ID] = p
		}

		for _, p := range room.Players {
			room.gradePlayer(p, now)
		}
		room.mergeLeaderboard(now)

		gs.rooms[room.Code] = room
	}

	logf(gs.cfg, "STATE: Loaded %d persisted room(s)", len(gs.rooms))

	gs.persistLocked()

	return nil
}
