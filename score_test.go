package main

import (
	"testing"
	"time"
)

func testRoom() *Room {
	return &Room{
		Code:   "TEST",
		Status: StatusLobby,
		Config: GameConfig{
			TimeLimitSeconds: 240,
			AllowHints:       true,
			HintsPerPlayer:   3,
			BoostsEnabled:    true,
			BoostsPerPlayer:  3,
		},
		Players:     make(map[string]*Player),
		Leaderboard: []LeaderboardEntry{},
		clients:     make(map[*client]bool),
	}
}

func addTestPlayer(room *Room, id string) *Player {
	p := newPlayer(id, "Player "+id, room.Config)
	room.Players[id] = p
	return p
}

func placeCorrect(p *Player, n int) {
	for i := 0; i < n && i < len(quoteSet); i++ {
		p.Placements[quoteSet[i].ID] = quoteSet[i].Phase
	}
}

func TestGradeThreeCorrectAtStart(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	placeCorrect(p, 3)

	start := time.Now()
	room.Status = StatusActive
	room.StartAt = start

	room.gradePlayer(p, start)

	if p.Correct != 3 {
		t.Errorf("Correct = %d, want 3", p.Correct)
	}
	if p.Score != 270 {
		t.Errorf("Score = %d, want 270", p.Score)
	}
}

func TestGradeWithTimeBonus(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	p.TimeBonus = 10000

	start := time.Now()
	room.Status = StatusActive
	room.StartAt = start

	room.gradePlayer(p, start)

	if p.Correct != 0 {
		t.Errorf("Correct = %d, want 0", p.Correct)
	}
	if p.Score != 250 {
		t.Errorf("Score = %d, want 250", p.Score)
	}
}

func TestGradeDeterministic(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	placeCorrect(p, 5)

	start := time.Now()
	room.StartAt = start
	now := start.Add(42 * time.Second)

	room.gradePlayer(p, now)
	firstScore, firstCorrect := p.Score, p.Correct

	room.gradePlayer(p, now)

	if p.Score != firstScore || p.Correct != firstCorrect {
		t.Errorf("regrade changed result: got (%d, %d), want (%d, %d)",
			p.Score, p.Correct, firstScore, firstCorrect)
	}
}

func TestGradeClampsNegativeRemaining(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	placeCorrect(p, 4)

	start := time.Now()
	room.StartAt = start

	room.gradePlayer(p, start.Add(600*time.Second))

	if p.Score != 40 {
		t.Errorf("Score = %d, want 40 (time portion clamped to zero)", p.Score)
	}
}

func TestGradeUnstartedRoomUsesZeroElapsed(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")

	room.gradePlayer(p, time.Now().Add(time.Hour))

	if p.Score != 240 {
		t.Errorf("Score = %d, want 240", p.Score)
	}
}

func TestGradeMonotonicInCorrectness(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")

	start := time.Now()
	room.StartAt = start
	now := start.Add(30 * time.Second)

	prev := -1
	for n := 0; n <= len(quoteSet); n++ {
		p.Placements = make(map[string]string)
		placeCorrect(p, n)
		room.gradePlayer(p, now)
		if p.Score < prev {
			t.Errorf("score decreased with more correct placements: %d after %d", p.Score, prev)
		}
		prev = p.Score
	}
}

func TestGradeMonotonicInElapsedTime(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	placeCorrect(p, 6)

	start := time.Now()
	room.StartAt = start

	prev := int(^uint(0) >> 1)
	for secs := 0; secs <= 300; secs += 30 {
		room.gradePlayer(p, start.Add(time.Duration(secs)*time.Second))
		if p.Score > prev {
			t.Errorf("score increased with more elapsed time: %d after %d", p.Score, prev)
		}
		prev = p.Score
	}
}

// The double-points boost is a flat adjustment outside the grading formula.
// It survives and stacks across regrades; this is long-standing observed
// behavior that clients rely on, so don't "fix" it into part of the formula.
func TestDoublePointsSurvivesRegrade(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")

	now := time.Now()
	room.gradePlayer(p, now)
	base := p.Score

	p.BonusPoints += doublePointsBonus
	room.gradePlayer(p, now)
	if p.Score != base+2 {
		t.Errorf("Score = %d, want %d", p.Score, base+2)
	}

	room.gradePlayer(p, now)
	room.gradePlayer(p, now)
	if p.Score != base+2 {
		t.Errorf("Score after regrades = %d, want %d", p.Score, base+2)
	}

	p.BonusPoints += doublePointsBonus
	room.gradePlayer(p, now)
	if p.Score != base+4 {
		t.Errorf("Score after second boost = %d, want %d", p.Score, base+4)
	}
}

func TestMergeInsertsNewPlayers(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	placeCorrect(p, 2)

	now := time.Now()
	room.gradePlayer(p, now)
	room.mergeLeaderboard(now)

	if len(room.Leaderboard) != 1 {
		t.Fatalf("leaderboard has %d entries, want 1", len(room.Leaderboard))
	}
	if room.Leaderboard[0].ID != "p1" || room.Leaderboard[0].Score != p.Score {
		t.Errorf("entry = %+v, want id p1 score %d", room.Leaderboard[0], p.Score)
	}
}

func TestMergeIdempotent(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	placeCorrect(p, 7)

	now := time.Now()
	room.gradePlayer(p, now)
	room.mergeLeaderboard(now)
	first := room.Leaderboard[0]

	room.mergeLeaderboard(now)

	if len(room.Leaderboard) != 1 {
		t.Fatalf("leaderboard has %d entries, want 1", len(room.Leaderboard))
	}
	if room.Leaderboard[0] != first {
		t.Errorf("second merge changed entry: got %+v, want %+v", room.Leaderboard[0], first)
	}
}

func TestMergeWorseResultNeverOverwrites(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	p.Score = 100

	now := time.Now()
	room.mergeLeaderboard(now)

	p.Score = 50
	p.Name = "Renamed"
	room.mergeLeaderboard(now.Add(10 * time.Second))

	entry := room.Leaderboard[0]
	if entry.Score != 100 {
		t.Errorf("Score = %d, want 100", entry.Score)
	}
	if entry.Name == "Renamed" {
		t.Error("name should only update when the result improves")
	}
}

func TestMergeBetterScoreReplaces(t *testing.T) {
	room := testRoom()
	p := addTestPlayer(room, "p1")
	p.Score = 50

	now := time.Now()
	room.mergeLeaderboard(now)

	p.Score = 80
	p.Name = "Improved"
	room.mergeLeaderboard(now.Add(5 * time.Second))

	entry := room.Leaderboard[0]
	if entry.Score != 80 {
		t.Errorf("Score = %d, want 80", entry.Score)
	}
	if entry.Name != "Improved" {
		t.Errorf("Name = %q, want %q", entry.Name, "Improved")
	}
}

func TestMergeEqualScoreFasterTimeReplaces(t *testing.T) {
	room := testRoom()
	start := time.Now()
	room.StartAt = start

	p := addTestPlayer(room, "p1")
	p.Score = 60

	room.mergeLeaderboard(start.Add(30 * time.Second))
	if room.Leaderboard[0].ElapsedMs != 30000 {
		t.Fatalf("ElapsedMs = %d, want 30000", room.Leaderboard[0].ElapsedMs)
	}

	// Same score recorded at a smaller elapsed time wins the tie.
	room.Leaderboard[0].ElapsedMs = 90000
	room.mergeLeaderboard(start.Add(30 * time.Second))

	if room.Leaderboard[0].ElapsedMs != 30000 {
		t.Errorf("ElapsedMs = %d, want 30000", room.Leaderboard[0].ElapsedMs)
	}
}

func TestMergeOrdersByScoreThenTime(t *testing.T) {
	room := testRoom()
	room.Leaderboard = []LeaderboardEntry{
		{ID: "a", Score: 10, ElapsedMs: 1000},
		{ID: "b", Score: 30, ElapsedMs: 9000},
		{ID: "c", Score: 30, ElapsedMs: 2000},
		{ID: "d", Score: 20, ElapsedMs: 500},
	}

	room.mergeLeaderboard(time.Now())

	wantOrder := []string{"c", "b", "d", "a"}
	for i, want := range wantOrder {
		if room.Leaderboard[i].ID != want {
			t.Errorf("position %d = %q, want %q", i, room.Leaderboard[i].ID, want)
		}
	}

	for i := 1; i < len(room.Leaderboard); i++ {
		prev, cur := room.Leaderboard[i-1], room.Leaderboard[i]
		if cur.Score > prev.Score {
			t.Errorf("entry %d outranks entry %d despite higher score", i-1, i)
		}
		if cur.Score == prev.Score && cur.ElapsedMs < prev.ElapsedMs {
			t.Errorf("tie at score %d not resolved by elapsed time", cur.Score)
		}
	}
}

func TestMergeTruncatesToTwenty(t *testing.T) {
	room := testRoom()
	for i := 0; i < 25; i++ {
		p := addTestPlayer(room, string(rune('a'+i)))
		p.Score = i
	}

	room.mergeLeaderboard(time.Now())

	if len(room.Leaderboard) != 20 {
		t.Errorf("leaderboard has %d entries, want 20", len(room.Leaderboard))
	}
	if room.Leaderboard[0].Score != 24 {
		t.Errorf("top score = %d, want 24", room.Leaderboard[0].Score)
	}
	if room.Leaderboard[19].Score != 5 {
		t.Errorf("bottom score = %d, want 5", room.Leaderboard[19].Score)
	}
}
