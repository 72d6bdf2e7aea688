package main

import (
	"sort"
	"time"
)

const (
	pointsPerCorrect = 10
	leaderboardCap   = 20
)

// elapsedMs is time since the game started, 0 while still in the lobby.
func (r *Room) elapsedMs(now time.Time) int64 {
	if r.StartAt.IsZero() {
		return 0
	}
	return now.Sub(r.StartAt).Milliseconds()
}

// gradePlayer recomputes a player's correct count and score in place.
// Quotes the player has not placed count as incorrect. BonusPoints is the
// accumulated double-points adjustment, re-applied on every grade so it is
// never lost to a regrade.
func (r *Room) gradePlayer(p *Player, now time.Time) {
	correct := 0
	for _, q := range quoteSet {
		if p.Placements[q.ID] == q.Phase {
			correct++
		}
	}
	p.Correct = correct

	remainingMs := int64(r.Config.TimeLimitSeconds)*1000 + p.TimeBonus - r.elapsedMs(now)

	var timeScore int64
	if remainingMs > 0 {
		timeScore = remainingMs / 1000
	}

	p.Score = correct*pointsPerCorrect + int(timeScore) + p.BonusPoints
}

// mergeLeaderboard folds every current player into the room's best-result
// history. An existing entry is replaced only by a strictly better result:
// higher score, or equal score in less time. Idempotent when player state is
// unchanged.
func (r *Room) mergeLeaderboard(now time.Time) {
	elapsed := r.elapsedMs(now)

	for _, p := range r.Players {
		idx := -1
		for i := range r.Leaderboard {
			if r.Leaderboard[i].ID == p.ID {
				idx = i
				break
			}
		}

		if idx == -1 {
			r.Leaderboard = append(r.Leaderboard, LeaderboardEntry{
				ID:         p.ID,
				Name:       p.Name,
				Score:      p.Score,
				ElapsedMs:  elapsed,
				RecordedAt: now.UnixMilli(),
			})
			continue
		}

		existing := &r.Leaderboard[idx]
		if p.Score > existing.Score || (p.Score == existing.Score && elapsed < existing.ElapsedMs) {
			existing.Name = p.Name
			existing.Score = p.Score
			existing.ElapsedMs = elapsed
			existing.RecordedAt = now.UnixMilli()
		}
	}

	sort.SliceStable(r.Leaderboard, func(i, j int) bool {
		if r.Leaderboard[i].Score != r.Leaderboard[j].Score {
			return r.Leaderboard[i].Score > r.Leaderboard[j].Score
		}
		return r.Leaderboard[i].ElapsedMs < r.Leaderboard[j].ElapsedMs
	})

	if len(r.Leaderboard) > leaderboardCap {
		r.Leaderboard = r.Leaderboard[:leaderboardCap]
	}
}
