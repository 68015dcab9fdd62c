package game

import (
	"sort"
	"time"

	"github.com/athleterace/backend/internal/models"
)

// computeLeaderboard derives the full ordered leaderboard from the accepted
// submission list. Stateless: re-running it on the same input always yields
// the same order. Order: score descending, ties broken by the earliest
// accepted-submission timestamp (earlier ranks higher), then username for
// participants without submissions. Ranks are 1-based and sequential.
// Removed participants are excluded even if their submissions remain in the
// session's accepted list.
func computeLeaderboard(participants map[string]*models.Participant, submissions []models.Submission) []models.LeaderboardEntry {
	scores := make(map[string]int)
	firstAt := make(map[string]time.Time)
	for _, sub := range submissions {
		scores[sub.SubmittedBy]++
		if t, ok := firstAt[sub.SubmittedBy]; !ok || sub.SubmittedAt.Before(t) {
			firstAt[sub.SubmittedBy] = sub.SubmittedAt
		}
	}

	entries := make([]models.LeaderboardEntry, 0, len(participants))
	for username, p := range participants {
		if p.Removed {
			continue
		}
		entries = append(entries, models.LeaderboardEntry{
			Username: username,
			Score:    scores[username],
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ta, aOK := firstAt[a.Username]
		tb, bOK := firstAt[b.Username]
		if aOK && bOK && !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.Username < b.Username
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
