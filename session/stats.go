package session

import (
	"log"
	"sort"
)

const topUserLimit = 5

// UserCount is one entry in the per-user session ranking.
type UserCount struct {
	UserID   string `json:"user_id"`
	Sessions int    `json:"sessions"`
}

// Statistics aggregates persisted sessions for reporting.
type Statistics struct {
	TotalSessions      int            `json:"total_sessions"`
	TotalInteractions  int            `json:"total_interactions"`
	AvgInteractions    float64        `json:"avg_interactions_per_session"`
	AvgDurationSeconds float64        `json:"avg_duration_seconds"`
	SessionsPerUser    map[string]int `json:"sessions_per_user"`
	TopUsers           []UserCount    `json:"top_users"`
}

// SessionStatistics aggregates across every persisted session: totals,
// averages, and the busiest users by session volume.
func (r *Recorder) SessionStatistics() (*Statistics, error) {
	all, warnings, err := r.store.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Printf("session: skipped %s during statistics scan: %s", w.Path, w.Err)
	}

	stats := &Statistics{SessionsPerUser: make(map[string]int)}
	var durationTotal float64
	closed := 0
	for _, s := range all {
		stats.TotalSessions++
		stats.TotalInteractions += len(s.Interactions)
		user := s.UserID
		if user == "" {
			user = "anonymous"
		}
		stats.SessionsPerUser[user]++
		if s.EndTime != nil {
			durationTotal += s.EndTime.Sub(s.StartTime).Seconds()
			closed++
		}
	}
	if stats.TotalSessions > 0 {
		stats.AvgInteractions = float64(stats.TotalInteractions) / float64(stats.TotalSessions)
	}
	if closed > 0 {
		stats.AvgDurationSeconds = durationTotal / float64(closed)
	}

	for user, n := range stats.SessionsPerUser {
		stats.TopUsers = append(stats.TopUsers, UserCount{UserID: user, Sessions: n})
	}
	sort.Slice(stats.TopUsers, func(i, j int) bool {
		if stats.TopUsers[i].Sessions == stats.TopUsers[j].Sessions {
			return stats.TopUsers[i].UserID < stats.TopUsers[j].UserID
		}
		return stats.TopUsers[i].Sessions > stats.TopUsers[j].Sessions
	})
	if len(stats.TopUsers) > topUserLimit {
		stats.TopUsers = stats.TopUsers[:topUserLimit]
	}
	return stats, nil
}
