package realtime

import (
	"encoding/json"
	"strconv"
)

// Topic pairs a subscription key with its broker destination.
type Topic struct {
	Key         string
	Destination string
}

// BadgeTopic carries the badge promotions of one user.
func BadgeTopic(userID int64) Topic {
	id := strconv.FormatInt(userID, 10)
	return Topic{Key: "badge-" + id, Destination: "/topic/badge-promotion/" + id}
}

// LeaderboardTopic is shared by every user.
func LeaderboardTopic() Topic {
	return Topic{Key: "leaderboard", Destination: "/topic/leaderboard-update"}
}

func DashboardTopic(userID int64) Topic {
	id := strconv.FormatInt(userID, 10)
	return Topic{Key: "dashboard-" + id, Destination: "/topic/dashboard-update/" + id}
}

// UserTopics are the three topics a signed-in user follows.
func UserTopics(userID int64) []Topic {
	return []Topic{BadgeTopic(userID), LeaderboardTopic(), DashboardTopic(userID)}
}

type (
	// BadgeEvent is a badge promotion. Raw keeps the payload as received,
	// fields unknown to this client included.
	BadgeEvent struct {
		UserID           int64           `json:"userId"`
		BadgeID          int64           `json:"badgeId"`
		BadgeName        string          `json:"badgeName"`
		BadgeDescription string          `json:"badgeDescription"`
		PointsThreshold  int             `json:"pointsThreshold"`
		Timestamp        string          `json:"timestamp"`
		Raw              json.RawMessage `json:"-"`
	}

	// UpdateEvent is the payload of leaderboard and dashboard updates.
	UpdateEvent struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
	}
)
