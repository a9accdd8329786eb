package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/unihub/unihub/core/session"
)

// Leaderboard scopes and types
const (
	ScopeGlobal     = "GLOBAL"
	ScopeUniversity = "UNIVERSITY"

	TypeMembers = "MEMBERS"
	TypeEvents  = "EVENTS"
)

type (
	Badge struct {
		ID              int64  `json:"badgeId"`
		Name            string `json:"name"`
		Description     string `json:"description"`
		PointsThreshold int    `json:"pointsThreshold"`
	}

	EarnedBadge struct {
		ID       int64     `json:"userBadgeId"`
		Badge    Badge     `json:"badge"`
		EarnedAt time.Time `json:"earnedAt"`
	}

	MyBadges struct {
		AllBadges     []Badge       `json:"allBadges"`
		EarnedBadges  []EarnedBadge `json:"earnedBadges"`
		CurrentPoints int           `json:"currentPoints"`
		CurrentBadge  *Badge        `json:"currentBadge"`
	}

	RankedEvent struct {
		ID    int64  `json:"eventId"`
		Title string `json:"title"`
		Type  string `json:"type"`
	}

	// Leaderboard keeps the rankings raw; their shape depends on Type.
	Leaderboard struct {
		Scope    string          `json:"scope"`
		Type     string          `json:"type"`
		Rankings json.RawMessage `json:"rankings"`
	}

	LeaderboardQuery struct {
		Scope        string
		Type         string
		UniversityID *int64
		Limit        int
	}
)

// Members decodes the rankings of a MEMBERS leaderboard.
func (l Leaderboard) Members() ([]session.User, error) {
	if !strings.EqualFold(l.Type, TypeMembers) {
		return nil, errors.Errorf("leaderboard type is %s", l.Type)
	}
	var usrs []session.User
	if len(l.Rankings) == 0 {
		return usrs, nil
	}
	return usrs, errors.Wrap(json.Unmarshal(l.Rankings, &usrs), "decoding member rankings")
}

// Events decodes the rankings of an EVENTS leaderboard.
func (l Leaderboard) Events() ([]RankedEvent, error) {
	if !strings.EqualFold(l.Type, TypeEvents) {
		return nil, errors.Errorf("leaderboard type is %s", l.Type)
	}
	var evts []RankedEvent
	if len(l.Rankings) == 0 {
		return evts, nil
	}
	return evts, errors.Wrap(json.Unmarshal(l.Rankings, &evts), "decoding event rankings")
}

func (q LeaderboardQuery) values(withType bool) url.Values {
	vals := url.Values{}
	scope := strings.ToUpper(q.Scope)
	if scope == "" {
		scope = ScopeGlobal
	}
	vals.Set("scope", scope)
	if withType {
		typ := strings.ToUpper(q.Type)
		if typ == "" {
			typ = TypeMembers
		}
		vals.Set("type", typ)
	}
	if q.UniversityID != nil {
		vals.Set("universityId", strconv.FormatInt(*q.UniversityID, 10))
	}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	return vals
}

func (c *Client) Leaderboard(ctx context.Context, q LeaderboardQuery) (Leaderboard, error) {
	q.Limit = 0
	var lb Leaderboard
	err := c.get(ctx, "/gamification/leaderboard", q.values(true), &lb)
	return lb, err
}

func (c *Client) TopMembers(ctx context.Context, q LeaderboardQuery) ([]session.User, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	var usrs []session.User
	err := c.get(ctx, "/gamification/top-members", q.values(false), &usrs)
	return usrs, err
}

func (c *Client) TopEvents(ctx context.Context, q LeaderboardQuery) ([]RankedEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	var evts []RankedEvent
	err := c.get(ctx, "/gamification/top-events", q.values(false), &evts)
	return evts, err
}

// Badges lists every badge ordered by points threshold.
func (c *Client) Badges(ctx context.Context) ([]Badge, error) {
	var badges []Badge
	err := c.get(ctx, "/gamification/badges", nil, &badges)
	return badges, err
}

func (c *Client) MyBadges(ctx context.Context) (MyBadges, error) {
	var mine MyBadges
	err := c.get(ctx, "/gamification/my-badges", nil, &mine)
	return mine, err
}
