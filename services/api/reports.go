package api

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/unihub/unihub/core/session"
)

// Report statuses
const (
	ReportPending   = "PENDING"
	ReportReviewed  = "REVIEWED"
	ReportDismissed = "DISMISSED"
)

// Reported content kinds
const (
	ReportBlogs  = "blogs"
	ReportEvents = "events"
)

// Report flags a blog post or an event for moderation. Exactly one of Blog
// and Event is set.
type Report struct {
	ID         int64         `json:"reportId"`
	Blog       *Blog         `json:"blog,omitempty"`
	Event      *Event        `json:"event,omitempty"`
	ReportedBy *session.User `json:"reportedBy"`
	Reason     string        `json:"reason"`
	Status     string        `json:"status"`
	CreatedAt  Time          `json:"createdAt"`
}

func reportPath(kind string, parts ...string) string {
	return strings.Join(append([]string{"/reports", kind}, parts...), "/")
}

// Report flags the blog post or event id; kind is ReportBlogs or ReportEvents.
func (c *Client) Report(ctx context.Context, kind string, id int64, reason string) (Report, error) {
	var rep Report
	err := c.post(ctx, reportPath(kind, strconv.FormatInt(id, 10)), map[string]string{"reason": reason}, &rep)
	return rep, err
}

// Reports lists the reports of kind; an empty status lists them all.
func (c *Client) Reports(ctx context.Context, kind, status string) ([]Report, error) {
	vals := url.Values{}
	if status != "" {
		vals.Set("status", strings.ToUpper(status))
	}
	var reps []Report
	err := c.get(ctx, reportPath(kind), vals, &reps)
	return reps, err
}

// ResolveReport marks the report as reviewed.
func (c *Client) ResolveReport(ctx context.Context, kind string, id int64) (string, error) {
	var msg string
	err := c.put(ctx, reportPath(kind, strconv.FormatInt(id, 10), "review"), nil, &msg)
	return msg, err
}

func (c *Client) DismissReport(ctx context.Context, kind string, id int64) (string, error) {
	var msg string
	err := c.put(ctx, reportPath(kind, strconv.FormatInt(id, 10), "dismiss"), nil, &msg)
	return msg, err
}
