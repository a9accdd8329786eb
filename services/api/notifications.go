package api

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

type (
	Notification struct {
		ID        int64     `json:"notificationId"`
		Message   string    `json:"message"`
		Type      string    `json:"type"`
		LinkURL   string    `json:"linkUrl,omitempty"`
		IsRead    bool      `json:"isRead"`
		CreatedAt time.Time `json:"createdAt"`
	}

	NotificationFilter struct {
		IsRead *bool
		Type   string
	}
)

func (c *Client) Notifications(ctx context.Context, filter NotificationFilter) ([]Notification, error) {
	vals := url.Values{}
	if filter.IsRead != nil {
		vals.Set("isRead", strconv.FormatBool(*filter.IsRead))
	}
	if filter.Type != "" {
		vals.Set("type", filter.Type)
	}
	var notifs []Notification
	err := c.get(ctx, "/notifications", vals, &notifs)
	return notifs, err
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		UnreadCount int `json:"unreadCount"`
	}
	err := c.get(ctx, "/notifications/unread-count", nil, &resp)
	return resp.UnreadCount, err
}

func (c *Client) MarkRead(ctx context.Context, id int64) error {
	return c.put(ctx, "/notifications/"+strconv.FormatInt(id, 10)+"/read", nil, nil)
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.put(ctx, "/notifications/read-all", nil, nil)
}
