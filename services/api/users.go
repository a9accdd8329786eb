package api

import (
	"context"
	"strconv"

	"github.com/unihub/unihub/core/session"
)

// ProfileUpdate is the body of a profile edit. Empty fields are left untouched by the server.
type ProfileUpdate struct {
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	UniversityID *int64 `json:"universityId,omitempty"`
}

func (c *Client) Me(ctx context.Context) (session.User, error) {
	var usr session.User
	err := c.get(ctx, "/users/me", nil, &usr)
	return usr, err
}

func (c *Client) User(ctx context.Context, id int64) (session.User, error) {
	var usr session.User
	err := c.get(ctx, "/users/"+strconv.FormatInt(id, 10), nil, &usr)
	return usr, err
}

// UpdateProfile returns the updated profile as stored by the server.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (session.User, error) {
	var usr session.User
	err := c.put(ctx, "/users/me", upd, &usr)
	return usr, err
}

func (c *Client) ChangePassword(ctx context.Context, req session.ChangePasswordRequest) (string, error) {
	var msg string
	err := c.put(ctx, "/users/change-password", req, &msg)
	return msg, err
}
