package api

import (
	"context"
	"net/url"
	"strings"

	"github.com/unihub/unihub/core/session"
)

var _ session.Authenticator = (*Client)(nil)

func (c *Client) Login(ctx context.Context, req session.LoginRequest) (session.AuthResponse, error) {
	var resp session.AuthResponse
	if err := c.post(ctx, "/auth/login", req, &resp); err != nil {
		return session.AuthResponse{}, err
	}
	if resp.Token == "" {
		return resp, ErrMissingToken
	}
	return resp, nil
}

// Register creates an inactive account; any token in the response is ignored
// by the session layer until the email address is verified.
func (c *Client) Register(ctx context.Context, req session.RegisterRequest) (session.AuthResponse, error) {
	var resp session.AuthResponse
	if err := c.post(ctx, "/auth/register", req, &resp); err != nil {
		return session.AuthResponse{}, err
	}
	return resp, nil
}

// CheckSession asks the server whether the current Token is still valid.
func (c *Client) CheckSession(ctx context.Context) (session.User, error) {
	var resp session.AuthResponse
	if err := c.get(ctx, "/auth/session", nil, &resp); err != nil {
		return session.User{}, err
	}
	return resp.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/auth/logout", nil, nil)
}

// ForgotPassword asks for a reset link; it returns the server's confirmation text.
func (c *Client) ForgotPassword(ctx context.Context, req session.ForgotPasswordRequest) (string, error) {
	var msg string
	err := c.post(ctx, "/auth/forgot-password", req, &msg)
	return msg, err
}

// ValidateResetToken reports whether a password reset token can still be used.
func (c *Client) ValidateResetToken(ctx context.Context, token string) (bool, error) {
	var resp struct {
		Valid bool `json:"valid"`
	}
	err := c.get(ctx, "/auth/validate-reset-token", url.Values{"token": {token}}, &resp)
	if err != nil {
		if IsKind(err, KindRequest) {
			return false, nil
		}
		return false, err
	}
	return resp.Valid, nil
}

func (c *Client) ResetPassword(ctx context.Context, req session.ResetPasswordRequest) (string, error) {
	var msg string
	err := c.post(ctx, "/auth/reset-password", req, &msg)
	return msg, err
}

func (c *Client) VerifyEmail(ctx context.Context, token string) (string, error) {
	var msg string
	err := c.get(ctx, "/auth/verify-email", url.Values{"token": {token}}, &msg)
	return msg, err
}

func (c *Client) ResendVerification(ctx context.Context, req session.ResendVerificationRequest) (string, error) {
	var msg string
	err := c.post(ctx, "/auth/resend-verification", req, &msg)
	return msg, err
}

// OAuthURL is where the browser starts a federated login with provider
// (e.g. "google"). redirectURI may be empty to use the server default.
func (c *Client) OAuthURL(provider, redirectURI string) string {
	u := c.origin + "/oauth2/authorization/" + url.PathEscape(strings.ToLower(strings.TrimSpace(provider)))
	if redirectURI != "" {
		u += "?" + url.Values{"redirect_uri": {redirectURI}}.Encode()
	}
	return u
}
