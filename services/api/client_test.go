package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
	"github.com/unihub/unihub/testutil"
)

type tokenHolder struct {
	mu    sync.Mutex
	token string
}

func (h *tokenHolder) Token() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

func (h *tokenHolder) set(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

func newTestClient(t *testing.T) (*Client, *testutil.Backend, *tokenHolder) {
	backend := testutil.NewBackend(t)
	tokens := &tokenHolder{}
	conf := &core.Config{APIBaseURL: backend.APIBaseURL(), HTTPTimeout: 5 * time.Second}
	return NewClient(conf, tokens, testutil.NewLogger()), backend, tokens
}

func TestClient_errorMapping(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	usr := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", "Str0ng!pass", testutil.RoleStudent, true)
	tokens.set(backend.Token(t, usr))

	me := func() error { _, err := client.Me(ctx); return err }
	login := func() error {
		_, err := client.Login(ctx, session.LoginRequest{Email: "ada@uni.edu", Password: "Str0ng!pass"})
		return err
	}

	tests := []struct {
		name        string
		path        string
		status      int
		body        string
		call        func() error
		wantKind    Kind
		wantMsg     string
		wantFields  map[string]string
		wantExpired bool
	}{
		{
			name: "401 on protected endpoint", path: "/api/users/me", status: 401,
			body: `{"message":"Token expired"}`, call: me,
			wantKind: KindUnauthorized, wantMsg: "Token expired", wantExpired: true,
		},
		{
			name: "401 on login is not an expired session", path: "/api/auth/login", status: 401,
			body: `{"message":"Invalid email or password"}`, call: login,
			wantKind: KindUnauthorized, wantMsg: "Invalid email or password",
		},
		{
			name: "403 surfaces the message", path: "/api/users/me", status: 403,
			body: `{"error":"Access denied"}`, call: me,
			wantKind: KindForbidden, wantMsg: "Access denied",
		},
		{
			name: "429 has a fixed message", path: "/api/auth/login", status: 429,
			body: `{"message":"slow down"}`, call: login,
			wantKind: KindRateLimited, wantMsg: msgRateLimited,
		},
		{
			name: "400 message", path: "/api/users/me", status: 400,
			body: `{"message":"Email is already registered"}`, call: me,
			wantKind: KindRequest, wantMsg: "Email is already registered",
		},
		{
			name: "400 field map", path: "/api/auth/login", status: 400,
			body: `{"email":"Email should be valid","password":"Password is required"}`, call: login,
			wantKind:   KindRequest,
			wantMsg:    "email: Email should be valid; password: Password is required",
			wantFields: map[string]string{"email": "Email should be valid", "password": "Password is required"},
		},
		{
			name: "400 nested field map", path: "/api/auth/login", status: 400,
			body: `{"message":{"email":"Email should be valid"}}`, call: login,
			wantKind:   KindRequest,
			wantMsg:    "email: Email should be valid",
			wantFields: map[string]string{"email": "Email should be valid"},
		},
		{
			name: "500", path: "/api/users/me", status: 500,
			body: `boom`, call: me,
			wantKind: KindServer, wantMsg: "boom",
		},
		{
			name: "503 without body", path: "/api/users/me", status: 503,
			call: me,
			wantKind: KindServer, wantMsg: "Service Unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend.Fail(tt.path, tt.status, tt.body)
			err := tt.call()
			require.Error(t, err)

			apiErr, ok := AsError(err)
			require.True(t, ok, "want *Error, got %T", err)
			assert.Equal(t, tt.wantKind, apiErr.Kind)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Error())
			assert.Equal(t, tt.wantFields, apiErr.Fields)
			assert.Equal(t, tt.wantExpired, apiErr.SessionExpired())
		})
	}
}

func TestClient_rateLimitIsNotRetried(t *testing.T) {
	client, backend, _ := newTestClient(t)
	backend.Fail("/api/auth/login", http.StatusTooManyRequests, "")

	_, err := client.Login(context.Background(), session.LoginRequest{Email: "a@b.co", Password: "x"})

	assert.True(t, IsKind(err, KindRateLimited))
	assert.Equal(t, 1, backend.Hits("/api/auth/login"))
}

func TestClient_networkErrors(t *testing.T) {
	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		// no token source, no logger
		client := NewClient(&core.Config{APIBaseURL: srv.URL + "/api"}, nil, nil)

		_, err := client.Me(context.Background())

		apiErr, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, KindNetwork, apiErr.Kind)
		assert.Equal(t, msgNetwork, apiErr.Message)
		assert.False(t, apiErr.SessionExpired())
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)
		client := NewClient(&core.Config{APIBaseURL: srv.URL, HTTPTimeout: 50 * time.Millisecond}, nil, testutil.NewLogger())

		_, err := client.Badges(context.Background())

		apiErr, ok := AsError(err)
		require.True(t, ok)
		assert.Equal(t, KindNetwork, apiErr.Kind)
		assert.Equal(t, msgTimeout, apiErr.Message)
	})
}

func TestClient_bearerToken(t *testing.T) {
	ctx := context.Background()
	client, backend, tokens := newTestClient(t)
	usr := backend.AddUser(t, "Ada Lovelace", "ada@uni.edu", "Str0ng!pass", testutil.RoleStudent, true)

	_, err := client.Me(ctx)
	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.True(t, apiErr.SessionExpired(), "protected endpoint without token")

	tokens.set(backend.Token(t, usr))
	me, err := client.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, usr.ID, me.ID)
	assert.Equal(t, "ada@uni.edu", me.Email)
}

func TestClient_OAuthURL(t *testing.T) {
	client := NewClient(&core.Config{APIBaseURL: "http://localhost:8080/api"}, nil, testutil.NewLogger())
	tests := []struct {
		provider, redirect, want string
	}{
		{provider: "google", want: "http://localhost:8080/oauth2/authorization/google"},
		{provider: " GitHub ", want: "http://localhost:8080/oauth2/authorization/github"},
		{
			provider: "google", redirect: "http://127.0.0.1:8765/oauth2/redirect",
			want: "http://localhost:8080/oauth2/authorization/google?redirect_uri=http%3A%2F%2F127.0.0.1%3A8765%2Foauth2%2Fredirect",
		},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, client.OAuthURL(tt.provider, tt.redirect))
		})
	}
}

func TestIsPublic(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "/auth/login", want: true},
		{path: "/auth/session", want: true},
		{path: "/auth/verify-email?token=abc", want: true},
		{path: "/auth/logout", want: false},
		{path: "/users/me", want: false},
		{path: "/notifications/unread-count", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := isPublic(tt.path); got != tt.want {
				t.Errorf("isPublic() = %v, want %v", got, tt.want)
			}
		})
	}
}
