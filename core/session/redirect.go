package session

import (
	"context"
	"net/url"
	"strings"
)

// RedirectPath is where the identity provider sends the browser back to.
const RedirectPath = "/oauth2/redirect"

// View names a screen of the presentation layer.
type View string

const (
	NavNone      View = ""
	NavLogin     View = "login"
	NavDashboard View = "dashboard"
)

// Destination tells the presentation layer where to go next.
type Destination struct {
	View    View
	Error   string // e.g. "oauth2_failed", "session_expired"
	Message string
}

// CompleteRedirect finishes a federated login from the query the provider
// redirected back with.
func (s *Store) CompleteRedirect(ctx context.Context, query url.Values) (Destination, error) {
	if errCode := query.Get("error"); errCode != "" {
		s.logger.Warn("federated login failed: " + errCode)
		return Destination{View: NavLogin, Error: "oauth2_failed", Message: query.Get("message")}, nil
	}

	token := strings.TrimSpace(query.Get("token"))
	if token == "" {
		return Destination{View: NavLogin}, nil
	}

	end, err := s.begin("redirect")
	if err != nil {
		return Destination{}, err
	}
	defer end()

	if err := s.tokens.SetToken(token); err != nil {
		return Destination{}, err
	}
	if _, err := s.CheckSession(ctx); err != nil {
		return Destination{View: NavLogin, Error: "session_invalid"}, nil
	}
	return Destination{View: NavDashboard}, nil
}

// Boot routes the page load: the landing step of a federated login runs the
// redirect handler and skips the session check, any other URL runs Init.
// Loading flips to false once either way.
func (s *Store) Boot(ctx context.Context, landing *url.URL) (Destination, error) {
	if query, ok := redirectQuery(landing); ok {
		defer s.finishLoading()
		return s.CompleteRedirect(ctx, query)
	}

	if _, err := s.Init(ctx); err != nil {
		if err == ErrNoSession {
			return Destination{View: NavNone}, nil
		}
		return Destination{}, err
	}
	return Destination{View: NavNone}, nil
}

// redirectQuery reports whether u is the federated-login landing URL, either
// as a path (/oauth2/redirect?token=) or as a hash route (/#/oauth2/redirect?token=).
func redirectQuery(u *url.URL) (url.Values, bool) {
	if u == nil {
		return nil, false
	}
	if strings.HasSuffix(strings.TrimRight(u.Path, "/"), RedirectPath) {
		return u.Query(), true
	}
	frag := u.Fragment
	if frag == "" {
		return nil, false
	}
	route, rawQuery, _ := strings.Cut(frag, "?")
	if strings.TrimRight(route, "/") != RedirectPath {
		return nil, false
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return url.Values{}, true
	}
	return query, true
}
