package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind int

const (
	KindRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindRateLimited
	KindServer
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	default:
		return "request"
	}
}

const (
	msgRateLimited = "Too many requests. Please wait a moment and try again."
	msgNetwork     = "network error - please check your connection"
	msgTimeout     = "request timed out"
)

// errors
var ErrMissingToken = errors.New("server returned no token")

// Error is every failure a request can end with.
type Error struct {
	Kind    Kind
	Status  int // 0 for network failures
	Message string
	Fields  map[string]string
	Path    string

	protected bool
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 && e.Message == "" {
		parts := make([]string, 0, len(e.Fields))
		for fld, msg := range e.Fields {
			parts = append(parts, fld+": "+msg)
		}
		sort.Strings(parts)
		return strings.Join(parts, "; ")
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return e.Kind.String()
}

// SessionExpired reports whether the error means the Token is no longer
// accepted. Public endpoints never report it.
func (e *Error) SessionExpired() bool {
	return e.Kind == KindUnauthorized && e.protected
}

// IsUnverified reports a login refused because the email address is not verified yet.
func (e *Error) IsUnverified() bool {
	return e.Kind == KindForbidden && strings.Contains(strings.ToLower(e.Message), "verif")
}

// AsError unwraps err into an *Error.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	apiErr, ok := AsError(err)
	return ok && apiErr.Kind == kind
}

// publicPaths are the endpoints usable without a session. A 401 from them is
// a plain failure.
var publicPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/session",
	"/auth/forgot-password",
	"/auth/validate-reset-token",
	"/auth/reset-password",
	"/auth/verify-email",
	"/auth/resend-verification",
}

func isPublic(path string) bool {
	path, _, _ = strings.Cut(path, "?")
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func kindOf(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindRequest
	}
}
