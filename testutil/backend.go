// Package testutil runs an in-process fake of the UniHub backend: the REST
// API under /api and a STOMP broker under /ws/websocket.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"golang.org/x/crypto/bcrypt"
)

// Roles
const (
	RoleStudent    = "STUDENT"
	RoleSupervisor = "SUPERVISOR"
	RoleAdmin      = "ADMIN"
)

type (
	// User is the profile shape the backend serves.
	User struct {
		ID               int64  `json:"userId"`
		Name             string `json:"name"`
		Email            string `json:"email"`
		Role             string `json:"role"`
		UniversityID     *int64 `json:"universityId,omitempty"`
		UniversityName   string `json:"universityName,omitempty"`
		Points           int    `json:"points"`
		CurrentBadgeName string `json:"currentBadgeName,omitempty"`
	}

	authResponse struct {
		Token string `json:"token,omitempty"`
		User
	}

	Badge struct {
		ID              int64  `json:"badgeId"`
		Name            string `json:"name"`
		Description     string `json:"description"`
		PointsThreshold int    `json:"pointsThreshold"`
	}

	Notification struct {
		ID        int64     `json:"notificationId"`
		Message   string    `json:"message"`
		Type      string    `json:"type"`
		IsRead    bool      `json:"isRead"`
		CreatedAt time.Time `json:"createdAt"`
	}

	account struct {
		usr       User
		hash      []byte
		verified  bool
		lastLogin time.Time
		notifs    []*Notification
	}

	// Failure is a canned response returned instead of the real handler.
	Failure struct {
		Status int
		Body   string
	}
)

var defaultBadges = []Badge{
	{ID: 1, Name: "Newcomer", Description: "Joined the community", PointsThreshold: 0},
	{ID: 2, Name: "Contributor", Description: "Earned 100 points", PointsThreshold: 100},
	{ID: 3, Name: "Champion", Description: "Earned 500 points", PointsThreshold: 500},
}

// Backend is the fake server. All exported methods are safe for concurrent use.
type Backend struct {
	Server *httptest.Server
	Broker *Broker
	app    *echo.Echo

	mu          sync.Mutex
	accounts    map[int64]*account
	byEmail     map[string]int64
	revoked     map[string]bool
	failures    map[string][]Failure
	hits        map[string]int
	nextUserID  int64
	nextNotifID int64

	registerIssuesToken bool
	loginLimit          int
	loginCount          int
	resetToken          string
	verificationToken   string

	content content
}

// NewBackend starts a fake backend; it is closed with the test.
func NewBackend(t testing.TB) *Backend {
	b := &Backend{
		app:        echo.New(),
		accounts:   make(map[int64]*account),
		byEmail:    make(map[string]int64),
		revoked:    make(map[string]bool),
		failures:   make(map[string][]Failure),
		hits:       make(map[string]int),
		nextUserID: 1,
		content:    newContent(),
	}
	b.Broker = newBroker(b.authorize)
	b.setup()
	b.Server = httptest.NewServer(b.app)
	t.Cleanup(func() {
		b.Broker.Close()
		b.Server.Close()
	})
	return b
}

// APIBaseURL is the REST root, e.g. http://127.0.0.1:1234/api.
func (b *Backend) APIBaseURL() string {
	return b.Server.URL + "/api"
}

// WSURL is the broker endpoint.
func (b *Backend) WSURL() string {
	return "ws" + strings.TrimPrefix(b.Server.URL, "http") + "/ws/websocket"
}

func (b *Backend) setup() {
	b.app.HideBanner = true
	b.app.HidePort = true
	b.app.Logger.SetLevel(log.OFF)
	b.app.Pre(middleware.RemoveTrailingSlash())
	b.app.HTTPErrorHandler = httpErrorHandler
	b.app.Use(b.countAndFail)

	b.app.GET("/ws/websocket", func(ctx echo.Context) error {
		b.Broker.ServeHTTP(ctx.Response(), ctx.Request())
		return nil
	})

	api := b.app.Group("/api")
	protected := b.requireAuth

	auth := api.Group("/auth")
	auth.POST("/login", b.login)
	auth.POST("/register", b.register)
	auth.GET("/session", b.session, protected)
	auth.POST("/logout", b.logout, protected)
	auth.POST("/forgot-password", b.forgotPassword)
	auth.GET("/validate-reset-token", b.validateResetToken)
	auth.POST("/reset-password", b.resetPassword)
	auth.GET("/verify-email", b.verifyEmail)
	auth.POST("/resend-verification", b.resendVerification)

	users := api.Group("/users", protected)
	users.GET("/me", b.me)
	users.PUT("/me", b.updateMe)
	users.PUT("/change-password", b.changePassword)
	users.GET("/:id", b.userByID)

	game := api.Group("/gamification", protected)
	game.GET("/leaderboard", b.leaderboard)
	game.GET("/top-members", b.topMembers)
	game.GET("/top-events", b.topEvents)
	game.GET("/badges", b.badges)
	game.GET("/my-badges", b.myBadges)

	notifs := api.Group("/notifications", protected)
	notifs.GET("", b.notifications)
	notifs.GET("/unread-count", b.unreadCount)
	notifs.PUT("/read-all", b.readAll)
	notifs.PUT("/:id/read", b.markRead)

	b.contentRoutes(api, protected)
}

// httpErrorHandler renders every error as {"message": ...}.
func httpErrorHandler(err error, ctx echo.Context) {
	code := http.StatusInternalServerError
	var message interface{} = http.StatusText(code)
	if herr, ok := err.(*echo.HTTPError); ok {
		code = herr.Code
		message = herr.Message
	}
	if ctx.Response().Committed {
		return
	}
	if ctx.Request().Method == http.MethodHead {
		_ = ctx.NoContent(code)
		return
	}
	_ = ctx.JSON(code, echo.Map{"message": message})
}

func (b *Backend) countAndFail(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		path := ctx.Request().URL.Path
		b.mu.Lock()
		b.hits[path]++
		var fail *Failure
		if queue := b.failures[path]; len(queue) > 0 {
			fail = &queue[0]
			b.failures[path] = queue[1:]
		}
		b.mu.Unlock()

		if fail != nil {
			return ctx.Blob(fail.Status, echo.MIMEApplicationJSONCharsetUTF8, []byte(fail.Body))
		}
		return next(ctx)
	}
}

// Fail queues a canned response for the next request to path (e.g. "/api/users/me").
func (b *Backend) Fail(path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = append(b.failures[path], Failure{Status: status, Body: body})
}

// Hits counts the requests made to path.
func (b *Backend) Hits(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[path]
}

// AddUser creates an account. Unverified accounts cannot log in.
func (b *Backend) AddUser(t testing.TB, name, email, pwd, role string, verified bool) User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("AddUser() failed: %v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc := b.createLocked(name, email, role, nil, hash)
	acc.verified = verified
	return acc.usr
}

// Token mints a valid access token for usr.
func (b *Backend) Token(t testing.TB, usr User) string {
	t.Helper()
	token, err := SignToken(usr.ID, usr.Email, usr.Role, tokenTTL)
	if err != nil {
		t.Fatalf("Token() failed: %v", err)
	}
	return token
}

// SetPoints changes the points of a user, as the gamification engine would.
func (b *Backend) SetPoints(userID int64, points int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if acc, ok := b.accounts[userID]; ok {
		acc.usr.Points = points
		acc.usr.CurrentBadgeName = badgeFor(points).Name
	}
}

// Notify adds a notification for userID.
func (b *Backend) Notify(userID int64, typ, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[userID]
	if !ok {
		return
	}
	b.nextNotifID++
	acc.notifs = append(acc.notifs, &Notification{
		ID:        b.nextNotifID,
		Message:   message,
		Type:      typ,
		CreatedAt: nowFunc().UTC().Truncate(time.Second),
	})
}

// IssueTokenOnRegister makes register answer with an access token, like a
// server that does not require verification would.
func (b *Backend) IssueTokenOnRegister(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registerIssuesToken = on
}

// LimitLogins answers 429 once n login attempts were made; 0 means unlimited.
func (b *Backend) LimitLogins(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginLimit = n
	b.loginCount = 0
}

// ResetToken is the token of the last password reset link "sent".
func (b *Backend) ResetToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetToken
}

// VerificationToken is the token of the last verification email "sent".
func (b *Backend) VerificationToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.verificationToken
}

// Revoke makes token unacceptable from now on.
func (b *Backend) Revoke(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revoked[token] = true
}

func (b *Backend) createLocked(name, email, role string, uniID *int64, hash []byte) *account {
	id := b.nextUserID
	b.nextUserID++
	usr := User{
		ID:               id,
		Name:             name,
		Email:            strings.ToLower(email),
		Role:             role,
		CurrentBadgeName: defaultBadges[0].Name,
	}
	if uniID != nil {
		uni := *uniID
		usr.UniversityID = &uni
		usr.UniversityName = "University " + strings.Repeat("I", int(uni%4)+1)
	}
	acc := &account{usr: usr, hash: hash}
	b.accounts[id] = acc
	b.byEmail[usr.Email] = id
	return acc
}

func badgeFor(points int) Badge {
	current := defaultBadges[0]
	for _, badge := range defaultBadges {
		if points >= badge.PointsThreshold {
			current = badge
		}
	}
	return current
}

// authorize validates a bearer header value and returns the account ID.
func (b *Backend) authorize(header string) (int64, bool) {
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return 0, false
	}
	b.mu.Lock()
	revoked := b.revoked[token]
	b.mu.Unlock()
	if revoked {
		return 0, false
	}
	id, err := ParseToken(token)
	if err != nil {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.accounts[id]; !ok {
		return 0, false
	}
	return id, true
}
