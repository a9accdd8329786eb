package session

import (
	"context"
	"fmt"
	"sync"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/unihub/unihub/core"
)

var (
	// errors
	ErrNoSession = errors.New("no session")
	ErrInFlight  = errors.New("operation already in progress")
)

// State of the Store.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "AUTHENTICATED"
	}
	return "ANONYMOUS"
}

type (
	// Authenticator is the server side of the session lifecycle.
	Authenticator interface {
		Login(ctx context.Context, req LoginRequest) (AuthResponse, error)
		Register(ctx context.Context, req RegisterRequest) (AuthResponse, error)
		CheckSession(ctx context.Context) (User, error)
		Logout(ctx context.Context) error
	}

	// TokenStore holds the durable Token and the mirrored profile.
	TokenStore interface {
		Token() string
		SetToken(token string) error
		ClearToken() error
		Profile() (*User, error)
		SetProfile(usr User) error
		ClearProfile() error
	}

	// Connector opens and closes the realtime connection.
	Connector interface {
		Connect(ctx context.Context, onConnected func()) error
		Disconnect()
	}

	// RegisterResult is what a successful registration hands back: the account
	// exists but stays inactive until its email address is verified.
	RegisterResult struct {
		User                 User
		VerificationRequired bool
	}

	Deps struct {
		Auth       Authenticator
		Tokens     TokenStore
		Realtime   Connector
		Validate   *validator.Validate
		Translator ut.Translator
		Logger     core.Logger
	}
)

// Store is the single source of truth for who is logged in.
// It also drives the realtime connection lifecycle.
type Store struct {
	auth       Authenticator
	tokens     TokenStore
	realtime   Connector
	validate   *validator.Validate
	translator ut.Translator
	logger     core.Logger

	mu       sync.RWMutex
	usr      *User
	inFlight map[string]bool
	checkMu  sync.Mutex

	loadOnce sync.Once
	ready    chan struct{}

	subsMu sync.Mutex
	subs   map[int]chan *User
	nextID int
}

func NewStore(deps Deps) *Store {
	return &Store{
		auth:       deps.Auth,
		tokens:     deps.Tokens,
		realtime:   deps.Realtime,
		validate:   deps.Validate,
		translator: deps.Translator,
		logger:     deps.Logger,
		inFlight:   make(map[string]bool),
		ready:      make(chan struct{}),
		subs:       make(map[int]chan *User),
	}
}

// User returns a copy of the current Session, nil when anonymous.
func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() *User {
	if s.usr == nil {
		return nil
	}
	usr := *s.usr
	return &usr
}

func (s *Store) State() State {
	if s.IsAuthenticated() {
		return Authenticated
	}
	return Anonymous
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usr != nil
}

func (s *Store) HasRole(role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usr != nil && s.usr.Role == role
}

// Loading reports whether the startup session check is still running.
func (s *Store) Loading() bool {
	select {
	case <-s.ready:
		return false
	default:
		return true
	}
}

// Ready is closed once the startup path has resolved.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

func (s *Store) finishLoading() {
	s.loadOnce.Do(func() { close(s.ready) })
}

// begin marks action as running; the returned func ends it.
func (s *Store) begin(action string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[action] {
		return nil, ErrInFlight
	}
	s.inFlight[action] = true
	return func() {
		s.mu.Lock()
		delete(s.inFlight, action)
		s.mu.Unlock()
	}, nil
}

// Init is the startup path: it runs CheckSession once and always clears Loading.
func (s *Store) Init(ctx context.Context) (*User, error) {
	defer s.finishLoading()
	return s.CheckSession(ctx)
}

// CheckSession validates the persisted Token against the server.
// Without a Token it resolves to ErrNoSession without any network call.
func (s *Store) CheckSession(ctx context.Context) (*User, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	if s.tokens.Token() == "" {
		s.teardown(ctx, false /* server */)
		return nil, ErrNoSession
	}

	usr, err := s.auth.CheckSession(ctx)
	if err != nil {
		s.logger.Info(fmt.Sprintf("session check failed: %v", err))
		s.teardown(ctx, false /* server */)
		return nil, ErrNoSession
	}

	s.materialize(ctx, usr, "", "session check")
	return s.User(), nil
}

// Login authenticates with the server; the Session is only set once the server confirmed.
func (s *Store) Login(ctx context.Context, email, password string) (*User, error) {
	req := LoginRequest{Email: email, Password: password}
	if err := req.Validate(s.validate, s.translator); err != nil {
		return nil, err
	}

	end, err := s.begin("login")
	if err != nil {
		return nil, err
	}
	defer end()

	resp, err := s.auth.Login(ctx, req)
	if err != nil {
		s.logger.Info(fmt.Sprintf("login failed for %s: %v", req.Email, err))
		return nil, errors.Wrap(err, "logging in")
	}
	if resp.Token == "" {
		return nil, errors.New("logging in: server returned no token")
	}

	s.materialize(ctx, resp.User, resp.Token, "login")
	return s.User(), nil
}

// Register creates an account. The account must verify its email before any
// Session exists, so nothing is persisted and no connection is opened.
func (s *Store) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := req.Validate(s.validate, s.translator); err != nil {
		return nil, err
	}

	end, err := s.begin("register")
	if err != nil {
		return nil, err
	}
	defer end()

	resp, err := s.auth.Register(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "registering")
	}
	return &RegisterResult{User: resp.User, VerificationRequired: true}, nil
}

// Logout closes the realtime connection, clears Token and Session and sends
// the caller to the login view.
func (s *Store) Logout(ctx context.Context) (Destination, error) {
	end, err := s.begin("logout")
	if err != nil {
		return Destination{}, err
	}
	defer end()

	s.teardown(ctx, true /* server */)
	return Destination{View: NavLogin}, nil
}

// UpdateUser merges patch into the in-memory Session without touching the connection.
func (s *Store) UpdateUser(patch UserPatch) (*User, error) {
	s.mu.Lock()
	if s.usr == nil {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	merged := s.usr.Merge(patch)
	s.usr = &merged
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.tokens.SetProfile(merged); err != nil {
		s.logger.Warn("mirroring profile", err)
	}
	s.notify(snap)
	return snap, nil
}

// HandleError decides where an API error sends the user. An expired session
// tears the Session down and goes to login; anything else stays put.
func (s *Store) HandleError(err error) Destination {
	var expired interface{ SessionExpired() bool }
	if ok := errors.As(err, &expired); ok && expired.SessionExpired() {
		s.logger.Info("session expired, signing out")
		s.teardown(context.Background(), false /* server */)
		return Destination{View: NavLogin, Error: "session_expired"}
	}
	return Destination{View: NavNone}
}

func (s *Store) materialize(ctx context.Context, usr User, token, via string) {
	if token != "" {
		if err := s.tokens.SetToken(token); err != nil {
			s.logger.Error("persisting token", err)
		}
	}
	if err := s.tokens.SetProfile(usr); err != nil {
		s.logger.Warn("mirroring profile", err)
	}

	s.mu.Lock()
	switched := s.usr != nil && s.usr.ID != usr.ID
	u := usr
	s.usr = &u
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.realtime != nil {
		// the open connection still carries the previous user's credentials
		if switched {
			s.realtime.Disconnect()
		}
		if err := s.realtime.Connect(ctx, func() {
			s.logger.Info(fmt.Sprintf("realtime connected after %s", via))
		}); err != nil {
			s.logger.Warn("realtime connect", err)
		}
	}
	s.notify(snap)
}

// teardown closes the connection first, then clears Token, profile and Session.
func (s *Store) teardown(ctx context.Context, server bool) {
	if s.realtime != nil {
		s.realtime.Disconnect()
	}
	if server && s.tokens.Token() != "" {
		if err := s.auth.Logout(ctx); err != nil {
			s.logger.Info(fmt.Sprintf("server logout: %v", err))
		}
	}
	if err := s.tokens.ClearToken(); err != nil {
		s.logger.Error("clearing token", err)
	}
	if err := s.tokens.ClearProfile(); err != nil {
		s.logger.Warn("clearing profile", err)
	}

	s.mu.Lock()
	wasAuthed := s.usr != nil
	s.usr = nil
	s.mu.Unlock()
	if wasAuthed {
		s.notify(nil)
	}
}

// Changes streams Session snapshots, starting with the current one. Only the
// latest snapshot is kept for a slow reader. cancel stops the stream.
func (s *Store) Changes() (<-chan *User, func()) {
	ch := make(chan *User, 1)

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.User()
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subsMu.Unlock()
		})
	}
}

func (s *Store) notify(usr *User) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		var snap *User
		if usr != nil {
			u := *usr
			snap = &u
		}
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
