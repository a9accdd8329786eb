package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unihub/unihub/core"
)

// recorder keeps the ordered side effects of every fake.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(evt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	evts := r.events
	r.events = nil
	return evts
}

func (r *recorder) has(evt string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == evt {
			return true
		}
	}
	return false
}

type fakeAuth struct {
	rec *recorder

	loginResp    AuthResponse
	loginErr     error
	registerResp AuthResponse
	registerErr  error
	checkUser    User
	checkErr     error
	logoutErr    error

	entered chan struct{} // signalled when Login starts, if set
	gate    chan struct{} // Login waits on it, if set
}

func (a *fakeAuth) Login(_ context.Context, req LoginRequest) (AuthResponse, error) {
	a.rec.add("login " + req.Email)
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.gate != nil {
		<-a.gate
	}
	return a.loginResp, a.loginErr
}

func (a *fakeAuth) Register(_ context.Context, req RegisterRequest) (AuthResponse, error) {
	a.rec.add("register " + req.Email)
	return a.registerResp, a.registerErr
}

func (a *fakeAuth) CheckSession(context.Context) (User, error) {
	a.rec.add("check")
	return a.checkUser, a.checkErr
}

func (a *fakeAuth) Logout(context.Context) error {
	a.rec.add("logout")
	return a.logoutErr
}

type fakeTokens struct {
	rec *recorder

	mu      sync.Mutex
	token   string
	profile *User
}

func (f *fakeTokens) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeTokens) SetToken(token string) error {
	f.rec.add("set-token")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	return nil
}

func (f *fakeTokens) ClearToken() error {
	f.rec.add("clear-token")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = ""
	return nil
}

func (f *fakeTokens) Profile() (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, nil
}

func (f *fakeTokens) SetProfile(usr User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = &usr
	return nil
}

func (f *fakeTokens) ClearProfile() error {
	f.rec.add("clear-profile")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = nil
	return nil
}

type fakeConnector struct {
	rec *recorder
	err error
}

func (c *fakeConnector) Connect(_ context.Context, onConnected func()) error {
	c.rec.add("connect")
	if c.err != nil {
		return c.err
	}
	onConnected()
	return nil
}

func (c *fakeConnector) Disconnect() {
	c.rec.add("disconnect")
}

type expiredError struct{}

func (expiredError) Error() string        { return "Token expired" }
func (expiredError) SessionExpired() bool { return true }

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type storeFixture struct {
	rec    *recorder
	auth   *fakeAuth
	tokens *fakeTokens
	conn   *fakeConnector
	store  *Store
}

var (
	ada   = User{ID: 1, Name: "Ada Lovelace", Email: "ada@uni.edu", Role: RoleStudent, Points: 120}
	grace = User{ID: 2, Name: "Grace Hopper", Email: "grace@uni.edu", Role: RoleAdmin}
)

func newStoreFixture(t *testing.T, token string) *storeFixture {
	t.Helper()
	validate, translator := newValidator()

	rec := &recorder{}
	f := &storeFixture{
		rec:    rec,
		auth:   &fakeAuth{rec: rec},
		tokens: &fakeTokens{rec: rec, token: token},
		conn:   &fakeConnector{rec: rec},
	}
	f.store = NewStore(Deps{
		Auth:       f.auth,
		Tokens:     f.tokens,
		Realtime:   f.conn,
		Validate:   validate,
		Translator: translator,
		Logger:     nopLogger{},
	})
	return f
}

func (f *storeFixture) login(t *testing.T, usr User) {
	t.Helper()
	f.auth.loginResp = AuthResponse{Token: "tok-" + usr.Email, User: usr}
	_, err := f.store.Login(context.Background(), usr.Email, "Str0ng!pass")
	require.NoError(t, err)
	f.rec.take()
}

func TestStore_Init(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		checkErr   error
		wantErr    error
		wantEvents []string
		wantUser   *User
	}{
		{
			name:       "no token makes no network call",
			wantErr:    ErrNoSession,
			wantEvents: []string{"disconnect", "clear-token", "clear-profile"},
		},
		{
			name:       "valid token",
			token:      "tok",
			wantEvents: []string{"check", "connect"},
			wantUser:   &ada,
		},
		{
			name:       "rejected token is cleared",
			token:      "tok",
			checkErr:   expiredError{},
			wantErr:    ErrNoSession,
			wantEvents: []string{"check", "disconnect", "clear-token", "clear-profile"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t, tt.token)
			f.auth.checkUser = ada
			f.auth.checkErr = tt.checkErr
			require.True(t, f.store.Loading())

			usr, err := f.store.Init(context.Background())

			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.wantUser, usr)
			assert.Equal(t, tt.wantEvents, f.rec.take())
			assert.False(t, f.store.Loading())
			select {
			case <-f.store.Ready():
			default:
				t.Error("Ready() not closed")
			}
		})
	}
}

func TestStore_Init_mirrorsProfile(t *testing.T) {
	f := newStoreFixture(t, "tok")
	f.auth.checkUser = ada

	_, err := f.store.Init(context.Background())
	require.NoError(t, err)

	profile, _ := f.tokens.Profile()
	require.NotNil(t, profile)
	assert.Equal(t, ada, *profile)
	assert.Equal(t, Authenticated, f.store.State())
	assert.Equal(t, "tok", f.tokens.Token(), "token kept as is")
}

func TestStore_Login(t *testing.T) {
	serverErr := errors.New("Invalid email or password")
	tests := []struct {
		name      string
		email     string
		resp      AuthResponse
		err       error
		wantErr   string
		wantAuthd bool
	}{
		{name: "invalid email", email: "not-an-email", wantErr: "email: please enter a valid email address (e.g., user@university.edu)"},
		{name: "server refusal", email: "ada@uni.edu", err: serverErr, wantErr: "logging in: Invalid email or password"},
		{name: "no token", email: "ada@uni.edu", resp: AuthResponse{User: ada}, wantErr: "logging in: server returned no token"},
		{name: "success", email: " ADA@uni.edu ", resp: AuthResponse{Token: "tok", User: ada}, wantAuthd: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t, "")
			f.auth.loginResp, f.auth.loginErr = tt.resp, tt.err

			usr, err := f.store.Login(context.Background(), tt.email, "Str0ng!pass")

			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				assert.Nil(t, usr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, ada.ID, usr.ID)
			}
			assert.Equal(t, tt.wantAuthd, f.store.IsAuthenticated())
			if tt.wantAuthd {
				assert.Equal(t, "tok", f.tokens.Token())
				assert.Equal(t, []string{"login ada@uni.edu", "set-token", "connect"}, f.rec.take())
			} else {
				assert.False(t, f.rec.has("connect"))
				assert.False(t, f.rec.has("set-token"))
			}
		})
	}
}

func TestStore_Login_validationSkipsServer(t *testing.T) {
	f := newStoreFixture(t, "")

	_, err := f.store.Login(context.Background(), "", "")

	assert.True(t, core.IsValidation(err))
	assert.Empty(t, f.rec.take())
}

func TestStore_Login_inFlight(t *testing.T) {
	f := newStoreFixture(t, "")
	f.auth.loginResp = AuthResponse{Token: "tok", User: ada}
	f.auth.entered = make(chan struct{})
	f.auth.gate = make(chan struct{})

	errc := make(chan error)
	go func() {
		_, err := f.store.Login(context.Background(), ada.Email, "Str0ng!pass")
		errc <- err
	}()
	<-f.auth.entered
	f.auth.entered = nil

	_, err := f.store.Login(context.Background(), ada.Email, "Str0ng!pass")
	assert.Equal(t, ErrInFlight, err)

	close(f.auth.gate)
	assert.NoError(t, <-errc)
	assert.True(t, f.store.IsAuthenticated())
}

func TestStore_Login_switchingUserReconnects(t *testing.T) {
	f := newStoreFixture(t, "")
	f.login(t, ada)

	f.auth.loginResp = AuthResponse{Token: "tok2", User: grace}
	_, err := f.store.Login(context.Background(), grace.Email, "Str0ng!pass")
	require.NoError(t, err)

	assert.Equal(t, []string{"login grace@uni.edu", "set-token", "disconnect", "connect"}, f.rec.take())
	assert.True(t, f.store.HasRole(RoleAdmin))
}

func TestStore_Login_connectFailureKeepsSession(t *testing.T) {
	f := newStoreFixture(t, "")
	f.conn.err = errors.New("dial refused")

	f.login(t, ada)

	assert.True(t, f.store.IsAuthenticated())
}

func TestStore_Register(t *testing.T) {
	uni := int64(4)
	valid := RegisterRequest{
		Name: "Grace Hopper", Email: "Grace@Uni.edu", Password: "Str0ng!pass",
		PasswordConfirm: "Str0ng!pass", Role: "student", UniversityID: &uni,
	}

	t.Run("never signs in", func(t *testing.T) {
		f := newStoreFixture(t, "")
		f.auth.registerResp = AuthResponse{Token: "should-be-ignored", User: grace}

		res, err := f.store.Register(context.Background(), valid)

		require.NoError(t, err)
		assert.True(t, res.VerificationRequired)
		assert.Equal(t, grace.ID, res.User.ID)
		assert.False(t, f.store.IsAuthenticated())
		assert.Empty(t, f.tokens.Token())
		assert.Equal(t, []string{"register grace@uni.edu"}, f.rec.take())
	})

	t.Run("validation", func(t *testing.T) {
		f := newStoreFixture(t, "")
		req := valid
		req.UniversityID = nil

		_, err := f.store.Register(context.Background(), req)

		assert.EqualError(t, err, "universityId: a university is required for students and supervisors")
		assert.Empty(t, f.rec.take())
	})

	t.Run("server error", func(t *testing.T) {
		f := newStoreFixture(t, "")
		f.auth.registerErr = errors.New("Email is already registered")

		_, err := f.store.Register(context.Background(), valid)

		assert.EqualError(t, err, "registering: Email is already registered")
	})
}

func TestStore_Logout(t *testing.T) {
	tests := []struct {
		name      string
		logoutErr error
	}{
		{name: "server accepts"},
		{name: "server failure is ignored", logoutErr: errors.New("network error")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t, "")
			f.login(t, ada)
			f.auth.logoutErr = tt.logoutErr

			dest, err := f.store.Logout(context.Background())

			require.NoError(t, err)
			assert.Equal(t, Destination{View: NavLogin}, dest)
			assert.Equal(t, []string{"disconnect", "logout", "clear-token", "clear-profile"}, f.rec.take())
			assert.False(t, f.store.IsAuthenticated())
			assert.Empty(t, f.tokens.Token())
		})
	}
}

func TestStore_Logout_anonymous(t *testing.T) {
	f := newStoreFixture(t, "")

	dest, err := f.store.Logout(context.Background())

	require.NoError(t, err)
	assert.Equal(t, NavLogin, dest.View)
	assert.False(t, f.rec.has("logout"), "no token, no server call")
}

func TestStore_UpdateUser(t *testing.T) {
	f := newStoreFixture(t, "")
	name := "Ada King"
	_, err := f.store.UpdateUser(UserPatch{Name: &name})
	assert.Equal(t, ErrNoSession, err)

	f.login(t, ada)
	points := 150
	usr, err := f.store.UpdateUser(UserPatch{Name: &name, Points: &points})

	require.NoError(t, err)
	assert.Equal(t, "Ada King", usr.Name)
	assert.Equal(t, 150, usr.Points)
	assert.Equal(t, ada.Email, usr.Email)
	profile, _ := f.tokens.Profile()
	assert.Equal(t, "Ada King", profile.Name)
	assert.Empty(t, f.rec.take(), "connection untouched")
}

func TestStore_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       Destination
		wantAuthed bool
	}{
		{name: "expired session", err: expiredError{}, want: Destination{View: NavLogin, Error: "session_expired"}},
		{name: "wrapped expired session", err: errors.Wrap(expiredError{}, "loading badges"), want: Destination{View: NavLogin, Error: "session_expired"}},
		{name: "other error", err: errors.New("boom"), want: Destination{View: NavNone}, wantAuthed: true},
		{name: "nil", want: Destination{View: NavNone}, wantAuthed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStoreFixture(t, "")
			f.login(t, ada)

			assert.Equal(t, tt.want, f.store.HandleError(tt.err))
			assert.Equal(t, tt.wantAuthed, f.store.IsAuthenticated())
		})
	}
}

func TestStore_Changes(t *testing.T) {
	f := newStoreFixture(t, "")
	changes, cancel := f.store.Changes()
	assert.Nil(t, <-changes, "starts anonymous")

	f.login(t, ada)
	select {
	case usr := <-changes:
		require.NotNil(t, usr)
		assert.Equal(t, ada.ID, usr.ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after login")
	}

	// a slow reader only sees the latest snapshot
	name := "Ada King"
	_, _ = f.store.UpdateUser(UserPatch{Name: &name})
	_, _ = f.store.Logout(context.Background())
	assert.Nil(t, <-changes)

	cancel()
	cancel()
	_, ok := <-changes
	assert.False(t, ok)
}

func TestStore_User_isACopy(t *testing.T) {
	f := newStoreFixture(t, "")
	f.login(t, ada)

	usr := f.store.User()
	usr.Name = "mutated"

	assert.Equal(t, ada.Name, f.store.User().Name)
}
