package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
)

type (
	// Sessions streams Session snapshots; nil means signed out.
	Sessions interface {
		Changes() (<-chan *session.User, func())
	}

	Subscriber interface {
		Subscribe(key, destination string) (*Subscription, error)
		Unsubscribe(key string)
		States() (<-chan State, func())
	}

	Prefs interface {
		NotificationsEnabled() bool
	}

	// Activity is what the watcher exposes to the presentation layer.
	Activity struct {
		Badge              *BadgeEvent
		LeaderboardUpdated bool
		DashboardUpdated   bool
	}

	WatcherOptions struct {
		PulseDuration time.Duration
	}
)

// Watcher follows the Session and keeps the user's three topics subscribed
// while a connection is up.
type Watcher struct {
	sessions Sessions
	subs     Subscriber
	prefs    Prefs
	logger   core.Logger
	pulse    time.Duration

	mu       sync.Mutex
	activity Activity
	updates  chan Activity
	started  bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewWatcher(sessions Sessions, subs Subscriber, prefs Prefs, logger core.Logger, opts WatcherOptions) *Watcher {
	if opts.PulseDuration <= 0 {
		opts.PulseDuration = time.Second
	}
	return &Watcher{
		sessions: sessions,
		subs:     subs,
		prefs:    prefs,
		logger:   logger,
		pulse:    opts.PulseDuration,
		updates:  make(chan Activity, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Activity returns the current snapshot.
func (w *Watcher) Activity() Activity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Updates delivers every new snapshot; a slow reader only sees the latest.
func (w *Watcher) Updates() <-chan Activity {
	return w.updates
}

// ClearBadge dismisses the pending badge event.
func (w *Watcher) ClearBadge() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activity.Badge == nil {
		return
	}
	w.activity.Badge = nil
	w.publishLocked()
}

// Stop ends Run and waits for the topics to be released.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

// binding holds the live subscriptions of one user.
type binding struct {
	userID int64
	badge  <-chan Message
	board  <-chan Message
	dash   <-chan Message
}

// Run blocks until ctx is done or Stop is called. Every topic it subscribed
// is released on return.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()
	defer close(w.done)

	changes, cancelChanges := w.sessions.Changes()
	defer cancelChanges()
	states, cancelStates := w.subs.States()
	defer cancelStates()

	var (
		usr    *session.User
		bound  *binding
		lastID *int64
	)
	conn := Disconnected
	boardTmr, dashTmr := newStoppedTimer(), newStoppedTimer()
	defer func() {
		boardTmr.Stop()
		dashTmr.Stop()
		if lastID != nil {
			w.release(*lastID)
		}
	}()

	bind := func() {
		if usr == nil || conn != Connected || bound != nil {
			return
		}
		bound = w.bind(usr.ID)
	}
	unbind := func() {
		if bound != nil {
			w.release(bound.userID)
			bound = nil
		}
	}
	// lost handles a subscription the manager closed under us. States only
	// keeps the latest value, so a fast Disconnected/Connected cycle may never
	// be seen as such.
	lost := func(key string) {
		w.logger.Debug("watcher: " + key + " closed, subscribing again")
		unbind()
		bind()
	}

	for {
		var badgeC, boardC, dashC <-chan Message
		if bound != nil {
			badgeC, boardC, dashC = bound.badge, bound.board, bound.dash
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil

		case snap, ok := <-changes:
			if !ok {
				return nil
			}
			unbind()
			usr = snap
			if usr == nil {
				w.reset()
			} else {
				id := usr.ID
				lastID = &id
			}
			bind()

		case st, ok := <-states:
			if !ok {
				return nil
			}
			conn = st
			if st == Disconnected {
				// the manager released everything already
				unbind()
			}
			bind()

		case msg, ok := <-badgeC:
			if !ok {
				lost("badge")
				continue
			}
			w.onBadge(msg)
		case _, ok := <-boardC:
			if !ok {
				lost("leaderboard")
				continue
			}
			w.setPulse(func(a *Activity, v bool) { a.LeaderboardUpdated = v }, true)
			resetTimer(boardTmr, w.pulse)
		case _, ok := <-dashC:
			if !ok {
				lost("dashboard")
				continue
			}
			w.setPulse(func(a *Activity, v bool) { a.DashboardUpdated = v }, true)
			resetTimer(dashTmr, w.pulse)

		case <-boardTmr.C:
			w.setPulse(func(a *Activity, v bool) { a.LeaderboardUpdated = v }, false)
		case <-dashTmr.C:
			w.setPulse(func(a *Activity, v bool) { a.DashboardUpdated = v }, false)
		}
	}
}

func (w *Watcher) bind(userID int64) *binding {
	b := &binding{userID: userID}
	targets := []*<-chan Message{&b.badge, &b.board, &b.dash}
	for i, topic := range UserTopics(userID) {
		sub, err := w.subs.Subscribe(topic.Key, topic.Destination)
		if err != nil {
			w.logger.Warn(fmt.Sprintf("watcher: subscribing %s", topic.Key), err)
			w.release(userID)
			return nil
		}
		*targets[i] = sub.C
	}
	w.logger.Debug(fmt.Sprintf("watcher: following user %d", userID))
	return b
}

// release drops the three keys of userID, whether or not they are held.
func (w *Watcher) release(userID int64) {
	for _, topic := range UserTopics(userID) {
		w.subs.Unsubscribe(topic.Key)
	}
}

func (w *Watcher) onBadge(msg Message) {
	var evt BadgeEvent
	if err := msg.Decode(&evt); err != nil {
		w.logger.Warn("watcher: bad badge payload", err)
		return
	}
	evt.Raw = append(json.RawMessage(nil), msg.Body...)
	if w.prefs != nil && !w.prefs.NotificationsEnabled() {
		w.logger.Debug("watcher: badge popup suppressed: " + evt.BadgeName)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activity.Badge = &evt
	w.publishLocked()
}

func (w *Watcher) setPulse(set func(*Activity, bool), v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	set(&w.activity, v)
	w.publishLocked()
}

func (w *Watcher) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.activity == (Activity{}) {
		return
	}
	w.activity = Activity{}
	w.publishLocked()
}

func (w *Watcher) snapshotLocked() Activity {
	a := w.activity
	if a.Badge != nil {
		evt := *a.Badge
		evt.Raw = append(json.RawMessage(nil), evt.Raw...)
		a.Badge = &evt
	}
	return a
}

func (w *Watcher) publishLocked() {
	select {
	case <-w.updates:
	default:
	}
	w.updates <- w.snapshotLocked()
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	if !t.Stop() {
		<-t.C
	}
	return t
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
