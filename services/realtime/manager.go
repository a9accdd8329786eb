// Package realtime keeps the single STOMP-over-WebSocket connection to the
// UniHub broker and multiplexes topic subscriptions over it.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
	"github.com/unihub/unihub/services/realtime/stomp"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	subBufferSize    = 16
)

var (
	// errors
	ErrNotConnected = errors.New("realtime: not connected")
	ErrNoToken      = errors.New("realtime: no token")
)

// State of the Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// TokenSource supplies the bearer token presented on the handshake.
type TokenSource interface {
	Token() string
}

// Message is one broker delivery on a Subscription.
type Message struct {
	Key         string
	Destination string
	Body        json.RawMessage
}

// Decode unmarshals the body into v.
func (m Message) Decode(v interface{}) error {
	return errors.Wrapf(json.Unmarshal(m.Body, v), "decoding %s message", m.Key)
}

// Subscription is the handle of one topic key. C is closed once the
// subscription is released.
type Subscription struct {
	Key         string
	Destination string
	C           <-chan Message

	id string
	ch chan Message
}

type Options struct {
	URL                 string
	ReconnectDelay      time.Duration
	ReconnectMaxRetries int
	Heartbeat           time.Duration
}

// OptionsFromConfig reads the realtime settings of conf.
func OptionsFromConfig(conf *core.Config) Options {
	return Options{
		URL:                 conf.WSURL,
		ReconnectDelay:      conf.ReconnectDelay,
		ReconnectMaxRetries: conf.ReconnectMaxRetries,
		Heartbeat:           conf.Heartbeat,
	}
}

// Manager owns the physical connection.
type Manager struct {
	opts   Options
	tokens TokenSource
	logger core.Logger
	dialer websocket.Dialer

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	done        chan struct{} // closed when conn is torn down
	gen         int           // bumped by every attempt and by Disconnect
	retries     int
	timer       *time.Timer
	onConnected func()
	subs        map[string]*Subscription // by key
	byID        map[string]*Subscription // by STOMP subscription id

	writeMu sync.Mutex

	watchMu  sync.Mutex
	watchers map[int]chan State
	nextID   int
}

var _ session.Connector = (*Manager)(nil)

func NewManager(opts Options, tokens TokenSource, logger core.Logger) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.ReconnectMaxRetries < 0 {
		opts.ReconnectMaxRetries = 0
	}
	return &Manager{
		opts:   opts,
		tokens: tokens,
		logger: logger,
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		subs:     make(map[string]*Subscription),
		byID:     make(map[string]*Subscription),
		watchers: make(map[int]chan State),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Keys lists the retained subscription keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.subs))
	for k := range m.subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Connect opens the connection and blocks until the first handshake resolves.
// It does nothing when a connection is already open or being opened.
// onConnected runs after every successful handshake, reconnects included.
// A failed attempt is retried in the background.
func (m *Manager) Connect(ctx context.Context, onConnected func()) error {
	token := m.tokens.Token()

	m.mu.Lock()
	if m.state != Disconnected {
		m.mu.Unlock()
		return nil
	}
	if token == "" {
		m.mu.Unlock()
		m.logger.Warn("realtime: refusing to connect without a token")
		return nil
	}
	m.onConnected = onConnected
	m.retries = 0
	m.gen++
	gen := m.gen
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	if err := m.attempt(ctx, gen, token); err != nil {
		m.lost(gen, err)
		return err
	}
	return nil
}

// Disconnect releases every Subscription, closes the socket and cancels any
// pending reconnect. Safe to call from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	var frames []*stomp.Frame
	for key := range m.subs {
		if frame := m.releaseLocked(key); frame != nil {
			frames = append(frames, frame)
		}
	}
	m.teardownLocked()
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	if conn != nil {
		m.unsubscribe(conn, frames)
		_ = m.write(conn, stomp.New(stomp.CmdDisconnect))
		_ = conn.Close()
		m.logger.Info("realtime: disconnected")
	}
}

// Subscribe registers key for destination. A previous subscription under the
// same key is released first.
func (m *Manager) Subscribe(key, destination string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Connected || m.conn == nil {
		m.logger.Warn(fmt.Sprintf("realtime: cannot subscribe %s", key), ErrNotConnected)
		return nil, ErrNotConnected
	}
	if _, ok := m.subs[key]; ok {
		if frame := m.releaseLocked(key); frame != nil {
			m.unsubscribe(m.conn, []*stomp.Frame{frame})
		}
	}

	ch := make(chan Message, subBufferSize)
	sub := &Subscription{Key: key, Destination: destination, C: ch, id: uuid.NewString(), ch: ch}
	if err := m.write(m.conn, subscribeFrame(sub)); err != nil {
		close(ch)
		return nil, errors.Wrapf(err, "subscribing %s", key)
	}
	m.subs[key] = sub
	m.byID[sub.id] = sub
	m.logger.Debug(fmt.Sprintf("realtime: subscribed %s -> %s", key, destination))
	return sub, nil
}

// Unsubscribe releases key if it is retained.
func (m *Manager) Unsubscribe(key string) {
	m.mu.Lock()
	if _, ok := m.subs[key]; !ok {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	frame := m.releaseLocked(key)
	m.mu.Unlock()

	if frame != nil {
		m.unsubscribe(conn, []*stomp.Frame{frame})
	}
}

// States streams state changes, starting with the current state. Only the
// latest state is kept for a slow reader. cancel stops the stream.
func (m *Manager) States() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.mu.Lock()
	m.watchMu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	ch <- m.state
	m.watchMu.Unlock()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.watchMu.Lock()
			delete(m.watchers, id)
			close(ch)
			m.watchMu.Unlock()
		})
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// releaseLocked drops key and closes its channel. It returns the UNSUBSCRIBE
// frame the broker still has to receive, nil without a live connection.
// Disconnect and Unsubscribe write it after releasing m.mu so a stalled
// socket never holds the lock.
func (m *Manager) releaseLocked(key string) *stomp.Frame {
	sub := m.subs[key]
	delete(m.subs, key)
	delete(m.byID, sub.id)
	close(sub.ch)
	m.logger.Debug("realtime: released " + key)
	if m.state != Connected || m.conn == nil {
		return nil
	}
	return stomp.New(stomp.CmdUnsubscribe, stomp.HdrID, sub.id)
}

func (m *Manager) unsubscribe(conn *websocket.Conn, frames []*stomp.Frame) {
	for _, frame := range frames {
		if err := m.write(conn, frame); err != nil {
			m.logger.Debug(fmt.Sprintf("realtime: unsubscribe %s: %v", frame.Header(stomp.HdrID), err))
			return
		}
	}
}

// teardownLocked drops the socket without touching the subscriptions.
func (m *Manager) teardownLocked() {
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.conn = nil
}

// attempt dials, performs the STOMP handshake and, on success, installs the
// connection and re-issues every retained subscription.
func (m *Manager) attempt(ctx context.Context, gen int, token string) error {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)

	conn, resp, err := m.dialer.DialContext(ctx, m.opts.URL, hdr)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return errors.Wrapf(err, "dialing %s: %s", m.opts.URL, resp.Status)
		}
		return errors.Wrapf(err, "dialing %s", m.opts.URL)
	}

	outgoing, incoming, err := m.handshake(conn, token)
	if err != nil {
		_ = conn.Close()
		return err
	}

	m.mu.Lock()
	if gen != m.gen {
		// Disconnect ran meanwhile
		m.mu.Unlock()
		_ = m.write(conn, stomp.New(stomp.CmdDisconnect))
		_ = conn.Close()
		return nil
	}
	done := make(chan struct{})
	m.conn = conn
	m.done = done
	m.retries = 0
	for key, sub := range m.subs {
		if err := m.write(conn, subscribeFrame(sub)); err != nil {
			m.logger.Warn("realtime: resubscribing "+key, err)
		}
	}
	m.setStateLocked(Connected)
	onConnected := m.onConnected
	m.mu.Unlock()

	m.logger.Info("realtime: connected to " + m.opts.URL)
	go m.read(conn, gen, incoming)
	if outgoing > 0 {
		go m.beat(conn, done, outgoing)
	}
	if onConnected != nil {
		onConnected()
	}
	return nil
}

// handshake sends CONNECT and waits for CONNECTED. It returns the negotiated
// heart-beat intervals.
func (m *Manager) handshake(conn *websocket.Conn, token string) (outgoing, incoming time.Duration, err error) {
	beat := strconv.FormatInt(m.opts.Heartbeat.Milliseconds(), 10)
	host := ""
	if u, perr := url.Parse(m.opts.URL); perr == nil {
		host = u.Hostname()
	}
	connect := stomp.New(stomp.CmdConnect,
		stomp.HdrAcceptVersion, "1.2",
		stomp.HdrHost, host,
		stomp.HdrHeartBeat, beat+","+beat,
		stomp.HdrAuthorization, "Bearer "+token,
	)
	if err := m.write(conn, connect); err != nil {
		return 0, 0, errors.Wrap(err, "sending CONNECT")
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, 0, errors.Wrap(err, "awaiting CONNECTED")
		}
		if stomp.IsHeartBeat(data) {
			continue
		}
		frame, err := stomp.Unmarshal(data)
		if err != nil {
			return 0, 0, errors.Wrap(err, "awaiting CONNECTED")
		}
		switch frame.Command {
		case stomp.CmdConnected:
			sx, sy, err := stomp.ParseHeartBeat(frame.Header(stomp.HdrHeartBeat))
			if err != nil {
				m.logger.Warn("realtime: ignoring broker heart-beat", err)
			}
			return negotiate(m.opts.Heartbeat, sy), negotiate(m.opts.Heartbeat, sx), nil
		case stomp.CmdError:
			return 0, 0, errors.Errorf("broker refused connection: %s", frame.Header(stomp.HdrMessage))
		}
	}
}

// negotiate picks the heart-beat interval per STOMP 1.2: zero when either side
// opts out, otherwise the larger of the two.
func negotiate(ours time.Duration, theirsMillis int) time.Duration {
	theirs := time.Duration(theirsMillis) * time.Millisecond
	if ours <= 0 || theirs <= 0 {
		return 0
	}
	if theirs > ours {
		return theirs
	}
	return ours
}

func (m *Manager) read(conn *websocket.Conn, gen int, incoming time.Duration) {
	for {
		if incoming > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(2 * incoming))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.lost(gen, errors.Wrap(err, "reading"))
			return
		}
		if stomp.IsHeartBeat(data) {
			continue
		}
		frame, err := stomp.Unmarshal(data)
		if err != nil {
			m.logger.Warn("realtime: dropping malformed frame", err)
			continue
		}
		switch frame.Command {
		case stomp.CmdMessage:
			m.dispatch(gen, frame)
		case stomp.CmdError:
			m.lost(gen, errors.Errorf("broker error: %s", frame.Header(stomp.HdrMessage)))
			return
		}
	}
}

func (m *Manager) dispatch(gen int, frame *stomp.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	sub, ok := m.byID[frame.Header(stomp.HdrSubscription)]
	if !ok {
		return // released meanwhile
	}
	if !json.Valid(frame.Body) {
		m.logger.Warn(fmt.Sprintf("realtime: dropping non-JSON message on %s", sub.Key))
		return
	}
	msg := Message{Key: sub.Key, Destination: sub.Destination, Body: append(json.RawMessage(nil), frame.Body...)}
	select {
	case sub.ch <- msg:
	default:
		m.logger.Warn(fmt.Sprintf("realtime: %s consumer is slow, dropping message", sub.Key))
	}
}

func (m *Manager) beat(conn *websocket.Conn, done <-chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := m.writeRaw(conn, stomp.HeartBeat); err != nil {
				return // the reader notices the broken socket
			}
		}
	}
}

// lost handles a failed attempt or a dropped connection of generation gen.
// It retries with a fixed delay and gives up after ReconnectMaxRetries.
func (m *Manager) lost(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.teardownLocked()

	m.retries++
	if m.retries > m.opts.ReconnectMaxRetries {
		m.mu.Unlock()
		m.logger.Error(fmt.Sprintf("realtime: giving up after %d reconnect attempts", m.opts.ReconnectMaxRetries), cause)
		m.Disconnect()
		return
	}
	attempt := m.retries
	m.setStateLocked(Connecting)
	m.timer = time.AfterFunc(m.opts.ReconnectDelay, func() { m.reconnect(gen) })
	m.mu.Unlock()

	m.logger.Warn(fmt.Sprintf("realtime: connection lost, retrying in %v (attempt %d/%d)",
		m.opts.ReconnectDelay, attempt, m.opts.ReconnectMaxRetries), cause)
}

func (m *Manager) reconnect(prev int) {
	token := m.tokens.Token()

	m.mu.Lock()
	if prev != m.gen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	if token == "" {
		m.mu.Unlock()
		m.logger.Warn("realtime: token gone, not reconnecting")
		m.Disconnect()
		return
	}
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if err := m.attempt(context.Background(), gen, token); err != nil {
		m.lost(gen, err)
	}
}

func (m *Manager) write(conn *websocket.Conn, frame *stomp.Frame) error {
	return m.writeRaw(conn, stomp.Marshal(frame))
}

func (m *Manager) writeRaw(conn *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func subscribeFrame(sub *Subscription) *stomp.Frame {
	return stomp.New(stomp.CmdSubscribe,
		stomp.HdrID, sub.id,
		stomp.HdrDestination, sub.Destination,
		"ack", "auto",
	)
}
