package testutil

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unihub/unihub/services/realtime/stomp"
)

type brokerConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	userID  int64
	subs    map[string]string // subscription id -> destination
}

func (c *brokerConn) send(f *stomp.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, stomp.Marshal(f))
}

// Broker is a minimal STOMP 1.2 broker speaking over WebSocket text messages.
type Broker struct {
	authorize func(header string) (int64, bool)
	upgrader  websocket.Upgrader

	mu        sync.Mutex
	conns     map[*brokerConn]bool
	refuse    bool
	dials     int
	connects  int
	heartBeat string
	msgSeq    int
	unsubs    int
}

func newBroker(authorize func(string) (int64, bool)) *Broker {
	return &Broker{
		authorize: authorize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:     make(map[*brokerConn]bool),
		heartBeat: "0,0",
	}
}

// Refuse makes the broker reject every new handshake while on.
func (b *Broker) Refuse(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refuse = on
}

// SetHeartBeat sets the heart-beat header sent in CONNECTED, e.g. "4000,4000".
func (b *Broker) SetHeartBeat(val string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartBeat = val
}

// Dials counts WebSocket upgrade attempts, refused ones included.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Connects counts successful STOMP handshakes.
func (b *Broker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// Unsubscribes counts the UNSUBSCRIBE frames received.
func (b *Broker) Unsubscribes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubs
}

// Connections counts the open connections.
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for c := range b.conns {
		if c.userID != 0 {
			n++
		}
	}
	return n
}

// Subscriptions lists the destinations currently subscribed, sorted, one
// entry per subscription.
func (b *Broker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var dests []string
	for c := range b.conns {
		for _, dest := range c.subs {
			dests = append(dests, dest)
		}
	}
	sort.Strings(dests)
	return dests
}

// Publish sends v as JSON to every subscriber of destination and returns how
// many subscriptions received it.
func (b *Broker) Publish(destination string, v interface{}) int {
	body, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return b.PublishRaw(destination, body)
}

// PublishRaw sends body verbatim.
func (b *Broker) PublishRaw(destination string, body []byte) int {
	type target struct {
		conn *brokerConn
		id   string
	}
	b.mu.Lock()
	var targets []target
	for c := range b.conns {
		for id, dest := range c.subs {
			if dest == destination {
				targets = append(targets, target{c, id})
			}
		}
	}
	b.mu.Unlock()

	sent := 0
	for _, tgt := range targets {
		b.mu.Lock()
		b.msgSeq++
		seq := b.msgSeq
		b.mu.Unlock()
		frame := stomp.New(stomp.CmdMessage,
			stomp.HdrSubscription, tgt.id,
			stomp.HdrDestination, destination,
			stomp.HdrMessageID, strconv.Itoa(seq),
			stomp.HdrContentType, "application/json",
		)
		frame.Body = body
		if tgt.conn.send(frame) == nil {
			sent++
		}
	}
	return sent
}

// SendError sends an ERROR frame on every connection, then closes them.
func (b *Broker) SendError(msg string) {
	for _, c := range b.snapshot() {
		_ = c.send(stomp.New(stomp.CmdError, stomp.HdrMessage, msg))
		_ = c.ws.Close()
	}
}

// DropAll closes every connection without a STOMP goodbye, like a network failure.
func (b *Broker) DropAll() {
	for _, c := range b.snapshot() {
		_ = c.ws.Close()
	}
}

// Close drops every connection and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	b.refuse = true
	b.mu.Unlock()
	b.DropAll()
}

func (b *Broker) snapshot() []*brokerConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := make([]*brokerConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	return conns
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.dials++
	refuse := b.refuse
	b.mu.Unlock()
	if refuse {
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &brokerConn{ws: ws, subs: make(map[string]string)}
	b.mu.Lock()
	b.conns[c] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if stomp.IsHeartBeat(data) {
			continue
		}
		frame, err := stomp.Unmarshal(data)
		if err != nil {
			_ = c.send(stomp.New(stomp.CmdError, stomp.HdrMessage, "malformed frame"))
			return
		}
		if !b.handle(c, r, frame) {
			return
		}
	}
}

// handle processes one client frame; false ends the connection.
func (b *Broker) handle(c *brokerConn, r *http.Request, frame *stomp.Frame) bool {
	switch frame.Command {
	case stomp.CmdConnect, "STOMP":
		header := frame.Header(stomp.HdrAuthorization)
		if header == "" {
			header = r.Header.Get("Authorization")
		}
		id, ok := b.authorize(header)
		if !ok {
			_ = c.send(stomp.New(stomp.CmdError, stomp.HdrMessage, "unauthorized"))
			return false
		}
		b.mu.Lock()
		c.userID = id
		b.connects++
		hb := b.heartBeat
		b.mu.Unlock()
		return c.send(stomp.New(stomp.CmdConnected, stomp.HdrVersion, "1.2", stomp.HdrHeartBeat, hb)) == nil

	case stomp.CmdSubscribe:
		b.mu.Lock()
		authed := c.userID != 0
		if authed {
			c.subs[frame.Header(stomp.HdrID)] = frame.Header(stomp.HdrDestination)
		}
		b.mu.Unlock()
		return authed

	case stomp.CmdUnsubscribe:
		b.mu.Lock()
		delete(c.subs, frame.Header(stomp.HdrID))
		b.unsubs++
		b.mu.Unlock()

	case stomp.CmdDisconnect:
		if receipt := frame.Header(stomp.HdrReceipt); receipt != "" {
			_ = c.send(stomp.New(stomp.CmdReceipt, stomp.HdrReceiptID, receipt))
		}
		return false
	}
	return true
}
