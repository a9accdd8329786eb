// Package stomp encodes and decodes STOMP 1.2 frames carried in WebSocket
// text messages.
package stomp

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Commands
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
)

// Headers
const (
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrAuthorization = "Authorization"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrMessage       = "message"
	HdrVersion       = "version"
)

var (
	// errors
	ErrEmptyFrame     = errors.New("stomp: empty frame")
	ErrMissingNull    = errors.New("stomp: frame not terminated by NULL")
	ErrMalformedFrame = errors.New("stomp: malformed header")
	ErrContentLength  = errors.New("stomp: content-length does not match body")
)

// Frame is one STOMP frame.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// New returns a frame with headers given as key, value pairs.
func New(cmd string, kv ...string) *Frame {
	f := &Frame{Command: cmd, Headers: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers[kv[i]] = kv[i+1]
	}
	return f
}

func (f *Frame) Header(key string) string {
	return f.Headers[key]
}

// HeartBeat is a bare EOL, sent to keep the connection alive.
var HeartBeat = []byte("\n")

// IsHeartBeat reports whether data holds only EOLs.
func IsHeartBeat(data []byte) bool {
	return len(bytes.Trim(data, "\r\n")) == 0
}

// Marshal encodes f. CONNECT and CONNECTED header values are not escaped.
func Marshal(f *Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	escape := f.Command != CmdConnect && f.Command != CmdConnected
	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		if k == HdrContentLength {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := f.Headers[k]
		if escape {
			k, v = encode(k), encode(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		buf.WriteString(HdrContentLength + ":" + strconv.Itoa(len(f.Body)) + "\n")
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Unmarshal decodes one frame. Leading EOLs (heart-beats) are skipped.
func Unmarshal(data []byte) (*Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	headEnd := bytes.Index(data, []byte("\n\n"))
	sepLen := 2
	if crlf := bytes.Index(data, []byte("\r\n\r\n")); crlf >= 0 && (headEnd < 0 || crlf < headEnd) {
		headEnd, sepLen = crlf, 4
	}
	if headEnd < 0 {
		return nil, ErrMalformedFrame
	}

	lines := strings.Split(strings.ReplaceAll(string(data[:headEnd]), "\r\n", "\n"), "\n")
	f := &Frame{Command: lines[0], Headers: make(map[string]string, len(lines)-1)}
	unescape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, ErrMalformedFrame
		}
		if unescape {
			var err error
			if k, err = decode(k); err != nil {
				return nil, err
			}
			if v, err = decode(v); err != nil {
				return nil, err
			}
		}
		if _, seen := f.Headers[k]; !seen { // first occurrence wins
			f.Headers[k] = v
		}
	}

	rest := data[headEnd+sepLen:]
	if cl, ok := f.Headers[HdrContentLength]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n >= len(rest) || rest[n] != 0 {
			return nil, ErrContentLength
		}
		f.Body = rest[:n]
		return f, nil
	}
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, ErrMissingNull
	}
	f.Body = rest[:end]
	return f, nil
}

var encoder = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`, ":", `\c`)

func encode(s string) string {
	return encoder.Replace(s)
}

func decode(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", errors.Wrap(ErrMalformedFrame, "dangling escape")
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'c':
			b.WriteByte(':')
		default:
			return "", errors.Wrapf(ErrMalformedFrame, "undefined escape \\%c", s[i])
		}
	}
	return b.String(), nil
}

// ParseHeartBeat reads a heart-beat header ("cx,cy") into milliseconds.
func ParseHeartBeat(val string) (cx, cy int, err error) {
	if val == "" {
		return 0, 0, nil
	}
	a, b, ok := strings.Cut(val, ",")
	if !ok {
		return 0, 0, errors.Errorf("stomp: bad heart-beat %q", val)
	}
	if cx, err = strconv.Atoi(strings.TrimSpace(a)); err != nil {
		return 0, 0, errors.Wrap(err, "stomp: bad heart-beat")
	}
	if cy, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
		return 0, 0, errors.Wrap(err, "stomp: bad heart-beat")
	}
	return cx, cy, nil
}
