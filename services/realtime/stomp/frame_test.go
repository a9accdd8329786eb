package stomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  string
	}{
		{
			name:  "connect headers are not escaped",
			frame: New(CmdConnect, HdrAcceptVersion, "1.2", HdrAuthorization, "Bearer a:b"),
			want:  "CONNECT\nAuthorization:Bearer a:b\naccept-version:1.2\n\n\x00",
		},
		{
			name:  "subscribe headers are escaped",
			frame: New(CmdSubscribe, HdrID, "sub:1", HdrDestination, "/topic/x\ny"),
			want:  "SUBSCRIBE\ndestination:/topic/x\\ny\nid:sub\\c1\n\n\x00",
		},
		{
			name:  "body sets content-length",
			frame: &Frame{Command: CmdSend, Headers: map[string]string{HdrDestination: "/app/a"}, Body: []byte(`{"a":1}`)},
			want:  "SEND\ndestination:/app/a\ncontent-length:7\n\n{\"a\":1}\x00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Marshal(tt.frame)))
		})
	}
}

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
		cmd     string
		headers map[string]string
		body    string
	}{
		{
			name:    "message with body",
			data:    "MESSAGE\nsubscription:s1\ndestination:/topic/leaderboard-update\n\n{\"type\":\"x\"}\x00",
			cmd:     CmdMessage,
			headers: map[string]string{HdrSubscription: "s1", HdrDestination: "/topic/leaderboard-update"},
			body:    `{"type":"x"}`,
		},
		{
			name:    "leading heart-beats skipped",
			data:    "\n\r\nCONNECTED\nversion:1.2\nheart-beat:4000,4000\n\n\x00",
			cmd:     CmdConnected,
			headers: map[string]string{HdrVersion: "1.2", HdrHeartBeat: "4000,4000"},
		},
		{
			name:    "escaped header",
			data:    "ERROR\nmessage:bad\\cthing\\nhere\n\n\x00",
			cmd:     CmdError,
			headers: map[string]string{HdrMessage: "bad:thing\nhere"},
		},
		{
			name:    "repeated header keeps the first",
			data:    "MESSAGE\nfoo:1\nfoo:2\n\n\x00",
			cmd:     CmdMessage,
			headers: map[string]string{"foo": "1"},
		},
		{
			name:    "content-length allows NULL in body",
			data:    "MESSAGE\ncontent-length:3\n\na\x00b\x00",
			cmd:     CmdMessage,
			headers: map[string]string{HdrContentLength: "3"},
			body:    "a\x00b",
		},
		{
			name:    "crlf line endings",
			data:    "RECEIPT\r\nreceipt-id:77\r\n\r\n\x00",
			cmd:     CmdReceipt,
			headers: map[string]string{HdrReceiptID: "77"},
		},
		{name: "empty", data: "\n\n", wantErr: ErrEmptyFrame},
		{name: "no null", data: "MESSAGE\nfoo:1\n\nbody", wantErr: ErrMissingNull},
		{name: "bad content-length", data: "MESSAGE\ncontent-length:10\n\nabc\x00", wantErr: ErrContentLength},
		{name: "header without colon", data: "MESSAGE\nfoo\n\n\x00", wantErr: ErrMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Unmarshal([]byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, f.Command)
			assert.Equal(t, tt.headers, f.Headers)
			assert.Equal(t, tt.body, string(f.Body))
		})
	}
}

func TestRoundTrip_escaping(t *testing.T) {
	in := New(CmdMessage, HdrDestination, `/topic/a\b:c`, "x-note", "line1\r\nline2")
	in.Body = []byte("payload")

	out, err := Unmarshal(Marshal(in))
	require.NoError(t, err)
	assert.Equal(t, in.Header(HdrDestination), out.Header(HdrDestination))
	assert.Equal(t, in.Header("x-note"), out.Header("x-note"))
	assert.Equal(t, "payload", string(out.Body))
}

func TestDecode_undefinedEscape(t *testing.T) {
	_, err := Unmarshal([]byte("MESSAGE\nfoo:a\\tb\n\n\x00"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestParseHeartBeat(t *testing.T) {
	tests := []struct {
		val     string
		cx, cy  int
		wantErr bool
	}{
		{val: "", cx: 0, cy: 0},
		{val: "4000,4000", cx: 4000, cy: 4000},
		{val: "0, 10000", cx: 0, cy: 10000},
		{val: "4000", wantErr: true},
		{val: "a,b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			cx, cy, err := ParseHeartBeat(tt.val)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHeartBeat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				assert.Equal(t, tt.cx, cx)
				assert.Equal(t, tt.cy, cy)
			}
		})
	}
}

func TestIsHeartBeat(t *testing.T) {
	assert.True(t, IsHeartBeat([]byte("\n")))
	assert.True(t, IsHeartBeat([]byte("\r\n\n")))
	assert.False(t, IsHeartBeat([]byte("MESSAGE\n\n\x00")))
}
