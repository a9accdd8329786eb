package api

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// localLayout is how the backend writes timestamps: no zone, server local time.
const localLayout = "2006-01-02T15:04:05"

// Time accepts both RFC 3339 and zone-less backend timestamps. A zone-less
// value is read in the local zone; null leaves it zero.
type Time struct {
	time.Time
}

func NewTime(t time.Time) Time {
	return Time{t}
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "decoding time")
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.ParseInLocation(localLayout, s, time.Local)
	if err != nil {
		return errors.Errorf("unrecognized time %q", s)
	}
	t.Time = parsed
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Local().Format(localLayout))
}
