// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pagination

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimeFormat is the wire format for timestamps (UTC, millisecond precision)
const TimeFormat = "2006-01-02T15:04:05.000Z"

const nowValue = "now"

var ErrInvalidCursor = errors.New("invalid cursor")

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// FormatTime formats t in the wire format
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses an ISO-8601 timestamp
func ParseTime(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
}

// Cursor is a "before" position in a series: either a timestamp or the
// special value "now", meaning the newest entries of a finished series.
type Cursor struct {
	t   time.Time
	now bool
}

// Now is the cursor for the newest entries
var Now = Cursor{now: true}

// At returns a cursor for entries strictly older than t
func At(t time.Time) Cursor {
	return Cursor{t: t.UTC()}
}

// ParseCursor parses a decoded JSON "before" option value
func ParseCursor(v any, allowNow bool) (Cursor, error) {
	s, ok := v.(string)
	if !ok {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, v)
	}
	if s == nowValue {
		if !allowNow {
			return Cursor{}, fmt.Errorf("%w: %q", ErrInvalidCursor, s)
		}
		return Now, nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return Cursor{}, err
	}
	return At(t), nil
}

func (c Cursor) IsNow() bool {
	return c.now
}

// Before returns the time bound of the cursor, nil for Now
func (c Cursor) Before() *time.Time {
	if c.now {
		return nil
	}
	t := c.t
	return &t
}

func (c Cursor) String() string {
	if c.now {
		return nowValue
	}
	return FormatTime(c.t)
}

func (c Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Timestamp is a time that marshals in the wire format
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatTime(time.Time(t)))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// NewTimestamp returns nil for a nil time
func NewTimestamp(t *time.Time) *Timestamp {
	if t == nil {
		return nil
	}
	ts := Timestamp(*t)
	return &ts
}
