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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCursor(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		allowNow bool
		expected string
		wantErr  bool
	}{
		{name: "now", value: "now", allowNow: true, expected: "now"},
		{name: "now not allowed", value: "now", wantErr: true},
		{
			name:     "iso with millis",
			value:    "2024-03-01T10:20:30.456Z",
			expected: "2024-03-01T10:20:30.456Z",
		},
		{
			name:     "offset converted to utc",
			value:    "2024-03-01T10:20:30+02:00",
			expected: "2024-03-01T08:20:30.000Z",
		},
		{name: "date only", value: "2024-03-01", expected: "2024-03-01T00:00:00.000Z"},
		{name: "garbage", value: "yesterday", wantErr: true},
		{name: "number", value: float64(1234), wantErr: true},
		{name: "nil", value: nil, wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, err := ParseCursor(test.value, test.allowNow)
			if test.wantErr {
				require.ErrorIs(t, err, ErrInvalidCursor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, c.String())
		})
	}
}

func TestCursorBefore(t *testing.T) {
	assert.Nil(t, Now.Before())
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	before := At(at).Before()
	require.NotNil(t, before)
	assert.True(t, before.Equal(at))
}

func TestLinkJSON(t *testing.T) {
	env := Envelope{
		Data: map[string]any{"finished": Timestamp(time.UnixMilli(1500).UTC())},
		Links: Links{
			LinkSelf:  NewLink("/team/3", Fields("finished")),
			LinkOlder: NewLink("/teams", nil),
		},
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(
		t,
		`{"data":{"finished":"1970-01-01T00:00:01.500Z"},"links":{"self":["/team/3",{"fields":["finished"]}],"older":["/teams",{}]}}`,
		string(data),
	)

	var link Link
	require.NoError(t, json.Unmarshal([]byte(`["/teams",{"before":"now"}]`), &link))
	assert.Equal(t, "/teams", link.Path)
	assert.Equal(t, "now", link.Options["before"])
	require.Error(t, json.Unmarshal([]byte(`["/teams"]`), &link))
}
