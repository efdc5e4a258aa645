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

package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, msg *Message)
	}{
		{
			name: "start",
			data: `{"team":"abc123","type":"start","name":"Foxes","time":1000}`,
			check: func(t *testing.T, msg *Message) {
				body, ok := msg.Body.(*StartBody)
				require.True(t, ok)
				assert.Equal(t, "Foxes", body.Name)
				assert.InDelta(t, 1000, *body.Time, 0)
			},
		},
		{
			name: "start at zero",
			data: `{"team":"abc123","type":"start","name":"Foxes","time":0}`,
		},
		{
			name: "join",
			data: `{"team":"abc123","type":"join","member":3,"reltime":20,"name":"Alice","id":""}`,
			check: func(t *testing.T, msg *Message) {
				pos, ok := msg.Member()
				require.True(t, ok)
				assert.Equal(t, 3, pos)
				reltime, _ := msg.Reltime()
				assert.InDelta(t, 20, reltime, 0)
			},
		},
		{
			name: "location",
			data: `{"team":"abc123","type":"location","locations":[{"member":2,"reltime":50,"lat":-34.9,"lng":138.6,"acc":5}]}`,
			check: func(t *testing.T, msg *Message) {
				body, ok := msg.Body.(*LocationBody)
				require.True(t, ok)
				require.Len(t, body.Locations, 1)
				assert.InDelta(t, -34.9, *body.Locations[0].Lat, 1e-9)
				_, ok = msg.Member()
				assert.False(t, ok)
			},
		},
		{
			name: "empty location batch",
			data: `{"team":"abc123","type":"location","locations":[]}`,
		},
		{
			name: "system chat",
			data: `{"team":"abc123","type":"chat","member":0,"reltime":0,"message":"hello"}`,
		},
		{
			name: "magpi form",
			data: `{"team":"abc123","type":"magpi_form","member":1,"reltime":0,"hexdata":"00ff"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tc.data))
			require.NoError(t, err)
			assert.Equal(t, "abc123", msg.Team)
			if tc.check != nil {
				tc.check(t, msg)
			}
		})
	}
}

func TestParseMessageInvalid(t *testing.T) {
	tests := map[string]string{
		"malformed":           `{"team":`,
		"not an object":       `["team"]`,
		"no team":             `{"type":"start","name":"Foxes","time":1}`,
		"empty team":          `{"team":"","type":"start","name":"Foxes","time":1}`,
		"numeric team":        `{"team":5,"type":"start","name":"Foxes","time":1}`,
		"no type":             `{"team":"abc123"}`,
		"unknown type":        `{"team":"abc123","type":"teleport"}`,
		"start no name":       `{"team":"abc123","type":"start","time":1}`,
		"start negative time": `{"team":"abc123","type":"start","name":"Foxes","time":-1}`,
		"end no time":         `{"team":"abc123","type":"end"}`,
		"join member zero":    `{"team":"abc123","type":"join","member":0,"reltime":1,"name":"a","id":""}`,
		"join no id":          `{"team":"abc123","type":"join","member":1,"reltime":1,"name":"a"}`,
		"join fractional":     `{"team":"abc123","type":"join","member":1.5,"reltime":1,"name":"a","id":""}`,
		"part no reltime":     `{"team":"abc123","type":"part","member":1}`,
		"location missing":    `{"team":"abc123","type":"location"}`,
		"location member 0":   `{"team":"abc123","type":"location","locations":[{"member":0,"reltime":1,"lat":1,"lng":1,"acc":1}]}`,
		"location bad acc":    `{"team":"abc123","type":"location","locations":[{"member":1,"reltime":1,"lat":1,"lng":1,"acc":-1}]}`,
		"location no lat":     `{"team":"abc123","type":"location","locations":[{"member":1,"reltime":1,"lng":1,"acc":1}]}`,
		"chat empty":          `{"team":"abc123","type":"chat","member":1,"reltime":1,"message":""}`,
		"chat negative":       `{"team":"abc123","type":"chat","member":-1,"reltime":1,"message":"x"}`,
		"magpi odd hex":       `{"team":"abc123","type":"magpi_form","member":1,"reltime":0,"hexdata":"abc"}`,
		"magpi upper hex":     `{"team":"abc123","type":"magpi_form","member":1,"reltime":0,"hexdata":"AB"}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage([]byte(data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidMessage))
		})
	}
}

func TestRelTime(t *testing.T) {
	epoch := msTime(1000)
	assert.Equal(t, time.UnixMilli(1050).UTC(), relTime(epoch, 50))
	assert.Equal(t, time.UnixMilli(1000).UTC().Add(500*time.Microsecond), relTime(epoch, 0.5))
}

func TestGateString(t *testing.T) {
	assert.Equal(t, "started/abc", startedGate("abc").String())
	assert.Equal(t, "joined/abc/3", joinedGate("abc", 3).String())
	msg, err := ParseMessage([]byte(`{"team":"abc","type":"part","member":3,"reltime":1}`))
	require.NoError(t, err)
	g, ok := lockGate(msg)
	require.True(t, ok)
	assert.Equal(t, "unlock/abc/part/3", g.String())
	msg, err = ParseMessage([]byte(`{"team":"abc","type":"chat","member":3,"reltime":1,"message":"x"}`))
	require.NoError(t, err)
	_, ok = lockGate(msg)
	assert.False(t, ok)
}
