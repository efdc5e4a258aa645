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

package connmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIPKeyFromRemote(t *testing.T) {
	tests := []struct {
		name     string
		remote   string
		expected string
	}{
		{name: "empty", remote: "", expected: ""},
		{name: "no port", remote: "192.168.1.10", expected: ""},
		{name: "IPv4", remote: "192.168.1.10:3000", expected: "192.168.1.10"},
		{name: "IPv4 loopback", remote: "127.0.0.1:12345", expected: "127.0.0.1"},
		{
			name:     "IPv6 grouped by /64",
			remote:   "[2001:db8:85a3::8a2e:370:7334]:3000",
			expected: "2001:db8:85a3::/64",
		},
		{
			name:     "IPv6 same /64 prefix",
			remote:   "[2001:db8:85a3::1]:3001",
			expected: "2001:db8:85a3::/64",
		},
		{name: "IPv6 loopback", remote: "[::1]:3000", expected: "::/64"},
		{
			name:     "IPv4-mapped IPv6 treated as IPv4",
			remote:   "[::ffff:192.168.1.1]:3000",
			expected: "192.168.1.1",
		},
		{name: "hostname", remote: "localhost:3000", expected: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ipKeyFromRemote(tc.remote))
		})
	}
}

func TestAcquireReleaseIPSlot(t *testing.T) {
	c := NewConnectionManager(ConnectionManagerConfig{MaxConnectionsPerIP: 2})
	key := "10.0.0.1"
	assert.True(t, c.acquireIPSlot(key))
	assert.True(t, c.acquireIPSlot(key))
	assert.False(t, c.acquireIPSlot(key))
	assert.Equal(t, 2, c.IPConnCount(key))
	// Other addresses are independent
	assert.True(t, c.acquireIPSlot("10.0.0.2"))
	c.releaseIPSlot(key)
	assert.Equal(t, 1, c.IPConnCount(key))
	assert.True(t, c.acquireIPSlot(key))
	c.releaseIPSlot(key)
	c.releaseIPSlot(key)
	assert.Equal(t, 0, c.IPConnCount(key))
}

func TestAcquireIPSlotExempt(t *testing.T) {
	c := NewConnectionManager(ConnectionManagerConfig{MaxConnectionsPerIP: 1})
	for range 5 {
		assert.True(t, c.acquireIPSlot(""))
	}
	unlimited := NewConnectionManager(ConnectionManagerConfig{})
	for range 5 {
		assert.True(t, unlimited.acquireIPSlot("10.0.0.1"))
	}
	assert.Equal(t, 0, unlimited.IPConnCount("10.0.0.1"))
}
