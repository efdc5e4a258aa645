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

import "net"

// ipKeyFromRemote extracts a rate-limit key from a request's remote
// address. For IPv4 addresses the key is the bare IP string. For IPv6
// addresses the key is the /64 prefix so that a client rotating within a
// single /64 subnet is still limited as one source. Addresses that cannot
// be parsed return an empty string and are exempt from limiting.
func ipKeyFromRemote(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return ""
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	// IPv4 or IPv4-mapped IPv6: use the full address as the key
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	mask := net.CIDRMask(64, 128)
	return ip.Mask(mask).String() + "/64"
}

// acquireIPSlot attempts to reserve a connection slot for the given IP
// key. It returns true if the connection is allowed, false if the
// per-IP limit has been reached. A limit of zero disables limiting.
func (c *ConnectionManager) acquireIPSlot(ipKey string) bool {
	if ipKey == "" || c.config.MaxConnectionsPerIP <= 0 {
		return true
	}
	c.ipConnsMutex.Lock()
	defer c.ipConnsMutex.Unlock()
	if c.ipConns[ipKey] >= c.config.MaxConnectionsPerIP {
		return false
	}
	c.ipConns[ipKey]++
	return true
}

// releaseIPSlot decrements the connection count for the given IP key.
func (c *ConnectionManager) releaseIPSlot(ipKey string) {
	if ipKey == "" || c.config.MaxConnectionsPerIP <= 0 {
		return
	}
	c.ipConnsMutex.Lock()
	defer c.ipConnsMutex.Unlock()
	c.ipConns[ipKey]--
	if c.ipConns[ipKey] <= 0 {
		delete(c.ipConns, ipKey)
	}
}

// IPConnCount returns the current connection count for an IP key
func (c *ConnectionManager) IPConnCount(ipKey string) int {
	c.ipConnsMutex.Lock()
	defer c.ipConnsMutex.Unlock()
	return c.ipConns[ipKey]
}
