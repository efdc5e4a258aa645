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

// Package connmanager serves client websockets: it limits connections per
// source address, authenticates clients, dispatches their rpc commands and
// fans push events out to subscribed connections.
package connmanager

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/succinct-tracker/succinct/event"
)

const (
	// metricNamePrefix is the common prefix for all connection manager metrics
	metricNamePrefix = "succinct_connmanager_"

	// CloseAuthTimeout is sent when no auth command arrives in time
	CloseAuthTimeout = 4401
	// CloseForbidden is sent when an auth command is rejected
	CloseForbidden = 4403

	DefaultPath        = "/ws"
	DefaultAuthTimeout = 10 * time.Second
)

// AuthFunc checks the payload of an auth command
type AuthFunc func(ctx context.Context, payload json.RawMessage) error

type ConnectionManagerConfig struct {
	Logger       *slog.Logger
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
	// Listener is used instead of listening on ListenAddress when set
	Listener      net.Listener
	ListenAddress string
	Path          string
	// Authenticate rejects an auth command by returning an error. When nil
	// every auth command is accepted.
	Authenticate AuthFunc
	// OnAuthenticated grants access to an authenticated connection, usually
	// by registering its commands and paths
	OnAuthenticated     func(*Connection)
	MaxPayload          int64
	MaxConnectionsPerIP int
	AuthTimeout         time.Duration
}

type connectionManagerMetrics struct {
	openConns          prometheus.Gauge
	authenticatedConns prometheus.Gauge
	ipRejections       prometheus.Counter
	pushes             prometheus.Counter
}

type ConnectionManager struct {
	logger           *slog.Logger
	server           *http.Server
	listener         net.Listener
	connections      map[ConnectionID]*Connection
	ipConns          map[string]int
	metrics          connectionManagerMetrics
	config           ConnectionManagerConfig
	upgrader         websocket.Upgrader
	goroutineWg      sync.WaitGroup
	lastConnID       atomic.Uint64
	pushSubID        event.EventSubscriberId
	connectionsMutex sync.Mutex
	ipConnsMutex     sync.Mutex
	closing          bool
}

func NewConnectionManager(cfg ConnectionManagerConfig) *ConnectionManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	c := &ConnectionManager{
		config:      cfg,
		logger:      cfg.Logger.With("component", "connmanager"),
		connections: make(map[ConnectionID]*Connection),
		ipConns:     make(map[string]int),
		upgrader: websocket.Upgrader{
			// Clients connect from any origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	c.initMetrics()
	return c
}

func (c *ConnectionManager) initMetrics() {
	promautoFactory := promauto.With(c.config.PromRegistry)
	c.metrics.openConns = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: metricNamePrefix + "open_connections",
		Help: "number of open websocket connections",
	})
	c.metrics.authenticatedConns = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: metricNamePrefix + "authenticated_connections",
		Help: "number of authenticated websocket connections",
	})
	c.metrics.ipRejections = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: metricNamePrefix + "ip_rejections_total",
		Help: "total connections rejected by the per-IP limit",
	})
	c.metrics.pushes = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: metricNamePrefix + "pushes_total",
		Help: "total push messages queued to connections",
	})
}

// addConnection registers a connection unless the manager is stopping
func (c *ConnectionManager) addConnection(conn *Connection) bool {
	c.connectionsMutex.Lock()
	if c.closing {
		c.connectionsMutex.Unlock()
		return false
	}
	c.connections[conn.id] = conn
	c.connectionsMutex.Unlock()
	c.metrics.openConns.Inc()
	return true
}

func (c *ConnectionManager) removeConnection(conn *Connection) {
	c.connectionsMutex.Lock()
	delete(c.connections, conn.id)
	c.connectionsMutex.Unlock()
	c.metrics.openConns.Dec()
	if conn.Authenticated() {
		c.metrics.authenticatedConns.Dec()
	}
	c.releaseIPSlot(conn.ipKey)
}

func (c *ConnectionManager) GetConnectionById(id ConnectionID) *Connection {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	return c.connections[id]
}

func (c *ConnectionManager) snapshot() []*Connection {
	c.connectionsMutex.Lock()
	defer c.connectionsMutex.Unlock()
	ret := make([]*Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		ret = append(ret, conn)
	}
	return ret
}

// Broadcast pushes data to every subscribed connection
func (c *ConnectionManager) Broadcast(path string, data any) error {
	msg, err := json.Marshal([]any{pushType, path, data})
	if err != nil {
		return err
	}
	for _, conn := range c.snapshot() {
		if !conn.isSubscribed() {
			continue
		}
		if err := conn.enqueue(msg); err == nil {
			c.metrics.pushes.Inc()
		}
	}
	return nil
}

// pushSubscriber delivers push events from the event bus. Delivery only
// queues to each connection, so it never blocks the publisher.
type pushSubscriber struct {
	manager *ConnectionManager
}

func (p pushSubscriber) Deliver(evt event.Event) error {
	push, ok := evt.Data.(event.Push)
	if !ok {
		return nil
	}
	if err := p.manager.Broadcast(push.Path, push.Payload); err != nil {
		p.manager.logger.Error("could not encode push", "path", push.Path, "error", err)
	}
	return nil
}

func (pushSubscriber) Close() {}

// authenticate is the auth command of every new connection
func (c *ConnectionManager) authenticate(
	ctx context.Context,
	conn *Connection,
	payload json.RawMessage,
) (any, error) {
	if conn.Authenticated() {
		return nil, nil
	}
	if c.config.Authenticate != nil {
		if err := c.config.Authenticate(ctx, payload); err != nil {
			conn.logger.Warn("authentication rejected", "error", err)
			conn.Close(CloseForbidden, "forbidden")
			return nil, Fail("forbidden")
		}
	}
	conn.mu.Lock()
	conn.authenticated = true
	conn.mu.Unlock()
	c.metrics.authenticatedConns.Inc()
	conn.logger.Info("authenticated")
	if c.config.OnAuthenticated != nil {
		c.config.OnAuthenticated(conn)
	}
	return nil, nil
}

func (c *ConnectionManager) nextConnID() ConnectionID {
	return ConnectionID("#" + strconv.FormatUint(c.lastConnID.Add(1), 10))
}
