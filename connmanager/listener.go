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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/succinct-tracker/succinct/event"
)

// Start listens for websocket connections and subscribes to push events
func (c *ConnectionManager) Start(ctx context.Context) error {
	l := c.config.Listener
	if l == nil {
		listenConfig := net.ListenConfig{Control: socketControl}
		listener, err := listenConfig.Listen(ctx, "tcp", c.config.ListenAddress)
		if err != nil {
			return fmt.Errorf("failed to open listening socket: %w", err)
		}
		l = listener
	}
	c.listener = l
	mux := http.NewServeMux()
	mux.HandleFunc(c.config.Path, c.handleUpgrade)
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if c.config.EventBus != nil {
		c.pushSubID = c.config.EventBus.RegisterSubscriber(
			event.PushEventType,
			pushSubscriber{manager: c},
		)
	}
	c.logger.Info(
		"listening for websocket connections on "+l.Addr().String(),
		"path", c.config.Path,
	)
	c.goroutineWg.Add(1)
	go func() {
		defer c.goroutineWg.Done()
		if err := c.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("listener: serve failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address
func (c *ConnectionManager) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Stop closes the listener and every open connection
func (c *ConnectionManager) Stop(ctx context.Context) error {
	c.connectionsMutex.Lock()
	c.closing = true
	c.connectionsMutex.Unlock()
	if c.config.EventBus != nil && c.pushSubID != 0 {
		c.config.EventBus.Unsubscribe(event.PushEventType, c.pushSubID)
	}
	var err error
	if c.server != nil {
		err = c.server.Shutdown(ctx)
	}
	for _, conn := range c.snapshot() {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	done := make(chan struct{})
	go func() {
		c.goroutineWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (c *ConnectionManager) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	c.connectionsMutex.Lock()
	if c.closing {
		c.connectionsMutex.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	c.goroutineWg.Add(1)
	c.connectionsMutex.Unlock()
	defer c.goroutineWg.Done()
	// Per-IP limiting: reject if this IP has too many connections already
	ipKey := ipKeyFromRemote(r.RemoteAddr)
	if !c.acquireIPSlot(ipKey) {
		c.metrics.ipRejections.Inc()
		c.logger.Warn(
			fmt.Sprintf(
				"listener: rejected connection from %s: per-IP limit (%d) reached",
				r.RemoteAddr,
				c.config.MaxConnectionsPerIP,
			),
		)
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		c.logger.Debug("listener: upgrade failed", "error", err)
		c.releaseIPSlot(ipKey)
		return
	}
	if c.config.MaxPayload > 0 {
		ws.SetReadLimit(c.config.MaxPayload)
	}
	conn := newConnection(c, ws, c.nextConnID(), ipKey)
	conn.logger.Info("setting up connection", "remote", r.RemoteAddr)
	conn.On("auth", c.authenticate)
	conn.Timer(c.config.AuthTimeout, func() {
		if conn.Authenticated() {
			return
		}
		conn.logger.Info("authentication timeout reached")
		conn.Close(CloseAuthTimeout, "No authentication received")
	})
	if !c.addConnection(conn) {
		conn.Close(websocket.CloseGoingAway, "server shutting down")
		conn.run()
		c.releaseIPSlot(ipKey)
		return
	}
	conn.run()
	c.removeConnection(conn)
}
