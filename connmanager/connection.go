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
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	tracerName     = "github.com/succinct-tracker/succinct/connmanager"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

type ConnectionID string

// CommandHandler handles one rpc command. A nil error answers ok with the
// result, an RPCError answers fail with its message.
type CommandHandler func(ctx context.Context, conn *Connection, payload json.RawMessage) (any, error)

// GetHandler handles a get command for a matched path
type GetHandler func(ctx context.Context, conn *Connection, req GetRequest) (any, error)

type route struct {
	matcher PathMatcher
	handler GetHandler
}

// Connection is one client websocket
type Connection struct {
	ctx           context.Context
	ws            *websocket.Conn
	manager       *ConnectionManager
	logger        *slog.Logger
	cancel        context.CancelFunc
	send          chan []byte
	done          chan struct{}
	handlers      map[string]CommandHandler
	timers        map[*time.Timer]struct{}
	id            ConnectionID
	ipKey         string
	routes        []route
	wg            sync.WaitGroup
	closeOnce     sync.Once
	mu            sync.Mutex
	authenticated bool
	subscribed    bool
}

func newConnection(
	manager *ConnectionManager,
	ws *websocket.Conn,
	id ConnectionID,
	ipKey string,
) *Connection {
	c := &Connection{
		ws:       ws,
		manager:  manager,
		logger:   manager.logger.With("connection", string(id)),
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		handlers: make(map[string]CommandHandler),
		timers:   make(map[*time.Timer]struct{}),
		id:       id,
		ipKey:    ipKey,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.On("get", c.handleGet)
	return c
}

func (c *Connection) ID() ConnectionID {
	return c.id
}

func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// On registers the handler for a command, replacing any previous one
func (c *Connection) On(cmd string, handler CommandHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[cmd] = handler
}

// At registers a get handler. Matchers are tried in registration order.
func (c *Connection) At(matcher PathMatcher, handler GetHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, route{matcher: matcher, handler: handler})
}

func (c *Connection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Subscribe starts delivery of push events to the connection
func (c *Connection) Subscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = true
}

func (c *Connection) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// Timer runs f after d unless the connection closes first
func (c *Connection) Timer(d time.Duration, f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		delete(c.timers, t)
		c.mu.Unlock()
		if c.isClosed() {
			return
		}
		f()
	})
	c.timers[t] = struct{}{}
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Push sends an unsolicited update for path
func (c *Connection) Push(path string, data any) error {
	msg, err := json.Marshal([]any{pushType, path, data})
	if err != nil {
		return err
	}
	return c.enqueue(msg)
}

func (c *Connection) respond(id int64, status string, data any) {
	msg, err := json.Marshal([]any{respondType, id, status, data})
	if err != nil {
		c.logger.Error("could not encode rpc response", "id", id, "error", err)
		msg, _ = json.Marshal([]any{respondType, id, StatusFail, nil})
	}
	if err := c.enqueue(msg); err != nil {
		c.logger.Warn("could not send rpc response", "id", id, "error", err)
	}
}

func (c *Connection) enqueue(msg []byte) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.Close(websocket.ClosePolicyViolation, "too slow")
		return ErrSendBufferFull
	}
}

// Close sends a close frame with the given code and tears the connection
// down. Only the first call has any effect.
func (c *Connection) Close(code int, text string) {
	c.closeOnce.Do(func() {
		c.logger.Info("closing connection", "code", code, "reason", text)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(writeWait),
		)
		c.teardown()
	})
}

func (c *Connection) teardown() {
	c.mu.Lock()
	close(c.done)
	for t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
	c.mu.Unlock()
	c.cancel()
	_ = c.ws.Close()
}

// run serves the connection until it closes
func (c *Connection) run() {
	c.wg.Add(1)
	go c.writeLoop()
	c.readLoop()
	c.closeOnce.Do(c.teardown)
	c.wg.Wait()
	c.logger.Info("websocket was closed")
}

func (c *Connection) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.isClosed() && !websocket.IsCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		c.handle(data)
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.closeOnce.Do(c.teardown)
				return
			}
		}
	}
}

func (c *Connection) handle(data []byte) {
	cmd, payload, id, err := parseEnvelope(data)
	if err != nil {
		c.logger.Info("received invalid message", "error", err)
		return
	}
	handler, err := c.handler(cmd)
	if err != nil {
		c.logger.Info("unknown rpc", "command", cmd, "error", err)
		c.respond(id, StatusFail, unknownCommandMessage)
		return
	}
	c.dispatch(cmd, id, handler, payload)
}

// dispatch runs a handler on the read loop, so commands from one socket are
// applied in arrival order and routes registered by auth are visible to the
// next command
func (c *Connection) dispatch(
	cmd string,
	id int64,
	handler CommandHandler,
	payload json.RawMessage,
) {
	ctx, span := otel.Tracer(tracerName).Start(
		c.ctx,
		"rpc "+cmd,
		trace.WithAttributes(
			attribute.String("rpc.connection", string(c.id)),
			attribute.Int64("rpc.id", id),
		),
	)
	defer span.End()
	result, err := handler(ctx, c, payload)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			span.SetStatus(codes.Error, rpcErr.Message)
			c.respond(id, StatusFail, rpcErr.Message)
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
		c.logger.Error("rpc handler failed", "command", cmd, "error", err)
		c.respond(id, StatusFail, "internal error")
		return
	}
	c.respond(id, StatusOK, result)
}

func (c *Connection) handler(cmd string) (CommandHandler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handler, ok := c.handlers[cmd]
	if !ok {
		return nil, ErrUnknownCommand
	}
	return handler, nil
}

func (c *Connection) handleGet(
	ctx context.Context,
	_ *Connection,
	payload json.RawMessage,
) (any, error) {
	var req []json.RawMessage
	if err := json.Unmarshal(payload, &req); err != nil || len(req) < 1 || len(req) > 2 {
		return nil, Fail(invalidRequestMessage)
	}
	var path string
	if err := json.Unmarshal(req[0], &path); err != nil || path == "" {
		return nil, Fail(invalidRequestMessage)
	}
	var options map[string]json.RawMessage
	if len(req) == 2 {
		if err := json.Unmarshal(req[1], &options); err != nil {
			return nil, Fail(invalidRequestMessage)
		}
	}
	if options == nil {
		options = map[string]json.RawMessage{}
	}
	c.logger.Debug("get", "path", path)
	c.mu.Lock()
	routes := slices.Clone(c.routes)
	c.mu.Unlock()
	for _, r := range routes {
		if match, ok := r.matcher(path); ok {
			return r.handler(ctx, c, GetRequest{Path: path, Options: options, Match: match})
		}
	}
	c.logger.Info("unknown path", "path", path)
	return nil, Fail(unknownPathMessage)
}
