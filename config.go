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

package succinct

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/succinct-tracker/succinct/database"
)

const (
	DefaultListenAddress   = "0.0.0.0:8080"
	DefaultJSONDir         = "spool/json"
	DefaultSpoolDir        = "spool"
	DefaultDecodeDir       = "decode"
	DefaultPushDelay       = 50 * time.Millisecond
	DefaultMaxChatBytes    = 160
	DefaultPageSize        = 20
	DefaultShutdownTimeout = 30 * time.Second
)

type Config struct {
	promRegistry        prometheus.Registerer
	logger              *slog.Logger
	database            *database.Database
	listener            net.Listener
	databasePlugin      string
	listenAddress       string
	jsonDir             string
	spoolDir            string
	decodeDir           string
	authSecret          []byte
	maxPayload          int64
	maxConnectionsPerIP int
	maxChatBytes        int
	pageSize            int
	authTimeout         time.Duration
	pushDelay           time.Duration
	shutdownTimeout     time.Duration
	tracing             bool
	tracingStdout       bool
}

func (n *Node) configValidate() error {
	if n.config.listener == nil && n.config.listenAddress == "" {
		return errors.New("no listen address defined")
	}
	if n.config.jsonDir == "" {
		return errors.New("no message directory defined")
	}
	if n.config.maxChatBytes <= 0 {
		return fmt.Errorf(
			"invalid chat length limit: %d",
			n.config.maxChatBytes,
		)
	}
	if n.config.pageSize <= 0 {
		return fmt.Errorf("invalid page size: %d", n.config.pageSize)
	}
	if n.config.maxConnectionsPerIP < 0 {
		return fmt.Errorf(
			"invalid per-IP connection limit: %d",
			n.config.maxConnectionsPerIP,
		)
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the Node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new succinct config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:          slog.New(slog.NewJSONHandler(io.Discard, nil)),
		databasePlugin:  database.DefaultPlugin,
		listenAddress:   DefaultListenAddress,
		jsonDir:         DefaultJSONDir,
		spoolDir:        DefaultSpoolDir,
		decodeDir:       DefaultDecodeDir,
		pushDelay:       DefaultPushDelay,
		maxChatBytes:    DefaultMaxChatBytes,
		pageSize:        DefaultPageSize,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDatabasePlugin specifies the registered database plugin to open
func WithDatabasePlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.databasePlugin = plugin
	}
}

// WithDatabase uses an already opened database instead of a plugin. The
// node does not close it on shutdown.
func WithDatabase(db *database.Database) ConfigOptionFunc {
	return func(c *Config) {
		c.database = db
	}
}

// WithListenAddress specifies the websocket listen address
func WithListenAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.listenAddress = address
	}
}

// WithListener specifies an existing listener for the websocket server
func WithListener(listener net.Listener) ConfigOptionFunc {
	return func(c *Config) {
		c.listener = listener
	}
}

// WithJSONDir specifies the inbox root holding the new and done message
// directories
func WithJSONDir(dir string) ConfigOptionFunc {
	return func(c *Config) {
		c.jsonDir = dir
	}
}

// WithSpoolDir specifies the outbound spool passed to the dispatch binaries
func WithSpoolDir(dir string) ConfigOptionFunc {
	return func(c *Config) {
		c.spoolDir = dir
	}
}

// WithDecodeDir specifies the directory holding the dispatch binaries
func WithDecodeDir(dir string) ConfigOptionFunc {
	return func(c *Config) {
		c.decodeDir = dir
	}
}

// WithAuthSecret specifies the HMAC secret for auth tokens. When empty, any
// auth command is accepted.
func WithAuthSecret(secret string) ConfigOptionFunc {
	return func(c *Config) {
		c.authSecret = []byte(secret)
	}
}

// WithAuthTimeout specifies how long a connection may stay unauthenticated
func WithAuthTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.authTimeout = timeout
	}
}

// WithPushDelay specifies the delay between a successful auth and the
// initial roster push
func WithPushDelay(delay time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pushDelay = delay
	}
}

// WithMaxPayload specifies the websocket read limit in bytes
func WithMaxPayload(size int64) ConfigOptionFunc {
	return func(c *Config) {
		c.maxPayload = size
	}
}

// WithMaxConnectionsPerIP limits concurrent connections from one address.
// Zero means unlimited.
func WithMaxConnectionsPerIP(limit int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxConnectionsPerIP = limit
	}
}

// WithMaxChatBytes specifies the byte length limit of operator chat messages
func WithMaxChatBytes(limit int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxChatBytes = limit
	}
}

// WithPageSize specifies the page size of team listings and chat history
func WithPageSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.pageSize = size
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s)
// endpoint using OTLP, configured with the OTEL_EXPORTER_OTLP_* env vars
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout sends spans to stdout instead. Tracing must be enabled
// separately
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}
