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
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/succinct-tracker/succinct/connmanager"
	"github.com/succinct-tracker/succinct/database"
	"github.com/succinct-tracker/succinct/event"
	"github.com/succinct-tracker/succinct/ingest"
	"github.com/succinct-tracker/succinct/outqueue"
	"github.com/succinct-tracker/succinct/state"
)

var chatPathPattern = regexp.MustCompile(`^/team/([1-9][0-9]{0,8})/chat`)

type Node struct {
	connManager   *connmanager.ConnectionManager
	eventBus      *event.EventBus
	db            *database.Database
	store         *state.Store
	queue         *ingest.Queue
	outQueue      *outqueue.OutQueue
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	startOnce     sync.Once
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	n := &Node{
		config: cfg,
		done:   make(chan struct{}),
	}
	if n.config.logger == nil {
		n.config.logger = NewConfig().logger
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	n.eventBus = event.NewEventBus(cfg.promRegistry, n.config.logger)
	return n, nil
}

// Run starts the node and blocks until it is stopped or ctx is cancelled
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(ctx); err != nil {
		return errors.Join(err, n.Stop())
	}
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return n.Stop()
	}
}

// Start opens the database, loads the live roster and starts the message
// watcher and websocket listener
func (n *Node) Start(ctx context.Context) error {
	err := errors.New("node already started")
	n.startOnce.Do(func() {
		err = n.start(ctx)
	})
	return err
}

func (n *Node) start(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(ctx); err != nil {
			return err
		}
	}
	// Load database
	if n.config.database != nil {
		n.db = n.config.database
	} else {
		db, err := database.New(&database.Config{
			Logger: n.config.logger,
			Plugin: n.config.databasePlugin,
		})
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return fmt.Errorf("failed to open database: %w", err)
		}
		n.db = db
		n.shutdownFuncs = append(n.shutdownFuncs, func(context.Context) error {
			return db.Close()
		})
	}
	// Load state
	store, err := state.NewStore(state.StoreConfig{
		Logger:       n.config.logger,
		Database:     n.db,
		EventBus:     n.eventBus,
		PromRegistry: n.config.promRegistry,
	})
	if err != nil {
		return err
	}
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load active teams: %w", err)
	}
	n.store = store
	// Configure outbound relay
	outQueue, err := outqueue.NewOutQueue(outqueue.OutQueueConfig{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		SpoolDir:     n.config.spoolDir,
		DecodeDir:    n.config.decodeDir,
	})
	if err != nil {
		return err
	}
	n.outQueue = outQueue
	// Start message queue
	queue, err := ingest.NewQueue(ingest.QueueConfig{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		Store:        n.store,
		Dir:          n.config.jsonDir,
	})
	if err != nil {
		return err
	}
	n.queue = queue
	if err := n.queue.Start(); err != nil {
		return err
	}
	// Configure connection manager
	n.connManager = connmanager.NewConnectionManager(
		connmanager.ConnectionManagerConfig{
			Logger:              n.config.logger,
			EventBus:            n.eventBus,
			PromRegistry:        n.config.promRegistry,
			Listener:            n.config.listener,
			ListenAddress:       n.config.listenAddress,
			Authenticate:        n.authenticate,
			OnAuthenticated:     n.onAuthenticated,
			MaxPayload:          n.config.maxPayload,
			MaxConnectionsPerIP: n.config.maxConnectionsPerIP,
			AuthTimeout:         n.config.authTimeout,
		},
	)
	// Start listener
	return n.connManager.Start(ctx)
}

// Addr returns the websocket listening address once started
func (n *Node) Addr() string {
	if n.connManager == nil || n.connManager.Addr() == nil {
		return ""
	}
	return n.connManager.Addr().String()
}

// onAuthenticated grants an authenticated connection its commands and
// paths, then pushes the live roster
func (n *Node) onAuthenticated(conn *connmanager.Connection) {
	conn.On("chat", n.handleChat)
	conn.At(connmanager.ExactPath("/teams"), n.handleGetTeams)
	conn.At(connmanager.PathPattern(chatPathPattern), n.handleGetChat)
	// Let the auth response arrive first
	conn.Timer(n.config.pushDelay, func() {
		conn.Subscribe()
		if err := conn.Push(state.TeamsPath, n.store.ActiveWithCursors()); err != nil {
			conn.Logger().Debug("initial push failed", "error", err)
		}
	})
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		n.config.shutdownTimeout,
	)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.queue != nil {
		if stopErr := n.queue.Stop(); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("message queue shutdown: %w", stopErr))
		}
	}

	// Phase 2: Drain and close connections
	n.config.logger.Debug("shutdown phase 2: draining connections")

	if n.connManager != nil {
		if stopErr := n.connManager.Stop(ctx); stopErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("connection manager shutdown: %w", stopErr),
			)
		}
	}

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	// Phase 3: Cleanup resources
	n.config.logger.Debug("shutdown phase 3: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
