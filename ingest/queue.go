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

// Package ingest turns a directory of discrete, arbitrarily ordered message
// files into an ordered sequence of state store operations. Messages that
// depend on a team start or a member join are held until the dependency is
// applied.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/succinct-tracker/succinct/state"
)

const (
	newDir  = "new"
	doneDir = "done"
)

// TeamStore is the subset of the state store used by the queue
type TeamStore interface {
	Lookup(ctx context.Context, teamID string) (state.TeamState, error)
	LookupMember(ctx context.Context, teamID string, pos int) (state.MemberState, error)
	Start(ctx context.Context, teamID string, name string, started time.Time) error
	End(ctx context.Context, teamID string, finished time.Time) error
	Join(ctx context.Context, teamID string, pos int, name string, identity string, joined time.Time) error
	Part(ctx context.Context, teamID string, pos int, parted time.Time) error
	AddLocation(ctx context.Context, teamID string, pos int, lat float64, lng float64, accuracy float64, t time.Time) error
	Chat(ctx context.Context, teamID string, sender int, message string, t time.Time) (uint, error)
}

type QueueConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	Store        TeamStore
	// Dir holds the new and done subdirectories
	Dir string
}

// Outcome is the result of one pass over a message file
type Outcome int

const (
	// Skipped files were already being processed
	Skipped Outcome = iota
	// Applied files were dispatched and moved to the done directory
	Applied
	// Dropped files were rejected and are not retried
	Dropped
	// Deferred files wait on a gate and are replayed when it fires
	Deferred
	// retry re-runs dispatch after a gate fired during the pass
	retry
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Applied:
		return "applied"
	case Dropped:
		return "dropped"
	case Deferred:
		return "deferred"
	}
	return "retry"
}

type Queue struct {
	config  QueueConfig
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	watcher *fsnotify.Watcher
	metrics struct {
		files     *prometheus.CounterVec
		waiting   prometheus.Gauge
		locations prometheus.Counter
	}
	// pending holds files being processed or waiting on a gate
	pending map[string]struct{}
	locked  map[Gate]struct{}
	waiting map[Gate][]string
	// fired holds the started and joined gates that have triggered, by
	// team, until the team ends
	fired   map[string]map[Gate]struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errors.New("queue requires a team store")
	}
	if cfg.Dir == "" {
		return nil, errors.New("queue requires a message directory")
	}
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	for _, sub := range []string{newDir, doneDir} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create message directory: %w", err)
		}
	}
	q := &Queue{
		config:  cfg,
		logger:  cfg.Logger.With("component", "ingest"),
		pending: make(map[string]struct{}),
		locked:  make(map[Gate]struct{}),
		waiting: make(map[Gate][]string),
		fired:   make(map[string]map[Gate]struct{}),
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	promautoFactory := promauto.With(cfg.PromRegistry)
	q.metrics.files = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "succinct_ingest_files_total",
			Help: "total message files processed, by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	q.metrics.waiting = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "succinct_ingest_waiting_files",
		Help: "current count of message files waiting on a gate",
	})
	q.metrics.locations = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "succinct_ingest_locations_total",
		Help: "total location fixes applied",
	})
	return q, nil
}

func (q *Queue) newPath(name string) string {
	return filepath.Join(q.config.Dir, newDir, name)
}

func (q *Queue) donePath(name string) string {
	return filepath.Join(q.config.Dir, doneDir, name)
}

// Process handles one file from the new directory. It returns once the file
// has been applied, dropped or deferred on a gate.
func (q *Queue) Process(ctx context.Context, name string) (Outcome, error) {
	q.mu.Lock()
	if _, ok := q.pending[name]; ok {
		q.mu.Unlock()
		return Skipped, nil
	}
	q.pending[name] = struct{}{}
	q.mu.Unlock()
	outcome, msgType, err := q.process(ctx, name)
	q.metrics.files.WithLabelValues(msgType, outcome.String()).Inc()
	return outcome, err
}

func (q *Queue) process(ctx context.Context, name string) (Outcome, string, error) {
	data, err := os.ReadFile(q.newPath(name))
	if err != nil {
		q.logger.Debug("could not read message file", "file", name, "error", err)
		q.clear(name)
		return Dropped, "unknown", err
	}
	msg, err := ParseMessage(data)
	if err != nil {
		q.logger.Warn("dropping invalid message", "file", name, "error", err)
		q.clear(name)
		return Dropped, "unknown", err
	}
	q.logger.Debug(
		"received local message",
		"file", name,
		"team", msg.Team,
		"type", msg.Type,
	)
	for {
		outcome, err := q.dispatch(ctx, name, msg)
		if outcome != retry {
			return outcome, string(msg.Type), err
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, name string, msg *Message) (Outcome, error) {
	if lock, ok := lockGate(msg); ok {
		if !q.lock(lock, name) {
			return Deferred, nil
		}
		defer q.unlock(lock)
	}
	store := q.config.Store
	team, err := store.Lookup(ctx, msg.Team)
	if err != nil {
		return q.fail(name, msg, err)
	}

	if body, ok := msg.Body.(*StartBody); ok {
		if team.State != state.Unknown && team.State != state.Starting {
			return q.drop(name, msg, "unexpected start message", "state", team.State)
		}
		q.logger.Info("got team start message", "team", msg.Team, "name", body.Name)
		if err := store.Start(ctx, msg.Team, body.Name, msTime(*body.Time)); err != nil {
			return q.fail(name, msg, err)
		}
		q.trigger(startedGate(msg.Team))
		return q.done(name)
	}

	// Hold everything else until the team has started
	if team.State == state.Unknown || team.State == state.Starting {
		return q.wait(startedGate(msg.Team), name), nil
	}

	switch body := msg.Body.(type) {
	case *EndBody:
		if team.State != state.Active {
			return q.drop(name, msg, "unexpected end message", "state", team.State)
		}
		finished := msTime(*body.Time)
		if finished.Before(team.Epoch) {
			q.logger.Warn("end time is before start time", "team", msg.Team)
			finished = team.Epoch
		}
		q.logger.Info("got team end message", "team", msg.Team)
		if err := store.End(ctx, msg.Team, finished); err != nil {
			return q.fail(name, msg, err)
		}
		q.forget(msg.Team)
		return q.done(name)
	case *LocationBody:
		// Locations do not wait for member joins
		q.logger.Info("got locations", "team", msg.Team, "count", len(body.Locations))
		var g errgroup.Group
		for _, fix := range body.Locations {
			g.Go(func() error {
				return store.AddLocation(
					ctx,
					msg.Team,
					*fix.Member,
					*fix.Lat,
					*fix.Lng,
					*fix.Acc,
					relTime(team.Epoch, *fix.Reltime),
				)
			})
		}
		if err := g.Wait(); err != nil {
			return q.fail(name, msg, err)
		}
		q.metrics.locations.Add(float64(len(body.Locations)))
		return q.done(name)
	}

	pos, _ := msg.Member()
	reltime, _ := msg.Reltime()
	msgTime := relTime(team.Epoch, reltime)
	var member state.MemberState
	if pos > 0 {
		member, err = store.LookupMember(ctx, msg.Team, pos)
		if err != nil {
			return q.fail(name, msg, err)
		}
	}

	if body, ok := msg.Body.(*JoinBody); ok {
		if member.Known {
			return q.drop(name, msg, "unexpected join, already joined", "member", pos)
		}
		q.logger.Info(
			"got join",
			"team", msg.Team,
			"member", pos,
			"name", body.Name,
			"identity", *body.ID,
		)
		if err := store.Join(ctx, msg.Team, pos, body.Name, *body.ID, msgTime); err != nil {
			return q.fail(name, msg, err)
		}
		q.trigger(joinedGate(msg.Team, pos))
		return q.done(name)
	}

	// System messages from member 0 have no join to wait for
	if pos > 0 && !member.Known {
		return q.wait(joinedGate(msg.Team, pos), name), nil
	}

	switch body := msg.Body.(type) {
	case *PartBody:
		if member.Parted != nil {
			return q.drop(name, msg, "already parted", "member", pos)
		}
		q.logger.Info("got part", "team", msg.Team, "member", pos)
		if err := store.Part(ctx, msg.Team, pos, msgTime); err != nil {
			return q.fail(name, msg, err)
		}
		return q.done(name)
	case *ChatBody:
		q.logger.Info("got chat", "team", msg.Team, "member", pos)
		if _, err := store.Chat(ctx, msg.Team, pos, body.Message, msgTime); err != nil {
			return q.fail(name, msg, err)
		}
		return q.done(name)
	}
	return q.drop(name, msg, "processing for magpi forms not implemented")
}

// lock takes the dispatch lock, or queues the file behind it
func (q *Queue) lock(g Gate, name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.locked[g]; ok {
		q.enqueue(g, name)
		return false
	}
	q.locked[g] = struct{}{}
	return true
}

func (q *Queue) unlock(g Gate) {
	q.mu.Lock()
	delete(q.locked, g)
	q.mu.Unlock()
	q.trigger(g)
}

// wait queues the file until the gate fires. It returns retry when the gate
// fired since the caller last looked at the team.
func (q *Queue) wait(g Gate, name string) Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.fired[g.Team][g]; ok {
		return retry
	}
	q.enqueue(g, name)
	return Deferred
}

// enqueue must be called with q.mu held
func (q *Queue) enqueue(g Gate, name string) {
	q.logger.Debug("waiting for trigger", "gate", g.String(), "file", name)
	q.waiting[g] = append(q.waiting[g], name)
	q.metrics.waiting.Inc()
}

// trigger replays the files waiting on a gate, one at a time in the order
// they were queued
func (q *Queue) trigger(g Gate) {
	q.mu.Lock()
	if g.Kind != GateLock {
		fired, ok := q.fired[g.Team]
		if !ok {
			fired = make(map[Gate]struct{})
			q.fired[g.Team] = fired
		}
		fired[g] = struct{}{}
	}
	names := q.waiting[g]
	delete(q.waiting, g)
	for _, name := range names {
		delete(q.pending, name)
	}
	q.metrics.waiting.Sub(float64(len(names)))
	if len(names) == 0 || q.stopped {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()
	q.logger.Debug("processing messages waiting for trigger", "gate", g.String())
	go func() {
		defer q.wg.Done()
		for _, name := range names {
			if q.ctx.Err() != nil {
				return
			}
			_, _ = q.Process(q.ctx, name)
		}
	}()
}

// forget drops the fired gates of an ended team. Later messages for it see
// the started team and its joined members in the state store.
func (q *Queue) forget(team string) {
	q.mu.Lock()
	delete(q.fired, team)
	q.mu.Unlock()
}

func (q *Queue) clear(name string) {
	q.mu.Lock()
	delete(q.pending, name)
	q.mu.Unlock()
}

func (q *Queue) done(name string) (Outcome, error) {
	err := os.Rename(q.newPath(name), q.donePath(name))
	q.clear(name)
	if err != nil {
		q.logger.Error("could not move file to done directory", "file", name, "error", err)
		return Applied, err
	}
	q.logger.Debug("moved to done directory", "file", name)
	return Applied, nil
}

func (q *Queue) drop(name string, msg *Message, reason string, args ...any) (Outcome, error) {
	q.logger.Warn(
		reason,
		append([]any{"file", name, "team", msg.Team, "type", msg.Type}, args...)...,
	)
	q.clear(name)
	return Dropped, nil
}

func (q *Queue) fail(name string, msg *Message, err error) (Outcome, error) {
	reason := "failed to apply message"
	if errors.Is(err, state.ErrInvariant) {
		reason = "invariant violation, dropping message"
	}
	q.logger.Error(
		reason,
		"file", name,
		"team", msg.Team,
		"type", msg.Type,
		"error", err,
	)
	q.clear(name)
	return Dropped, err
}
