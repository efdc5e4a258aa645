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

// Package state is the authoritative in-memory view of team and member
// lifecycle, backed by the database. All team mutations go through it, and
// it emits the push events that live clients receive.
package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/succinct-tracker/succinct/database/models"
	"github.com/succinct-tracker/succinct/event"
)

// Lifecycle is the in-memory readiness of a team
type Lifecycle int

const (
	// Unknown teams have never been seen
	Unknown Lifecycle = iota
	// Starting teams are known to the database but have not started
	Starting
	// Pending teams have a start or end in flight
	Pending
	// Active teams have started and not finished, and are on the live roster
	Active
	// Inactive teams have finished
	Inactive
)

func (l Lifecycle) String() string {
	switch l {
	case Unknown:
		return "unknown"
	case Starting:
		return "starting"
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	default:
		return "Lifecycle(" + strconv.Itoa(int(l)) + ")"
	}
}

// Database is the persistent storage used by the state store
type Database interface {
	ActiveTeams(ctx context.Context) ([]models.Team, error)
	TeamByTeamID(ctx context.Context, teamID string, fill bool) (*models.Team, error)
	TeamStart(ctx context.Context, teamID string, name string, started time.Time) error
	TeamEnd(ctx context.Context, id uint, finished time.Time) error
	MemberByPos(ctx context.Context, teamID uint, pos int) (*models.Member, error)
	MemberJoin(ctx context.Context, teamID uint, pos int, name string, identity string, joined time.Time) error
	MemberPart(ctx context.Context, teamID uint, pos int, parted time.Time) error
	MemberFixLastLocation(ctx context.Context, teamID uint, pos int) error
	AddLocation(ctx context.Context, teamID uint, pos int, lat float64, lng float64, accuracy float64, t time.Time, current bool) (uint, error)
	LocationTime(ctx context.Context, id uint) (time.Time, error)
	InsertChat(ctx context.Context, teamID uint, sender int, message string, t time.Time) (uint, error)
}

type StoreConfig struct {
	Logger       *slog.Logger
	Database     Database
	EventBus     *event.EventBus
	PromRegistry prometheus.Registerer
}

// TeamState is a snapshot of a team's lifecycle
type TeamState struct {
	Epoch time.Time
	ID    uint
	State Lifecycle
}

// MemberState is a snapshot of a cached member
type MemberState struct {
	Joined           *time.Time
	Parted           *time.Time
	LastLocation     *uint
	LastLocationTime *time.Time
	Known            bool
}

type teamEntry struct {
	epoch time.Time
	// team is the roster entry while the team is active
	team    *models.Team
	members map[int]*memberSlot
	// wait is closed when a pending start or end resolves
	wait  chan struct{}
	id    uint
	state Lifecycle
}

func (e *teamEntry) snapshot() TeamState {
	return TeamState{ID: e.id, State: e.state, Epoch: e.epoch}
}

// apply sets the entry from a freshly fetched team row
func (e *teamEntry) apply(t *models.Team) {
	if t == nil {
		e.state = Unknown
		e.team = nil
		return
	}
	e.id = t.ID
	switch {
	case t.Started == nil:
		e.state = Starting
		e.team = nil
	case t.Finished != nil:
		e.state = Inactive
		e.epoch = *t.Started
		e.team = nil
	default:
		e.state = Active
		e.epoch = *t.Started
		e.team = t
		for _, m := range t.Members {
			e.slot(m.MemberID).load(&m)
		}
	}
}

func (e *teamEntry) slot(pos int) *memberSlot {
	slot, ok := e.members[pos]
	if !ok {
		slot = &memberSlot{}
		e.members[pos] = slot
	}
	return slot
}

func (e *teamEntry) rosterMember(pos int) *models.Member {
	if e.state != Active || e.team == nil {
		return nil
	}
	for i := range e.team.Members {
		if e.team.Members[i].MemberID == pos {
			return &e.team.Members[i]
		}
	}
	return nil
}

// memberSlot is the cached state of one member position. A slot is never
// replaced once created, so its lock orders every location update for the
// member.
type memberSlot struct {
	locMu            sync.Mutex
	wait             chan struct{}
	joined           *time.Time
	parted           *time.Time
	lastLocation     *uint
	lastLocationTime *time.Time
	loaded           bool
	known            bool
}

func (m *memberSlot) load(member *models.Member) {
	m.loaded = true
	if member == nil {
		m.known = false
		return
	}
	m.known = true
	m.joined = member.Joined
	m.parted = member.Parted
	m.lastLocation = member.LastLocation
	m.lastLocationTime = member.Time
}

func (m *memberSlot) snapshot() MemberState {
	return MemberState{
		Known:            m.known,
		Joined:           m.joined,
		Parted:           m.parted,
		LastLocation:     m.lastLocation,
		LastLocationTime: m.lastLocationTime,
	}
}

// Store is the state store. A single mutex guards the team table and is
// never held across a database call.
type Store struct {
	mu          sync.Mutex
	config      StoreConfig
	logger      *slog.Logger
	teams       map[string]*teamEntry
	active      []*models.Team
	teamFetch   singleflight.Group
	memberFetch singleflight.Group
	metrics     stateMetrics
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errors.New("state store requires a database")
	}
	if cfg.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s := &Store{
		config: cfg,
		logger: cfg.Logger.With("component", "state"),
		teams:  make(map[string]*teamEntry),
	}
	s.metrics.init(cfg.PromRegistry)
	return s, nil
}

// Load populates the live roster with the active teams from the database
func (s *Store) Load(ctx context.Context) error {
	teams, err := s.config.Database.ActiveTeams(ctx)
	if err != nil {
		return fmt.Errorf("load active teams: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range teams {
		t := &teams[i]
		e := &teamEntry{members: make(map[int]*memberSlot)}
		e.apply(t)
		s.teams[t.TeamID] = e
		s.active = append(s.active, t)
	}
	s.metrics.activeTeams.Set(float64(len(s.active)))
	s.logger.Info("loaded active teams", "count", len(teams))
	return nil
}

// Lookup returns the state of a team, fetching it from the database the
// first time it is seen. Concurrent lookups of the same unseen team share
// one fetch, and lookups of a team with a start or end in flight wait for
// it to resolve.
func (s *Store) Lookup(ctx context.Context, teamID string) (TeamState, error) {
	e, err := s.entry(ctx, teamID)
	if err != nil {
		return TeamState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.snapshot(), nil
}

// entry returns the resolved entry for a team. On return the entry was not
// pending, but callers must re-check under the lock.
func (s *Store) entry(ctx context.Context, teamID string) (*teamEntry, error) {
	for {
		s.mu.Lock()
		e, ok := s.teams[teamID]
		if ok && e.state != Pending {
			s.mu.Unlock()
			return e, nil
		}
		if ok {
			wait := e.wait
			s.mu.Unlock()
			if err := waitFor(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		s.mu.Unlock()
		fetchCtx := context.WithoutCancel(ctx)
		ch := s.teamFetch.DoChan(teamID, func() (any, error) {
			// A flight that ended after the miss above may have filled it
			s.mu.Lock()
			_, ok := s.teams[teamID]
			s.mu.Unlock()
			if ok {
				return nil, nil
			}
			return nil, s.fetchTeam(fetchCtx, teamID)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Store) fetchTeam(ctx context.Context, teamID string) error {
	s.metrics.teamFetches.Inc()
	t, err := s.config.Database.TeamByTeamID(ctx, teamID, false)
	if err != nil && !errors.Is(err, models.ErrTeamNotFound) {
		return fmt.Errorf("lookup team %s: %w", teamID, err)
	}
	if t != nil && t.Active() {
		s.logger.Warn("unexpected active team in database", "team", teamID)
		t, err = s.config.Database.TeamByTeamID(ctx, teamID, true)
		if err != nil {
			return fmt.Errorf("lookup team %s: %w", teamID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[teamID]; ok {
		return nil
	}
	e := &teamEntry{members: make(map[int]*memberSlot)}
	e.apply(t)
	s.teams[teamID] = e
	if e.state == Active {
		s.active = append(s.active, e.team)
		s.metrics.activeTeams.Set(float64(len(s.active)))
	}
	return nil
}

// acquire returns the entry of a team in one of the allowed states. When
// mark is set the entry is moved to Pending and the previous state is
// returned; the caller must then call resolve.
func (s *Store) acquire(
	ctx context.Context,
	op string,
	teamID string,
	mark bool,
	allowed ...Lifecycle,
) (*teamEntry, Lifecycle, error) {
	for {
		e, err := s.entry(ctx, teamID)
		if err != nil {
			return nil, Unknown, err
		}
		s.mu.Lock()
		if e.state == Pending || s.teams[teamID] != e {
			s.mu.Unlock()
			continue
		}
		if !slices.Contains(allowed, e.state) {
			state := e.state
			s.mu.Unlock()
			s.metrics.invariants.WithLabelValues(op).Inc()
			return nil, state, stateError(op, teamID, state)
		}
		prev := e.state
		if mark {
			e.state = Pending
			e.wait = make(chan struct{})
		}
		s.mu.Unlock()
		return e, prev, nil
	}
}

// resolve releases a pending entry. Must be called with s.mu held.
func (s *Store) resolve(e *teamEntry) {
	if e.wait != nil {
		close(e.wait)
		e.wait = nil
	}
}

// forget drops a pending entry whose state can no longer be trusted, so the
// next lookup refetches it. Must be called with s.mu held.
func (s *Store) forget(teamID string, e *teamEntry) {
	if s.teams[teamID] == e {
		delete(s.teams, teamID)
	}
	s.removeActive(e.team)
	s.resolve(e)
}

// removeActive must be called with s.mu held
func (s *Store) removeActive(t *models.Team) bool {
	if t == nil {
		return false
	}
	idx := slices.Index(s.active, t)
	if idx < 0 {
		return false
	}
	s.active = slices.Delete(s.active, idx, idx+1)
	s.metrics.activeTeams.Set(float64(len(s.active)))
	return true
}

func (s *Store) push(kind string, path string, payload any) {
	s.metrics.pushes.WithLabelValues(kind).Inc()
	if s.config.EventBus == nil {
		return
	}
	s.config.EventBus.Publish(
		event.PushEventType,
		event.NewPushEvent(path, payload),
	)
}

func waitFor(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
