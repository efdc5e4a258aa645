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

package state

import (
	"context"
	"time"

	"github.com/succinct-tracker/succinct/pagination"
)

// Start records the start of a team and adds it to the live roster
func (s *Store) Start(
	ctx context.Context,
	teamID string,
	name string,
	started time.Time,
) error {
	e, prev, err := s.acquire(ctx, "start", teamID, true, Unknown, Starting)
	if err != nil {
		return err
	}
	if err := s.config.Database.TeamStart(ctx, teamID, name, started); err != nil {
		s.mu.Lock()
		e.state = prev
		s.resolve(e)
		s.mu.Unlock()
		return err
	}
	t, err := s.config.Database.TeamByTeamID(ctx, teamID, true)
	if err != nil {
		s.mu.Lock()
		s.forget(teamID, e)
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	e.apply(t)
	if e.state != Active {
		state := e.state
		s.resolve(e)
		s.mu.Unlock()
		s.logger.Error(
			"team not registered properly as started",
			"team", teamID,
			"state", state,
		)
		s.metrics.invariants.WithLabelValues("start").Inc()
		return stateError("start", teamID, state)
	}
	s.active = append(s.active, e.team)
	s.metrics.activeTeams.Set(float64(len(s.active)))
	view := TeamEnvelope(e.team)
	s.resolve(e)
	s.mu.Unlock()
	s.logger.Info("adding active team", "team", teamID, "id", t.ID, "name", name)
	s.push("team", TeamPath(t.ID), view)
	return nil
}

// End records the finish of an active team and removes it from the live
// roster
func (s *Store) End(ctx context.Context, teamID string, finished time.Time) error {
	e, prev, err := s.acquire(ctx, "end", teamID, true, Active)
	if err != nil {
		return err
	}
	if err := s.config.Database.TeamEnd(ctx, e.id, finished); err != nil {
		s.mu.Lock()
		e.state = prev
		s.resolve(e)
		s.mu.Unlock()
		return err
	}
	t, err := s.config.Database.TeamByTeamID(ctx, teamID, false)
	if err != nil {
		s.mu.Lock()
		s.forget(teamID, e)
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	roster := e.team
	e.apply(t)
	if e.state != Inactive {
		s.logger.Error(
			"team not registered properly as ended",
			"team", teamID,
			"state", e.state,
		)
	}
	if !s.removeActive(roster) {
		s.logger.Error("could not find team in active team roster", "team", teamID)
	}
	id := e.id
	s.resolve(e)
	s.mu.Unlock()
	s.logger.Info("removing active team", "team", teamID, "id", id)
	s.push("team", TeamPath(id), updateEnvelope(
		TeamPath(id),
		map[string]any{"finished": pagination.Timestamp(finished)},
		"finished",
	))
	return nil
}

// ActiveWithCursors returns the live roster for the initial sync of a client
func (s *Store) ActiveWithCursors() pagination.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TeamsEnvelope(s.active, nil, false)
}

// ActiveTeam describes a team on the live roster
type ActiveTeam struct {
	Epoch  time.Time
	TeamID string
	RockID string
	ID     uint
}

// ActiveTeamByID returns the roster team with the given database id
func (s *Store) ActiveTeamByID(id uint) (ActiveTeam, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.active {
		if t.ID != id {
			continue
		}
		ret := ActiveTeam{ID: t.ID, TeamID: t.TeamID, RockID: t.LastseenRockID}
		if t.Started != nil {
			ret.Epoch = *t.Started
		}
		return ret, true
	}
	return ActiveTeam{}, false
}
