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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/succinct-tracker/succinct/database/models"
	"github.com/succinct-tracker/succinct/pagination"
)

var readyStates = []Lifecycle{Active, Inactive}

// LookupMember returns the cached state of a member, fetching it from the
// database on first use. The team lookup is awaited first, and concurrent
// fetches of the same member are shared.
func (s *Store) LookupMember(
	ctx context.Context,
	teamID string,
	pos int,
) (MemberState, error) {
	e, err := s.entry(ctx, teamID)
	if err != nil {
		return MemberState{}, err
	}
	_, state, err := s.member(ctx, teamID, e, pos)
	return state, err
}

func (s *Store) member(
	ctx context.Context,
	teamID string,
	e *teamEntry,
	pos int,
) (*memberSlot, MemberState, error) {
	for {
		s.mu.Lock()
		slot := e.slot(pos)
		if slot.wait != nil {
			wait := slot.wait
			s.mu.Unlock()
			if err := waitFor(ctx, wait); err != nil {
				return nil, MemberState{}, err
			}
			continue
		}
		if slot.loaded {
			state := slot.snapshot()
			s.mu.Unlock()
			return slot, state, nil
		}
		id := e.id
		if id == 0 {
			s.mu.Unlock()
			s.logger.Warn(
				"cannot lookup member of team with no ID in database",
				"team", teamID,
				"member", pos,
			)
			return slot, MemberState{}, nil
		}
		s.mu.Unlock()
		fetchCtx := context.WithoutCancel(ctx)
		key := strconv.FormatUint(uint64(id), 10) + "/" + strconv.Itoa(pos)
		ch := s.memberFetch.DoChan(key, func() (any, error) {
			s.metrics.memberFetches.Inc()
			m, err := s.config.Database.MemberByPos(fetchCtx, id, pos)
			if errors.Is(err, models.ErrMemberNotFound) {
				return (*models.Member)(nil), nil
			}
			return m, err
		})
		var res any
		select {
		case r := <-ch:
			if r.Err != nil {
				return nil, MemberState{}, fmt.Errorf(
					"lookup member %s/%d: %w", teamID, pos, r.Err,
				)
			}
			res = r.Val
		case <-ctx.Done():
			return nil, MemberState{}, ctx.Err()
		}
		s.mu.Lock()
		if !slot.loaded && slot.wait == nil {
			slot.load(res.(*models.Member))
		}
		s.mu.Unlock()
	}
}

// beginMember marks a member slot as having a mutation in flight. Must be
// called with s.mu held.
func beginMember(slot *memberSlot) {
	slot.wait = make(chan struct{})
}

// endMember must be called with s.mu held
func endMember(slot *memberSlot) {
	if slot.wait != nil {
		close(slot.wait)
		slot.wait = nil
	}
}

// Join records a new member of a team. The member's last location is
// repaired afterwards since locations may arrive before the join.
func (s *Store) Join(
	ctx context.Context,
	teamID string,
	pos int,
	name string,
	identity string,
	joined time.Time,
) error {
	e, _, err := s.acquire(ctx, "join", teamID, false, readyStates...)
	if err != nil {
		return err
	}
	slot, state, err := s.member(ctx, teamID, e, pos)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if state.Known || slot.known || slot.wait != nil {
		s.mu.Unlock()
		s.metrics.invariants.WithLabelValues("join").Inc()
		return memberError("join", teamID, pos, "already have team member")
	}
	beginMember(slot)
	id := e.id
	s.mu.Unlock()

	m, err := s.join(ctx, id, pos, name, identity, joined)
	s.mu.Lock()
	if err != nil {
		// Refetch on next lookup, the join may have been persisted
		slot.loaded = false
		endMember(slot)
		s.mu.Unlock()
		return err
	}
	slot.load(m)
	if e.state == Active && e.team != nil && e.rosterMember(pos) == nil {
		s.logger.Info("adding member to active team roster", "team", teamID, "member", pos)
		e.team.Members = append(e.team.Members, *m)
	}
	view := MemberEnvelope(m, id)
	endMember(slot)
	s.mu.Unlock()
	s.push("member", MemberPath(id, pos), view)
	return nil
}

func (s *Store) join(
	ctx context.Context,
	id uint,
	pos int,
	name string,
	identity string,
	joined time.Time,
) (*models.Member, error) {
	db := s.config.Database
	if err := db.MemberJoin(ctx, id, pos, name, identity, joined); err != nil {
		return nil, err
	}
	if err := db.MemberFixLastLocation(ctx, id, pos); err != nil {
		return nil, err
	}
	m, err := db.MemberByPos(ctx, id, pos)
	if err != nil {
		return nil, fmt.Errorf("failed to join team member %d/%d: %w", id, pos, err)
	}
	return m, nil
}

// Part records that a member left its team
func (s *Store) Part(
	ctx context.Context,
	teamID string,
	pos int,
	parted time.Time,
) error {
	e, _, err := s.acquire(ctx, "part", teamID, false, readyStates...)
	if err != nil {
		return err
	}
	slot, _, err := s.member(ctx, teamID, e, pos)
	if err != nil {
		return err
	}
	s.mu.Lock()
	switch {
	case !slot.known:
		s.mu.Unlock()
		s.metrics.invariants.WithLabelValues("part").Inc()
		return memberError("part", teamID, pos, "unknown team member")
	case slot.parted != nil:
		s.mu.Unlock()
		s.metrics.invariants.WithLabelValues("part").Inc()
		return memberError("part", teamID, pos, "already parted")
	case slot.wait != nil:
		s.mu.Unlock()
		return memberError("part", teamID, pos, "member update in flight")
	}
	beginMember(slot)
	id := e.id
	s.mu.Unlock()

	err = s.config.Database.MemberPart(ctx, id, pos, parted)
	s.mu.Lock()
	if err != nil {
		endMember(slot)
		s.mu.Unlock()
		return err
	}
	t := parted
	slot.parted = &t
	if m := e.rosterMember(pos); m != nil {
		s.logger.Info("parting member from active team roster", "team", teamID, "member", pos)
		m.Parted = &t
	}
	endMember(slot)
	s.mu.Unlock()
	s.push("member", MemberPath(id, pos), updateEnvelope(
		MemberPath(id, pos),
		map[string]any{"parted": pagination.Timestamp(parted)},
		"parted",
	))
	return nil
}

// AddLocation records a location fix. The fix becomes the member's current
// location only when it is strictly newer than the current one; a fix with
// the same time as the current one is discarded. Fixes for members that
// have not joined are stored without updating the roster.
func (s *Store) AddLocation(
	ctx context.Context,
	teamID string,
	pos int,
	lat float64,
	lng float64,
	accuracy float64,
	t time.Time,
) error {
	e, _, err := s.acquire(ctx, "add_location", teamID, false, readyStates...)
	if err != nil {
		return err
	}
	slot, state, err := s.member(ctx, teamID, e, pos)
	if err != nil {
		return err
	}
	db := s.config.Database
	if !state.Known {
		s.logger.Warn(
			"unknown team member, inserting new location anyway",
			"team", teamID,
			"member", pos,
		)
		_, err := db.AddLocation(ctx, e.id, pos, lat, lng, accuracy, t, false)
		return err
	}

	// Hold the member's location lock across compare, persist and update
	slot.locMu.Lock()
	defer slot.locMu.Unlock()
	s.mu.Lock()
	last := slot.lastLocation
	lastTime := slot.lastLocationTime
	id := e.id
	s.mu.Unlock()
	if last != nil && lastTime == nil {
		lt, err := db.LocationTime(ctx, *last)
		if err != nil {
			return fmt.Errorf("could not get location timestamp for id %d: %w", *last, err)
		}
		lastTime = &lt
		s.mu.Lock()
		slot.lastLocationTime = &lt
		s.mu.Unlock()
	}
	if lastTime != nil && t.Equal(*lastTime) {
		s.logger.Warn(
			"timestamp collision in add_location, ignoring new location",
			"team", teamID,
			"member", pos,
			"time", t,
		)
		return nil
	}
	latest := last == nil || t.After(*lastTime)
	locID, err := db.AddLocation(ctx, id, pos, lat, lng, accuracy, t, latest)
	if err != nil {
		return err
	}
	if !latest {
		return nil
	}

	s.mu.Lock()
	fixTime := t
	slot.lastLocation = &locID
	slot.lastLocationTime = &fixTime
	if m := e.rosterMember(pos); m != nil {
		m.LastLocation = &locID
		m.Time = &fixTime
		m.Lat = &lat
		m.Lng = &lng
		m.Accuracy = &accuracy
	}
	s.mu.Unlock()
	s.push("location", MemberPath(id, pos), updateEnvelope(
		MemberPath(id, pos),
		map[string]any{
			"lat":      lat,
			"lng":      lng,
			"accuracy": accuracy,
			"time":     pagination.Timestamp(t),
		},
		"lat", "lng", "accuracy", "time",
	))
	return nil
}

// Chat records a chat message and returns its id. Sender 0 is the operator;
// any other sender must be a known member.
func (s *Store) Chat(
	ctx context.Context,
	teamID string,
	sender int,
	message string,
	t time.Time,
) (uint, error) {
	e, _, err := s.acquire(ctx, "chat", teamID, false, readyStates...)
	if err != nil {
		return 0, err
	}
	if sender > 0 {
		_, state, err := s.member(ctx, teamID, e, sender)
		if err != nil {
			return 0, err
		}
		if !state.Known {
			s.metrics.invariants.WithLabelValues("chat").Inc()
			return 0, memberError("chat", teamID, sender, "unknown team member")
		}
	}
	s.mu.Lock()
	id := e.id
	s.mu.Unlock()
	chatID, err := s.config.Database.InsertChat(ctx, id, sender, message, t)
	if err != nil {
		return 0, err
	}
	chat := models.Chat{
		ID:      chatID,
		TeamID:  id,
		Sender:  sender,
		Message: message,
		Time:    t,
	}
	s.mu.Lock()
	if e.state == Active && e.team != nil {
		s.cacheChat(e, chat)
	}
	s.mu.Unlock()
	s.push("chat", ChatMessagePath(id, chatID), pagination.Envelope{
		Data: ChatView{
			ID:      chatID,
			Time:    pagination.Timestamp(t),
			Sender:  sender,
			Message: message,
		},
		Links: pagination.Links{
			pagination.LinkSelf: pagination.NewLink(ChatMessagePath(id, chatID), nil),
		},
	})
	return chatID, nil
}

// cacheChat keeps the newest chat of an active team in memory. A message
// with the same time as the cached one is prepended, an older one is left to
// the database. Must be called with s.mu held.
func (s *Store) cacheChat(e *teamEntry, chat models.Chat) {
	chats := e.team.Chats
	switch {
	case len(chats) > 0 && chats[0].Time.Equal(chat.Time):
		e.team.Chats = append([]models.Chat{chat}, chats...)
	case len(chats) > 0 && chat.Time.Before(chats[0].Time):
		// ignore message in past
	default:
		e.team.Chats = []models.Chat{chat}
		e.team.ChatsComplete = false
	}
}
