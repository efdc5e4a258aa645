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
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/succinct-tracker/succinct/connmanager"
	"github.com/succinct-tracker/succinct/pagination"
	"github.com/succinct-tracker/succinct/state"
)

const (
	failNotImplemented = "not implemented"
	failUnknownOption  = "unknown option"
	failInvalidBefore  = "invalid before= value"
	failInvalidChat    = "invalid chat request"
	failUnknownTeam    = "unknown or inactive team"
	failEmptyMessage   = "empty message"
	failMessageLength  = "message too long"
	failQueueMessage   = "failed to queue message"
)

// parseBefore reads the only option of a history get. A missing before is
// returned as nil.
func parseBefore(
	options map[string]json.RawMessage,
	allowNow bool,
) (*pagination.Cursor, error) {
	var cursor *pagination.Cursor
	for key, raw := range options {
		switch key {
		case "before":
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, connmanager.Fail(failInvalidBefore)
			}
			c, err := pagination.ParseCursor(v, allowNow)
			if err != nil {
				return nil, connmanager.Fail(failInvalidBefore)
			}
			cursor = &c
		default:
			return nil, connmanager.Fail(failUnknownOption)
		}
	}
	return cursor, nil
}

// handleGetTeams returns a page of finished teams. Active teams are only
// pushed, so a before option is required.
func (n *Node) handleGetTeams(
	ctx context.Context,
	conn *connmanager.Connection,
	req connmanager.GetRequest,
) (any, error) {
	cursor, err := parseBefore(req.Options, true)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		return nil, connmanager.Fail(failNotImplemented)
	}
	conn.Logger().Debug("getting teams before", "before", cursor.String())
	page, err := n.db.TeamsBefore(ctx, *cursor, n.config.pageSize)
	if err != nil {
		return nil, fmt.Errorf("teams before %s: %w", cursor, err)
	}
	return state.TeamsPageEnvelope(page, *cursor), nil
}

// handleGetChat returns a page of a team's chat history
func (n *Node) handleGetChat(
	ctx context.Context,
	conn *connmanager.Connection,
	req connmanager.GetRequest,
) (any, error) {
	id, err := strconv.ParseUint(req.Match[1], 10, 32)
	if err != nil {
		return nil, connmanager.Fail(failUnknownTeam)
	}
	cursor, err := parseBefore(req.Options, false)
	if err != nil {
		return nil, err
	}
	if cursor == nil {
		return nil, connmanager.Fail(failNotImplemented)
	}
	before := cursor.Before()
	conn.Logger().Debug(
		"getting chats before",
		"team", id,
		"before", cursor.String(),
	)
	page, err := n.db.ChatsBefore(ctx, uint(id), before, n.config.pageSize)
	if err != nil {
		return nil, fmt.Errorf("chats before %s: %w", cursor, err)
	}
	return state.ChatsPageEnvelope(page, uint(id), *before), nil
}

type chatResult struct {
	ID uint `json:"id"`
}

// handleChat relays an operator message to an active team and records it
func (n *Node) handleChat(
	ctx context.Context,
	conn *connmanager.Connection,
	payload json.RawMessage,
) (any, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(payload, &args); err != nil || len(args) != 2 {
		return nil, connmanager.Fail(failInvalidChat)
	}
	var id uint
	if err := json.Unmarshal(args[0], &id); err != nil {
		return nil, connmanager.Fail(failInvalidChat)
	}
	var message string
	if err := json.Unmarshal(args[1], &message); err != nil {
		return nil, connmanager.Fail(failInvalidChat)
	}
	team, ok := n.store.ActiveTeamByID(id)
	if !ok {
		return nil, connmanager.Fail(failUnknownTeam)
	}
	if message == "" {
		return nil, connmanager.Fail(failEmptyMessage)
	}
	if len(message) > n.config.maxChatBytes {
		return nil, connmanager.Fail(failMessageLength)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	relative := max(now.Sub(team.Epoch).Milliseconds(), 0)
	conn.Logger().Info("operator chat", "team", team.TeamID, "bytes", len(message))
	if err := n.outQueue.QueueChat(ctx, team.TeamID, message, relative); err != nil {
		conn.Logger().Error("chat relay failed", "team", team.TeamID, "error", err)
		return nil, connmanager.Fail(failQueueMessage)
	}
	// The message is on its way to the field, so record it even if the
	// client goes away
	ctx = context.WithoutCancel(ctx)
	// The message is spooled even when the satellite send fails
	if err := n.outQueue.SendRock(ctx, team.TeamID, team.RockID); err != nil {
		conn.Logger().Warn("rock send failed", "team", team.TeamID, "error", err)
	}
	chatID, err := n.store.Chat(ctx, team.TeamID, 0, message, now)
	if err != nil {
		return nil, fmt.Errorf("record chat: %w", err)
	}
	return chatResult{ID: chatID}, nil
}
