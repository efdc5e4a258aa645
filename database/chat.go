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

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/succinct-tracker/succinct/database/models"
	"github.com/succinct-tracker/succinct/pagination"
)

// InsertChat stores a chat message and returns its id
func (d *Database) InsertChat(
	ctx context.Context,
	teamID uint,
	sender int,
	message string,
	t time.Time,
) (uint, error) {
	chat := models.Chat{
		TeamID:  teamID,
		Sender:  sender,
		Message: message,
		Time:    dbTime(t),
	}
	if result := d.db.WithContext(ctx).Create(&chat); result.Error != nil {
		return 0, fmt.Errorf("insert chat for team %d: %w", teamID, result.Error)
	}
	return chat.ID, nil
}

// ChatsBefore returns a page of a team's chat messages older than before
// (or the newest when before is nil), newest first
func (d *Database) ChatsBefore(
	ctx context.Context,
	teamID uint,
	before *time.Time,
	limit int,
) (pagination.Page[models.Chat], error) {
	src := pagination.SourceFuncs[models.Chat]{
		OlderFunc: func(ctx context.Context, before *time.Time, limit int) ([]models.Chat, error) {
			var chats []models.Chat
			query := d.db.WithContext(ctx).Where("team = ?", teamID)
			if before != nil {
				query = query.Where("time < ?", dbTime(*before))
			}
			result := query.
				Order("time DESC").
				Order("id DESC").
				Limit(limit).
				Find(&chats)
			return chats, result.Error
		},
		AtFunc: func(ctx context.Context, at time.Time, exclude []uint) ([]models.Chat, error) {
			var chats []models.Chat
			result := d.db.WithContext(ctx).
				Where("team = ? AND time = ?", teamID, dbTime(at)).
				Not(map[string]any{"id": exclude}).
				Order("id DESC").
				Find(&chats)
			return chats, result.Error
		},
	}
	page, err := pagination.Fetch(ctx, src, before, limit)
	if err != nil {
		return page, fmt.Errorf("query chats for team %d: %w", teamID, err)
	}
	return page, nil
}
