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
)

// MemberByPos returns a team member, including its current location fix
func (d *Database) MemberByPos(
	ctx context.Context,
	teamID uint,
	pos int,
) (*models.Member, error) {
	var member models.Member
	result := d.memberQuery(ctx).
		Where("members.team = ? AND members.member_id = ?", teamID, pos).
		First(&member)
	if result.Error != nil {
		return nil, notFound(result.Error, models.ErrMemberNotFound)
	}
	return &member, nil
}

// MemberJoin inserts a new team member
func (d *Database) MemberJoin(
	ctx context.Context,
	teamID uint,
	pos int,
	name string,
	identity string,
	joined time.Time,
) error {
	joined = dbTime(joined)
	member := models.Member{
		TeamID:   teamID,
		MemberID: pos,
		Name:     name,
		Identity: identity,
		Joined:   &joined,
	}
	if result := d.db.WithContext(ctx).Create(&member); result.Error != nil {
		return fmt.Errorf("join member %d/%d: %w", teamID, pos, result.Error)
	}
	return nil
}

// MemberPart records the time a member left its team
func (d *Database) MemberPart(
	ctx context.Context,
	teamID uint,
	pos int,
	parted time.Time,
) error {
	result := d.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("team = ? AND member_id = ?", teamID, pos).
		Update("parted", dbTime(parted))
	if result.Error != nil {
		return fmt.Errorf("part member %d/%d: %w", teamID, pos, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrMemberNotFound
	}
	return nil
}

// MemberFixLastLocation points the member at its newest stored location
// (greatest id among equal times). Locations may arrive before their member
// joins.
func (d *Database) MemberFixLastLocation(
	ctx context.Context,
	teamID uint,
	pos int,
) error {
	var loc models.Location
	result := d.db.WithContext(ctx).
		Where("team = ? AND member = ?", teamID, pos).
		Order("time DESC").
		Order("id DESC").
		Limit(1).
		Find(&loc)
	if result.Error != nil {
		return fmt.Errorf("query last location %d/%d: %w", teamID, pos, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	result = d.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("team = ? AND member_id = ?", teamID, pos).
		Update("last_location", loc.ID)
	if result.Error != nil {
		return fmt.Errorf("fix last location %d/%d: %w", teamID, pos, result.Error)
	}
	return nil
}
