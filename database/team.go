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

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/succinct-tracker/succinct/database/models"
	"github.com/succinct-tracker/succinct/pagination"
)

// ActiveTeams returns all started and unfinished teams, with their members
// and most recent chat
func (d *Database) ActiveTeams(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	result := d.db.WithContext(ctx).
		Where("started IS NOT NULL AND finished IS NULL").
		Order("id").
		Find(&teams)
	if result.Error != nil {
		return nil, fmt.Errorf("query active teams: %w", result.Error)
	}
	if err := d.fillTeams(ctx, teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// TeamByTeamID returns the team with the given external identifier. When
// fill is set, members and the most recent chat are loaded as well.
func (d *Database) TeamByTeamID(
	ctx context.Context,
	teamID string,
	fill bool,
) (*models.Team, error) {
	var team models.Team
	result := d.db.WithContext(ctx).
		Where("teamid = ?", teamID).
		First(&team)
	if result.Error != nil {
		return nil, notFound(result.Error, models.ErrTeamNotFound)
	}
	if fill {
		teams := []models.Team{team}
		if err := d.fillTeams(ctx, teams); err != nil {
			return nil, err
		}
		team = teams[0]
	}
	return &team, nil
}

// TeamStart records the start of a team, updating the row created when the
// team was first seen by ingress or inserting a new one
func (d *Database) TeamStart(
	ctx context.Context,
	teamID string,
	name string,
	started time.Time,
) error {
	started = dbTime(started)
	team := models.Team{
		TeamID:  teamID,
		Name:    name,
		Started: &started,
	}
	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "teamid"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "started"}),
		}).
		Create(&team)
	if result.Error != nil {
		return fmt.Errorf("start team %s: %w", teamID, result.Error)
	}
	return nil
}

// TeamEnd records the finish time of a team
func (d *Database) TeamEnd(
	ctx context.Context,
	id uint,
	finished time.Time,
) error {
	result := d.db.WithContext(ctx).
		Model(&models.Team{}).
		Where("id = ?", id).
		Update("finished", dbTime(finished))
	if result.Error != nil {
		return fmt.Errorf("end team %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrTeamNotFound
	}
	return nil
}

// TeamsBefore returns a page of finished teams, newest first. The Now
// cursor starts from the most recently finished team.
func (d *Database) TeamsBefore(
	ctx context.Context,
	cursor pagination.Cursor,
	limit int,
) (pagination.Page[models.Team], error) {
	src := pagination.SourceFuncs[models.Team]{
		OlderFunc: func(ctx context.Context, before *time.Time, limit int) ([]models.Team, error) {
			var teams []models.Team
			query := d.db.WithContext(ctx).Where("finished IS NOT NULL")
			if before != nil {
				query = query.Where("finished < ?", dbTime(*before))
			}
			result := query.
				Order("finished DESC").
				Order("id DESC").
				Limit(limit).
				Find(&teams)
			return teams, result.Error
		},
		AtFunc: func(ctx context.Context, at time.Time, exclude []uint) ([]models.Team, error) {
			var teams []models.Team
			result := d.db.WithContext(ctx).
				Where("finished = ?", dbTime(at)).
				Not(map[string]any{"id": exclude}).
				Order("id DESC").
				Find(&teams)
			return teams, result.Error
		},
	}
	page, err := pagination.Fetch(ctx, src, cursor.Before(), limit)
	if err != nil {
		return page, fmt.Errorf("query teams before %s: %w", cursor, err)
	}
	if err := d.fillTeams(ctx, page.Rows); err != nil {
		return page, err
	}
	return page, nil
}

// fillTeams loads the members (with their current location) and the most
// recent chat page of each team
func (d *Database) fillTeams(ctx context.Context, teams []models.Team) error {
	if len(teams) == 0 {
		return nil
	}
	idx := make(map[uint]int, len(teams))
	ids := make([]uint, 0, len(teams))
	for i := range teams {
		idx[teams[i].ID] = i
		ids = append(ids, teams[i].ID)
		teams[i].Members = []models.Member{}
	}
	var members []models.Member
	result := d.memberQuery(ctx).
		Where("members.team IN ?", ids).
		Order("members.team").
		Order("members.member_id").
		Find(&members)
	if result.Error != nil {
		return fmt.Errorf("query team members: %w", result.Error)
	}
	for _, member := range members {
		i := idx[member.TeamID]
		teams[i].Members = append(teams[i].Members, member)
	}
	for i := range teams {
		page, err := d.ChatsBefore(ctx, teams[i].ID, nil, 1)
		if err != nil {
			return err
		}
		teams[i].Chats = page.Rows
		if teams[i].Chats == nil {
			teams[i].Chats = []models.Chat{}
		}
		teams[i].ChatsComplete = page.Last
	}
	return nil
}

func (d *Database) memberQuery(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx).
		Model(&models.Member{}).
		Select("members.*, locations.time, locations.lat, locations.lng, locations.accuracy").
		Joins("LEFT JOIN locations ON members.last_location = locations.id")
}
