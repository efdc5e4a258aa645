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

	"github.com/succinct-tracker/succinct/database/models"
)

// AddLocation stores a location fix and returns its id. When current is set
// the member's last location is pointed at the new fix in the same
// transaction.
func (d *Database) AddLocation(
	ctx context.Context,
	teamID uint,
	pos int,
	lat float64,
	lng float64,
	accuracy float64,
	t time.Time,
	current bool,
) (uint, error) {
	loc := models.Location{
		TeamID:   teamID,
		MemberID: pos,
		Lat:      lat,
		Lng:      lng,
		Accuracy: accuracy,
		Time:     dbTime(t),
	}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if result := tx.Create(&loc); result.Error != nil {
			return result.Error
		}
		if !current {
			return nil
		}
		result := tx.Model(&models.Member{}).
			Where("team = ? AND member_id = ?", teamID, pos).
			Update("last_location", loc.ID)
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("add location %d/%d: %w", teamID, pos, err)
	}
	return loc.ID, nil
}

// LocationTime returns the capture time of a stored location
func (d *Database) LocationTime(ctx context.Context, id uint) (time.Time, error) {
	var loc models.Location
	result := d.db.WithContext(ctx).
		Select("id", "time").
		First(&loc, id)
	if result.Error != nil {
		return time.Time{}, notFound(result.Error, models.ErrLocationNotFound)
	}
	return loc.Time, nil
}
