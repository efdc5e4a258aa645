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

package models

import "time"

// Member is a team member at a fixed position. Position 0 is reserved for
// system (EOC) chat and never has a member row.
type Member struct {
	Joined       *time.Time
	Parted       *time.Time
	LastLocation *uint
	// Current location fix, read through a join on LastLocation
	Time         *time.Time `gorm:"->;-:migration"`
	Lat          *float64   `gorm:"->;-:migration"`
	Lng          *float64   `gorm:"->;-:migration"`
	Accuracy     *float64   `gorm:"->;-:migration"`
	Name         string
	Identity     string
	ID           uint `gorm:"primarykey"`
	TeamID       uint `gorm:"column:team;uniqueIndex:idx_member_team_pos"`
	MemberID     int  `gorm:"column:member_id;uniqueIndex:idx_member_team_pos"`
}

func (Member) TableName() string {
	return "members"
}
