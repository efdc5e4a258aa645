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

type Location struct {
	Time     time.Time `gorm:"index"`
	Lat      float64
	Lng      float64
	Accuracy float64
	ID       uint `gorm:"primarykey"`
	TeamID   uint `gorm:"column:team;index:idx_location_team_member"`
	MemberID int  `gorm:"column:member;index:idx_location_team_member"`
}

func (Location) TableName() string {
	return "locations"
}
