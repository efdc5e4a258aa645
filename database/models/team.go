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

// Team is a tracked group. A nil Started means the team is known to ingress
// (via a lastseen update) but has not sent its start message yet.
type Team struct {
	Started           *time.Time `gorm:"index"`
	Finished          *time.Time `gorm:"index"`
	LastseenRockTime  *time.Time
	LastseenSmsTime   *time.Time
	LastseenHttpTime  *time.Time
	TeamID            string `gorm:"column:teamid;uniqueIndex;size:64"`
	Name              string
	LastseenRockID    string `gorm:"column:lastseen_rock_id"`
	LastseenSmsSender string
	LastseenHttpIP    string `gorm:"column:lastseen_http_ip"`
	// Members and Chats are filled by the store for active and paged teams
	Members []Member `gorm:"-"`
	Chats   []Chat   `gorm:"-"`
	// ChatsComplete is set when Chats holds the oldest chat of the team
	ChatsComplete bool `gorm:"-"`
	ID            uint `gorm:"primarykey"`
}

func (Team) TableName() string {
	return "teams"
}

// Active reports whether the team has started and not finished
func (t *Team) Active() bool {
	return t.Started != nil && t.Finished == nil
}

// OrderKey and TieKey implement pagination.Row for finished teams
func (t Team) OrderKey() time.Time {
	if t.Finished == nil {
		return time.Time{}
	}
	return *t.Finished
}

func (t Team) TieKey() uint { return t.ID }
