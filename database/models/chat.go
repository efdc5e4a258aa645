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

// Chat is a single chat message. Sender 0 is the operator (EOC).
type Chat struct {
	Time    time.Time `gorm:"index"`
	Message string    `gorm:"type:text"`
	ID      uint      `gorm:"primarykey"`
	TeamID  uint      `gorm:"column:team;index"`
	Sender  int
}

func (Chat) TableName() string {
	return "chat"
}

// OrderKey and TieKey implement pagination.Row
func (c Chat) OrderKey() time.Time { return c.Time }

func (c Chat) TieKey() uint { return c.ID }
