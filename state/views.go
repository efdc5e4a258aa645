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
	"fmt"
	"time"

	"github.com/succinct-tracker/succinct/database/models"
	"github.com/succinct-tracker/succinct/pagination"
)

type TeamView struct {
	Started  *pagination.Timestamp `json:"started"`
	Finished *pagination.Timestamp `json:"finished"`
	Name     string                `json:"name"`
	Members  []MemberView          `json:"members"`
	Chat     pagination.Envelope   `json:"chat"`
	ID       uint                  `json:"id"`
}

type MemberView struct {
	Joined   *pagination.Timestamp `json:"joined"`
	Parted   *pagination.Timestamp `json:"parted"`
	Lat      *float64              `json:"lat"`
	Lng      *float64              `json:"lng"`
	Accuracy *float64              `json:"accuracy"`
	Time     *pagination.Timestamp `json:"time"`
	Name     string                `json:"name"`
	Identity string                `json:"identity"`
	MemberID int                   `json:"member_id"`
}

type ChatView struct {
	Time    pagination.Timestamp `json:"time"`
	Message string               `json:"message"`
	ID      uint                 `json:"id"`
	Sender  int                  `json:"sender"`
}

func TeamPath(id uint) string {
	return fmt.Sprintf("/team/%d", id)
}

func MemberPath(team uint, pos int) string {
	return fmt.Sprintf("/team/%d/member/%d", team, pos)
}

func ChatPath(team uint) string {
	return fmt.Sprintf("/team/%d/chat", team)
}

func ChatMessagePath(team uint, chat uint) string {
	return fmt.Sprintf("/team/%d/chat/%d", team, chat)
}

const TeamsPath = "/teams"

// TeamEnvelope returns the full view of one team
func TeamEnvelope(t *models.Team) pagination.Envelope {
	view := TeamView{
		ID:       t.ID,
		Name:     t.Name,
		Started:  pagination.NewTimestamp(t.Started),
		Finished: pagination.NewTimestamp(t.Finished),
		Members:  make([]MemberView, 0, len(t.Members)),
		Chat:     ChatsEnvelope(t.Chats, t.ChatsComplete, t.ID, nil),
	}
	for i := range t.Members {
		view.Members = append(view.Members, memberView(&t.Members[i]))
	}
	return pagination.Envelope{
		Data:  view,
		Links: pagination.Links{pagination.LinkSelf: pagination.NewLink(TeamPath(t.ID), nil)},
	}
}

// MemberEnvelope returns the full view of one member
func MemberEnvelope(m *models.Member, team uint) pagination.Envelope {
	return pagination.Envelope{
		Data: memberView(m),
		Links: pagination.Links{
			pagination.LinkSelf: pagination.NewLink(MemberPath(team, m.MemberID), nil),
		},
	}
}

func memberView(m *models.Member) MemberView {
	return MemberView{
		MemberID: m.MemberID,
		Name:     m.Name,
		Identity: m.Identity,
		Joined:   pagination.NewTimestamp(m.Joined),
		Parted:   pagination.NewTimestamp(m.Parted),
		Lat:      m.Lat,
		Lng:      m.Lng,
		Accuracy: m.Accuracy,
		Time:     pagination.NewTimestamp(m.Time),
	}
}

// ChatsEnvelope returns a page of chat messages. complete marks the page as
// holding the oldest message of the team.
func ChatsEnvelope(
	chats []models.Chat,
	complete bool,
	team uint,
	before *time.Time,
) pagination.Envelope {
	data := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		data = append(data, ChatView{
			ID:      c.ID,
			Time:    pagination.Timestamp(c.Time),
			Sender:  c.Sender,
			Message: c.Message,
		})
	}
	self := pagination.Options{}
	if before != nil {
		self["before"] = pagination.FormatTime(*before)
	}
	links := pagination.Links{
		pagination.LinkSelf: pagination.NewLink(ChatPath(team), self),
	}
	if len(chats) > 0 && !complete {
		links[pagination.LinkOlder] = pagination.NewLink(
			ChatPath(team),
			pagination.Options{
				"before": pagination.FormatTime(chats[len(chats)-1].Time),
			},
		)
	}
	return pagination.Envelope{Data: data, Links: links}
}

// TeamsEnvelope returns a list of teams. A nil cursor marks the live roster
// of active teams, whose older page is the newest finished teams.
func TeamsEnvelope(
	teams []*models.Team,
	cursor *pagination.Cursor,
	complete bool,
) pagination.Envelope {
	data := make([]TeamView, 0, len(teams))
	for _, t := range teams {
		data = append(data, TeamEnvelope(t).Data.(TeamView))
	}
	links := pagination.Links{}
	if cursor == nil {
		links[pagination.LinkSelf] = pagination.NewLink(TeamsPath, nil)
		links[pagination.LinkOlder] = pagination.NewLink(
			TeamsPath,
			pagination.Options{"before": pagination.Now.String()},
		)
		return pagination.Envelope{Data: data, Links: links}
	}
	links[pagination.LinkSelf] = pagination.NewLink(
		TeamsPath,
		pagination.Options{"before": cursor.String()},
	)
	if len(teams) > 0 && !complete {
		last := teams[len(teams)-1]
		links[pagination.LinkOlder] = pagination.NewLink(
			TeamsPath,
			pagination.Options{"before": pagination.FormatTime(last.OrderKey())},
		)
	}
	return pagination.Envelope{Data: data, Links: links}
}

// TeamsPageEnvelope returns a page of finished teams
func TeamsPageEnvelope(
	page pagination.Page[models.Team],
	cursor pagination.Cursor,
) pagination.Envelope {
	teams := make([]*models.Team, 0, len(page.Rows))
	for i := range page.Rows {
		teams = append(teams, &page.Rows[i])
	}
	return TeamsEnvelope(teams, &cursor, page.Last)
}

// ChatsPageEnvelope returns a page of chat history
func ChatsPageEnvelope(
	page pagination.Page[models.Chat],
	team uint,
	before time.Time,
) pagination.Envelope {
	return ChatsEnvelope(page.Rows, page.Last, team, &before)
}

// updateEnvelope returns a partial update of a resource carrying only the
// listed fields
func updateEnvelope(
	path string,
	data map[string]any,
	fields ...string,
) pagination.Envelope {
	return pagination.Envelope{
		Data: data,
		Links: pagination.Links{
			pagination.LinkSelf: pagination.NewLink(path, pagination.Fields(fields...)),
		},
	}
}
