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

package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succinct-tracker/succinct/database/models"
	"github.com/succinct-tracker/succinct/internal/test/testutil"
	"github.com/succinct-tracker/succinct/pagination"
)

func ms(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func TestTeamLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDatabase(t)

	_, err := db.TeamByTeamID(ctx, "abc123", false)
	require.ErrorIs(t, err, models.ErrTeamNotFound)

	// Row created by ingress before the start message
	require.NoError(t, db.DB().Create(&models.Team{TeamID: "abc123"}).Error)
	team, err := db.TeamByTeamID(ctx, "abc123", false)
	require.NoError(t, err)
	assert.Nil(t, team.Started)
	active, err := db.ActiveTeams(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, db.TeamStart(ctx, "abc123", "Foxes", ms(1000)))
	team, err = db.TeamByTeamID(ctx, "abc123", true)
	require.NoError(t, err)
	require.NotNil(t, team.Started)
	assert.True(t, team.Started.Equal(ms(1000)))
	assert.Equal(t, "Foxes", team.Name)
	assert.True(t, team.Active())
	assert.Empty(t, team.Members)
	assert.Empty(t, team.Chats)
	assert.True(t, team.ChatsComplete)

	require.NoError(t, db.TeamStart(ctx, "other", "Wolves", ms(2000)))
	active, err = db.ActiveTeams(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "abc123", active[0].TeamID)

	require.NoError(t, db.TeamEnd(ctx, team.ID, ms(5000)))
	team, err = db.TeamByTeamID(ctx, "abc123", false)
	require.NoError(t, err)
	require.NotNil(t, team.Finished)
	assert.True(t, team.Finished.Equal(ms(5000)))
	assert.False(t, team.Active())
	require.ErrorIs(t, db.TeamEnd(ctx, 9999, ms(5000)), models.ErrTeamNotFound)
}

func TestMemberLocations(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDatabase(t)
	require.NoError(t, db.TeamStart(ctx, "t1", "Team", ms(0)))
	team, err := db.TeamByTeamID(ctx, "t1", false)
	require.NoError(t, err)

	// Locations that arrive before the join
	_, err = db.AddLocation(ctx, team.ID, 2, 1, 1, 5, ms(300), false)
	require.NoError(t, err)
	_, err = db.AddLocation(ctx, team.ID, 2, 2, 2, 5, ms(500), false)
	require.NoError(t, err)
	newest, err := db.AddLocation(ctx, team.ID, 2, 3, 3, 5, ms(500), false)
	require.NoError(t, err)

	_, err = db.MemberByPos(ctx, team.ID, 2)
	require.ErrorIs(t, err, models.ErrMemberNotFound)

	require.NoError(t, db.MemberJoin(ctx, team.ID, 2, "Alice", "A1", ms(100)))
	member, err := db.MemberByPos(ctx, team.ID, 2)
	require.NoError(t, err)
	assert.Nil(t, member.LastLocation)
	assert.Nil(t, member.Lat)

	require.NoError(t, db.MemberFixLastLocation(ctx, team.ID, 2))
	member, err = db.MemberByPos(ctx, team.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, member.LastLocation)
	assert.Equal(t, newest, *member.LastLocation)
	require.NotNil(t, member.Lat)
	assert.InDelta(t, 3.0, *member.Lat, 0.0001)
	require.NotNil(t, member.Time)
	assert.True(t, member.Time.Equal(ms(500)))

	current, err := db.AddLocation(ctx, team.ID, 2, -34.9, 138.6, 5, ms(1050), true)
	require.NoError(t, err)
	member, err = db.MemberByPos(ctx, team.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, current, *member.LastLocation)
	locTime, err := db.LocationTime(ctx, current)
	require.NoError(t, err)
	assert.True(t, locTime.Equal(ms(1050)))
	_, err = db.LocationTime(ctx, 9999)
	require.ErrorIs(t, err, models.ErrLocationNotFound)

	require.NoError(t, db.MemberPart(ctx, team.ID, 2, ms(2000)))
	member, err = db.MemberByPos(ctx, team.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, member.Parted)
	assert.True(t, member.Parted.Equal(ms(2000)))
	require.ErrorIs(t, db.MemberPart(ctx, team.ID, 7, ms(2000)), models.ErrMemberNotFound)

	// Filled team data carries the member with its current fix
	filled, err := db.TeamByTeamID(ctx, "t1", true)
	require.NoError(t, err)
	require.Len(t, filled.Members, 1)
	assert.InDelta(t, -34.9, *filled.Members[0].Lat, 0.0001)
}

func TestChatsBeforeCollision(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDatabase(t)
	require.NoError(t, db.TeamStart(ctx, "t1", "Team", ms(0)))
	team, err := db.TeamByTeamID(ctx, "t1", false)
	require.NoError(t, err)

	var ids []uint
	for _, v := range []int64{3, 5, 5, 5} {
		id, err := db.InsertChat(ctx, team.ID, 1, "hello", ms(v))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page, err := db.ChatsBefore(ctx, team.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page.Rows, 3)
	assert.Equal(t, []uint{ids[3], ids[2], ids[1]}, []uint{
		page.Rows[0].ID, page.Rows[1].ID, page.Rows[2].ID,
	})
	oldest, ok := page.Oldest()
	require.True(t, ok)
	assert.True(t, oldest.Equal(ms(5)))

	page, err = db.ChatsBefore(ctx, team.ID, &oldest, 2)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, ids[0], page.Rows[0].ID)
	assert.True(t, page.Last)

	// The team preload is a page of one
	filled, err := db.TeamByTeamID(ctx, "t1", true)
	require.NoError(t, err)
	assert.Len(t, filled.Chats, 3)
	assert.False(t, filled.ChatsComplete)
}

func TestTeamsBefore(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDatabase(t)
	finish := map[string]int64{"a": 10, "b": 20, "c": 20, "d": 30}
	for _, name := range []string{"a", "b", "c", "d", "active"} {
		require.NoError(t, db.TeamStart(ctx, name, name, ms(1)))
		if v, ok := finish[name]; ok {
			team, err := db.TeamByTeamID(ctx, name, false)
			require.NoError(t, err)
			require.NoError(t, db.TeamEnd(ctx, team.ID, ms(v)))
		}
	}

	page, err := db.TeamsBefore(ctx, pagination.Now, 2)
	require.NoError(t, err)
	var names []string
	for _, team := range page.Rows {
		names = append(names, team.TeamID)
	}
	assert.Equal(t, []string{"d", "c", "b"}, names)
	assert.False(t, page.Last)

	oldest, ok := page.Oldest()
	require.True(t, ok)
	page, err = db.TeamsBefore(ctx, pagination.At(oldest), 2)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "a", page.Rows[0].TeamID)
	assert.True(t, page.Last)
	assert.NotNil(t, page.Rows[0].Members)
}
