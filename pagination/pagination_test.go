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

package pagination

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRow struct {
	t  time.Time
	id uint
}

func (r testRow) OrderKey() time.Time { return r.t }

func (r testRow) TieKey() uint { return r.id }

// sliceSource serves rows from memory with the ordering a store would apply
type sliceSource struct {
	rows    []testRow
	queries int
}

func (s *sliceSource) sorted() []testRow {
	ret := slices.Clone(s.rows)
	slices.SortFunc(ret, func(a, b testRow) int {
		if c := b.t.Compare(a.t); c != 0 {
			return c
		}
		return int(b.id) - int(a.id)
	})
	return ret
}

func (s *sliceSource) Older(
	_ context.Context,
	before *time.Time,
	limit int,
) ([]testRow, error) {
	s.queries++
	var ret []testRow
	for _, row := range s.sorted() {
		if before != nil && !row.t.Before(*before) {
			continue
		}
		ret = append(ret, row)
		if len(ret) == limit {
			break
		}
	}
	return ret, nil
}

func (s *sliceSource) At(
	_ context.Context,
	at time.Time,
	exclude []uint,
) ([]testRow, error) {
	s.queries++
	var ret []testRow
	for _, row := range s.sorted() {
		if row.t.Equal(at) && !slices.Contains(exclude, row.id) {
			ret = append(ret, row)
		}
	}
	return ret, nil
}

func ts(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func ids(rows []testRow) []uint {
	ret := make([]uint, 0, len(rows))
	for _, row := range rows {
		ret = append(ret, row.id)
	}
	return ret
}

func TestFetchBoundaryCollision(t *testing.T) {
	src := &sliceSource{rows: []testRow{
		{id: 10, t: ts(5)},
		{id: 9, t: ts(5)},
		{id: 8, t: ts(5)},
		{id: 7, t: ts(3)},
	}}
	page, err := Fetch[testRow](context.Background(), src, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint{10, 9, 8}, ids(page.Rows))
	assert.False(t, page.Last)
	oldest, ok := page.Oldest()
	require.True(t, ok)
	assert.True(t, oldest.Equal(ts(5)))
	assert.Equal(t, 2, src.queries)

	next, err := Fetch[testRow](context.Background(), src, &oldest, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, ids(next.Rows))
	assert.True(t, next.Last)
}

func TestFetchCases(t *testing.T) {
	tests := []struct {
		name     string
		rows     []testRow
		size     int
		expected []uint
		last     bool
		queries  int
	}{
		{
			name:    "empty",
			size:    2,
			last:    true,
			queries: 1,
		},
		{
			name:     "short page",
			rows:     []testRow{{id: 1, t: ts(1)}, {id: 2, t: ts(2)}},
			size:     5,
			expected: []uint{2, 1},
			last:     true,
			queries:  1,
		},
		{
			name: "extra row dropped",
			rows: []testRow{
				{id: 1, t: ts(1)},
				{id: 2, t: ts(2)},
				{id: 3, t: ts(3)},
			},
			size:     2,
			expected: []uint{3, 2},
			queries:  1,
		},
		{
			name: "all rows share the timestamp",
			rows: []testRow{
				{id: 1, t: ts(7)},
				{id: 2, t: ts(7)},
				{id: 3, t: ts(7)},
				{id: 4, t: ts(7)},
			},
			size:     1,
			expected: []uint{4, 3, 2, 1},
			queries:  2,
		},
		{
			name: "same timestamp tie broken by id",
			rows: []testRow{
				{id: 5, t: ts(9)},
				{id: 6, t: ts(9)},
			},
			size:     2,
			expected: []uint{6, 5},
			last:     true,
			queries:  1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			src := &sliceSource{rows: test.rows}
			page, err := Fetch[testRow](context.Background(), src, nil, test.size)
			require.NoError(t, err)
			if test.expected == nil {
				assert.Empty(t, page.Rows)
			} else {
				assert.Equal(t, test.expected, ids(page.Rows))
			}
			assert.Equal(t, test.last, page.Last)
			assert.Equal(t, test.queries, src.queries)
		})
	}
}

func TestFetchInvalidSize(t *testing.T) {
	_, err := Fetch[testRow](context.Background(), &sliceSource{}, nil, 0)
	require.ErrorIs(t, err, ErrInvalidPageSize)
}

func TestFetchSourceError(t *testing.T) {
	boom := errors.New("boom")
	src := SourceFuncs[testRow]{
		OlderFunc: func(context.Context, *time.Time, int) ([]testRow, error) {
			return []testRow{{id: 2, t: ts(1)}, {id: 1, t: ts(1)}}, nil
		},
		AtFunc: func(context.Context, time.Time, []uint) ([]testRow, error) {
			return nil, boom
		},
	}
	_, err := Fetch[testRow](context.Background(), src, nil, 1)
	require.ErrorIs(t, err, boom)
}

// Walking the older cursor visits every row exactly once, whatever the
// distribution of timestamps
func TestFetchCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := range 200 {
		count := rng.Intn(40)
		spread := int64(rng.Intn(8) + 1)
		src := &sliceSource{}
		for i := range count {
			src.rows = append(src.rows, testRow{
				id: uint(i + 1),
				t:  ts(rng.Int63n(spread)),
			})
		}
		size := rng.Intn(5) + 1
		seen := make(map[uint]int)
		var before *time.Time
		for pages := 0; ; pages++ {
			require.Less(t, pages, count+2, "iteration %d did not terminate", iter)
			page, err := Fetch[testRow](context.Background(), src, before, size)
			require.NoError(t, err)
			for _, row := range page.Rows {
				seen[row.id]++
			}
			oldest, ok := page.Oldest()
			if !ok {
				break
			}
			before = &oldest
		}
		require.Len(t, seen, count, "iteration %d", iter)
		for id, n := range seen {
			require.Equal(t, 1, n, "iteration %d: row %d seen %d times", iter, id, n)
		}
	}
}
