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
	"fmt"
	"time"
)

const DefaultPageSize = 20

var ErrInvalidPageSize = errors.New("invalid page size")

// Row is a record in a time-ordered series. Rows are ordered newest first by
// OrderKey, with TieKey breaking ties (also descending).
type Row interface {
	OrderKey() time.Time
	TieKey() uint
}

// Source provides the two queries needed to build a page.
type Source[T Row] interface {
	// Older returns up to limit rows with OrderKey strictly before the given
	// time (or all rows when before is nil), ordered by OrderKey then TieKey,
	// both descending
	Older(ctx context.Context, before *time.Time, limit int) ([]T, error)
	// At returns every row with OrderKey equal to at whose TieKey is not in
	// exclude
	At(ctx context.Context, at time.Time, exclude []uint) ([]T, error)
}

// SourceFuncs adapts a pair of functions to the Source interface
type SourceFuncs[T Row] struct {
	OlderFunc func(ctx context.Context, before *time.Time, limit int) ([]T, error)
	AtFunc    func(ctx context.Context, at time.Time, exclude []uint) ([]T, error)
}

func (s SourceFuncs[T]) Older(
	ctx context.Context,
	before *time.Time,
	limit int,
) ([]T, error) {
	return s.OlderFunc(ctx, before, limit)
}

func (s SourceFuncs[T]) At(
	ctx context.Context,
	at time.Time,
	exclude []uint,
) ([]T, error) {
	return s.AtFunc(ctx, at, exclude)
}

// Page is one page of a series. Last is set when no older page exists.
type Page[T Row] struct {
	Rows []T
	Last bool
}

// Oldest returns the OrderKey of the final row and whether an older page
// exists that starts from it
func (p Page[T]) Oldest() (time.Time, bool) {
	if p.Last || len(p.Rows) == 0 {
		return time.Time{}, false
	}
	return p.Rows[len(p.Rows)-1].OrderKey(), true
}

// Fetch returns the page of rows older than before. The page holds size rows
// unless the row after the page boundary shares its timestamp, in which case
// every row with that timestamp is included, so the next page (anchored at
// that timestamp) never repeats or skips one.
func Fetch[T Row](
	ctx context.Context,
	src Source[T],
	before *time.Time,
	size int,
) (Page[T], error) {
	if size < 1 {
		return Page[T]{}, fmt.Errorf("%w: %d", ErrInvalidPageSize, size)
	}
	limit := size + 1
	rows, err := src.Older(ctx, before, limit)
	if err != nil {
		return Page[T]{}, err
	}
	if len(rows) < limit {
		return Page[T]{Rows: rows, Last: true}, nil
	}
	last := rows[len(rows)-1].OrderKey()
	if !rows[len(rows)-2].OrderKey().Equal(last) {
		return Page[T]{Rows: rows[:len(rows)-1]}, nil
	}
	// Collision on the boundary timestamp
	var exclude []uint
	for _, row := range rows {
		if row.OrderKey().Equal(last) {
			exclude = append(exclude, row.TieKey())
		}
	}
	more, err := src.At(ctx, last, exclude)
	if err != nil {
		return Page[T]{}, err
	}
	return Page[T]{Rows: append(rows, more...)}, nil
}
