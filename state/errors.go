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
	"errors"
	"fmt"
)

// ErrInvariant is returned (wrapped in an InvariantError) when an operation
// is requested against a team or member in an incompatible state. Retrying
// such an operation cannot succeed.
var ErrInvariant = errors.New("invariant violation")

type InvariantError struct {
	Op     string
	Team   string
	Reason string
	State  Lifecycle
	Member int
}

func (e *InvariantError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s/%d: %s", e.Op, e.Team, e.Member, e.Reason)
	}
	return fmt.Sprintf(
		"unexpected team state for %s: %s (team %s)",
		e.Op,
		e.State,
		e.Team,
	)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

func stateError(op string, team string, state Lifecycle) error {
	return &InvariantError{Op: op, Team: team, State: state}
}

func memberError(op string, team string, member int, reason string) error {
	return &InvariantError{Op: op, Team: team, Member: member, Reason: reason}
}
