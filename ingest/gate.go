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

package ingest

import "strconv"

type GateKind int

const (
	// GateLock is held while a start, end, join or part message is dispatched
	GateLock GateKind = iota
	// GateTeamStarted fires when a team's start message is applied
	GateTeamStarted
	// GateMemberJoined fires when a member's join message is applied
	GateMemberJoined
)

// Gate names a condition that deferred messages wait on
type Gate struct {
	Team   string
	Type   MessageType
	Member int
	Kind   GateKind
}

func (g Gate) String() string {
	switch g.Kind {
	case GateLock:
		if g.Type == TypeJoin || g.Type == TypePart {
			return "unlock/" + g.Team + "/" + string(g.Type) + "/" + strconv.Itoa(g.Member)
		}
		return "unlock/" + g.Team + "/" + string(g.Type)
	case GateTeamStarted:
		return "started/" + g.Team
	case GateMemberJoined:
		return "joined/" + g.Team + "/" + strconv.Itoa(g.Member)
	}
	return "gate/" + strconv.Itoa(int(g.Kind))
}

// lockGate returns the lock a message must hold while it is dispatched
func lockGate(msg *Message) (Gate, bool) {
	switch msg.Type {
	case TypeStart, TypeEnd:
		return Gate{Kind: GateLock, Team: msg.Team, Type: msg.Type}, true
	case TypeJoin, TypePart:
		member, _ := msg.Member()
		return Gate{
			Kind:   GateLock,
			Team:   msg.Team,
			Type:   msg.Type,
			Member: member,
		}, true
	}
	return Gate{}, false
}

func startedGate(team string) Gate {
	return Gate{Kind: GateTeamStarted, Team: team}
}

func joinedGate(team string, member int) Gate {
	return Gate{Kind: GateMemberJoined, Team: team, Member: member}
}
