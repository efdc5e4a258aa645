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

package event

// PushEventType carries changes to team state for live clients
const PushEventType EventType = "push"

// Push is a partial or full update of the resource at Path
type Push struct {
	Payload any
	Path    string
}

func NewPushEvent(path string, payload any) Event {
	return NewEvent(PushEventType, Push{Path: path, Payload: payload})
}
