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
	"encoding/json"
	"errors"
	"fmt"
)

const (
	LinkSelf  = "self"
	LinkOlder = "older"
)

// Options are the parameters of a link, such as "before" or "fields"
type Options map[string]any

// Link is a navigation descriptor, encoded as [path, options]
type Link struct {
	Options Options
	Path    string
}

func NewLink(path string, options Options) Link {
	return Link{Path: path, Options: options}
}

func (l Link) MarshalJSON() ([]byte, error) {
	opts := l.Options
	if opts == nil {
		opts = Options{}
	}
	return json.Marshal([]any{l.Path, opts})
}

func (l *Link) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return errors.New("link must be a [path, options] pair")
	}
	if err := json.Unmarshal(raw[0], &l.Path); err != nil {
		return fmt.Errorf("link path: %w", err)
	}
	if err := json.Unmarshal(raw[1], &l.Options); err != nil {
		return fmt.Errorf("link options: %w", err)
	}
	return nil
}

type Links map[string]Link

// Envelope wraps data with its navigation links
type Envelope struct {
	Data  any   `json:"data"`
	Links Links `json:"links"`
}

// Fields returns the self link options of a partial update
func Fields(fields ...string) Options {
	return Options{"fields": fields}
}
