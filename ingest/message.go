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

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

type MessageType string

const (
	TypeStart     MessageType = "start"
	TypeEnd       MessageType = "end"
	TypeJoin      MessageType = "join"
	TypePart      MessageType = "part"
	TypeLocation  MessageType = "location"
	TypeChat      MessageType = "chat"
	TypeMagpiForm MessageType = "magpi_form"
)

// ErrInvalidMessage wraps every parse and schema failure
var ErrInvalidMessage = errors.New("invalid message")

// Times are milliseconds. Start and end times are since the Unix epoch,
// reltime values are since the team's start.

type StartBody struct {
	Time *float64 `json:"time" validate:"required,gte=0"`
	Name string   `json:"name" validate:"required"`
}

type EndBody struct {
	Time *float64 `json:"time" validate:"required,gte=0"`
}

type JoinBody struct {
	Member  *int     `json:"member"  validate:"required,gt=0"`
	Reltime *float64 `json:"reltime" validate:"required,gte=0"`
	ID      *string  `json:"id"      validate:"required"`
	Name    string   `json:"name"    validate:"required"`
}

type PartBody struct {
	Member  *int     `json:"member"  validate:"required,gt=0"`
	Reltime *float64 `json:"reltime" validate:"required,gte=0"`
}

type LocationFix struct {
	Member  *int     `json:"member"  validate:"required,gt=0"`
	Reltime *float64 `json:"reltime" validate:"required,gte=0"`
	Lat     *float64 `json:"lat"     validate:"required"`
	Lng     *float64 `json:"lng"     validate:"required"`
	Acc     *float64 `json:"acc"     validate:"required,gte=0"`
}

type LocationBody struct {
	Locations []LocationFix `json:"locations" validate:"required,dive"`
}

type ChatBody struct {
	Member  *int     `json:"member"  validate:"required,gte=0"`
	Reltime *float64 `json:"reltime" validate:"required,gte=0"`
	Message string   `json:"message" validate:"required"`
}

type MagpiFormBody struct {
	Member  *int     `json:"member"  validate:"required,gte=0"`
	Reltime *float64 `json:"reltime" validate:"required,gte=0"`
	Hexdata *string  `json:"hexdata" validate:"required,hexpairs"`
}

// Message is a validated ingress message. Body holds a pointer to the body
// type matching Type.
type Message struct {
	Body any
	Team string
	Type MessageType
}

// Member returns the member position of member-scoped messages
func (m *Message) Member() (int, bool) {
	switch b := m.Body.(type) {
	case *JoinBody:
		return *b.Member, true
	case *PartBody:
		return *b.Member, true
	case *ChatBody:
		return *b.Member, true
	case *MagpiFormBody:
		return *b.Member, true
	}
	return 0, false
}

// Reltime returns the time offset of member-scoped messages
func (m *Message) Reltime() (float64, bool) {
	switch b := m.Body.(type) {
	case *JoinBody:
		return *b.Reltime, true
	case *PartBody:
		return *b.Reltime, true
	case *ChatBody:
		return *b.Reltime, true
	case *MagpiFormBody:
		return *b.Reltime, true
	}
	return 0, false
}

var hexPairsRegexp = regexp.MustCompile(`^(?:[0-9a-f]{2})*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("hexpairs", func(fl validator.FieldLevel) bool {
		return hexPairsRegexp.MatchString(fl.Field().String())
	})
	return v
}

func newBody(t MessageType) any {
	switch t {
	case TypeStart:
		return &StartBody{}
	case TypeEnd:
		return &EndBody{}
	case TypeJoin:
		return &JoinBody{}
	case TypePart:
		return &PartBody{}
	case TypeLocation:
		return &LocationBody{}
	case TypeChat:
		return &ChatBody{}
	case TypeMagpiForm:
		return &MagpiFormBody{}
	}
	return nil
}

// ParseMessage decodes and validates one ingress message
func ParseMessage(data []byte) (*Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: message is not an object", ErrInvalidMessage)
	}
	team := root.Get("team")
	if team.Type != gjson.String || team.Str == "" {
		return nil, fmt.Errorf("%w: no team value in message", ErrInvalidMessage)
	}
	msgType := root.Get("type")
	if msgType.Type != gjson.String {
		return nil, fmt.Errorf("%w: no type value in message", ErrInvalidMessage)
	}
	msg := &Message{Team: team.Str, Type: MessageType(msgType.Str)}
	msg.Body = newBody(msg.Type)
	if msg.Body == nil {
		return nil, fmt.Errorf(
			"%w: unknown message type %s",
			ErrInvalidMessage,
			msgType.Str,
		)
	}
	if err := json.Unmarshal(data, msg.Body); err != nil {
		return nil, fmt.Errorf("%w: %s message: %w", ErrInvalidMessage, msg.Type, err)
	}
	if err := validate.Struct(msg.Body); err != nil {
		return nil, fmt.Errorf("%w: %s message: %w", ErrInvalidMessage, msg.Type, err)
	}
	return msg, nil
}

// msTime converts milliseconds since the Unix epoch
func msTime(ms float64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// relTime resolves a time relative to a team's start
func relTime(epoch time.Time, reltime float64) time.Time {
	return epoch.Add(time.Duration(reltime * float64(time.Millisecond)))
}
