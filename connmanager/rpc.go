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

package connmanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
)

const (
	respondType = "rpc-response"
	pushType    = "push"

	StatusOK   = "ok"
	StatusFail = "fail"

	unknownCommandMessage = "unknown rpc command or lack of authorisation"
	unknownPathMessage    = "not found or lack of authorisation"
	invalidRequestMessage = "invalid request"
)

var (
	ErrInvalidEnvelope = errors.New("invalid rpc envelope")
	ErrUnknownCommand  = errors.New("unknown rpc command")
)

// RPCError is answered to the client as a fail response carrying Message
type RPCError struct {
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// Fail returns an error answered to the client as a fail response
func Fail(message string) error {
	return &RPCError{Message: message}
}

// parseEnvelope validates a client request of the form
// [command, payload, id]
func parseEnvelope(data []byte) (string, json.RawMessage, int64, error) {
	var env []json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, 0, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if len(env) != 3 {
		return "", nil, 0, fmt.Errorf("%w: expected 3 elements, got %d", ErrInvalidEnvelope, len(env))
	}
	var cmd string
	if err := json.Unmarshal(env[0], &cmd); err != nil || cmd == "" {
		return "", nil, 0, fmt.Errorf("%w: bad command", ErrInvalidEnvelope)
	}
	var id float64
	if err := json.Unmarshal(env[2], &id); err != nil || id != math.Trunc(id) ||
		math.Abs(id) > 1<<53 {
		return "", nil, 0, fmt.Errorf("%w: bad request id", ErrInvalidEnvelope)
	}
	return cmd, env[1], int64(id), nil
}

// PathMatcher matches a get path, returning any submatches
type PathMatcher func(path string) ([]string, bool)

func ExactPath(p string) PathMatcher {
	return func(path string) ([]string, bool) {
		return nil, path == p
	}
}

func PathFunc(f func(string) bool) PathMatcher {
	return func(path string) ([]string, bool) {
		return nil, f(path)
	}
}

func PathPattern(re *regexp.Regexp) PathMatcher {
	return func(path string) ([]string, bool) {
		m := re.FindStringSubmatch(path)
		return m, m != nil
	}
}

// GetRequest is a get command routed to a path handler
type GetRequest struct {
	Options map[string]json.RawMessage
	Path    string
	// Match holds the submatches of a pattern matcher
	Match []string
}
