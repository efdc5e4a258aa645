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

package succinct

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid auth token")

type authRequest struct {
	Token string `json:"token"`
}

// authenticate checks the token of an auth command. Without a configured
// secret every auth command is accepted.
func (n *Node) authenticate(_ context.Context, payload json.RawMessage) error {
	if len(n.config.authSecret) == 0 {
		return nil
	}
	var req authRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Token == "" {
		return fmt.Errorf("%w: missing token", ErrInvalidToken)
	}
	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(
		req.Token,
		claims,
		func(*jwt.Token) (any, error) {
			return n.config.authSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !tkn.Valid {
		return ErrInvalidToken
	}
	return nil
}
