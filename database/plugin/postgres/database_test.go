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

package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succinct-tracker/succinct/database/plugin"
)

func TestDSNFromOptions(t *testing.T) {
	p := &Postgres{
		host:     "db.local",
		port:     5433,
		user:     "tracker",
		password: "secret",
		database: "succinct",
		sslMode:  "require",
	}
	assert.Equal(
		t,
		"host=db.local user=tracker password=secret dbname=succinct port=5433 sslmode=require TimeZone=UTC",
		p.DSN(),
	)
}

func TestRegisteredDefaults(t *testing.T) {
	p, ok := plugin.GetPlugin("postgres").(*Postgres)
	require.True(t, ok)
	assert.Equal(t, "localhost", p.host)
	assert.Equal(t, uint(5432), p.port)
	assert.Equal(t, "disable", p.sslMode)
}
