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

package sqlite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemory(t *testing.T) {
	db, err := New("").Open(nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER)").Error)
}

func TestOpenDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	db, err := New(dir).Open(nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER)").Error)
	require.NoError(t, sqlDB.Close())
	_, err = os.Stat(filepath.Join(dir, dbFileName))
	require.NoError(t, err)
}
