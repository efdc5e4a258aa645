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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/succinct-tracker/succinct/database/plugin"
)

const dbFileName = "succinct.sqlite"

// Sqlite opens a SQLite database, in memory when no data directory is set
type Sqlite struct {
	dataDir string
	dsn     string
}

// New returns a plugin for the given data directory
func New(dataDir string) *Sqlite {
	return &Sqlite{dataDir: dataDir}
}

// NewWithDSN returns a plugin for an explicit DSN
func NewWithDSN(dsn string) *Sqlite {
	return &Sqlite{dsn: dsn}
}

// Open implements the plugin.Plugin interface
func (s *Sqlite) Open(logger plugin.Logger) (*gorm.DB, error) {
	dsn := strings.TrimSpace(s.dsn)
	inMemory := false
	switch {
	case dsn != "":
		inMemory = strings.Contains(dsn, "memory")
	case s.dataDir == "":
		// cache=shared allows multiple connections to share the same in-memory database
		dsn = "file::memory:?cache=shared"
		inMemory = true
	default:
		// Make sure that we can read data dir, and create if it doesn't exist
		if _, err := os.Stat(s.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(s.dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		// WAL journal mode, wait on locks rather than failing immediately
		connOpts := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		dsn = fmt.Sprintf(
			"file:%s?%s",
			filepath.Join(s.dataDir, dbFileName),
			connOpts,
		)
	}
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, err
	}
	if inMemory {
		// A single connection serializes access to the shared in-memory
		// database and keeps it alive for the lifetime of the pool
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if logger != nil {
		logger.Info(
			"opened sqlite database",
			"data_dir", s.dataDir,
			"in_memory", inMemory,
		)
	}
	return db, nil
}
