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

package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/succinct-tracker/succinct/database/models"
	"github.com/succinct-tracker/succinct/database/plugin"
	// Register database plugins
	_ "github.com/succinct-tracker/succinct/database/plugin/mysql"
	_ "github.com/succinct-tracker/succinct/database/plugin/postgres"
	_ "github.com/succinct-tracker/succinct/database/plugin/sqlite"
)

const DefaultPlugin = "sqlite"

// Config holds the database configuration
type Config struct {
	Logger *slog.Logger
	// Plugin is the name of the registered database plugin to open
	Plugin string
	// DB is an already opened connection, used instead of Plugin when set
	DB *gorm.DB
	// SkipMigrate disables schema creation on startup
	SkipMigrate bool
}

// Database is the persistent store for teams, members, locations and chat
type Database struct {
	logger *slog.Logger
	db     *gorm.DB
}

// New opens the configured database and creates the table schemas
func New(config *Config) (*Database, error) {
	if config == nil {
		config = &Config{}
	}
	d := &Database{
		logger: config.Logger,
		db:     config.DB,
	}
	if d.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	d.logger = d.logger.With("component", "database")
	if d.db == nil {
		pluginName := config.Plugin
		if pluginName == "" {
			pluginName = DefaultPlugin
		}
		db, err := plugin.OpenPlugin(pluginName, d.logger)
		if err != nil {
			return nil, err
		}
		d.db = db
	}
	if err := d.init(config.SkipMigrate); err != nil {
		// Database is available for recovery, so return it with error
		return d, err
	}
	return d, nil
}

func (d *Database) init(skipMigrate bool) error {
	// Configure tracing for GORM
	if err := d.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return err
	}
	if skipMigrate {
		return nil
	}
	// Create table schemas
	for _, model := range models.MigrateModels {
		d.logger.Debug(fmt.Sprintf("creating table: %T", model))
		if err := d.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}

// DB returns the underlying gorm handle
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Close cleans up the database connections
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// notFound maps gorm's missing-record error to the given sentinel
func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// dbTime normalizes a timestamp to the stored precision
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
