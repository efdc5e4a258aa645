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
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/succinct-tracker/succinct/database/plugin"
)

// Postgres opens a PostgreSQL database
type Postgres struct {
	host     string
	port     uint
	user     string
	password string
	database string
	sslMode  string
	dsn      string // Data source name (postgres connection string)
}

// DSN returns the connection string, built from the individual options
// unless a full DSN was given
func (p *Postgres) DSN() string {
	if dsn := strings.TrimSpace(p.dsn); dsn != "" {
		return dsn
	}
	parts := []string{
		"host=" + p.host,
		"user=" + p.user,
		"password=" + p.password,
		"dbname=" + p.database,
		"port=" + strconv.FormatUint(uint64(p.port), 10),
		"sslmode=" + p.sslMode,
		"TimeZone=UTC",
	}
	return strings.Join(parts, " ")
}

// Open implements the plugin.Plugin interface
func (p *Postgres) Open(logger plugin.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(
		postgres.Open(p.DSN()),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
			PrepareStmt:            true,
		},
	)
	if err != nil {
		return nil, err
	}
	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if logger != nil {
		logger.Info(
			"connected to postgres database",
			"host", p.host,
			"port", p.port,
			"database", p.database,
		)
	}
	return db, nil
}
