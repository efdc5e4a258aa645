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

package mysql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/succinct-tracker/succinct/database/plugin"
)

// Mysql opens a MySQL database
type Mysql struct {
	host     string
	port     uint
	user     string
	password string
	database string
	sslMode  string
	dsn      string // Data source name (MySQL connection string)
}

// DSN returns the connection string, built from the individual options
// unless a full DSN was given
func (m *Mysql) DSN() string {
	if dsn := strings.TrimSpace(m.dsn); dsn != "" {
		return dsn
	}
	cfg := mysql.NewConfig()
	cfg.User = m.user
	cfg.Passwd = m.password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf(
		"%s:%s",
		m.host,
		strconv.FormatUint(uint64(m.port), 10),
	)
	cfg.DBName = m.database
	cfg.ParseTime = true
	cfg.AllowNativePasswords = true
	// Timestamps are always stored and read back in UTC
	cfg.Loc = time.UTC
	if m.sslMode != "" {
		cfg.TLSConfig = m.sslMode
	}
	return cfg.FormatDSN()
}

// Open implements the plugin.Plugin interface
func (m *Mysql) Open(logger plugin.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(
		gormmysql.Open(m.DSN()),
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
			"connected to mysql database",
			"host", m.host,
			"port", m.port,
			"database", m.database,
		)
	}
	return db, nil
}
