// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository holds the relational persistence layer: the user
// table backing process_user/process_score (spec.md §4.H steps 6-7).
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/ichnaea-go/geoexport/pkg/log"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection wraps the shared database handle.
type DBConnection struct {
	DB     *sqlx.DB
	Driver string
}

// Connect opens the database exactly once; subsequent calls are no-ops.
// Only sqlite3 is supported: the pipeline's persistence needs are limited
// to a single user/score table, and sqlite is what the teacher reaches for
// in its own single-writer embedded deployments.
func Connect(driver, dsn string) error {
	var err error
	dbConnOnce.Do(func() {
		var dbHandle *sqlx.DB
		switch driver {
		case "sqlite3":
			sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
			dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", dsn))
			if err != nil {
				return
			}
			// sqlite does not multithread; more than one connection just
			// waits for locks.
			dbHandle.SetMaxOpenConns(1)
		default:
			err = fmt.Errorf("repository: unsupported database driver %q", driver)
			return
		}
		dbConnInstance = &DBConnection{DB: dbHandle, Driver: driver}
	})
	return err
}

// ConnectDB registers an already-open handle, for tests.
func ConnectDB(driver string, db *sqlx.DB) {
	dbConnOnce.Do(func() {
		dbConnInstance = &DBConnection{DB: db, Driver: driver}
	})
}

// GetConnection returns the process-wide connection.
func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		log.Fatal("repository: database connection not initialized")
	}
	return dbConnInstance
}
