// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"errors"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/ichnaea-go/geoexport/pkg/log"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

var (
	userRepoOnce     sync.Once
	userRepoInstance *UserRepository
)

// UserRepository resolves nicknames to user ids, auto-creating users the
// first time a nickname is seen (spec.md §4.H step 6, process_user).
type UserRepository struct {
	DB *sqlx.DB
}

// GetUserRepository returns the process-wide repository singleton.
func GetUserRepository() *UserRepository {
	userRepoOnce.Do(func() {
		db := GetConnection()
		userRepoInstance = &UserRepository{DB: db.DB}
	})
	return userRepoInstance
}

// EnsureUser resolves nickname to a user id, creating the row if it does
// not exist yet. It returns ok=false without touching the database when
// nickname falls outside the accepted length window.
func (r *UserRepository) EnsureUser(nickname string) (userid int64, ok bool, err error) {
	if !schema.NicknameInWindow(nickname) {
		return 0, false, nil
	}

	var existing int64
	err = sq.Select("id").From("user").Where(sq.Eq{"nickname": nickname}).
		RunWith(r.DB).QueryRow().Scan(&existing)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		log.Warnf("repository: querying user %q: %v", nickname, err)
		return 0, false, err
	}

	res, err := sq.Insert("user").Columns("nickname").Values(nickname).RunWith(r.DB).Exec()
	if err != nil {
		log.Errorf("repository: inserting new user %q: %v", nickname, err)
		return 0, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	log.Infof("repository: created new user %q (id %d)", nickname, id)
	return id, true, nil
}
