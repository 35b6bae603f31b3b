// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestUserRepo(t *testing.T) *UserRepository {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE user (id INTEGER PRIMARY KEY AUTOINCREMENT, nickname TEXT UNIQUE NOT NULL)`)
	require.NoError(t, err)
	return &UserRepository{DB: db}
}

func TestEnsureUserCreatesOnFirstSeen(t *testing.T) {
	repo := newTestUserRepo(t)

	id, ok, err := repo.EnsureUser("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotZero(t, id)
}

func TestEnsureUserReturnsExistingIDOnRepeat(t *testing.T) {
	repo := newTestUserRepo(t)

	id1, ok, err := repo.EnsureUser("alice")
	require.NoError(t, err)
	require.True(t, ok)

	id2, ok, err := repo.EnsureUser("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id1, id2)
}

func TestEnsureUserRejectsOutOfWindowNickname(t *testing.T) {
	repo := newTestUserRepo(t)

	_, ok, err := repo.EnsureUser("a")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = repo.EnsureUser("")
	require.NoError(t, err)
	require.False(t, ok)
}
