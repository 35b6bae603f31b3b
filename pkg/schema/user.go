// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// User is a row of the `user` table: a stable identity behind a submitted
// nickname, credited with contribution scores.
type User struct {
	ID       int64  `json:"id" db:"id"`
	Nickname string `json:"nickname" db:"nickname"`
}

// NicknameWindowMin and NicknameWindowMax bound the nickname length that
// resolves to a stable userid (spec.md §3 invariants, §4.H step 2).
const (
	NicknameWindowMin = 2
	NicknameWindowMax = 128
)

// NicknameInWindow reports whether nickname is eligible for user
// resolution.
func NicknameInWindow(nickname string) bool {
	n := len([]rune(nickname))
	return n >= NicknameWindowMin && n <= NicknameWindowMax
}
