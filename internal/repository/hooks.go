// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"time"

	"github.com/ichnaea-go/geoexport/pkg/log"
)

type ctxKey string

const hookBeginKey ctxKey = "begin"

// Hooks logs every SQL statement and its elapsed time via sqlhooks.
type Hooks struct{}

func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("sql query %s %q", query, args)
	return context.WithValue(ctx, hookBeginKey, time.Now()), nil
}

func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(hookBeginKey).(time.Time); ok {
		log.Debugf("sql took: %s", time.Since(begin))
	}
	return ctx, nil
}
