// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import "errors"

// RetriableError marks a sink error the uploader should retry (spec.md §7:
// I/O errors, HTTP transport errors, non-2xx status, object-store
// client/server errors). Any other error returned by a sink is treated as
// non-retriable and propagated immediately, losing the batch.
type RetriableError struct {
	Err error
}

func (e *RetriableError) Error() string { return e.Err.Error() }

func (e *RetriableError) Unwrap() error { return e.Err }

// Retriable wraps err as a RetriableError.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return &RetriableError{Err: err}
}

// IsRetriable reports whether err (or something it wraps) is a
// RetriableError.
func IsRetriable(err error) bool {
	var r *RetriableError
	return errors.As(err, &r)
}
