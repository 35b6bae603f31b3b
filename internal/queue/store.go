// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package queue implements the DataQueue abstraction of SPEC_FULL.md §4.A:
// a named, batch-aware queue backed by a shared key/value store with list
// semantics, atomic dequeue, and size/readiness checks.
package queue

import (
	"context"
	"time"
)

// Store is the shared key/value backing store DataQueue is built on. It
// provides list semantics (RPush/PopAll) plus the primitives needed for
// readiness checks and for the object-store export queue's partition
// enumeration (scanning keys under a common prefix).
//
// PopAll must be atomic: once it returns a non-empty slice, no other caller
// will ever observe any of those items again, and no item enqueued after
// the pop started is silently dropped.
type Store interface {
	// RPush appends items (opaque, already-encoded) to the list at key,
	// recording key's first-push time if it doesn't have one yet.
	RPush(ctx context.Context, key string, items [][]byte) error

	// PopAll atomically returns and removes every item at key, and
	// clears the recorded first-push time.
	PopAll(ctx context.Context, key string) ([][]byte, error)

	// Len returns the number of items currently at key.
	Len(ctx context.Context, key string) (int64, error)

	// Age returns how long the oldest still-queued item at key has been
	// waiting, and false if key is empty or has no recorded push time.
	Age(ctx context.Context, key string) (time.Duration, bool, error)

	// ScanKeys returns every live key matching the given "prefix*" glob,
	// used to enumerate partitions of the object-store export queue.
	ScanKeys(ctx context.Context, prefix string) ([]string, error)

	// NewPipeline returns a batching handle: RPush calls queued against it
	// are only sent to the store when Commit is called.
	NewPipeline() Pipeline
}

// Pipeline is a scoped batching handle (SPEC_FULL.md §9 "Pipeline
// object"): acquired at job start, flushed exactly once via Commit before
// the job returns, discarded (never committed) on error.
type Pipeline interface {
	RPush(ctx context.Context, key string, items [][]byte)
	Commit(ctx context.Context) error
}
