// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package queue

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// DataQueue is a named, batch-aware queue bound to one partition key of a
// Store: SPEC_FULL.md §4.A. Items are JSON-encoded and, if Compress is
// set, gzip-compressed before being handed to the Store.
type DataQueue struct {
	Store    Store
	Key      string
	Batch    int
	TTL      time.Duration
	Compress bool
}

// New returns a DataQueue bound to key, with the given batch-size
// threshold and TTL. A zero TTL disables the age-based readiness check.
func New(store Store, key string, batch int, ttl time.Duration, compress bool) *DataQueue {
	return &DataQueue{Store: store, Key: key, Batch: batch, TTL: ttl, Compress: compress}
}

func (q *DataQueue) encode(item interface{}) ([]byte, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("queue: encode item: %w", err)
	}
	if !q.Compress {
		return raw, nil
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, fmt.Errorf("queue: gzip item: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("queue: gzip item: %w", err)
	}
	return buf.Bytes(), nil
}

func (q *DataQueue) decode(raw []byte) (json.RawMessage, error) {
	if !q.Compress {
		return json.RawMessage(raw), nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("queue: gunzip item: %w", err)
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("queue: gunzip item: %w", err)
	}
	return json.RawMessage(out), nil
}

// Enqueue appends items, encoding each one. If pipe is non-nil, the write
// is only queued on it (the caller commits once, batching the round trip);
// otherwise it is sent to the Store immediately.
func (q *DataQueue) Enqueue(ctx context.Context, items []interface{}, pipe Pipeline) error {
	encoded := make([][]byte, 0, len(items))
	for _, item := range items {
		raw, err := q.encode(item)
		if err != nil {
			return err
		}
		encoded = append(encoded, raw)
	}
	if pipe != nil {
		pipe.RPush(ctx, q.Key, encoded)
		return nil
	}
	return q.Store.RPush(ctx, q.Key, encoded)
}

// Dequeue atomically pops and decodes every item currently queued.
func (q *DataQueue) Dequeue(ctx context.Context) ([]json.RawMessage, error) {
	raw, err := q.Store.PopAll(ctx, q.Key)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		item, err := q.decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Size returns the number of items currently queued.
func (q *DataQueue) Size(ctx context.Context) (int64, error) {
	return q.Store.Len(ctx, q.Key)
}

// Ready reports whether the batch threshold is met, or the oldest item has
// exceeded the TTL (spec.md §4.A).
func (q *DataQueue) Ready(ctx context.Context) (bool, error) {
	size, err := q.Store.Len(ctx, q.Key)
	if err != nil {
		return false, err
	}
	if size == 0 {
		return false, nil
	}
	if q.Batch > 0 && size >= int64(q.Batch) {
		return true, nil
	}
	if q.TTL > 0 {
		age, ok, err := q.Store.Age(ctx, q.Key)
		if err != nil {
			return false, err
		}
		if ok && age >= q.TTL {
			return true, nil
		}
	}
	return false, nil
}
