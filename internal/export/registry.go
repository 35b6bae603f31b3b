// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package export implements the queue fan-out and batching engine of
// SPEC_FULL.md §4.B-F: the export-queue registry, the incoming dispatcher,
// the export scheduler, the uploader/retry framework, and the concrete
// sinks.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ichnaea-go/geoexport/internal/queue"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

// defaultTTL is the age-based readiness threshold for export queues
// configured without ttl_secs.
const defaultTTL = 60 * time.Second

// Registry holds every configured export queue, keyed by name, and vends
// the DataQueue bound to a given partition of one. It is read-only after
// construction (spec.md §5).
type Registry struct {
	store   queue.Store
	configs map[string]*schema.ExportQueueConfig
	order   []string
}

// NewRegistry builds a registry over configs, bound to store.
func NewRegistry(store queue.Store, configs []*schema.ExportQueueConfig) *Registry {
	r := &Registry{
		store:   store,
		configs: make(map[string]*schema.ExportQueueConfig, len(configs)),
	}
	for _, c := range configs {
		r.configs[c.Name] = c
		r.order = append(r.order, c.Name)
	}
	return r
}

// All returns every configured export queue, in configuration order.
func (r *Registry) All() []*schema.ExportQueueConfig {
	out := make([]*schema.ExportQueueConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.configs[name])
	}
	return out
}

// Get looks up one export queue by name.
func (r *Registry) Get(name string) (*schema.ExportQueueConfig, bool) {
	c, ok := r.configs[name]
	return c, ok
}

func (r *Registry) dataQueue(cfg *schema.ExportQueueConfig, partitionKey string) *queue.DataQueue {
	ttl := defaultTTL
	if cfg.TTLSecs > 0 {
		ttl = time.Duration(cfg.TTLSecs) * time.Second
	}
	return queue.New(r.store, partitionKey, cfg.Batch, ttl, cfg.Compress)
}

// Partitions enumerates the live partitions of cfg: a single element
// (cfg.Name) for non-partitioned kinds, every live "<name>:*" key for the
// object-store kind (spec.md §4.B).
func (r *Registry) Partitions(ctx context.Context, cfg *schema.ExportQueueConfig) ([]string, error) {
	if !cfg.Partitioned() {
		return []string{cfg.Name}, nil
	}
	return r.store.ScanKeys(ctx, cfg.PartitionPrefix())
}

// Ready reports whether the partition's batch is ready to upload.
func (r *Registry) Ready(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string) (bool, error) {
	return r.dataQueue(cfg, partitionKey).Ready(ctx)
}

// Size returns the number of items queued at partitionKey.
func (r *Registry) Size(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string) (int64, error) {
	return r.dataQueue(cfg, partitionKey).Size(ctx)
}

// Enqueue appends items (already-decoded envelopes or plain values) to
// partitionKey, optionally deferred on pipe.
func (r *Registry) Enqueue(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string, items []interface{}, pipe queue.Pipeline) error {
	return r.dataQueue(cfg, partitionKey).Enqueue(ctx, items, pipe)
}

// Dequeue atomically drains partitionKey.
func (r *Registry) Dequeue(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string) ([]json.RawMessage, error) {
	return r.dataQueue(cfg, partitionKey).Dequeue(ctx)
}

// NewPipeline returns a batching handle scoped to the underlying store.
func (r *Registry) NewPipeline() queue.Pipeline {
	return r.store.NewPipeline()
}

// DecodeEnvelope parses one queued item back into an Envelope.
func DecodeEnvelope(raw json.RawMessage) (schema.Envelope, error) {
	var e schema.Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return schema.Envelope{}, fmt.Errorf("export: decode envelope: %w", err)
	}
	return e, nil
}
