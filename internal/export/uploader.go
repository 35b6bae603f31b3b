// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ichnaea-go/geoexport/internal/metrics"
	"github.com/ichnaea-go/geoexport/pkg/log"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

// Sink uploads one already-assembled batch payload to its destination.
// Implementations return a RetriableError for transport failures and for
// any non-2xx status, 4xx included (spec.md §7), and a plain error for anything the uploader should not retry.
type Sink interface {
	Upload(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string, data []byte) error
}

// Uploader drives the retry/backoff framework shared by every sink kind
// (spec.md §4.E-F). The concrete sinks only implement Sink.Upload; the
// retry count, sleep schedule and batch/payload bookkeeping live here once.
type Uploader struct {
	Registry  *Registry
	Sinks     map[schema.SinkKind]Sink
	Metrics   *metrics.Client
	Retries   int
	RetryWait time.Duration

	// Sleep defaults to time.Sleep; tests override it to skip real delays
	// while still exercising the exact schedule.
	Sleep func(time.Duration)
}

// NewUploader builds an uploader with the spec's fixed retry schedule:
// 3 attempts, sleep = RetryWait * (i*i + 1) seconds for attempt index i.
func NewUploader(registry *Registry, sinks map[schema.SinkKind]Sink, m *metrics.Client) *Uploader {
	return &Uploader{
		Registry:  registry,
		Sinks:     sinks,
		Metrics:   m,
		Retries:   3,
		RetryWait: time.Second,
		Sleep:     time.Sleep,
	}
}

// RunOnce drains job's partition and uploads it through the configured
// sink, retrying on retriable errors per the fixed schedule. It returns
// whether the partition is still ready() afterwards (cooperative re-arm,
// mirroring IncomingDispatcher.Run).
func (u *Uploader) RunOnce(ctx context.Context, job UploadJob) (needsRearm bool, err error) {
	cfg, ok := u.Registry.Get(job.QueueName)
	if !ok {
		return false, fmt.Errorf("export: unknown export queue %q", job.QueueName)
	}

	items, err := u.Registry.Dequeue(ctx, cfg, job.PartitionKey)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		// Scheduler and uploader race on the same readiness check; another
		// worker may already have drained this partition (spec.md §7).
		return false, nil
	}

	data, err := buildPayload(cfg, items)
	if err != nil {
		return false, err
	}

	sink, ok := u.Sinks[cfg.Kind()]
	if !ok {
		return false, fmt.Errorf("export: no sink registered for kind %q", cfg.Kind())
	}

	if err := u.upload(ctx, cfg, sink, job.PartitionKey, data); err != nil {
		return false, err
	}

	u.Metrics.ExportBatch(cfg.MetricTag())
	return u.Registry.Ready(ctx, cfg, job.PartitionKey)
}

// upload runs the fixed 3-attempt retry schedule. Per the source, a sleep
// follows every failed attempt, including the last: this is the literal
// behavior of apply_countdown()-and-raise, not an optimization to skip the
// final sleep.
func (u *Uploader) upload(ctx context.Context, cfg *schema.ExportQueueConfig, sink Sink, partitionKey string, data []byte) error {
	var lastErr error
	for i := 0; i < u.Retries; i++ {
		err := sink.Upload(ctx, cfg, partitionKey, data)
		if err == nil {
			return nil
		}
		if !IsRetriable(err) {
			return err
		}
		lastErr = err
		wait := u.RetryWait * time.Duration(i*i+1)
		log.Warnf("export: upload to %s failed (attempt %d/%d), retrying in %s: %v", cfg.Name, i+1, u.Retries, wait, err)
		u.Sleep(wait)
	}
	return fmt.Errorf("export: upload to %s exhausted %d retries: %w", cfg.Name, u.Retries, lastErr)
}

// buildPayload assembles the wire body for a batch. The internal sink
// consumes the full envelope (api_key, nickname, report) as a bare JSON
// array; every other sink only ever sees the inner report, wrapped in an
// {"items": [...]} object (source: data/export.py, reports = items vs.
// {"items": [...]}).
func buildPayload(cfg *schema.ExportQueueConfig, items []json.RawMessage) ([]byte, error) {
	if cfg.MetadataRequired() {
		return json.Marshal(items)
	}

	reports := make([]json.RawMessage, 0, len(items))
	for _, raw := range items {
		env, err := DecodeEnvelope(raw)
		if err != nil {
			return nil, err
		}
		reports = append(reports, env.Report)
	}
	return json.Marshal(struct {
		Items []json.RawMessage `json:"items"`
	}{Items: reports})
}
