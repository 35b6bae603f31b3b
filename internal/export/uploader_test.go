// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ichnaea-go/geoexport/internal/metrics"
	"github.com/ichnaea-go/geoexport/internal/queue"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

type recordingSink struct {
	failures int
	calls    int
	lastData []byte
}

func (s *recordingSink) Upload(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string, data []byte) error {
	s.calls++
	s.lastData = data
	if s.calls <= s.failures {
		return Retriable(errors.New("boom"))
	}
	return nil
}

func TestUploaderRetriesWithTheFixedBackoffSchedule(t *testing.T) {
	store := queue.NewMemStore()
	cfg := schema.NewExportQueueConfig("queue_export_partner", "http://example.test/submit", 1, nil, false, 0)
	registry := NewRegistry(store, []*schema.ExportQueueConfig{cfg})

	require.NoError(t, registry.Enqueue(context.Background(), cfg, cfg.Name, []interface{}{map[string]string{"report": "x"}}, nil))

	sink := &recordingSink{failures: 2}
	m := metrics.New(prometheus.NewRegistry())
	u := NewUploader(registry, map[schema.SinkKind]Sink{schema.SinkHTTP: sink}, m)

	var slept []time.Duration
	u.Sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := u.RunOnce(context.Background(), UploadJob{QueueName: cfg.Name, PartitionKey: cfg.Name})
	require.NoError(t, err)
	require.Equal(t, 3, sink.calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestUploaderExhaustsRetriesAndSleepsOnEveryFailureIncludingTheLast(t *testing.T) {
	store := queue.NewMemStore()
	cfg := schema.NewExportQueueConfig("queue_export_partner", "http://example.test/submit", 1, nil, false, 0)
	registry := NewRegistry(store, []*schema.ExportQueueConfig{cfg})
	require.NoError(t, registry.Enqueue(context.Background(), cfg, cfg.Name, []interface{}{map[string]string{"report": "x"}}, nil))

	sink := &recordingSink{failures: 10}
	m := metrics.New(prometheus.NewRegistry())
	u := NewUploader(registry, map[schema.SinkKind]Sink{schema.SinkHTTP: sink}, m)

	var slept []time.Duration
	u.Sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := u.RunOnce(context.Background(), UploadJob{QueueName: cfg.Name, PartitionKey: cfg.Name})
	require.Error(t, err)
	require.Equal(t, 3, sink.calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 5 * time.Second}, slept)
}

func TestUploaderPropagatesNonRetriableErrorImmediately(t *testing.T) {
	store := queue.NewMemStore()
	cfg := schema.NewExportQueueConfig("queue_export_partner", "http://example.test/submit", 1, nil, false, 0)
	registry := NewRegistry(store, []*schema.ExportQueueConfig{cfg})
	require.NoError(t, registry.Enqueue(context.Background(), cfg, cfg.Name, []interface{}{map[string]string{"report": "x"}}, nil))

	sink := &fatalSink{}
	m := metrics.New(prometheus.NewRegistry())
	u := NewUploader(registry, map[schema.SinkKind]Sink{schema.SinkHTTP: sink}, m)
	u.Sleep = func(time.Duration) { t.Fatal("must not sleep on a non-retriable error") }

	_, err := u.RunOnce(context.Background(), UploadJob{QueueName: cfg.Name, PartitionKey: cfg.Name})
	require.Error(t, err)
	require.False(t, IsRetriable(err))
}

type fatalSink struct{}

func (fatalSink) Upload(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string, data []byte) error {
	return errors.New("malformed request, never retry")
}

func TestUploaderReturnsFalseWhenPartitionAlreadyDrained(t *testing.T) {
	store := queue.NewMemStore()
	cfg := schema.NewExportQueueConfig("queue_export_partner", "http://example.test/submit", 1, nil, false, 0)
	registry := NewRegistry(store, []*schema.ExportQueueConfig{cfg})

	sink := &recordingSink{}
	m := metrics.New(prometheus.NewRegistry())
	u := NewUploader(registry, map[schema.SinkKind]Sink{schema.SinkHTTP: sink}, m)

	needsRearm, err := u.RunOnce(context.Background(), UploadJob{QueueName: cfg.Name, PartitionKey: cfg.Name})
	require.NoError(t, err)
	require.False(t, needsRearm)
	require.Zero(t, sink.calls)
}

func TestBuildPayloadWrapsReportsForNonInternalSinksAndIgnoresMetadata(t *testing.T) {
	cfg := schema.NewExportQueueConfig("queue_export_partner", "http://example.test/submit", 1, nil, false, 0)
	env, err := DecodeEnvelope([]byte(`{"api_key":"k","nickname":"n","report":{"a":1}}`))
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	data, err := buildPayload(cfg, []json.RawMessage{raw})
	require.NoError(t, err)
	require.JSONEq(t, `{"items":[{"a":1}]}`, string(data))
}
