// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ichnaea-go/geoexport/internal/queue"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

func TestSchedulerDispatchesOnlyReadyPartitions(t *testing.T) {
	store := queue.NewMemStore()
	small := schema.NewExportQueueConfig("queue_export_small", "http://example.test", 1, nil, false, 0)
	big := schema.NewExportQueueConfig("queue_export_big", "http://example.test", 10, nil, false, 0)
	registry := NewRegistry(store, []*schema.ExportQueueConfig{small, big})

	require.NoError(t, registry.Enqueue(context.Background(), small, small.Name, []interface{}{"x"}, nil))
	require.NoError(t, registry.Enqueue(context.Background(), big, big.Name, []interface{}{"x"}, nil))

	var dispatched []UploadJob
	scheduler := NewExportScheduler(registry)
	err := scheduler.RunOnce(context.Background(), func(job UploadJob) {
		dispatched = append(dispatched, job)
	})
	require.NoError(t, err)

	require.Len(t, dispatched, 1)
	require.Equal(t, small.Name, dispatched[0].QueueName)
}

func TestSchedulerEnumeratesEveryPartitionOfAnS3Queue(t *testing.T) {
	store := queue.NewMemStore()
	s3cfg := schema.NewExportQueueConfig("queue_export_archive", "s3://bucket/path", 1, nil, false, 0)
	registry := NewRegistry(store, []*schema.ExportQueueConfig{s3cfg})

	require.NoError(t, registry.Enqueue(context.Background(), s3cfg, s3cfg.QueueKey("key1"), []interface{}{"x"}, nil))
	require.NoError(t, registry.Enqueue(context.Background(), s3cfg, s3cfg.QueueKey("key2"), []interface{}{"x"}, nil))

	var dispatched []UploadJob
	scheduler := NewExportScheduler(registry)
	err := scheduler.RunOnce(context.Background(), func(job UploadJob) {
		dispatched = append(dispatched, job)
	})
	require.NoError(t, err)
	require.Len(t, dispatched, 2)
}
