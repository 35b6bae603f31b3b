// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command geoexport-pipeline runs one pass of a single pipeline stage:
// dispatch (drain the ingress queue into export queues), schedule (find
// ready export-queue partitions and upload them), or upload (process one
// named partition directly). Each invocation does exactly one pass and
// exits; the periodic scheduling of these passes is an external trigger
// (cron, a task queue, ...) outside the scope of this module.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ichnaea-go/geoexport/internal/config"
	"github.com/ichnaea-go/geoexport/internal/export"
	"github.com/ichnaea-go/geoexport/internal/internalsink"
	"github.com/ichnaea-go/geoexport/internal/metrics"
	"github.com/ichnaea-go/geoexport/internal/queue"
	"github.com/ichnaea-go/geoexport/internal/repository"
	"github.com/ichnaea-go/geoexport/pkg/log"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

func main() {
	var flagConfigFile string
	var flagStage string
	var flagQueueName, flagPartitionKey string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.StringVar(&flagStage, "stage", "", "Pipeline stage to run once: `dispatch`, `schedule`, or `upload`")
	flag.StringVar(&flagQueueName, "queue", "", "Export queue name (stage=upload)")
	flag.StringVar(&flagPartitionKey, "partition", "", "Partition key within the queue (stage=upload)")
	flag.Parse()

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatalf("config: %s", err.Error())
	}

	store, err := queue.NewRedisStore(config.Keys.RedisAddr)
	if err != nil {
		log.Fatalf("queue store: %s", err.Error())
	}

	if err := repository.Connect(config.Keys.DBDriver, config.Keys.DB); err != nil {
		log.Fatalf("repository: %s", err.Error())
	}

	registry := export.NewRegistry(store, config.CompileExportQueues())
	m := metrics.New(prometheus.DefaultRegisterer)
	ctx := context.Background()

	switch flagStage {
	case "dispatch":
		runDispatch(ctx, store, registry)
	case "schedule":
		runSchedule(ctx, registry, store, m)
	case "upload":
		if flagQueueName == "" || flagPartitionKey == "" {
			log.Fatal("stage=upload requires -queue and -partition")
		}
		runUpload(ctx, registry, store, m, flagQueueName, flagPartitionKey)
	default:
		fmt.Fprintln(os.Stderr, "usage: geoexport-pipeline -stage=dispatch|schedule|upload [...]")
		os.Exit(2)
	}
}

func runDispatch(ctx context.Context, store queue.Store, registry *export.Registry) {
	dispatcher := export.NewIncomingDispatcher(store, config.Keys.IncomingQueueName, registry)
	needsRearm, err := dispatcher.Run(ctx)
	if err != nil {
		log.Fatalf("dispatch: %s", err.Error())
	}
	if needsRearm {
		log.Info("dispatch: ingress queue still ready, re-run to continue draining")
	}
}

func runSchedule(ctx context.Context, registry *export.Registry, store queue.Store, m *metrics.Client) {
	scheduler := export.NewExportScheduler(registry)
	sinks := buildSinks(store, m)
	uploader := export.NewUploader(registry, sinks, m)

	err := scheduler.RunOnce(ctx, func(job export.UploadJob) {
		needsRearm, err := uploader.RunOnce(ctx, job)
		if err != nil {
			log.Errorf("schedule: upload %s/%s failed: %s", job.QueueName, job.PartitionKey, err.Error())
			return
		}
		if needsRearm {
			log.Debugf("schedule: %s/%s still ready after upload", job.QueueName, job.PartitionKey)
		}
	})
	if err != nil {
		log.Fatalf("schedule: %s", err.Error())
	}
}

func runUpload(ctx context.Context, registry *export.Registry, store queue.Store, m *metrics.Client, queueName, partitionKey string) {
	sinks := buildSinks(store, m)
	uploader := export.NewUploader(registry, sinks, m)
	if _, err := uploader.RunOnce(ctx, export.UploadJob{QueueName: queueName, PartitionKey: partitionKey}); err != nil {
		log.Fatalf("upload: %s", err.Error())
	}
}

func buildSinks(store queue.Store, m *metrics.Client) map[schema.SinkKind]export.Sink {
	sinks := map[schema.SinkKind]export.Sink{
		schema.SinkDummy: export.DummySink{},
		schema.SinkHTTP:  export.NewHTTPSink(m),
		schema.SinkHTTPS: export.NewHTTPSink(m),
		schema.SinkInternal: internalsink.New(
			repository.GetUserRepository(),
			store,
			m,
			internalsink.KeyPolicy{},
		),
	}

	s3cfg := export.S3TargetConfig{
		Region:          config.Keys.S3.Region,
		Endpoint:        config.Keys.S3.Endpoint,
		AccessKeyID:     config.Keys.S3.AccessKeyID,
		SecretAccessKey: config.Keys.S3.SecretAccessKey,
		UsePathStyle:    config.Keys.S3.UsePathStyle,
	}
	if s3sink, err := export.NewS3Sink(s3cfg, m); err != nil {
		log.Warnf("s3 sink: disabled: %s", err.Error())
	} else {
		sinks[schema.SinkS3] = s3sink
	}

	return sinks
}
