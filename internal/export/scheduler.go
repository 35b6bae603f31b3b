// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"context"

	"github.com/ichnaea-go/geoexport/pkg/log"
)

// UploadJob identifies one unit of upload work: a partition of a named
// export queue whose batch looked ready at scheduling time.
type UploadJob struct {
	QueueName    string
	PartitionKey string
}

// Dispatch is called once per job the scheduler decides to run.
// cmd/geoexport-pipeline passes a function that runs the upload job inline,
// so there jobs run one after another and RunOnce returns only once they
// have finished; tests can capture the jobs directly.
type Dispatch func(job UploadJob)

// ExportScheduler walks every partition of every export queue and
// dispatches an upload job for each one whose batch is ready (spec.md
// §4.D). Jobs are independent: the scheduler ignores their outcome, and
// whether they run concurrently is decided by the Dispatch function alone.
type ExportScheduler struct {
	Registry *Registry
}

// NewExportScheduler builds a scheduler over registry.
func NewExportScheduler(registry *Registry) *ExportScheduler {
	return &ExportScheduler{Registry: registry}
}

// RunOnce performs a single scheduling pass, calling dispatch once for
// every ready partition found.
func (s *ExportScheduler) RunOnce(ctx context.Context, dispatch Dispatch) error {
	for _, cfg := range s.Registry.All() {
		partitions, err := s.Registry.Partitions(ctx, cfg)
		if err != nil {
			return err
		}
		for _, partitionKey := range partitions {
			ready, err := s.Registry.Ready(ctx, cfg, partitionKey)
			if err != nil {
				return err
			}
			if !ready {
				continue
			}
			log.Debugf("scheduler: dispatching upload job for %s", partitionKey)
			dispatch(UploadJob{QueueName: cfg.Name, PartitionKey: partitionKey})
		}
	}
	return nil
}
