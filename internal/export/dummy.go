// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"context"

	"github.com/ichnaea-go/geoexport/pkg/schema"
)

// DummySink discards every batch. It backs export queues with no
// configured URL, useful for local development and tests.
type DummySink struct{}

func (DummySink) Upload(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string, data []byte) error {
	return nil
}
