// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"context"
	"encoding/json"

	"github.com/ichnaea-go/geoexport/internal/queue"
	"github.com/ichnaea-go/geoexport/pkg/log"
)

// IncomingDispatcher drains the single ingress queue and fans its items out
// into every eligible export queue (spec.md §4.C).
type IncomingDispatcher struct {
	Incoming *queue.DataQueue
	Registry *Registry
}

// NewIncomingDispatcher builds a dispatcher over the named ingress queue.
func NewIncomingDispatcher(store queue.Store, incomingQueueName string, registry *Registry) *IncomingDispatcher {
	return &IncomingDispatcher{
		Incoming: queue.New(store, incomingQueueName, 0, 0, false),
		Registry: registry,
	}
}

// Run drains the ingress queue exactly once and distributes its contents.
// It returns whether the ingress queue is still ready() afterwards, in
// which case the caller should re-invoke Run (cooperative catch-up,
// spec.md §4.C step 5) rather than this method looping internally — the
// source schedules that as a separate, fire-and-forget follow-up task.
func (d *IncomingDispatcher) Run(ctx context.Context) (needsRearm bool, err error) {
	raw, err := d.Incoming.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}

	order := make([]string, 0)
	groups := make(map[string][]json.RawMessage)
	for _, item := range raw {
		env, err := DecodeEnvelope(item)
		if err != nil {
			log.Warnf("dispatcher: dropping undecodable envelope: %v", err)
			continue
		}
		if _, ok := groups[env.APIKey]; !ok {
			order = append(order, env.APIKey)
		}
		groups[env.APIKey] = append(groups[env.APIKey], item)
	}

	pipe := d.Registry.NewPipeline()
	for _, apiKey := range order {
		items := groups[apiKey]
		asInterfaces := make([]interface{}, len(items))
		for i, it := range items {
			asInterfaces[i] = it
		}
		for _, cfg := range d.Registry.All() {
			if !cfg.ExportAllowed(apiKey) {
				continue
			}
			partitionKey := cfg.QueueKey(apiKey)
			if err := d.Registry.Enqueue(ctx, cfg, partitionKey, asInterfaces, pipe); err != nil {
				return false, err
			}
		}
	}

	if err := pipe.Commit(ctx); err != nil {
		return false, err
	}

	log.Debugf("dispatcher: distributed %d items across %d api_keys", len(raw), len(order))

	return d.Incoming.Ready(ctx)
}
