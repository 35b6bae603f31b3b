// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

import (
	"net/url"
	"strings"
)

// SinkKind identifies which concrete sink implementation an export queue
// uses, derived from the configured URL's scheme.
type SinkKind string

const (
	SinkDummy    SinkKind = "dummy"
	SinkHTTP     SinkKind = "http"
	SinkHTTPS    SinkKind = "https"
	SinkS3       SinkKind = "s3"
	SinkInternal SinkKind = "internal"
)

// ExportQueueConfig is one configured export sink: a named destination
// with its own batch policy, skip-list, compression flag and partitioning
// discipline. Read-only after startup (§5 of SPEC_FULL.md).
type ExportQueueConfig struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Batch    int      `json:"batch"`
	SkipKeys []string `json:"skip_keys"`
	Compress bool     `json:"compress"`
	TTLSecs  int64    `json:"ttl_secs"`

	skip map[string]struct{}
	kind SinkKind
}

// NewExportQueueConfig derives the sink kind from the URL scheme and
// normalizes the skip-list into a set. batch and ttlSecs can be zero; a
// zero ttlSecs leaves the age-based readiness threshold to the export
// registry's default (60 s).
func NewExportQueueConfig(name, rawURL string, batch int, skipKeys []string, compress bool, ttlSecs int64) *ExportQueueConfig {
	cfg := &ExportQueueConfig{
		Name:     name,
		URL:      rawURL,
		Batch:    batch,
		SkipKeys: skipKeys,
		Compress: compress,
		TTLSecs:  ttlSecs,
	}
	cfg.skip = make(map[string]struct{}, len(skipKeys))
	for _, k := range skipKeys {
		if k != "" {
			cfg.skip[k] = struct{}{}
		}
	}
	cfg.kind = kindForURL(rawURL)
	return cfg
}

func kindForURL(rawURL string) SinkKind {
	if rawURL == "" {
		return SinkDummy
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return SinkDummy
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return SinkHTTP
	case "https":
		return SinkHTTPS
	case "s3":
		return SinkS3
	case "internal":
		return SinkInternal
	default:
		return SinkDummy
	}
}

// Kind returns the sink kind this queue was configured for.
func (c *ExportQueueConfig) Kind() SinkKind { return c.kind }

// Partitioned reports whether this queue shards by api_key (only the
// object-store kind does).
func (c *ExportQueueConfig) Partitioned() bool { return c.kind == SinkS3 }

// MetadataRequired reports whether the sink consumes the full envelope
// rather than only the inner report. Only the internal sink does.
func (c *ExportQueueConfig) MetadataRequired() bool { return c.kind == SinkInternal }

// ExportAllowed reports whether api_key may be exported to this queue.
func (c *ExportQueueConfig) ExportAllowed(apiKey string) bool {
	_, skipped := c.skip[apiKey]
	return !skipped
}

// QueueKey returns the partition key items for apiKey are stored under.
func (c *ExportQueueConfig) QueueKey(apiKey string) string {
	if !c.Partitioned() {
		return c.Name
	}
	if apiKey == "" {
		apiKey = "no_key"
	}
	return c.Name + ":" + apiKey
}

// PartitionPrefix returns the scan prefix used to enumerate live partitions
// of a partitioned queue (e.g. "queue_export_s3archive:").
func (c *ExportQueueConfig) PartitionPrefix() string {
	return c.Name + ":"
}

// MetricTag strips the "queue_export_" prefix from the queue name, as the
// source does for tagging metrics.
func (c *ExportQueueConfig) MetricTag() string {
	const prefix = "queue_export_"
	if strings.HasPrefix(c.Name, prefix) {
		return c.Name[len(prefix):]
	}
	return c.Name
}

// MonitorName returns the name to use for per-partition monitoring, and
// false if none should be used. The object-store kind deliberately
// suppresses this to avoid a per-partition (per api_key) metric-series
// explosion (spec.md §9 open question (b)).
func (c *ExportQueueConfig) MonitorName() (string, bool) {
	if c.kind == SinkS3 {
		return "", false
	}
	return c.Name, true
}

// APIKeyFromPartition recovers the api_key suffix from a partition key of a
// partitioned queue (e.g. "queue_export_s3archive:abc" -> "abc").
func APIKeyFromPartition(partitionKey string) string {
	idx := strings.LastIndex(partitionKey, ":")
	if idx < 0 {
		return ""
	}
	return partitionKey[idx+1:]
}
