// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics stands in for the source implementation's tagged
// statsd client (`task.stats_client.incr/timed`, SPEC_FULL.md §11): the
// same `data.*` signal set, emitted as Prometheus counters/histograms with
// labels in place of dotted-name tags.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Client bundles the counters and histograms the pipeline emits. A single
// instance is constructed at startup and threaded through the job context
// (spec.md §9 "pass explicitly through a job context value").
type Client struct {
	exportBatch  *prometheus.CounterVec
	exportUpload *prometheus.CounterVec
	uploadTiming *prometheus.HistogramVec

	reportUpload      *prometheus.CounterVec
	reportDrop        *prometheus.CounterVec
	observationUpload *prometheus.CounterVec
	observationDrop   *prometheus.CounterVec
}

// New registers the pipeline's metrics against reg and returns a Client.
// Pass prometheus.NewRegistry() in tests to avoid collisions with other
// Client instances.
func New(reg prometheus.Registerer) *Client {
	c := &Client{
		exportBatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "data_export_batch_total",
			Help: "Successful export batches uploaded, by sink.",
		}, []string{"sink"}),
		exportUpload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "data_export_upload_total",
			Help: "Export upload attempts, by sink and result status.",
		}, []string{"sink", "status"}),
		uploadTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "data_export_upload_duration_seconds",
			Help: "Duration of export upload attempts, by sink.",
		}, []string{"sink"}),
		reportUpload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "data_report_upload_total",
			Help: "Reports accepted by the internal sink, by api key.",
		}, []string{"key"}),
		reportDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "data_report_drop_total",
			Help: "Reports dropped as malformed by the internal sink, by api key.",
		}, []string{"key", "reason"}),
		observationUpload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "data_observation_upload_total",
			Help: "Valid observations that became the held candidate for their unique key during batch dedup, by type and api key.",
		}, []string{"type", "key"}),
		observationDrop: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "data_observation_drop_total",
			Help: "Observations dropped as malformed, by type, reason and api key.",
		}, []string{"type", "reason", "key"}),
	}

	reg.MustRegister(
		c.exportBatch, c.exportUpload, c.uploadTiming,
		c.reportUpload, c.reportDrop, c.observationUpload, c.observationDrop,
	)
	return c
}

// ExportBatch records one successfully uploaded batch for sink.
func (c *Client) ExportBatch(sink string) {
	c.exportBatch.WithLabelValues(sink).Inc()
}

// ExportUpload records one upload attempt's outcome for sink.
func (c *Client) ExportUpload(sink, status string) {
	c.exportUpload.WithLabelValues(sink, status).Inc()
}

// TimeUpload returns a function that records the elapsed time since it was
// obtained against sink's upload-duration histogram; call it via defer.
func (c *Client) TimeUpload(sink string) func() {
	start := time.Now()
	return func() {
		c.uploadTiming.WithLabelValues(sink).Observe(time.Since(start).Seconds())
	}
}

// ReportUpload records n accepted reports for an api key tag (empty if the
// key should not be logged per policy).
func (c *Client) ReportUpload(key string, n int) {
	if n <= 0 {
		return
	}
	c.reportUpload.WithLabelValues(key).Add(float64(n))
}

// ReportDrop records n malformed reports.
func (c *Client) ReportDrop(key string, n int) {
	if n <= 0 {
		return
	}
	c.reportDrop.WithLabelValues(key, "malformed").Add(float64(n))
}

// ObservationUpload records n forwarded observations of the given type.
func (c *Client) ObservationUpload(obsType, key string, n int) {
	if n <= 0 {
		return
	}
	c.observationUpload.WithLabelValues(obsType, key).Add(float64(n))
}

// ObservationDrop records n malformed observations of the given type.
func (c *Client) ObservationDrop(obsType, key string, n int) {
	if n <= 0 {
		return
	}
	c.observationDrop.WithLabelValues(obsType, "malformed", key).Add(float64(n))
}
