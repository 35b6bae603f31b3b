// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ichnaea-go/geoexport/internal/metrics"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

// gzipCompressLevel matches the source's compresslevel=5 for HTTP uploads.
const gzipCompressLevel = 5

// HTTPSink forwards a batch as a gzip-compressed JSON POST to the queue's
// configured URL (spec.md §4.F "http"/"https" sinks).
type HTTPSink struct {
	Client  *http.Client
	Metrics *metrics.Client
}

// NewHTTPSink builds an HTTP sink with the source's 60 second timeout.
func NewHTTPSink(m *metrics.Client) *HTTPSink {
	return &HTTPSink{
		Client:  &http.Client{Timeout: 60 * time.Second},
		Metrics: m,
	}
}

func (s *HTTPSink) Upload(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string, data []byte) error {
	body, err := gzipEncode(data, gzipCompressLevel)
	if err != nil {
		return fmt.Errorf("http sink: gzip encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http sink: build request: %w", err)
	}
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ichnaea")

	done := s.Metrics.TimeUpload(cfg.MetricTag())
	resp, err := s.Client.Do(req)
	done()
	if err != nil {
		// transport-level failures (DNS, connection refused, timeout) are
		// retriable: the source catches requests.exceptions.RequestException.
		return Retriable(fmt.Errorf("http sink: request failed: %w", err))
	}
	defer resp.Body.Close()

	s.Metrics.ExportUpload(cfg.MetricTag(), strconv.Itoa(resp.StatusCode))

	// Any non-2xx status re-raises in the source (response.raise_for_status())
	// and is caught by the same retriable clause: there is no 4xx/5xx split.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Retriable(fmt.Errorf("http sink: unexpected status %d", resp.StatusCode))
	}
	return nil
}

func gzipEncode(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
