// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ichnaea-go/geoexport/internal/metrics"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

func TestHTTPSinkSendsGzippedBodyWithExpectedHeaders(t *testing.T) {
	var gotEncoding, gotType, gotAgent string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		gotType = r.Header.Get("Content-Type")
		gotAgent = r.Header.Get("User-Agent")

		gr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		gotBody, err = io.ReadAll(gr)
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := schema.NewExportQueueConfig("queue_export_partner", server.URL, 1, nil, false, 0)
	sink := NewHTTPSink(metrics.New(prometheus.NewRegistry()))

	err := sink.Upload(context.Background(), cfg, cfg.Name, []byte(`{"items":[]}`))
	require.NoError(t, err)

	require.Equal(t, "gzip", gotEncoding)
	require.Equal(t, "application/json", gotType)
	require.Equal(t, "ichnaea", gotAgent)
	require.JSONEq(t, `{"items":[]}`, string(gotBody))
}

func TestHTTPSinkTreatsNon2xxAsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	cfg := schema.NewExportQueueConfig("queue_export_partner", server.URL, 1, nil, false, 0)
	sink := NewHTTPSink(metrics.New(prometheus.NewRegistry()))

	err := sink.Upload(context.Background(), cfg, cfg.Name, []byte(`{}`))
	require.Error(t, err)
	require.True(t, IsRetriable(err))
}

func TestHTTPSinkTreatsTransportFailureAsRetriable(t *testing.T) {
	cfg := schema.NewExportQueueConfig("queue_export_partner", "http://127.0.0.1:1", 1, nil, false, 0)
	sink := NewHTTPSink(metrics.New(prometheus.NewRegistry()))

	err := sink.Upload(context.Background(), cfg, cfg.Name, []byte(`{}`))
	require.Error(t, err)
	require.True(t, IsRetriable(err))
}
