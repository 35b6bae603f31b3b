// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package internalsink

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ichnaea-go/geoexport/internal/metrics"
	"github.com/ichnaea-go/geoexport/internal/queue"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

type fakeUsers struct {
	ids  map[string]int64
	next int64
}

func newFakeUsers() *fakeUsers { return &fakeUsers{ids: map[string]int64{}, next: 1} }

func (f *fakeUsers) EnsureUser(nickname string) (int64, bool, error) {
	if !schema.NicknameInWindow(nickname) {
		return 0, false, nil
	}
	if id, ok := f.ids[nickname]; ok {
		return id, true, nil
	}
	id := f.next
	f.next++
	f.ids[nickname] = id
	return id, true, nil
}

func envelope(t *testing.T, apiKey, nickname string, ext schema.ExternalReport) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(ext)
	require.NoError(t, err)
	env := schema.Envelope{APIKey: apiKey, Nickname: nickname, Report: raw}
	out, err := json.Marshal(env)
	require.NoError(t, err)
	return out
}

func ptr[T any](v T) *T { return &v }

func TestUploadDedupesByUniqueKeyKeepingBetterObservation(t *testing.T) {
	store := queue.NewMemStore()
	users := newFakeUsers()
	m := metrics.New(prometheus.NewRegistry())
	sink := New(users, store, m, KeyPolicy{})

	weak := envelope(t, "key1", "alice", schema.ExternalReport{
		Timestamp: ptr(int64(1700000000000)),
		Position:  &schema.Position{Latitude: ptr(1.0), Longitude: ptr(2.0)},
		WifiAccessPoints: []schema.WifiAccessPoint{
			{MacAddress: ptr("aa:bb"), SignalStrength: ptr(int64(-60))},
		},
	})
	strong := envelope(t, "key1", "alice", schema.ExternalReport{
		Timestamp: ptr(int64(1700000000000)),
		Position:  &schema.Position{Latitude: ptr(1.0), Longitude: ptr(2.0)},
		WifiAccessPoints: []schema.WifiAccessPoint{
			{MacAddress: ptr("aa:bb"), SignalStrength: ptr(int64(-50))},
		},
	})

	batch, err := json.Marshal([]json.RawMessage{weak, strong})
	require.NoError(t, err)

	cfg := schema.NewExportQueueConfig("queue_export_internal", "internal://", 0, nil, false, 0)
	err = sink.Upload(context.Background(), cfg, "queue_export_internal", batch)
	require.NoError(t, err)

	names, err := store.ScanKeys(context.Background(), "update_wifi_")
	require.NoError(t, err)
	require.Len(t, names, 1, "expected exactly one wifi shard queue")

	items, err := store.PopAll(context.Background(), names[0])
	require.NoError(t, err)
	require.Len(t, items, 1, "duplicate mac must be deduplicated to one observation")
	found := items[0]

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(found, &payload))
	require.EqualValues(t, -50, payload["signal"])
	require.EqualValues(t, 1.0, payload["lat"])
	require.EqualValues(t, 2.0, payload["lon"])
	require.Equal(t, "2023-11-14T22:13:20Z", payload["time"])
}

func TestUploadCreditsSubmittingUserOncePerDistinctPosition(t *testing.T) {
	store := queue.NewMemStore()
	users := newFakeUsers()
	m := metrics.New(prometheus.NewRegistry())
	sink := New(users, store, m, KeyPolicy{})

	report := func(lat, lon float64) json.RawMessage {
		return envelope(t, "key1", "bob", schema.ExternalReport{
			Timestamp: ptr(int64(1700000000000)),
			Position:  &schema.Position{Latitude: ptr(lat), Longitude: ptr(lon)},
			WifiAccessPoints: []schema.WifiAccessPoint{
				{MacAddress: ptr("11:22"), SignalStrength: ptr(int64(-70))},
			},
		})
	}

	batch, err := json.Marshal([]json.RawMessage{report(1.0, 1.0), report(2.0, 2.0)})
	require.NoError(t, err)

	cfg := schema.NewExportQueueConfig("queue_export_internal", "internal://", 0, nil, false, 0)
	err = sink.Upload(context.Background(), cfg, "queue_export_internal", batch)
	require.NoError(t, err)

	items, err := store.PopAll(context.Background(), "update_score")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var entry schema.ScoreEntry
	require.NoError(t, json.Unmarshal(items[0], &entry))
	require.Equal(t, 2, entry.Value)
}

func TestUploadCreditsAReportEvenWhenItsObservationLosesTheDedupContest(t *testing.T) {
	store := queue.NewMemStore()
	users := newFakeUsers()
	m := metrics.New(prometheus.NewRegistry())
	sink := New(users, store, m, KeyPolicy{})

	// Two reports from the same nickname at distinct positions, both
	// observing the same mac; the second report's observation loses the
	// batch-wide dedup contest (weaker signal), but it still validated a
	// transmitter record and so still credits its position.
	strong := envelope(t, "key1", "bob", schema.ExternalReport{
		Timestamp: ptr(int64(1700000000000)),
		Position:  &schema.Position{Latitude: ptr(1.0), Longitude: ptr(1.0)},
		WifiAccessPoints: []schema.WifiAccessPoint{
			{MacAddress: ptr("aa:bb"), SignalStrength: ptr(int64(-50))},
		},
	})
	weaker := envelope(t, "key1", "bob", schema.ExternalReport{
		Timestamp: ptr(int64(1700000000000)),
		Position:  &schema.Position{Latitude: ptr(2.0), Longitude: ptr(2.0)},
		WifiAccessPoints: []schema.WifiAccessPoint{
			{MacAddress: ptr("aa:bb"), SignalStrength: ptr(int64(-60))},
		},
	})

	batch, err := json.Marshal([]json.RawMessage{strong, weaker})
	require.NoError(t, err)

	cfg := schema.NewExportQueueConfig("queue_export_internal", "internal://", 0, nil, false, 0)
	err = sink.Upload(context.Background(), cfg, "queue_export_internal", batch)
	require.NoError(t, err)

	items, err := store.PopAll(context.Background(), "update_score")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var entry schema.ScoreEntry
	require.NoError(t, json.Unmarshal(items[0], &entry))
	require.Equal(t, 2, entry.Value, "both positions should be credited even though one observation lost the dedup contest")
}

func TestUploadSkipsScoreForOutOfWindowNickname(t *testing.T) {
	store := queue.NewMemStore()
	users := newFakeUsers()
	m := metrics.New(prometheus.NewRegistry())
	sink := New(users, store, m, KeyPolicy{})

	env := envelope(t, "key1", "a", schema.ExternalReport{
		Position: &schema.Position{Latitude: ptr(1.0), Longitude: ptr(2.0)},
		WifiAccessPoints: []schema.WifiAccessPoint{
			{MacAddress: ptr("11:22"), SignalStrength: ptr(int64(-70))},
		},
	})
	batch, err := json.Marshal([]json.RawMessage{env})
	require.NoError(t, err)

	cfg := schema.NewExportQueueConfig("queue_export_internal", "internal://", 0, nil, false, 0)
	err = sink.Upload(context.Background(), cfg, "queue_export_internal", batch)
	require.NoError(t, err)

	items, err := store.PopAll(context.Background(), "update_score")
	require.NoError(t, err)
	require.Empty(t, items)
}
