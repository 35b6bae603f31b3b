// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package schema holds the wire and data-model types shared across the
// ingest-and-export pipeline: the external (geosubmit) report schema, the
// flattened internal schema, observations, and export-queue configuration.
package schema

import "encoding/json"

// Envelope is the ingress triple stored in the incoming queue and copied,
// verbatim, into every export queue that allows its api_key; sinks that do
// not consume metadata only receive the inner report at upload time.
type Envelope struct {
	APIKey   string          `json:"api_key"`
	Nickname string          `json:"nickname"`
	Report   json.RawMessage `json:"report"`
}

// Position holds the device position fields of an external report.
type Position struct {
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	Altitude         *float64 `json:"altitude,omitempty"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy,omitempty"`
	Age              *int64   `json:"age,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
	Pressure         *float64 `json:"pressure,omitempty"`
	Speed            *float64 `json:"speed,omitempty"`
	Source           *string  `json:"source,omitempty"`
}

// BlueBeacon is one Bluetooth beacon observation in the external schema.
type BlueBeacon struct {
	MacAddress     *string  `json:"macAddress,omitempty"`
	Age            *int64   `json:"age,omitempty"`
	SignalStrength *int64   `json:"signalStrength,omitempty"`
}

// CellTower is one cell tower observation in the external schema.
type CellTower struct {
	RadioType             *string `json:"radioType,omitempty"`
	MobileCountryCode     *int64  `json:"mobileCountryCode,omitempty"`
	MobileNetworkCode     *int64  `json:"mobileNetworkCode,omitempty"`
	LocationAreaCode      *int64  `json:"locationAreaCode,omitempty"`
	CellID                *int64  `json:"cellId,omitempty"`
	Age                   *int64  `json:"age,omitempty"`
	Asu                   *int64  `json:"asu,omitempty"`
	PrimaryScramblingCode *int64  `json:"primaryScramblingCode,omitempty"`
	Serving               *int64  `json:"serving,omitempty"`
	SignalStrength        *int64  `json:"signalStrength,omitempty"`
	TimingAdvance         *int64  `json:"timingAdvance,omitempty"`
}

// WifiAccessPoint is one wifi observation in the external schema.
type WifiAccessPoint struct {
	MacAddress         *string  `json:"macAddress,omitempty"`
	RadioType          *string  `json:"radioType,omitempty"`
	Age                *int64   `json:"age,omitempty"`
	Channel            *int64   `json:"channel,omitempty"`
	Frequency          *int64   `json:"frequency,omitempty"`
	SignalToNoiseRatio *int64   `json:"signalToNoiseRatio,omitempty"`
	SignalStrength     *int64   `json:"signalStrength,omitempty"`
}

// ExternalReport is the geosubmit-v2-shaped report as it arrives from the
// web submission tier (outside the scope of this module).
type ExternalReport struct {
	Timestamp        *int64             `json:"timestamp,omitempty"`
	Position         *Position          `json:"position,omitempty"`
	BluetoothBeacons []BlueBeacon       `json:"bluetoothBeacons,omitempty"`
	CellTowers       []CellTower        `json:"cellTowers,omitempty"`
	WifiAccessPoints []WifiAccessPoint  `json:"wifiAccessPoints,omitempty"`
}

// InternalReport is the flattened internal schema produced by
// InternalTransform: position fields inlined at top level, transmitter
// arrays under shortened keys. It is intentionally a loosely typed map of
// maps because fields are omitted (not nulled) when absent on the source,
// and downstream consumers only ever look at the arrays by name.
type InternalReport map[string]interface{}

// Clone returns a shallow copy safe to mutate (e.g. to pop "timestamp").
func (r InternalReport) Clone() InternalReport {
	out := make(InternalReport, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
