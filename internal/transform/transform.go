// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transform maps the geosubmit-v2-shaped external report schema to
// the flattened internal schema consumed by the database models (spec.md
// §4.G), exactly mirroring InternalTransform from the source implementation.
package transform

import "github.com/ichnaea-go/geoexport/pkg/schema"

// InternalTransform maps one ExternalReport to an InternalReport, inlining
// position fields at the top level and renaming transmitter fields to their
// short internal names. It returns an empty report if none of the three
// transmitter arrays yield any data — a report with only a bare position is
// dropped by the caller as malformed (spec.md §4.H step 3).
type InternalTransform struct{}

// Apply runs the transform.
func (InternalTransform) Apply(item schema.ExternalReport) schema.InternalReport {
	report := make(schema.InternalReport)

	if item.Position != nil {
		applyPosition(*item.Position, report)
	}
	if item.Timestamp != nil {
		report["timestamp"] = *item.Timestamp
	}

	blues := mapBlues(item.BluetoothBeacons)
	cells := mapCells(item.CellTowers)
	wifis := mapWifis(item.WifiAccessPoints)

	if len(blues) > 0 {
		report["blue"] = blues
	}
	if len(cells) > 0 {
		report["cell"] = cells
	}
	if len(wifis) > 0 {
		report["wifi"] = wifis
	}

	if len(blues) == 0 && len(cells) == 0 && len(wifis) == 0 {
		return schema.InternalReport{}
	}
	return report
}

func applyPosition(p schema.Position, report schema.InternalReport) {
	setIf(report, "lat", p.Latitude)
	setIf(report, "lon", p.Longitude)
	setIf(report, "accuracy", p.Accuracy)
	setIf(report, "altitude", p.Altitude)
	setIf(report, "altitude_accuracy", p.AltitudeAccuracy)
	setIf(report, "age", p.Age)
	setIf(report, "heading", p.Heading)
	setIf(report, "pressure", p.Pressure)
	setIf(report, "speed", p.Speed)
	setIf(report, "source", p.Source)
}

func mapBlues(items []schema.BlueBeacon) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		m := map[string]interface{}{}
		setIf(m, "mac", item.MacAddress)
		setIf(m, "age", item.Age)
		setIf(m, "signal", item.SignalStrength)
		if len(m) > 0 {
			out = append(out, m)
		}
	}
	return out
}

func mapCells(items []schema.CellTower) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		m := map[string]interface{}{}
		setIf(m, "radio", item.RadioType)
		setIf(m, "mcc", item.MobileCountryCode)
		setIf(m, "mnc", item.MobileNetworkCode)
		setIf(m, "lac", item.LocationAreaCode)
		setIf(m, "cid", item.CellID)
		setIf(m, "age", item.Age)
		setIf(m, "asu", item.Asu)
		setIf(m, "psc", item.PrimaryScramblingCode)
		setIf(m, "serving", item.Serving)
		setIf(m, "signal", item.SignalStrength)
		setIf(m, "ta", item.TimingAdvance)
		if len(m) > 0 {
			out = append(out, m)
		}
	}
	return out
}

func mapWifis(items []schema.WifiAccessPoint) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		m := map[string]interface{}{}
		setIf(m, "mac", item.MacAddress)
		setIf(m, "radio", item.RadioType)
		setIf(m, "age", item.Age)
		setIf(m, "channel", item.Channel)
		setIf(m, "frequency", item.Frequency)
		setIf(m, "signalToNoiseRatio", item.SignalToNoiseRatio)
		setIf(m, "signal", item.SignalStrength)
		if len(m) > 0 {
			out = append(out, m)
		}
	}
	return out
}

// setIf assigns *v into m[key] when v is a non-nil pointer, mirroring the
// source's "only set a key if the source value is not None" rule.
func setIf[T any](m map[string]interface{}, key string, v *T) {
	if v != nil {
		m[key] = *v
	}
}
