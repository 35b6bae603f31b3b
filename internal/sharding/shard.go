// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sharding computes the downstream queue shard a transmitter
// observation or datamap grid cell routes to (spec.md §4.H steps 5-6).
// The source's actual shard_id/DataMap.scale implementations live in the
// station/datamap models, which the retrieval pack does not carry; the
// functions below are a faithful, deterministic stand-in (see DESIGN.md).
package sharding

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// numShards bounds every shard id to a fixed, two-hex-digit space, keeping
// the number of downstream queues finite regardless of key cardinality.
const numShards = 256

// gridScale is the coarseness of the datamap presence grid, in degrees.
const gridScale = 0.01

// MacShard derives the shard id for a blue/wifi observation from its mac
// address: the address's low byte, hex-normalized.
func MacShard(mac string) string {
	clean := strings.ToLower(strings.ReplaceAll(mac, ":", ""))
	if len(clean) < 2 {
		return "00"
	}
	tail := clean[len(clean)-2:]
	if v, err := strconv.ParseUint(tail, 16, 8); err == nil {
		return fmt.Sprintf("%02x", v)
	}
	return hashShard(clean)
}

// CellShard derives the shard id for a cell observation from its numeric
// cell id.
func CellShard(cellID int64) string {
	return fmt.Sprintf("%02x", uint64(cellID)%numShards)
}

// DataMapGrid quantizes (lat, lon) to the coarse presence-map cell.
func DataMapGrid(lat, lon float64) (gridLat, gridLon int64) {
	return int64(math.Round(lat / gridScale)), int64(math.Round(lon / gridScale))
}

// DataMapShard derives the shard id a quantized grid cell routes to.
func DataMapShard(gridLat, gridLon int64) string {
	h := uint64(gridLat)*31 + uint64(gridLon)
	return fmt.Sprintf("%02x", h%numShards)
}

// EncodeDataMapGrid renders a grid cell as the compact string enqueued
// downstream.
func EncodeDataMapGrid(gridLat, gridLon int64) string {
	return fmt.Sprintf("%d,%d", gridLat, gridLon)
}

func hashShard(s string) string {
	var h uint64
	for _, c := range s {
		h = h*31 + uint64(c)
	}
	return fmt.Sprintf("%02x", h%numShards)
}
