// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package internalsink implements the internal transform & sharding sink
// (spec.md §4.H): it turns a batch of envelopes into deduplicated
// transmitter observations routed to shard-addressed downstream queues,
// updates the coarse presence datamap, and credits submitting users.
package internalsink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ichnaea-go/geoexport/internal/metrics"
	"github.com/ichnaea-go/geoexport/internal/queue"
	"github.com/ichnaea-go/geoexport/internal/sharding"
	"github.com/ichnaea-go/geoexport/internal/transform"
	"github.com/ichnaea-go/geoexport/pkg/log"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

// UserResolver resolves a nickname to a stable user id, auto-creating the
// user the first time it is seen (spec.md §4.H step 6). Satisfied by
// *repository.UserRepository; an interface here keeps the sink testable
// without a database.
type UserResolver interface {
	EnsureUser(nickname string) (userid int64, ok bool, err error)
}

// KeyPolicy gates per-submitter metrics the way ApiKey.should_log('submit')
// does in the source: an api_key present and true emits the key-tagged
// data.report.*/data.observation.* metrics; anything else stays untagged.
type KeyPolicy map[string]bool

// ShouldLog reports whether apiKey's submissions should be tagged.
func (p KeyPolicy) ShouldLog(apiKey string) bool {
	return p[apiKey]
}

// Sink processes one internal-export batch end to end. It implements
// export.Sink so it can be registered directly in an Uploader's sink table
// under schema.SinkInternal.
type Sink struct {
	Users     UserResolver
	Store     queue.Store
	Metrics   *metrics.Client
	Policy    KeyPolicy
	Transform transform.InternalTransform
}

// New builds an internal sink.
func New(users UserResolver, store queue.Store, m *metrics.Client, policy KeyPolicy) *Sink {
	return &Sink{Users: users, Store: store, Metrics: m, Policy: policy, Transform: transform.InternalTransform{}}
}

// Upload decodes data as the bare JSON array of envelopes the internal
// export queue stores (spec.md §4.E step 2) and processes the batch.
func (s *Sink) Upload(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string, data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("internalsink: decode batch: %w", err)
	}

	envs := make([]schema.Envelope, 0, len(raw))
	for _, item := range raw {
		var env schema.Envelope
		if err := json.Unmarshal(item, &env); err != nil {
			log.Warnf("internalsink: dropping undecodable envelope: %v", err)
			continue
		}
		envs = append(envs, env)
	}

	return s.process(ctx, envs)
}

type groupKey struct{ apiKey, nickname string }

type keyStats struct {
	reports   int
	malformed int
	obsUpload map[schema.TransmitterType]int
	obsDrop   map[schema.TransmitterType]int
}

func newKeyStats() *keyStats {
	return &keyStats{
		obsUpload: map[schema.TransmitterType]int{},
		obsDrop:   map[schema.TransmitterType]int{},
	}
}

func (s *Sink) process(ctx context.Context, envs []schema.Envelope) error {
	groups := make(map[groupKey][]schema.InternalReport)
	var groupOrder []groupKey
	nicknames := make(map[string]struct{})

	for _, env := range envs {
		var ext schema.ExternalReport
		if err := json.Unmarshal(env.Report, &ext); err != nil {
			log.Warnf("internalsink: dropping unparseable report for key %q: %v", env.APIKey, err)
			continue
		}
		internal := s.Transform.Apply(ext)

		key := groupKey{apiKey: env.APIKey, nickname: env.Nickname}
		if _, ok := groups[key]; !ok {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], internal)
		nicknames[env.Nickname] = struct{}{}
	}

	users := make(map[string]int64, len(nicknames))
	scores := make(map[int64]int)
	for nickname := range nicknames {
		userid, ok, err := s.Users.EnsureUser(nickname)
		if err != nil {
			return fmt.Errorf("internalsink: resolving user %q: %w", nickname, err)
		}
		if ok {
			users[nickname] = userid
			scores[userid] = 0
		}
	}

	perKey := make(map[string]*keyStats)
	dedup := map[schema.TransmitterType]map[string]schema.Observation{
		schema.TransmitterBlue: {},
		schema.TransmitterCell: {},
		schema.TransmitterWifi: {},
	}
	gridCells := make(map[[2]int64]struct{})

	for _, key := range groupOrder {
		reports := groups[key]
		stats, ok := perKey[key.apiKey]
		if !ok {
			stats = newKeyStats()
			perKey[key.apiKey] = stats
		}

		userid, hasUser := users[key.nickname]
		positions := make(map[[2]float64]struct{})

		for _, report := range reports {
			outcome := processReport(report, dedup, gridCells)
			for _, t := range transmitterTypes {
				stats.obsUpload[t] += outcome.upload[t]
				stats.obsDrop[t] += outcome.drop[t]
			}
			stats.reports++
			if outcome.anyData {
				if lat, lon, ok := reportPosition(report); ok {
					positions[[2]float64{lat, lon}] = struct{}{}
				}
			} else {
				stats.malformed++
			}
		}

		if hasUser {
			scores[userid] += len(positions)
		}
	}

	if err := s.flush(ctx, dedup, gridCells, scores); err != nil {
		return err
	}

	s.emitStats(perKey)
	return nil
}

var transmitterTypes = []schema.TransmitterType{schema.TransmitterBlue, schema.TransmitterCell, schema.TransmitterWifi}

type reportOutcome struct {
	anyData bool
	upload  map[schema.TransmitterType]int
	drop    map[schema.TransmitterType]int
}

// processReport validates and routes one report's transmitter records,
// merging surviving observations into the batch-wide dedup maps and
// datamap grid set (spec.md §4.H steps 4-6; dedup is batch-scoped, not
// per-report, per the Deduplication quality invariant).
func processReport(report schema.InternalReport, dedup map[schema.TransmitterType]map[string]schema.Observation, gridCells map[[2]int64]struct{}) reportOutcome {
	out := reportOutcome{upload: map[schema.TransmitterType]int{}, drop: map[schema.TransmitterType]int{}}

	lat, lon, havePosition := reportPosition(report)
	reportTime := reportTimeSeconds(report)
	timeStr := formatObservationTime(reportTime)

	addObs := func(t schema.TransmitterType, uniqueKey string, signal *int64, item map[string]interface{}) {
		ob := schema.Observation{
			Type:      t,
			UniqueKey: uniqueKey,
			Time:      reportTime,
			Signal:    signal,
			Lat:       lat,
			Lon:       lon,
			Payload:   combineObservation(report, item, timeStr),
		}
		// The report validated a transmitter record regardless of whether
		// this particular observation wins the batch-wide dedup contest
		// below, so it counts toward score/position credit either way.
		out.anyData = true
		existing, ok := dedup[t][uniqueKey]
		if ok && existing.Better(ob) {
			return
		}
		dedup[t][uniqueKey] = ob
		out.upload[t]++
	}

	if items, ok := report["blue"].([]map[string]interface{}); ok {
		for _, item := range items {
			mac, _ := item["mac"].(string)
			if mac == "" {
				out.drop[schema.TransmitterBlue]++
				continue
			}
			addObs(schema.TransmitterBlue, mac, signalOf(item), item)
		}
	}

	if items, ok := report["cell"].([]map[string]interface{}); ok {
		for _, item := range items {
			key, ok := cellUniqueKey(item)
			if !ok {
				out.drop[schema.TransmitterCell]++
				continue
			}
			addObs(schema.TransmitterCell, key, signalOf(item), item)
		}
	}

	if items, ok := report["wifi"].([]map[string]interface{}); ok {
		for _, item := range items {
			mac, _ := item["mac"].(string)
			if mac == "" {
				out.drop[schema.TransmitterWifi]++
				continue
			}
			addObs(schema.TransmitterWifi, mac, signalOf(item), item)
		}
	}

	if out.anyData && havePosition {
		grid := [2]int64{}
		grid[0], grid[1] = sharding.DataMapGrid(lat, lon)
		gridCells[grid] = struct{}{}
	}

	return out
}

// generalObservationFields are the general-report keys combined into every
// observation's payload, matching obs_cls.combine(report, item_report) in
// the source: the position fix and its whole-second time travel with every
// transmitter record derived from that report.
var generalObservationFields = []string{
	"lat", "lon", "accuracy", "altitude", "altitude_accuracy", "age", "heading", "pressure", "speed", "source",
}

// combineObservation fuses the general report fields with one transmitter
// record into the JSON-ready payload an observation forwards downstream
// (spec.md §4.H step 4a; pkg/schema/observation.go's Payload doc comment).
// item's own keys win on overlap (e.g. a transmitter record's own "age"
// is more specific than the position fix's "age").
func combineObservation(report schema.InternalReport, item map[string]interface{}, timeStr string) map[string]interface{} {
	payload := make(map[string]interface{}, len(item)+len(generalObservationFields)+1)
	for _, k := range generalObservationFields {
		if v, ok := report[k]; ok {
			payload[k] = v
		}
	}
	if timeStr != "" {
		payload["time"] = timeStr
	}
	for k, v := range item {
		payload[k] = v
	}
	return payload
}

// formatObservationTime renders seconds (whole-second UTC instant) as an
// RFC3339 timestamp, e.g. "2017-07-14T02:40:00Z" (spec.md §3, scenario 2).
// A zero seconds value means the report carried no timestamp at all.
func formatObservationTime(seconds int64) string {
	if seconds == 0 {
		return ""
	}
	return time.Unix(seconds, 0).UTC().Format(time.RFC3339)
}

func signalOf(item map[string]interface{}) *int64 {
	v, ok := item["signal"]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case int64:
		return &n
	case float64:
		i := int64(n)
		return &i
	default:
		return nil
	}
}

func cellUniqueKey(item map[string]interface{}) (string, bool) {
	lac, lacOK := item["lac"]
	cid, cidOK := item["cid"]
	if !lacOK || !cidOK {
		return "", false
	}
	return fmt.Sprintf("%v:%v:%v:%v", item["mcc"], item["mnc"], lac, cid), true
}

func reportPosition(report schema.InternalReport) (lat, lon float64, ok bool) {
	latV, latOK := report["lat"].(float64)
	lonV, lonOK := report["lon"].(float64)
	if !latOK || !lonOK {
		return 0, 0, false
	}
	return latV, lonV, true
}

func reportTimeSeconds(report schema.InternalReport) int64 {
	ts, ok := report["timestamp"].(int64)
	if !ok {
		if f, okf := report["timestamp"].(float64); okf {
			ts = int64(f)
		} else {
			return 0
		}
	}
	return ts / 1000
}

// flush enqueues every surviving observation, datamap grid and score in a
// single batched pipeline commit (spec.md §4.H "all within one atomic
// batch").
func (s *Sink) flush(ctx context.Context, dedup map[schema.TransmitterType]map[string]schema.Observation, gridCells map[[2]int64]struct{}, scores map[int64]int) error {
	pipe := s.Store.NewPipeline()

	shardQueues := map[string][]interface{}{}
	for t, observations := range dedup {
		for key, ob := range observations {
			shardID := uniqueKeyShard(t, key)
			queueName := fmt.Sprintf("update_%s_%s", t, shardID)
			shardQueues[queueName] = append(shardQueues[queueName], ob.Payload)
		}
	}
	for name, items := range shardQueues {
		dq := queue.New(s.Store, name, 0, 0, false)
		if err := dq.Enqueue(ctx, items, pipe); err != nil {
			return err
		}
	}

	datamapQueues := map[string][]interface{}{}
	for grid := range gridCells {
		shardID := sharding.DataMapShard(grid[0], grid[1])
		queueName := "update_datamap_" + shardID
		datamapQueues[queueName] = append(datamapQueues[queueName], sharding.EncodeDataMapGrid(grid[0], grid[1]))
	}
	for name, items := range datamapQueues {
		dq := queue.New(s.Store, name, 0, 0, false)
		if err := dq.Enqueue(ctx, items, pipe); err != nil {
			return err
		}
	}

	var scoreEntries []interface{}
	for userid, value := range scores {
		if value <= 0 {
			continue
		}
		scoreEntries = append(scoreEntries, schema.ScoreEntry{Key: schema.ScoreKeyLocation, UserID: userid, Value: value})
	}
	if len(scoreEntries) > 0 {
		dq := queue.New(s.Store, "update_score", 0, 0, false)
		if err := dq.Enqueue(ctx, scoreEntries, pipe); err != nil {
			return err
		}
	}

	return pipe.Commit(ctx)
}

func uniqueKeyShard(t schema.TransmitterType, key string) string {
	if t == schema.TransmitterCell {
		return sharding.CellShard(hashCellKey(key))
	}
	return sharding.MacShard(key)
}

func hashCellKey(key string) int64 {
	var h int64
	for _, c := range key {
		h = h*31 + int64(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}

// emitStats emits the per-api_key report/observation counters the batch
// produced, gated by Policy (spec.md §4.H step 8). Zero counts are not
// emitted.
func (s *Sink) emitStats(perKey map[string]*keyStats) {
	for apiKey, stats := range perKey {
		tag := ""
		if s.Policy.ShouldLog(apiKey) {
			tag = apiKey
		}

		// Matches the source literally: "reports" counts every report in
		// the group, "malformed" is reported alongside it rather than
		// subtracted from it.
		s.Metrics.ReportUpload(tag, stats.reports)
		s.Metrics.ReportDrop(tag, stats.malformed)

		for _, t := range transmitterTypes {
			s.Metrics.ObservationUpload(string(t), tag, stats.obsUpload[t])
			s.Metrics.ObservationDrop(string(t), tag, stats.obsDrop[t])
		}
	}
}
