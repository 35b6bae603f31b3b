// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the pipeline's process-wide settings: the database
// connection, the queue store address, and the configured export queues.
// It is read once at startup (see Init) and treated as read-only
// afterwards, per SPEC_FULL.md §10.3.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/ichnaea-go/geoexport/pkg/log"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

// ExportQueueSettings is the raw, JSON-configurable shape of one export
// queue entry, before it is compiled into a schema.ExportQueueConfig.
type ExportQueueSettings struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Batch    int    `json:"batch"`
	SkipKeys string `json:"skip_keys"`
	Compress bool   `json:"compress"`
	TTLSecs  int64  `json:"ttl_secs"`
}

// S3Settings configures the AWS SDK client used by the object-store sink.
type S3Settings struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UsePathStyle    bool   `json:"use_path_style"`
}

// ProgramConfig is the top-level, JSON-configurable settings struct.
type ProgramConfig struct {
	DBDriver string `json:"db-driver"`
	DB       string `json:"db"`

	RedisAddr string `json:"redis-addr"`

	IncomingQueueName string                `json:"incoming-queue"`
	ExportQueues      []ExportQueueSettings  `json:"export-queues"`
	S3                S3Settings             `json:"s3"`

	LogLevel string `json:"log-level"`
}

// Keys holds the process-wide configuration, populated by Init and
// read-only thereafter.
var Keys = ProgramConfig{
	DBDriver:          "sqlite3",
	DB:                "./var/geoexport.db",
	RedisAddr:         "localhost:6379",
	IncomingQueueName: "update_incoming",
	LogLevel:          "info",
}

// Init reads flagConfigFile (if present) and merges it over the defaults
// above. A missing file is not an error: the defaults apply.
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("config: %s not found, using defaults", flagConfigFile)
			return nil
		}
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return err
	}

	log.SetLogLevel(Keys.LogLevel)
	return nil
}

// CompileExportQueues converts the raw settings into schema.ExportQueueConfig
// values, splitting the whitespace-delimited skip_keys string (spec.md §6).
func CompileExportQueues() []*schema.ExportQueueConfig {
	out := make([]*schema.ExportQueueConfig, 0, len(Keys.ExportQueues))
	for _, s := range Keys.ExportQueues {
		skip := splitWhitespace(s.SkipKeys)
		out = append(out, schema.NewExportQueueConfig(s.Name, s.URL, s.Batch, skip, s.Compress, s.TTLSecs))
	}
	return out
}

func splitWhitespace(s string) []string {
	var out []string
	start := -1
	isSpace := func(r byte) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	}
	for i := 0; i < len(s); i++ {
		if isSpace(s[i]) {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
