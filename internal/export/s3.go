// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ichnaea-go/geoexport/internal/metrics"
	"github.com/ichnaea-go/geoexport/pkg/schema"
)

// s3CompressLevel matches the source's compresslevel=7 for archival uploads.
const s3CompressLevel = 7

// S3TargetConfig configures the object-store client backing S3Sink.
type S3TargetConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Sink archives a batch as a gzip-compressed JSON object, one object per
// partition per upload (spec.md §4.F "s3" sink). The queue's URL is
// s3://bucket/path/template, where the path may reference {api_key},
// {year}, {month} and {day} placeholders (source: data/export.py S3Uploader).
type S3Sink struct {
	client  *s3.Client
	Metrics *metrics.Client

	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
	// NewObjectID is overridable in tests; defaults to a random uuid1-style hex id.
	NewObjectID func() string
}

// NewS3Sink builds an S3 sink from cfg.
func NewS3Sink(cfg S3TargetConfig, m *metrics.Client) (*S3Sink, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Sink{
		client:      client,
		Metrics:     m,
		Now:         time.Now,
		NewObjectID: func() string { return strings.ReplaceAll(uuid.New().String(), "-", "") },
	}, nil
}

func (s *S3Sink) Upload(ctx context.Context, cfg *schema.ExportQueueConfig, partitionKey string, data []byte) error {
	bucket, _, err := parseS3URL(cfg.URL)
	if err != nil {
		return err
	}

	apiKey := schema.APIKeyFromPartition(partitionKey)
	keyPrefix, err := BuildObjectKeyPrefix(cfg.URL, apiKey, s.Now())
	if err != nil {
		return err
	}
	objectKey := keyPrefix + s.NewObjectID() + ".json.gz"

	body, err := gzipEncode(data, s3CompressLevel)
	if err != nil {
		return fmt.Errorf("s3 sink: gzip encode: %w", err)
	}

	done := s.Metrics.TimeUpload(cfg.MetricTag())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(objectKey),
		Body:            bytes.NewReader(body),
		ContentEncoding: aws.String("gzip"),
		ContentType:     aws.String("application/json"),
	})
	done()
	if err != nil {
		s.Metrics.ExportUpload(cfg.MetricTag(), "failure")
		return Retriable(fmt.Errorf("s3 sink: put object %q: %w", objectKey, err))
	}
	s.Metrics.ExportUpload(cfg.MetricTag(), "success")
	return nil
}

// BuildObjectKeyPrefix renders the path template of cfg.URL for apiKey at
// the given instant, resolving {api_key}/{year}/{month}/{day} placeholders.
// S3Sink.Upload calls this with the api_key taken from the partition key it
// was given, so the object key reflects the partition actually being
// drained, matching the source's queue_key threading
// (self.queue_key.split(':')[-1]).
func BuildObjectKeyPrefix(rawURL, apiKey string, now time.Time) (string, error) {
	_, keyPrefix, err := parseS3URL(rawURL)
	if err != nil {
		return "", err
	}
	if apiKey == "" {
		apiKey = "no_key"
	}
	year, month, day := now.UTC().Date()
	replacer := strings.NewReplacer(
		"{api_key}", apiKey,
		"{year}", strconv.Itoa(year),
		"{month}", fmt.Sprintf("%02d", int(month)),
		"{day}", fmt.Sprintf("%02d", day),
	)
	return replacer.Replace(keyPrefix), nil
}

func parseS3URL(rawURL string) (bucket, keyPrefix string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("s3 sink: parse url %q: %w", rawURL, err)
	}
	bucket = u.Host
	path := strings.TrimPrefix(u.Path, "/")
	if path != "" && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return bucket, path, nil
}
