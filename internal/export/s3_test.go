// Copyright (C) 2024 geoexport contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildObjectKeyPrefixResolvesPlaceholders(t *testing.T) {
	now := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)

	prefix, err := BuildObjectKeyPrefix("s3://bucket/archive/{api_key}/{year}-{month}-{day}", "abc123", now)
	require.NoError(t, err)
	require.Equal(t, "archive/abc123/2026-03-05/", prefix)
}

func TestBuildObjectKeyPrefixDefaultsToNoKey(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	prefix, err := BuildObjectKeyPrefix("s3://bucket/archive/{api_key}/", "", now)
	require.NoError(t, err)
	require.Equal(t, "archive/no_key/", prefix)
}

func TestParseS3URLSplitsBucketAndPrefix(t *testing.T) {
	bucket, prefix, err := parseS3URL("s3://my-bucket/path/to")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "path/to/", prefix)
}
