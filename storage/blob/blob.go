// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/gorse-io/socialrec/config"
	"github.com/juju/errors"
)

// Store keeps named binary objects such as factor matrices.
type Store interface {
	// Open an object for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create an object for writing. The done channel is closed once the content
	// written before Close has been persisted.
	Create(ctx context.Context, name string) (io.WriteCloser, chan struct{}, error)
	// List names of all objects.
	List(ctx context.Context) ([]string, error)
	// Remove an object.
	Remove(ctx context.Context, name string) error
}

const (
	filePrefix  = "file://"
	s3Prefix    = "s3://"
	gcsPrefix   = "gcs://"
	azurePrefix = "azblob://"
)

// Open creates a store by the scheme of cfg.URI. A URI without a scheme is a directory.
func Open(cfg config.BlobConfig) (Store, error) {
	switch uri := cfg.URI; {
	case uri == "":
		return nil, errors.NotValidf("empty blob uri")
	case strings.HasPrefix(uri, filePrefix):
		return NewPOSIX(strings.TrimPrefix(uri, filePrefix)), nil
	case strings.HasPrefix(uri, s3Prefix):
		bucket, prefix, err := splitBucket(uri)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return NewS3(cfg.S3, bucket, prefix)
	case strings.HasPrefix(uri, gcsPrefix):
		bucket, prefix, err := splitBucket(uri)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return NewGCS(cfg.GCS, bucket, prefix)
	case strings.HasPrefix(uri, azurePrefix):
		container, prefix, err := splitBucket(uri)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return NewAzureBlob(cfg.Azure, container, prefix)
	case strings.Contains(uri, "://"):
		return nil, errors.NotSupportedf("blob store %s", uri)
	default:
		return NewPOSIX(uri), nil
	}
}

// splitBucket parses scheme://bucket/prefix.
func splitBucket(uri string) (string, string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Trace(err)
	}
	if parsed.Host == "" {
		return "", "", errors.NotValidf("bucket of %s", uri)
	}
	return parsed.Host, strings.Trim(parsed.Path, "/"), nil
}

// trimPrefix converts an object key back to a name relative to prefix.
func trimPrefix(key, prefix string) string {
	name := strings.TrimPrefix(key, prefix)
	return strings.TrimPrefix(name, "/")
}
