// Copyright 2026 the stream-merge authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package source describes merge inputs. A Descriptor identifies one
// time-sorted capture file, local or remote, and carries the stable index
// used to break timestamp ties deterministically.
package source

import (
	"fmt"
	"strings"
)

// Origin distinguishes local files from object-storage keys.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "local"
}

// Descriptor identifies one input. Descriptors are created once at startup
// from the input enumeration and never mutated.
type Descriptor struct {
	// Identity is the local path or the full s3://bucket/key URI.
	Identity string
	// SizeHint is the object size in bytes, or 0 when unknown.
	SizeHint int64
	Origin   Origin
	// Index is the descriptor's position in the enumeration order. It is the
	// tie-break key for records with equal timestamps, making runs
	// reproducible.
	Index int
}

const s3Scheme = "s3://"

// IsS3URI reports whether the argument names an object-storage location.
func IsS3URI(s string) bool {
	return strings.HasPrefix(s, s3Scheme)
}

// ParseS3URI splits s3://bucket/key into its bucket and key. The key may be
// a prefix when enumerating.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, s3Scheme)
	i := strings.IndexByte(rest, '/')
	if i <= 0 {
		return "", "", fmt.Errorf("invalid S3 URI %q: missing '/' bucket delimiter", uri)
	}
	bucket, key = rest[:i], rest[i+1:]
	if key == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: missing key after bucket", uri)
	}
	return bucket, key, nil
}

// S3URI renders a bucket/key pair back into identity form.
func S3URI(bucket, key string) string {
	return s3Scheme + bucket + "/" + key
}
