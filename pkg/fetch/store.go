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

// Package fetch pulls raw compressed bytes for one source at a time through
// a bounded prefetch window, abstracting local files and object storage
// behind a single ranged-read capability.
package fetch

import (
	"context"
	"errors"
)

// Store is the byte-range read capability the merge core depends on. Keys
// are object keys for remote stores and absolute or relative paths for the
// local filesystem store.
type Store interface {
	// Size returns the total object size in bytes.
	Size(ctx context.Context, key string) (int64, error)
	// ReadRange returns up to length bytes starting at start. The returned
	// buffer is owned by the caller. Reads that extend past the end of the
	// object return the available suffix.
	ReadRange(ctx context.Context, key string, start, length int64) ([]byte, error)
}

// Lister enumerates objects under a key prefix, in lexical key order.
type Lister interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectStore is a Store whose backend can also enumerate keys. Remote
// stores implement it; the local filesystem store does not need to because
// directory expansion happens during input resolution.
type ObjectStore interface {
	Store
	Lister
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key  string
	Size int64
}

var (
	// ErrSourceUnavailable marks an unrecoverable per-source failure:
	// not-found, permission denied, or a transient failure that outlived its
	// retry budget. It ends that source's contribution to the merge; the run
	// continues.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrTransient marks a retryable condition (timeout, connection reset).
	// It is retried internally and never crosses the fetcher boundary except
	// wrapped in ErrSourceUnavailable after the attempt ceiling.
	ErrTransient = errors.New("transient io error")
)
