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

package merge

import (
	"errors"

	"github.com/robber-m/stream-merge/pkg/compress"
	"github.com/robber-m/stream-merge/pkg/fetch"
	"github.com/robber-m/stream-merge/pkg/pcap"
)

func errorKind(err error) string {
	switch {
	case errors.Is(err, fetch.ErrSourceUnavailable):
		return "unavailable"
	case errors.Is(err, pcap.ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, pcap.ErrTruncatedRecord):
		return "truncated"
	case errors.Is(err, pcap.ErrCorruptRecord):
		return "corrupt_record"
	case errors.Is(err, compress.ErrCorruptStream):
		return "corrupt_stream"
	default:
		return "other"
	}
}
