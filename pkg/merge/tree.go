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

// Package merge interleaves records from many individually time-sorted
// sources into one globally time-ordered stream.
package merge

import "math"

// exhausted is the sentinel key for a drained leaf. Real capture timestamps
// never reach it.
const exhausted = math.MaxUint64

// tree is a tournament tree over k leaves keyed by (timestamp, leaf index).
// The winner — the leaf with the smallest key — is read in O(1); replacing
// the winner's key after it advances costs O(log k) comparisons along the
// path to the root, instead of the O(log k) sift of a binary heap plus its
// separate peek bookkeeping. Ties always go to the lower leaf index, which
// is what makes a merge run reproducible.
type tree struct {
	// winners[i] holds the winning leaf of the subtree rooted at node i;
	// winners[1] is the overall winner. Leaves occupy winners[n:2n].
	winners []int
	values  []uint64
	n       int
}

// newTree builds a tournament over k leaves, all initially exhausted.
// Callers seed real keys with update before the first winner query.
func newTree(k int) *tree {
	n := 1
	for n < k {
		n <<= 1
	}
	t := &tree{
		winners: make([]int, 2*n),
		values:  make([]uint64, n),
		n:       n,
	}
	for i := range t.values {
		t.values[i] = exhausted
	}
	for i := 0; i < n; i++ {
		t.winners[n+i] = i
	}
	for i := n - 1; i >= 1; i-- {
		t.winners[i] = t.better(t.winners[2*i], t.winners[2*i+1])
	}
	return t
}

func (t *tree) better(a, b int) int {
	if t.values[b] < t.values[a] || (t.values[b] == t.values[a] && b < a) {
		return b
	}
	return a
}

// update installs a new key for leaf i and replays the matches on the path
// from that leaf to the root.
func (t *tree) update(i int, key uint64) {
	t.values[i] = key
	for node := (t.n + i) / 2; node >= 1; node /= 2 {
		t.winners[node] = t.better(t.winners[2*node], t.winners[2*node+1])
	}
}

// retire marks leaf i permanently drained.
func (t *tree) retire(i int) {
	t.update(i, exhausted)
}

// winner returns the leaf with the minimum key, or false when every leaf is
// exhausted.
func (t *tree) winner() (int, bool) {
	w := t.winners[1]
	return w, t.values[w] != exhausted
}
