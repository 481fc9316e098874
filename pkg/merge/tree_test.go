package merge

import "testing"

// mergeSequences drains k sorted sequences through the tree and returns the
// interleaved keys with the leaf each came from.
func mergeSequences(t *testing.T, seqs [][]uint64) (keys []uint64, leaves []int) {
	t.Helper()
	pos := make([]int, len(seqs))
	tr := newTree(len(seqs))
	for i, s := range seqs {
		if len(s) > 0 {
			tr.update(i, s[0])
			pos[i] = 1
		}
	}
	for {
		i, ok := tr.winner()
		if !ok {
			return keys, leaves
		}
		keys = append(keys, tr.values[i])
		leaves = append(leaves, i)
		if pos[i] < len(seqs[i]) {
			tr.update(i, seqs[i][pos[i]])
			pos[i]++
		} else {
			tr.retire(i)
		}
	}
}

func TestTreeMergesSortedSequences(t *testing.T) {
	keys, _ := mergeSequences(t, [][]uint64{
		{1, 6, 8},
		{2, 8, 9},
		{1},
	})
	want := []uint64{1, 1, 2, 6, 8, 8, 9}
	if len(keys) != len(want) {
		t.Fatalf("merged %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys[%d] = %d, want %d (full: %v)", i, keys[i], want[i], keys)
		}
	}
}

func TestTreeTieBreaksByLeafIndex(t *testing.T) {
	_, leaves := mergeSequences(t, [][]uint64{
		{7, 7},
		{7},
		{7},
	})
	// Ties resolve by leaf index, so leaf 0's second tied record still beats
	// leaves 1 and 2.
	want := []int{0, 0, 1, 2}
	for i := range want {
		if leaves[i] != want[i] {
			t.Fatalf("leaves = %v, want %v", leaves, want)
		}
	}
}

func TestTreeSingleLeaf(t *testing.T) {
	keys, _ := mergeSequences(t, [][]uint64{{3, 4, 5}})
	if len(keys) != 3 || keys[0] != 3 || keys[2] != 5 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestTreeNonPowerOfTwo(t *testing.T) {
	keys, _ := mergeSequences(t, [][]uint64{
		{10},
		{4, 11},
		{2},
		{7, 8},
		{1},
	})
	want := []uint64{1, 2, 4, 7, 8, 10, 11}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestTreeAllExhausted(t *testing.T) {
	tr := newTree(4)
	if _, ok := tr.winner(); ok {
		t.Fatalf("fresh tree must report no winner")
	}
	tr.update(2, 9)
	if w, ok := tr.winner(); !ok || w != 2 {
		t.Fatalf("winner = %d, %v", w, ok)
	}
	tr.retire(2)
	if _, ok := tr.winner(); ok {
		t.Fatalf("retired tree must report no winner")
	}
}
