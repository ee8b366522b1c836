// Copyright 2025 Notesync Authors
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

package crdt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stamp(counter uint64, actor string) Stamp {
	return Stamp{Counter: counter, Wall: int64(counter) * 1000, Actor: actor}
}

// buildOps returns an op batch exercising inserts, edits, deletes and attrs
// from two actors.
func buildOps() []Op {
	return []Op{
		{Kind: OpInsertBlock, Block: "b1", Origin: "", Text: "title line", Stamp: stamp(1, "a")},
		{Kind: OpInsertBlock, Block: "b2", Origin: "b1", Text: "second", Stamp: stamp(2, "a")},
		{Kind: OpInsertBlock, Block: "b3", Origin: "b1", Text: "concurrent", Stamp: stamp(2, "b")},
		{Kind: OpEditBlock, Block: "b2", Text: "second edited", Stamp: stamp(3, "b")},
		{Kind: OpDeleteBlock, Block: "b3", Stamp: stamp(4, "a")},
		{Kind: OpSetAttr, Key: AttrPinned, Value: "true", Stamp: stamp(5, "a")},
		{Kind: OpSetAttr, Key: AttrPinned, Value: "false", Stamp: stamp(6, "b")},
	}
}

func TestApplyDeterministic(t *testing.T) {
	t.Parallel()

	ops := buildOps()
	want := New("doc")
	want.ApplyAll(ops)
	wantText := want.Text()

	// Any permutation must converge to the same state.
	for i := 0; i < 20; i++ {
		shuffled := make([]Op, len(ops))
		copy(shuffled, ops)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		d := New("doc")
		d.ApplyAll(shuffled)
		require.Equal(t, wantText, d.Text(), "permutation %d diverged", i)
		assert.Equal(t, "false", d.Attr(AttrPinned))
	}
}

func TestApplyIdempotent(t *testing.T) {
	t.Parallel()

	ops := buildOps()
	d := New("doc")
	d.ApplyAll(ops)
	once := d.Text()

	d.ApplyAll(ops)
	d.ApplyAll(ops)
	assert.Equal(t, once, d.Text())
	assert.Len(t, d.Blocks, 3)
}

func TestLastWriterWins(t *testing.T) {
	t.Parallel()

	t.Run("text register", func(t *testing.T) {
		t.Parallel()
		d := New("doc")
		d.Apply(Op{Kind: OpInsertBlock, Block: "b1", Text: "v1", Stamp: stamp(1, "a")})
		d.Apply(Op{Kind: OpEditBlock, Block: "b1", Text: "v3", Stamp: stamp(3, "a")})
		// A stale edit must not win.
		d.Apply(Op{Kind: OpEditBlock, Block: "b1", Text: "v2", Stamp: stamp(2, "b")})
		assert.Equal(t, "v3", d.Blocks["b1"].Text.Value)
	})

	t.Run("attr tie breaks on actor", func(t *testing.T) {
		t.Parallel()
		d := New("doc")
		sa := Stamp{Counter: 5, Wall: 100, Actor: "aaa"}
		sb := Stamp{Counter: 5, Wall: 100, Actor: "bbb"}
		d.Apply(Op{Kind: OpSetAttr, Key: AttrFolder, Value: "from-a", Stamp: sa})
		d.Apply(Op{Kind: OpSetAttr, Key: AttrFolder, Value: "from-b", Stamp: sb})
		assert.Equal(t, "from-b", d.Attr(AttrFolder))

		// Same ops, other order: same winner.
		d2 := New("doc")
		d2.Apply(Op{Kind: OpSetAttr, Key: AttrFolder, Value: "from-b", Stamp: sb})
		d2.Apply(Op{Kind: OpSetAttr, Key: AttrFolder, Value: "from-a", Stamp: sa})
		assert.Equal(t, "from-b", d2.Attr(AttrFolder))
	})

	t.Run("replayed insert compares stamps only", func(t *testing.T) {
		t.Parallel()
		ins := Op{Kind: OpInsertBlock, Block: "b1", Text: "x", Stamp: stamp(1, "a")}
		edit := Op{Kind: OpEditBlock, Block: "b1", Text: "y", Stamp: stamp(3, "b")}
		// A snapshot entry can re-assert the same text under a newer stamp.
		reassert := Op{Kind: OpInsertBlock, Block: "b1", Text: "x", Stamp: stamp(5, "a")}

		d := New("doc")
		d.ApplyAll([]Op{ins, edit, reassert})
		d2 := New("doc")
		d2.ApplyAll([]Op{ins, reassert, edit})

		assert.Equal(t, "x", d.Blocks["b1"].Text.Value)
		assert.Equal(t, stamp(5, "a"), d.Blocks["b1"].Text.Stamp)
		assert.Equal(t, d.Text(), d2.Text())
	})
}

func TestRemoveWins(t *testing.T) {
	t.Parallel()

	d := New("doc")
	d.Apply(Op{Kind: OpInsertBlock, Block: "b1", Text: "gone", Stamp: stamp(1, "a")})
	d.Apply(Op{Kind: OpDeleteBlock, Block: "b1", Stamp: stamp(2, "a")})
	// A concurrent edit with a later stamp cannot resurrect the block.
	d.Apply(Op{Kind: OpEditBlock, Block: "b1", Text: "back", Stamp: stamp(9, "b")})

	assert.True(t, d.Blocks["b1"].Deleted)
	assert.Empty(t, d.Text())
}

func TestPlaceholderAdoption(t *testing.T) {
	t.Parallel()

	// Edit and delete arrive before the insert they refer to.
	early := []Op{
		{Kind: OpEditBlock, Block: "b2", Text: "edited", Stamp: stamp(5, "b")},
	}
	insert := []Op{
		{Kind: OpInsertBlock, Block: "b1", Text: "first", Stamp: stamp(1, "a")},
		{Kind: OpInsertBlock, Block: "b2", Origin: "b1", Text: "original", Stamp: stamp(2, "a")},
	}

	d1 := New("doc")
	d1.ApplyAll(early)
	d1.ApplyAll(insert)

	d2 := New("doc")
	d2.ApplyAll(insert)
	d2.ApplyAll(early)

	require.Equal(t, d2.Text(), d1.Text())
	assert.Equal(t, "first\nedited", d1.Text())
	assert.Equal(t, stamp(2, "a"), d1.Blocks["b2"].Inserted, "placeholder must adopt the insert stamp")
}

func TestLinearizeSiblingOrder(t *testing.T) {
	t.Parallel()

	// Two blocks concurrently inserted after the same origin: the newer
	// insertion sorts first, like prepending at the same caret.
	d := New("doc")
	d.Apply(Op{Kind: OpInsertBlock, Block: "old", Origin: "", Text: "older", Stamp: stamp(1, "a")})
	d.Apply(Op{Kind: OpInsertBlock, Block: "new", Origin: "", Text: "newer", Stamp: stamp(2, "b")})

	assert.Equal(t, "newer\nolder", d.Text())
}

func TestNextStampAdvancesClock(t *testing.T) {
	t.Parallel()

	d := New("doc")
	d.Apply(Op{Kind: OpSetAttr, Key: "k", Value: "v", Stamp: stamp(10, "remote")})

	s := d.NextStamp("local")
	assert.Equal(t, uint64(11), s.Counter)
	assert.Equal(t, "local", s.Actor)
	assert.True(t, stamp(10, "remote").Less(s))
}

func TestSnapshotEquivalence(t *testing.T) {
	t.Parallel()

	ops := buildOps()
	full := New("doc")
	full.ApplyAll(ops)

	// Rebuild an empty replica from the snapshot alone.
	rebuilt := New("doc")
	rebuilt.ApplyAll(full.SnapshotOps())
	assert.Equal(t, full.Text(), rebuilt.Text())
	assert.Equal(t, full.Attr(AttrPinned), rebuilt.Attr(AttrPinned))

	// Merging the snapshot with a subset of the original entries must give
	// the same state as the original entries alone.
	partial := New("doc")
	partial.ApplyAll(ops[:3])
	partial.ApplyAll(full.SnapshotOps())
	assert.Equal(t, full.Text(), partial.Text())
}

func TestEncodeDecodeOps(t *testing.T) {
	t.Parallel()

	ops := buildOps()
	data, err := EncodeOps(ops)
	require.NoError(t, err)

	got, err := DecodeOps(data)
	require.NoError(t, err)
	assert.Equal(t, ops, got)

	_, err = DecodeOps([]byte("{not json"))
	assert.Error(t, err)
}
