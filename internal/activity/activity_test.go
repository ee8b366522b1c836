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

package activity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notesync/internal/common"
)

func TestAppendAndTail(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	owner := common.NewID()
	doc := common.NewID()

	require.NoError(t, Append(dir, owner, Record{DocumentID: doc, InstanceID: owner, Sequence: 1}))
	require.NoError(t, Append(dir, owner, Record{DocumentID: doc, InstanceID: owner, Sequence: 2}))

	records, offset, err := Tail(dir, owner, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(1), records[0].Sequence)
	assert.Equal(t, uint64(2), records[1].Sequence)
	assert.Positive(t, offset)

	// Nothing new: same offset, no records.
	records, offset2, err := Tail(dir, owner, offset)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, offset, offset2)

	// Resume picks up exactly the appended suffix.
	require.NoError(t, Append(dir, owner, Record{DocumentID: doc, InstanceID: owner, Sequence: 3}))
	records, _, err = Tail(dir, owner, offset)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(3), records[0].Sequence)
}

func TestTailMissingLedger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inst := common.NewID()

	// Never-seen instance with zero offset is simply empty.
	records, offset, err := Tail(dir, inst, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, offset)

	// A remembered offset for a vanished ledger is an error, not silence.
	_, _, err = Tail(dir, inst, 10)
	assert.Error(t, err)
}

func TestTailDefersPartialLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	owner := common.NewID()
	doc := common.NewID()
	require.NoError(t, Append(dir, owner, Record{DocumentID: doc, InstanceID: owner, Sequence: 1}))

	// Simulate a producer caught mid-append: no trailing newline.
	f, err := os.OpenFile(LogPath(dir, owner), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(doc + "|" + owner + "_2")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, offset, err := Tail(dir, owner, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Sequence)

	// Completing the line makes it visible from the remembered offset.
	f, err = os.OpenFile(LogPath(dir, owner), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, _, err = Tail(dir, owner, offset)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].Sequence)
}

func TestTailShrunkLedger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	owner := common.NewID()
	doc := common.NewID()
	require.NoError(t, Append(dir, owner, Record{DocumentID: doc, InstanceID: owner, Sequence: 1}))

	_, offset, err := Tail(dir, owner, 0)
	require.NoError(t, err)

	// Truncation below the remembered offset violates append-only.
	require.NoError(t, os.Truncate(LogPath(dir, owner), 0))
	_, _, err = Tail(dir, owner, offset)
	assert.ErrorContains(t, err, "shrank")
}

func TestTailSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	owner := common.NewID()
	doc := common.NewID()

	require.NoError(t, Append(dir, owner, Record{DocumentID: doc, InstanceID: owner, Sequence: 1}))
	f, err := os.OpenFile(LogPath(dir, owner), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("garbage line without grammar\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, Append(dir, owner, Record{DocumentID: doc, InstanceID: owner, Sequence: 2}))

	records, _, err := Tail(dir, owner, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[1].Sequence)
}

func TestInstances(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := common.NewID()
	b := common.NewID()
	doc := common.NewID()

	require.NoError(t, Append(dir, a, Record{DocumentID: doc, InstanceID: a, Sequence: 1}))
	require.NoError(t, Append(dir, b, Record{DocumentID: doc, InstanceID: b, Sequence: 1}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-an-id.log"), []byte("x"), 0o644))

	instances, err := Instances(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, instances)

	instances, err = Instances(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestHighWater(t *testing.T) {
	t.Parallel()

	docA := common.NewID()
	docB := common.NewID()
	inst1 := common.NewID()
	inst2 := common.NewID()

	hw := HighWater([]Record{
		{DocumentID: docA, InstanceID: inst1, Sequence: 1},
		{DocumentID: docA, InstanceID: inst1, Sequence: 5},
		{DocumentID: docA, InstanceID: inst1, Sequence: 3}, // overlapping poll duplicate
		{DocumentID: docA, InstanceID: inst2, Sequence: 2},
		{DocumentID: docB, InstanceID: inst1, Sequence: 7},
	})

	assert.Equal(t, uint64(5), hw[docA][inst1])
	assert.Equal(t, uint64(2), hw[docA][inst2])
	assert.Equal(t, uint64(7), hw[docB][inst1])
}

func TestAcknowledgmentLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	owner := common.NewID()
	producer := common.NewID()
	doc := common.NewID()

	// The owner acknowledges having incorporated producer's updates.
	require.NoError(t, Append(dir, owner, Record{DocumentID: doc, InstanceID: producer, Sequence: 4}))

	records, _, err := Tail(dir, owner, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, producer, records[0].InstanceID)
	assert.Equal(t, uint64(4), records[0].Sequence)
}
