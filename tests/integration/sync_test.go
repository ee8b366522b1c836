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

// Package integration exercises whole-system flows: multiple instances
// mounting one storage directory through their own managers, monitors, and
// read caches, converging purely through files.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"notesync/internal/common"
	"notesync/internal/manager"
	"notesync/internal/materialize"
	"notesync/internal/monitor"
	"notesync/internal/readcache"
	"notesync/internal/sd"
)

const (
	convergeTimeout = 10 * time.Second
	pollInterval    = 50 * time.Millisecond
)

// device is one simulated app instance: its own identity, read cache,
// manager, and monitor, sharing only the storage directory with peers.
type device struct {
	id    string
	sd    *sd.SD
	cache *readcache.Cache
	mgr   *manager.Manager
	mon   *monitor.Monitor
}

func newDevice(t *testing.T, g *WithT, root string) *device {
	t.Helper()

	s, err := sd.Open(root)
	g.Expect(err).NotTo(HaveOccurred())

	id := common.NewID()
	cache, err := readcache.Create(filepath.Join(t.TempDir(), "readcache.db"))
	g.Expect(err).NotTo(HaveOccurred())

	d := &device{id: id, sd: s, cache: cache}
	d.mgr = manager.New(s, cache, id)
	d.mon = monitor.New(monitor.Config{
		SD:         s,
		Cache:      cache,
		InstanceID: id,
		OnChange: func(documentID string, st *materialize.State) {
			d.mgr.MergeRemote(documentID, st)
		},
	})

	t.Cleanup(func() {
		d.mgr.Close()
		d.cache.Close()
	})
	return d
}

// text returns the device's current rendering of a document.
func (d *device) text(g *WithT, docID string) string {
	h, err := d.mgr.Open(docID)
	g.Expect(err).NotTo(HaveOccurred())
	defer h.Close()
	return h.Text()
}

// sync runs one discovery pass on the device.
func (d *device) sync(g *WithT) {
	g.Expect(d.mon.Scan(context.Background())).To(Succeed())
}

func TestTwoDevicesConverge(t *testing.T) {
	g := NewWithT(t)
	root := filepath.Join(t.TempDir(), "shared")
	_, err := sd.Create(root, sd.TypeLocal)
	g.Expect(err).NotTo(HaveOccurred())

	alpha := newDevice(t, g, root)
	beta := newDevice(t, g, root)

	// Alpha writes a note.
	h, err := alpha.mgr.Create()
	g.Expect(err).NotTo(HaveOccurred())
	docID := h.DocumentID()
	first, err := h.AppendBlock("", "Grocery run")
	g.Expect(err).NotTo(HaveOccurred())
	_, err = h.AppendBlock(first, "oat milk")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(h.Close()).To(Succeed())

	// Beta discovers it through the storage directory alone.
	g.Eventually(func() string {
		beta.sync(g)
		return beta.text(g, docID)
	}, convergeTimeout, pollInterval).Should(Equal("Grocery run\noat milk"))

	// Beta edits; alpha sees the edit.
	hb, err := beta.mgr.Open(docID)
	g.Expect(err).NotTo(HaveOccurred())
	blocks := hb.Blocks()
	g.Expect(blocks).To(HaveLen(2))
	g.Expect(hb.EditBlock(blocks[1].ID, "oat milk x2")).To(Succeed())
	g.Expect(hb.Close()).To(Succeed())

	g.Eventually(func() string {
		alpha.sync(g)
		return alpha.text(g, docID)
	}, convergeTimeout, pollInterval).Should(Equal("Grocery run\noat milk x2"))
}

func TestConcurrentEditsMergeOnBothSides(t *testing.T) {
	g := NewWithT(t)
	root := filepath.Join(t.TempDir(), "shared")
	_, err := sd.Create(root, sd.TypeLocal)
	g.Expect(err).NotTo(HaveOccurred())

	alpha := newDevice(t, g, root)
	beta := newDevice(t, g, root)

	// Shared starting point.
	h, err := alpha.mgr.Create()
	g.Expect(err).NotTo(HaveOccurred())
	docID := h.DocumentID()
	title, err := h.AppendBlock("", "Meeting agenda")
	g.Expect(err).NotTo(HaveOccurred())

	g.Eventually(func() string {
		beta.sync(g)
		return beta.text(g, docID)
	}, convergeTimeout, pollInterval).Should(Equal("Meeting agenda"))

	// Both devices append concurrently without seeing each other.
	_, err = h.AppendBlock(title, "alpha item")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(h.Close()).To(Succeed())

	hb, err := beta.mgr.Open(docID)
	g.Expect(err).NotTo(HaveOccurred())
	betaBlocks := hb.Blocks()
	_, err = hb.AppendBlock(betaBlocks[0].ID, "beta item")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(hb.Close()).To(Succeed())

	// Both converge to the identical merged document.
	var alphaText, betaText string
	g.Eventually(func() bool {
		alpha.sync(g)
		beta.sync(g)
		alphaText = alpha.text(g, docID)
		betaText = beta.text(g, docID)
		return alphaText == betaText &&
			len(alphaText) > len("Meeting agenda\nalpha item")
	}, convergeTimeout, pollInterval).Should(BeTrue())

	g.Expect(alphaText).To(ContainSubstring("alpha item"))
	g.Expect(alphaText).To(ContainSubstring("beta item"))
	g.Expect(alphaText).To(HavePrefix("Meeting agenda"))
}

func TestFolderTreeReplicates(t *testing.T) {
	g := NewWithT(t)
	root := filepath.Join(t.TempDir(), "shared")
	_, err := sd.Create(root, sd.TypeLocal)
	g.Expect(err).NotTo(HaveOccurred())

	alpha := newDevice(t, g, root)
	beta := newDevice(t, g, root)

	hf, err := alpha.mgr.OpenFolders()
	g.Expect(err).NotTo(HaveOccurred())
	work, err := hf.CreateFolder("Work", "")
	g.Expect(err).NotTo(HaveOccurred())
	reports, err := hf.CreateFolder("Reports", work)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(hf.Close()).To(Succeed())

	g.Eventually(func() bool {
		beta.sync(g)
		hb, err := beta.mgr.OpenFolders()
		if err != nil {
			return false
		}
		defer hb.Close()
		tree := hb.FolderTree()
		f, ok := tree.Folders[reports]
		return ok && f.Parent == work && tree.Folders[work].Name == "Work"
	}, convergeTimeout, pollInterval).Should(BeTrue())
}

func TestTrashAndCompactAcrossDevices(t *testing.T) {
	g := NewWithT(t)
	root := filepath.Join(t.TempDir(), "shared")
	_, err := sd.Create(root, sd.TypeLocal)
	g.Expect(err).NotTo(HaveOccurred())

	alpha := newDevice(t, g, root)
	beta := newDevice(t, g, root)

	h, err := alpha.mgr.Create()
	g.Expect(err).NotTo(HaveOccurred())
	docID := h.DocumentID()
	_, err = h.AppendBlock("", "ephemeral note")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(h.SetTrashed(true)).To(Succeed())
	g.Expect(h.Close()).To(Succeed())

	// Beta sees the note as trashed in its read cache.
	g.Eventually(func() bool {
		beta.sync(g)
		row, err := beta.cache.Get(context.Background(), beta.sd.ID, docID)
		return err == nil && row.Deleted
	}, convergeTimeout, pollInterval).Should(BeTrue())

	// Once beta has acknowledged everything, alpha can compact the log
	// down to a single base entry without changing state.
	var before string
	g.Eventually(func() int {
		alpha.sync(g)
		before = alpha.text(g, docID)
		res, err := alpha.mgr.Compact(docID)
		g.Expect(err).NotTo(HaveOccurred())
		return res.Folded
	}, convergeTimeout, pollInterval).Should(BeNumerically(">", 0))

	g.Expect(alpha.text(g, docID)).To(Equal(before))

	// Beta replays the compacted log to the same state.
	g.Eventually(func() string {
		beta.sync(g)
		return beta.text(g, docID)
	}, convergeTimeout, pollInterval).Should(Equal(before))
}
