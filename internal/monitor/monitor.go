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

// Package monitor discovers remote updates in a storage directory and keeps
// the read cache current. Discovery is cheap: it tails peer activity
// ledgers from remembered offsets instead of scanning every document's log
// directory, and falls back to a full mtime scan when a ledger misbehaves.
package monitor

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"notesync/internal/activity"
	"notesync/internal/crdt"
	"notesync/internal/materialize"
	"notesync/internal/readcache"
	"notesync/internal/sd"
)

// Monitor states, readable via State().
const (
	StateIdle     = "idle"
	StateScanning = "scanning"
)

const (
	defaultDebounce    = 500 * time.Millisecond
	defaultRescanEvery = 5 * time.Minute
	defaultConcurrency = 4
)

// Config configures a Monitor.
type Config struct {
	SD         *sd.SD
	Cache      *readcache.Cache
	InstanceID string

	// Debounce coalesces bursts of filesystem events (cloud sync clients
	// deliver files in flurries) into one scan.
	Debounce time.Duration

	// RescanEvery bounds staleness when fsnotify misses events, which some
	// cloud-synced folders do. Zero uses the default; negative disables.
	RescanEvery time.Duration

	// Concurrency bounds parallel document materialization during a scan.
	Concurrency int

	// OnChange is invoked after a document's materialized state changed.
	// Called from scan goroutines; must be safe for concurrent use.
	OnChange func(documentID string, st *materialize.State)
}

// Monitor watches one storage directory.
type Monitor struct {
	cfg      Config
	refresh  chan struct{}
	scanning atomic.Bool

	// degraded is set after a ledger violates append-only; discovery then
	// runs on directory mtimes until offsets are rebuilt.
	degraded atomic.Bool
}

// New returns a monitor for the configured storage directory.
func New(cfg Config) *Monitor {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.RescanEvery == 0 {
		cfg.RescanEvery = defaultRescanEvery
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Monitor{cfg: cfg, refresh: make(chan struct{}, 1)}
}

// State reports whether a scan is in flight.
func (m *Monitor) State() string {
	if m.scanning.Load() {
		return StateScanning
	}
	return StateIdle
}

// Degraded reports whether ledger-offset discovery is currently disabled.
func (m *Monitor) Degraded() bool {
	return m.degraded.Load()
}

// Refresh requests a scan outside the watcher path (pull-to-refresh, app
// foregrounded). Multiple pending requests coalesce into one scan.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// Run watches the storage directory and processes scans until ctx is
// cancelled. The initial scan runs before the first event so state is
// current at startup.
func (m *Monitor) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, root := range []string{m.cfg.SD.ActivityDir(), m.cfg.SD.NotesDir(), m.cfg.SD.FolderUpdatesDir()} {
		if err := addDirsRecursive(w, root); err != nil {
			log.WithField("path", root).WithError(err).Warn("monitor: watch failed, relying on periodic rescan")
		}
	}

	log.WithField("sd", m.cfg.SD.ID).Info("monitor: started")

	if err := m.Scan(ctx); err != nil {
		log.WithError(err).Warn("monitor: initial scan failed")
	}

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(m.cfg.Debounce)
			debounceCh = debounce.C
		} else {
			debounce.Reset(m.cfg.Debounce)
		}
	}

	var rescanCh <-chan time.Time
	if m.cfg.RescanEvery > 0 {
		ticker := time.NewTicker(m.cfg.RescanEvery)
		defer ticker.Stop()
		rescanCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			log.WithField("sd", m.cfg.SD.ID).Info("monitor: stopped")
			return nil

		case <-m.refresh:
			schedule()

		case <-debounceCh:
			if err := m.Scan(ctx); err != nil {
				log.WithError(err).Warn("monitor: scan failed")
			}

		case <-rescanCh:
			if err := m.FullScan(ctx); err != nil {
				log.WithError(err).Warn("monitor: periodic rescan failed")
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// New document or activity subdirectories must join the watch
			// set; a new peer's ledger file arrives under a watched dir.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						log.WithField("path", ev.Name).WithError(addErr).Warn("monitor: add new dir failed")
					}
				}
			}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(watchErr).Warn("monitor: watcher error")
		}
	}
}

// Scan runs one discovery pass: tail each peer ledger from its remembered
// offset, materialize the documents with unseen updates, then persist the
// advanced offsets. Offsets are persisted last so a crash mid-scan replays
// records instead of losing them; replay is harmless because merging is
// idempotent.
func (m *Monitor) Scan(ctx context.Context) error {
	if m.degraded.Load() {
		return m.FullScan(ctx)
	}

	m.scanning.Store(true)
	defer m.scanning.Store(false)

	actDir := m.cfg.SD.ActivityDir()
	owners, err := activity.Instances(actDir)
	if err != nil {
		return err
	}

	dirty := make(map[string]bool)
	newOffsets := make(map[string]int64)
	for _, owner := range owners {
		if owner == m.cfg.InstanceID {
			continue
		}
		off, err := m.cfg.Cache.Offset(ctx, m.cfg.SD.ID, owner)
		if err != nil {
			return err
		}
		records, newOff, err := activity.Tail(actDir, owner, off)
		if err != nil {
			// Append-only was violated (ledger replaced or truncated by a
			// cloud client). Offsets are no longer trustworthy for anyone.
			log.WithField("instance", owner).WithError(err).Warn("monitor: ledger unreadable, entering degraded discovery")
			m.degraded.Store(true)
			if rerr := m.cfg.Cache.ResetOffsets(ctx, m.cfg.SD.ID); rerr != nil {
				return rerr
			}
			return m.FullScan(ctx)
		}
		newOffsets[owner] = newOff

		for docID, byInst := range activity.HighWater(records) {
			applied, err := m.cfg.Cache.AppliedSeqs(ctx, m.cfg.SD.ID, docID)
			if err != nil {
				return err
			}
			for producer, seq := range byInst {
				if producer == m.cfg.InstanceID {
					continue
				}
				if seq > applied[producer] {
					dirty[docID] = true
				}
			}
		}
	}

	if len(dirty) > 0 {
		if err := m.materializeAll(ctx, dirty); err != nil {
			return err
		}
	}

	for owner, off := range newOffsets {
		if err := m.cfg.Cache.SetOffset(ctx, m.cfg.SD.ID, owner, off); err != nil {
			return err
		}
	}
	return nil
}

// FullScan walks every document directory and re-materializes the ones
// whose mtime moved past the remembered value. This is the degraded path:
// correct on any storage, just O(documents) instead of O(new updates). A
// clean pass restores ledger-offset discovery.
func (m *Monitor) FullScan(ctx context.Context) error {
	m.scanning.Store(true)
	defer m.scanning.Store(false)

	docs, err := m.cfg.SD.ListDocuments()
	if err != nil {
		return err
	}
	docs = append(docs, m.cfg.SD.FolderDocumentID())

	dirty := make(map[string]bool)
	mtimes := make(map[string]int64)
	for _, docID := range docs {
		dir := m.cfg.SD.DocumentUpdatesDir(docID)
		info, err := os.Stat(dir)
		if err != nil {
			continue
		}
		mtime := info.ModTime().UnixNano()
		last, err := m.cfg.Cache.DirMtime(ctx, m.cfg.SD.ID, docID)
		if err != nil {
			return err
		}
		if mtime != last {
			dirty[docID] = true
			mtimes[docID] = mtime
		}
	}

	if err := m.materializeAll(ctx, dirty); err != nil {
		return err
	}
	for docID, mtime := range mtimes {
		if err := m.cfg.Cache.SetDirMtime(ctx, m.cfg.SD.ID, docID, mtime); err != nil {
			return err
		}
	}

	if m.degraded.CompareAndSwap(true, false) {
		log.WithField("sd", m.cfg.SD.ID).Info("monitor: full scan clean, resuming ledger discovery")
	}
	return nil
}

// materializeAll replays the dirty documents in parallel and records the
// results: read cache rows, applied-sequence marks, and incorporation acks
// in this instance's own ledger.
func (m *Monitor) materializeAll(ctx context.Context, dirty map[string]bool) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for docID := range dirty {
		docID := docID
		g.Go(func() error {
			return m.materializeOne(gctx, docID)
		})
	}
	return g.Wait()
}

func (m *Monitor) materializeOne(ctx context.Context, documentID string) error {
	dir := m.cfg.SD.DocumentUpdatesDir(documentID)
	st, err := materialize.FromDir(dir, documentID)
	if err != nil {
		return err
	}

	if documentID != m.cfg.SD.FolderDocumentID() {
		if err := m.upsertCacheRow(ctx, documentID, st); err != nil {
			return err
		}
	}

	applied, err := m.cfg.Cache.AppliedSeqs(ctx, m.cfg.SD.ID, documentID)
	if err != nil {
		return err
	}
	for producer, seq := range st.Incorporated {
		if seq <= applied[producer] {
			continue
		}
		if err := m.cfg.Cache.SetAppliedSeq(ctx, m.cfg.SD.ID, documentID, producer, seq); err != nil {
			return err
		}
		if producer == m.cfg.InstanceID {
			continue
		}
		// Acknowledge incorporation in our own ledger so the producer can
		// eventually compact the entries we have merged.
		if err := activity.Append(m.cfg.SD.ActivityDir(), m.cfg.InstanceID, activity.Record{
			DocumentID: documentID, InstanceID: producer, Sequence: seq,
		}); err != nil {
			return err
		}
	}

	log.WithField("doc", documentID).
		WithField("applied", st.Applied).
		WithField("skipped", st.Skipped).
		Debug("monitor: materialized document")

	if m.cfg.OnChange != nil {
		m.cfg.OnChange(documentID, st)
	}
	return nil
}

func (m *Monitor) upsertCacheRow(ctx context.Context, documentID string, st *materialize.State) error {
	return m.cfg.Cache.Upsert(ctx, &readcache.DocumentModel{
		SDID:       m.cfg.SD.ID,
		DocumentID: documentID,
		FolderID:   st.Doc.Attr(crdt.AttrFolder),
		Title:      st.Title,
		Preview:    st.Preview,
		Created:    st.Doc.Created,
		Modified:   st.Doc.Modified,
		Deleted:    st.Doc.Deleted(),
		Pinned:     st.Doc.Attr(crdt.AttrPinned) == "true",
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
