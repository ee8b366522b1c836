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

// Package manager owns the live CRDT documents of one mounted storage
// directory. Every open of the same document shares one in-memory state
// under a reference count, local edits apply in memory immediately and
// persist asynchronously, and remote updates merge into open documents
// without invalidating what the user is typing.
package manager

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"notesync/internal/activity"
	"notesync/internal/common"
	"notesync/internal/crdt"
	"notesync/internal/materialize"
	"notesync/internal/readcache"
	"notesync/internal/sd"
	"notesync/internal/updatelog"
	"notesync/internal/util"
)

// Manager is the per-SD document registry.
type Manager struct {
	sd         *sd.SD
	cache      *readcache.Cache
	instanceID string
	notifier   *Notifier

	mu   sync.Mutex
	docs map[string]*docState
}

// docState is the single shared in-memory state for one open document.
type docState struct {
	id   string
	refs int

	mu     sync.Mutex
	doc    *crdt.Document
	seq    uint64 // this instance's last published sequence for this document
	closed bool   // set under mu before writeCh closes

	writeCh chan writeReq
	done    chan struct{}
	failed  atomic.Bool
}

// closeQueue marks the document closed and closes its persist queue exactly
// once. Mutations observe closed under ds.mu before sending, so no send can
// race the close.
func (ds *docState) closeQueue() {
	ds.mu.Lock()
	wasClosed := ds.closed
	ds.closed = true
	ds.mu.Unlock()
	if !wasClosed {
		close(ds.writeCh)
	}
}

type writeReq struct {
	name    string
	payload []byte
	rec     activity.Record
	row     *readcache.DocumentModel // nil for the folder-tree document
}

// persistRetryInterval paces re-attempts of a failed update write when no
// new edits arrive to trigger one.
const persistRetryInterval = 2 * time.Second

// New returns a manager for one mounted storage directory.
func New(s *sd.SD, cache *readcache.Cache, instanceID string) *Manager {
	return &Manager{
		sd:         s,
		cache:      cache,
		instanceID: instanceID,
		notifier:   NewNotifier(),
		docs:       make(map[string]*docState),
	}
}

// Notifier returns the change-event fanout for this manager.
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

// Open returns a handle on a document, loading it on first open and sharing
// the in-memory state on every subsequent one. Returns ErrNotFound for a
// note that has no update directory; the folder-tree document always opens.
func (m *Manager) Open(documentID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ds, ok := m.docs[documentID]; ok {
		ds.refs++
		return &Handle{m: m, ds: ds}, nil
	}

	dir := m.sd.DocumentUpdatesDir(documentID)
	if documentID != m.sd.FolderDocumentID() {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: document %s", common.ErrNotFound, documentID)
		}
	}

	st, err := materialize.FromDir(dir, documentID)
	if err != nil {
		return nil, err
	}
	maxSeq, err := updatelog.MaxSequence(dir, m.instanceID)
	if err != nil {
		return nil, err
	}

	ds := &docState{
		id:      documentID,
		refs:    1,
		doc:     st.Doc,
		seq:     maxSeq,
		writeCh: make(chan writeReq, 64),
		done:    make(chan struct{}),
	}
	m.docs[documentID] = ds
	go m.persistLoop(ds)

	log.WithField("doc", documentID).Debug("manager: opened document")
	return &Handle{m: m, ds: ds}, nil
}

// Create makes a new empty note document and opens it.
func (m *Manager) Create() (*Handle, error) {
	id := common.NewID()
	if err := os.MkdirAll(m.sd.UpdatesDir(id), 0o755); err != nil {
		return nil, fmt.Errorf("manager: create document: %w", err)
	}
	return m.Open(id)
}

// OpenFolders opens the folder-tree document.
func (m *Manager) OpenFolders() (*Handle, error) {
	return m.Open(m.sd.FolderDocumentID())
}

// OpenCount reports how many handles currently share a document.
func (m *Manager) OpenCount(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ds, ok := m.docs[documentID]; ok {
		return ds.refs
	}
	return 0
}

// MergeRemote folds freshly discovered on-disk state into the in-memory
// document, if it is open. The snapshot ops preserve original stamps, so
// applying them over local unpersisted edits is an ordinary CRDT merge and
// never reverts what the user typed. Wire this to monitor.Config.OnChange.
func (m *Manager) MergeRemote(documentID string, st *materialize.State) {
	m.mu.Lock()
	ds := m.docs[documentID]
	m.mu.Unlock()

	if ds != nil {
		ops := st.Doc.SnapshotOps()
		ds.mu.Lock()
		ds.doc.ApplyAll(ops)
		ds.mu.Unlock()
	}
	m.notifier.Publish(Event{DocumentID: documentID, Origin: OriginRemote})
}

// List queries the read cache for note listings.
func (m *Manager) List(ctx context.Context, f readcache.Filter) ([]readcache.DocumentModel, error) {
	f.SDID = m.sd.ID
	return m.cache.Query(ctx, f)
}

// Purge hard-deletes a trashed document's logs and its cache row. Refuses
// while the document is open.
func (m *Manager) Purge(ctx context.Context, documentID string) error {
	m.mu.Lock()
	_, open := m.docs[documentID]
	m.mu.Unlock()
	if open {
		return fmt.Errorf("manager: purge %s: document is open", documentID)
	}
	if err := m.sd.PurgeDocument(documentID); err != nil {
		return err
	}
	return m.cache.Delete(ctx, m.sd.ID, documentID)
}

// Compact folds fully-acknowledged entries of one document, claiming the
// next local sequence for the synthetic base entry.
func (m *Manager) Compact(documentID string) (*sd.CompactResult, error) {
	m.mu.Lock()
	ds := m.docs[documentID]
	m.mu.Unlock()

	var seq uint64
	if ds != nil {
		ds.mu.Lock()
		ds.seq++
		seq = ds.seq
		ds.mu.Unlock()
	} else {
		maxSeq, err := updatelog.MaxSequence(m.sd.DocumentUpdatesDir(documentID), m.instanceID)
		if err != nil {
			return nil, err
		}
		seq = maxSeq + 1
	}
	return m.sd.Compact(documentID, m.instanceID, seq)
}

// Close shuts the manager down: all persist queues drain and the notifier
// stops. Outstanding handles keep reading but fail further mutations with
// ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	states := make([]*docState, 0, len(m.docs))
	for id, ds := range m.docs {
		states = append(states, ds)
		delete(m.docs, id)
	}
	m.mu.Unlock()

	for _, ds := range states {
		ds.closeQueue()
		<-ds.done
	}
	m.notifier.Close()
}

// persistLoop is the single writer goroutine for one document. It publishes
// queued entries in order, announces each in the activity ledger only after
// the entry file is durable, then records the cache row and notifies. A
// failed write keeps its request queued: the next incoming edit or the retry
// timer triggers another attempt, so an edit stays pending until it lands
// rather than being dropped.
func (m *Manager) persistLoop(ds *docState) {
	defer close(ds.done)
	ctx := context.Background()

	var pending []writeReq
	var retryCh <-chan time.Time
	for {
		select {
		case req, ok := <-ds.writeCh:
			if !ok {
				m.flushPending(ctx, ds, &pending)
				if n := len(pending); n > 0 {
					log.WithField("doc", ds.id).WithField("updates", n).
						Error("manager: shutting down with unpersisted updates")
				}
				return
			}
			pending = append(pending, req)
		case <-retryCh:
			retryCh = nil
		}

		m.flushPending(ctx, ds, &pending)
		if len(pending) > 0 {
			ds.failed.Store(true)
			if retryCh == nil {
				retryCh = time.After(persistRetryInterval)
			}
		} else {
			ds.failed.Store(false)
		}
	}
}

// flushPending writes queued requests in order, stopping at the first entry
// that still won't land. Everything after a failed entry stays queued so
// on-disk order matches edit order.
func (m *Manager) flushPending(ctx context.Context, ds *docState, pending *[]writeReq) {
	dir := m.sd.DocumentUpdatesDir(ds.id)
	for len(*pending) > 0 {
		req := (*pending)[0]
		err := util.Retry(ctx, func() error {
			return updatelog.WriteEntry(dir, req.name, req.payload)
		}, util.WriteRetryOptions(ctx)...)
		if err != nil {
			// The edit stays valid in memory and queued here; the document
			// is just unsynced until a later attempt succeeds.
			log.WithField("doc", ds.id).WithError(err).Error("manager: update entry write failed")
			return
		}

		err = util.Retry(ctx, func() error {
			return activity.Append(m.sd.ActivityDir(), m.instanceID, req.rec)
		}, util.WriteRetryOptions(ctx)...)
		if err != nil {
			// The update is on disk and filename-discoverable; peers will
			// still find it through a full scan.
			log.WithField("doc", ds.id).WithError(err).Warn("manager: activity announce failed")
		}

		*pending = (*pending)[1:]
		if req.row != nil {
			if err := m.cache.Upsert(ctx, req.row); err != nil {
				log.WithField("doc", ds.id).WithError(err).Warn("manager: cache upsert failed")
			}
		}
		m.notifier.Publish(Event{DocumentID: ds.id, Origin: OriginLocal})
	}
}

// cacheRow snapshots the listing row for the document's current state.
// Returns nil for the folder-tree document, which has no listing row.
// Caller holds ds.mu.
func (m *Manager) cacheRow(ds *docState) *readcache.DocumentModel {
	if ds.id == m.sd.FolderDocumentID() {
		return nil
	}
	title, preview := materialize.ExtractMetadata(ds.doc.Text())
	return &readcache.DocumentModel{
		SDID:       m.sd.ID,
		DocumentID: ds.id,
		FolderID:   ds.doc.Attr(crdt.AttrFolder),
		Title:      title,
		Preview:    preview,
		Created:    ds.doc.Created,
		Modified:   ds.doc.Modified,
		Deleted:    ds.doc.Deleted(),
		Pinned:     ds.doc.Attr(crdt.AttrPinned) == "true",
	}
}

// Handle is one reference to a shared open document.
type Handle struct {
	m      *Manager
	ds     *docState
	closed atomic.Bool
}

// DocumentID returns the document this handle refers to.
func (h *Handle) DocumentID() string {
	return h.ds.id
}

// Unsynced reports whether local updates are still waiting to become
// durable after write failures. It clears once the queue drains.
func (h *Handle) Unsynced() bool {
	return h.ds.failed.Load()
}

// Text renders the current document text.
func (h *Handle) Text() string {
	h.ds.mu.Lock()
	defer h.ds.mu.Unlock()
	return h.ds.doc.Text()
}

// Attr returns a metadata register value.
func (h *Handle) Attr(key string) string {
	h.ds.mu.Lock()
	defer h.ds.mu.Unlock()
	return h.ds.doc.Attr(key)
}

// Blocks returns the live blocks in display order. The returned structs are
// copies and safe to hold.
func (h *Handle) Blocks() []crdt.Block {
	h.ds.mu.Lock()
	defer h.ds.mu.Unlock()
	live := h.ds.doc.Linearize()
	out := make([]crdt.Block, len(live))
	for i, b := range live {
		out[i] = *b
	}
	return out
}

// FolderTree materializes the folder view. Only meaningful on the
// folder-tree document.
func (h *Handle) FolderTree() *crdt.FolderTree {
	h.ds.mu.Lock()
	defer h.ds.mu.Unlock()
	return crdt.BuildFolderTree(h.ds.doc)
}

// AppendBlock inserts a new block after origin ("" appends at the front of
// the sequence) and returns its ID.
func (h *Handle) AppendBlock(origin, text string) (string, error) {
	if h.closed.Load() {
		return "", common.ErrClosed
	}
	blockID := common.NewID()
	ds := h.ds

	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return "", common.ErrClosed
	}
	op := crdt.Op{
		Kind:   crdt.OpInsertBlock,
		Block:  blockID,
		Origin: origin,
		Text:   text,
		Stamp:  ds.doc.NextStamp(h.m.instanceID),
	}
	ds.doc.Apply(op)
	req, err := h.m.stage(ds, []crdt.Op{op})
	if err != nil {
		ds.mu.Unlock()
		return "", err
	}
	ds.writeCh <- req
	ds.mu.Unlock()
	return blockID, nil
}

// EditBlock replaces a block's text.
func (h *Handle) EditBlock(blockID, text string) error {
	return h.mutate(func(ds *docState) ([]crdt.Op, error) {
		b, ok := ds.doc.Blocks[blockID]
		if !ok {
			return nil, fmt.Errorf("%w: block %s", common.ErrNotFound, blockID)
		}
		return []crdt.Op{{
			Kind:   crdt.OpEditBlock,
			Block:  blockID,
			Origin: b.Origin,
			Text:   text,
			Stamp:  ds.doc.NextStamp(h.m.instanceID),
		}}, nil
	})
}

// DeleteBlock tombstones a block.
func (h *Handle) DeleteBlock(blockID string) error {
	return h.mutate(func(ds *docState) ([]crdt.Op, error) {
		b, ok := ds.doc.Blocks[blockID]
		if !ok {
			return nil, fmt.Errorf("%w: block %s", common.ErrNotFound, blockID)
		}
		return []crdt.Op{{
			Kind:   crdt.OpDeleteBlock,
			Block:  blockID,
			Origin: b.Origin,
			Stamp:  ds.doc.NextStamp(h.m.instanceID),
		}}, nil
	})
}

// SetAttr sets a metadata register.
func (h *Handle) SetAttr(key, value string) error {
	return h.mutate(func(ds *docState) ([]crdt.Op, error) {
		return []crdt.Op{{
			Kind:  crdt.OpSetAttr,
			Key:   key,
			Value: value,
			Stamp: ds.doc.NextStamp(h.m.instanceID),
		}}, nil
	})
}

// SetFolder moves the note into a folder ("" means the root).
func (h *Handle) SetFolder(folderID string) error {
	return h.SetAttr(crdt.AttrFolder, folderID)
}

// SetPinned pins or unpins the note.
func (h *Handle) SetPinned(pinned bool) error {
	return h.SetAttr(crdt.AttrPinned, boolValue(pinned))
}

// SetTrashed soft-deletes or restores the note. Hard deletion is Purge.
func (h *Handle) SetTrashed(trashed bool) error {
	return h.SetAttr(crdt.AttrDeleted, boolValue(trashed))
}

// CreateFolder adds a folder to the folder-tree document.
func (h *Handle) CreateFolder(name, parent string) (string, error) {
	id := common.NewID()
	err := h.mutate(func(ds *docState) ([]crdt.Op, error) {
		return crdt.CreateFolderOps(ds.doc, h.m.instanceID, id, name, parent), nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// RenameFolder renames a folder.
func (h *Handle) RenameFolder(id, name string) error {
	return h.mutate(func(ds *docState) ([]crdt.Op, error) {
		return []crdt.Op{crdt.RenameFolderOp(ds.doc, h.m.instanceID, id, name)}, nil
	})
}

// MoveFolder reparents a folder; a move that would create a cycle fails
// with ErrFolderCycle before anything reaches the log.
func (h *Handle) MoveFolder(id, newParent string) error {
	return h.mutate(func(ds *docState) ([]crdt.Op, error) {
		op, err := crdt.MoveFolderOp(ds.doc, h.m.instanceID, id, newParent)
		if err != nil {
			return nil, err
		}
		return []crdt.Op{op}, nil
	})
}

// DeleteFolder soft-deletes a folder.
func (h *Handle) DeleteFolder(id string) error {
	return h.mutate(func(ds *docState) ([]crdt.Op, error) {
		return []crdt.Op{crdt.DeleteFolderOp(ds.doc, h.m.instanceID, id)}, nil
	})
}

// Close releases this handle. The last close drains the persist queue and
// drops the shared state.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return common.ErrClosed
	}
	m := h.m
	ds := h.ds

	m.mu.Lock()
	ds.refs--
	last := ds.refs == 0
	if last {
		delete(m.docs, ds.id)
	}
	m.mu.Unlock()

	if last {
		ds.closeQueue()
		<-ds.done
		log.WithField("doc", ds.id).Debug("manager: released document")
	}
	return nil
}

// mutate mints ops under the document lock, applies them, and queues the
// update entry for persistence.
func (h *Handle) mutate(mint func(ds *docState) ([]crdt.Op, error)) error {
	if h.closed.Load() {
		return common.ErrClosed
	}
	ds := h.ds

	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return common.ErrClosed
	}
	ops, err := mint(ds)
	if err != nil {
		ds.mu.Unlock()
		return err
	}
	ds.doc.ApplyAll(ops)
	req, err := h.m.stage(ds, ops)
	if err != nil {
		ds.mu.Unlock()
		return err
	}
	// The send happens under ds.mu: closeQueue flips closed under the same
	// lock before closing the channel, so a send can never hit a closed
	// channel.
	ds.writeCh <- req
	ds.mu.Unlock()
	return nil
}

// stage claims the next sequence and encodes one update entry. Caller holds
// ds.mu.
func (m *Manager) stage(ds *docState, ops []crdt.Op) (writeReq, error) {
	payload, err := crdt.EncodeOps(ops)
	if err != nil {
		return writeReq{}, fmt.Errorf("manager: encode ops: %w", err)
	}
	ds.seq++
	name := updatelog.EncodeFilename(m.instanceID, ds.id, time.Now().UnixMilli(), ds.seq)
	return writeReq{
		name:    name,
		payload: payload,
		rec:     activity.Record{DocumentID: ds.id, InstanceID: m.instanceID, Sequence: ds.seq},
		row:     m.cacheRow(ds),
	}, nil
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
