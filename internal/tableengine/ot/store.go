package ot

import (
	"context"
	"sync"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// VersionStore holds each document's current (version, data) pair and
// applies op bundles to it. Apply is the client-submitted path: it is a
// compare-and-swap on expectedVersion, returning VersionConflict when the
// caller's view is stale. ApplyNext is the server-originated path: the
// channel is the only writer to a doc's op stream, so server ops always
// apply and bump the version unconditionally.
type VersionStore interface {
	Load(ctx context.Context, collection, docID string) (types.OTDoc, error)
	Apply(ctx context.Context, collection, docID string, expectedVersion int64, ops []types.Op) (types.OTDoc, error)
	ApplyNext(ctx context.Context, collection, docID string, ops []types.Op) (types.OTDoc, error)
}

// MemoryVersionStore is an in-process VersionStore, grounded on the same
// mutex-guarded map shape as depgraph.MemoryCache. Fine for a single
// instance; a multi-instance deployment needs every instance fed the same
// writes, which is exactly what Channel's pubsub fan-out is for — this
// store only needs to be consistent within the instance that owns the
// write for SubmitOp's conflict check to mean anything.
type MemoryVersionStore struct {
	mu   sync.Mutex
	docs map[string]types.OTDoc
}

// NewMemoryVersionStore constructs an empty MemoryVersionStore.
func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{docs: make(map[string]types.OTDoc)}
}

func docKey(collection, docID string) string {
	return collection + "\x00" + docID
}

func emptyDoc(collection, docID string) types.OTDoc {
	return types.OTDoc{Collection: collection, DocID: docID, Version: 0, Data: map[string]interface{}{}}
}

func (s *MemoryVersionStore) Load(ctx context.Context, collection, docID string) (types.OTDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[docKey(collection, docID)]
	if !ok {
		return emptyDoc(collection, docID), nil
	}
	return doc, nil
}

func (s *MemoryVersionStore) Apply(ctx context.Context, collection, docID string, expectedVersion int64, ops []types.Op) (types.OTDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(collection, docID)
	cur, ok := s.docs[key]
	if !ok {
		cur = emptyDoc(collection, docID)
	}
	if cur.Version != expectedVersion {
		return types.OTDoc{}, engineerr.VersionConflict(cur.Version)
	}
	next := types.OTDoc{
		Collection: collection,
		DocID:      docID,
		Version:    cur.Version + 1,
		Data:       applyOps(cur.Data, ops),
	}
	s.docs[key] = next
	return next, nil
}

func (s *MemoryVersionStore) ApplyNext(ctx context.Context, collection, docID string, ops []types.Op) (types.OTDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey(collection, docID)
	cur, ok := s.docs[key]
	if !ok {
		cur = emptyDoc(collection, docID)
	}
	next := types.OTDoc{
		Collection: collection,
		DocID:      docID,
		Version:    cur.Version + 1,
		Data:       applyOps(cur.Data, ops),
	}
	s.docs[key] = next
	return next, nil
}

// applyOps folds a bundle of ops onto a copy of data. Each op's Path is
// ["data", fieldId]: OI set (non-nil) assigns data[fieldId] = OI; OI absent
// with OD present deletes the key. Unrecognized path shapes are skipped
// rather than erroring, tolerant of unknown fields the way JSON decoding
// is elsewhere in this codebase.
func applyOps(data map[string]interface{}, ops []types.Op) map[string]interface{} {
	next := make(map[string]interface{}, len(data))
	for k, v := range data {
		next[k] = v
	}
	for _, op := range ops {
		if len(op.Path) != 2 || op.Path[0] != "data" {
			continue
		}
		fieldID := op.Path[1]
		if op.OI == nil && op.OD != nil {
			delete(next, fieldID)
			continue
		}
		next[fieldID] = op.OI
	}
	return next
}
