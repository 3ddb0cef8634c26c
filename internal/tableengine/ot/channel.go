// Package ot implements C7 OTChannel: a document is (collection, docId)
// with monotonically increasing version and field-keyed data. Writes reach
// subscribers by publishing op bundles onto internal/pubsub's cross-instance
// fan-out bus ("write -> NOTIFY -> pub/sub -> connections"), extended here
// with the op-log/version semantics (ShareDB-style) record collaboration
// needs.
package ot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/tableengine/internal/pubsub"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// wireMessage is the payload carried on a document's pubsub channel: a
// version bump plus the ops that produced it, so a subscriber can either
// replay the ops against its local copy or simply trust Version/accept the
// bundle as-is.
type wireMessage struct {
	Version int64      `json:"v"`
	Ops     []types.Op `json:"ops"`
}

// Update is what Subscribe delivers to a caller: the new document version
// and the ops that produced it, in publish order.
type Update struct {
	Version int64
	Ops     []types.Op
}

// Channel implements C7 OTChannel.
type Channel struct {
	ps    pubsub.PubSub
	store VersionStore
}

// NewChannel wires a Channel over a pub/sub bus. A nil store defaults to an
// in-process MemoryVersionStore.
func NewChannel(ps pubsub.PubSub, store VersionStore) *Channel {
	if store == nil {
		store = NewMemoryVersionStore()
	}
	return &Channel{ps: ps, store: store}
}

func channelName(collection, docID string) string {
	return fmt.Sprintf("tableengine:ot:%s:%s", collection, docID)
}

// Snapshot returns a document's current version and data, (version 0,
// empty data) if nothing has been written to it yet.
func (c *Channel) Snapshot(ctx context.Context, collection, docID string) (types.OTDoc, error) {
	return c.store.Load(ctx, collection, docID)
}

// Publish is the server-originated write path: callers that have already
// committed a physical write — LinkTitleUpdater's
// rewrite, a formula/rollup recompute — use this to advance the document's
// version and notify subscribers of the new field value. It never
// conflicts: the channel is the only writer to a doc's op stream, so the
// version always advances.
func (c *Channel) Publish(ctx context.Context, collection, docID, fieldID string, value interface{}) error {
	op := types.Op{Path: []string{"data", fieldID}, OI: value}
	doc, err := c.store.ApplyNext(ctx, collection, docID, []types.Op{op})
	if err != nil {
		return err
	}
	return c.broadcast(ctx, collection, docID, doc.Version, []types.Op{op})
}

// SubmitOp is the client write path: ops are applied only if expectedVersion
// still matches the document's current version, otherwise VersionConflict
// is returned carrying the current version so the caller can rebase and
// resubmit (ShareDB-style optimistic concurrency).
func (c *Channel) SubmitOp(ctx context.Context, collection, docID string, expectedVersion int64, ops []types.Op) (types.OTDoc, error) {
	doc, err := c.store.Apply(ctx, collection, docID, expectedVersion, ops)
	if err != nil {
		return types.OTDoc{}, err
	}
	if err := c.broadcast(ctx, collection, docID, doc.Version, ops); err != nil {
		log.Warn().Err(err).Str("collection", collection).Str("doc_id", docID).Msg("ot: broadcast failed after commit")
	}
	return doc, nil
}

func (c *Channel) broadcast(ctx context.Context, collection, docID string, version int64, ops []types.Op) error {
	payload, err := json.Marshal(wireMessage{Version: version, Ops: ops})
	if err != nil {
		return engineerr.Internal(fmt.Sprintf("encode ot message for %s/%s: %v", collection, docID, err))
	}
	if err := c.ps.Publish(ctx, channelName(collection, docID), payload); err != nil {
		return engineerr.PubSubError(fmt.Errorf("publish ot op for %s/%s: %w", collection, docID, err))
	}
	return nil
}

// Subscribe streams every subsequent Update for (collection, docId) until
// ctx is canceled. Callers should call Snapshot first to get the document's
// state as of subscription time, since Subscribe only delivers ops
// published after the subscription is established.
func (c *Channel) Subscribe(ctx context.Context, collection, docID string) (<-chan Update, error) {
	raw, err := c.ps.Subscribe(ctx, channelName(collection, docID))
	if err != nil {
		return nil, engineerr.PubSubError(fmt.Errorf("subscribe to %s/%s: %w", collection, docID, err))
	}

	out := make(chan Update, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var wm wireMessage
				if err := json.Unmarshal(msg.Payload, &wm); err != nil {
					log.Warn().Err(err).Str("collection", collection).Str("doc_id", docID).Msg("ot: dropping malformed op message")
					continue
				}
				select {
				case out <- Update{Version: wm.Version, Ops: wm.Ops}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
