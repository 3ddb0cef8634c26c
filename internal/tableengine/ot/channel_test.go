package ot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/tableengine/internal/pubsub"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

func TestChannel_Snapshot_EmptyDocAtVersionZero(t *testing.T) {
	c := NewChannel(pubsub.NewLocalPubSub(), nil)
	doc, err := c.Snapshot(context.Background(), "rec_tbl_1", "rec_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Version)
}

func TestChannel_Publish_AdvancesVersionAndBroadcasts(t *testing.T) {
	ps := pubsub.NewLocalPubSub()
	c := NewChannel(ps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := c.Subscribe(ctx, "rec_tbl_1", "rec_1")
	require.NoError(t, err)

	err = c.Publish(context.Background(), "rec_tbl_1", "rec_1", "fld_name", "New Name")
	require.NoError(t, err)

	select {
	case u := <-updates:
		assert.Equal(t, int64(1), u.Version)
		require.Len(t, u.Ops, 1)
		assert.Equal(t, []string{"data", "fld_name"}, u.Ops[0].Path)
		assert.Equal(t, "New Name", u.Ops[0].OI)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast update")
	}

	doc, err := c.Snapshot(context.Background(), "rec_tbl_1", "rec_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, "New Name", doc.Data["fld_name"])
}

func TestChannel_SubmitOp_CommitsAndBroadcasts(t *testing.T) {
	ps := pubsub.NewLocalPubSub()
	c := NewChannel(ps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := c.Subscribe(ctx, "rec_tbl_1", "rec_1")
	require.NoError(t, err)

	doc, err := c.SubmitOp(context.Background(), "rec_tbl_1", "rec_1", 0, []types.Op{
		{Path: []string{"data", "fld_name"}, OI: "Alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)

	select {
	case u := <-updates:
		assert.Equal(t, int64(1), u.Version)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast update")
	}
}

func TestChannel_SubmitOp_StaleVersionReturnsConflict(t *testing.T) {
	c := NewChannel(pubsub.NewLocalPubSub(), nil)
	_, err := c.SubmitOp(context.Background(), "rec_tbl_1", "rec_1", 0, []types.Op{
		{Path: []string{"data", "fld_name"}, OI: "Alice"},
	})
	require.NoError(t, err)

	_, err = c.SubmitOp(context.Background(), "rec_tbl_1", "rec_1", 0, []types.Op{
		{Path: []string{"data", "fld_name"}, OI: "Bob"},
	})
	require.Error(t, err)
	var ee *engineerr.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engineerr.CodeVersionConflict, ee.Code)
}
