package stream

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-table/internal/collab/domain/model"
	"collab-table/internal/collab/store"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches []model.RecordBatch
}

func (r *batchRecorder) deliver(b model.RecordBatch) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
}

func (r *batchRecorder) all() []model.RecordBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RecordBatch(nil), r.batches...)
}

func ids(records []model.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func setup(t *testing.T) (*Reconstructor, *store.MemoryStore, *store.Session) {
	t.Helper()
	mem := store.NewMemoryStore()
	mine, err := store.AttachSession(mem, "abc123", "Ada", nil)
	require.NoError(t, err)
	theirs, err := store.AttachSession(mem, "abc123", "Bea", nil)
	require.NoError(t, err)
	return NewReconstructor(mine, nil), mem, theirs
}

func TestInitialSnapshotIsOneAddedBatch(t *testing.T) {
	rec, _, bea := setup(t)
	ctx := context.Background()

	require.NoError(t, bea.WriteUserRecords(ctx, model.UserItemData{
		Items: map[string]model.RecordValues{
			"k1": {"height": 150.0},
			"k2": {"height": 160.0},
		},
		Order: []string{"k2", "k1"},
	}))

	sink := &batchRecorder{}
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))

	batches := sink.all()
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchAdded, batches[0].Kind)
	assert.Equal(t, "Bea", batches[0].User)
	assert.Equal(t, []string{"k2", "k1"}, ids(batches[0].Records))
}

func TestEmptySnapshotDeliversNothing(t *testing.T) {
	rec, _, _ := setup(t)
	sink := &batchRecorder{}
	require.NoError(t, rec.Register(context.Background(), "Bea", sink.deliver))
	assert.Empty(t, sink.all())
}

func TestAddsHeldUntilOrderAccountsForThem(t *testing.T) {
	rec, mem, _ := setup(t)
	ctx := context.Background()

	sink := &batchRecorder{}
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))

	// N child-add events land before the order event
	require.NoError(t, mem.Set(ctx, "shared-tables/abc123/itemData/Bea/items/k1", model.RecordValues{"v": 1.0}))
	require.NoError(t, mem.Set(ctx, "shared-tables/abc123/itemData/Bea/items/k2", model.RecordValues{"v": 2.0}))
	require.NoError(t, mem.Set(ctx, "shared-tables/abc123/itemData/Bea/items/k3", model.RecordValues{"v": 3.0}))
	assert.Empty(t, sink.all(), "no batch may be delivered before the order event")

	require.NoError(t, mem.Set(ctx, "shared-tables/abc123/itemData/Bea/order", []string{"k3", "k1", "k2"}))

	batches := sink.all()
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchAdded, batches[0].Kind)
	assert.Equal(t, []string{"k3", "k1", "k2"}, ids(batches[0].Records))
}

func TestBatchedWriteYieldsOneBatch(t *testing.T) {
	rec, _, bea := setup(t)
	ctx := context.Background()

	sink := &batchRecorder{}
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))

	require.NoError(t, bea.WriteUserRecords(ctx, model.UserItemData{
		Items: map[string]model.RecordValues{
			"k1": {"v": 1.0},
			"k2": {"v": 2.0},
			"k3": {"v": 3.0},
		},
		Order: []string{"k1", "k2", "k3"},
	}))

	batches := sink.all()
	require.Len(t, batches, 1)
	assert.Equal(t, model.BatchAdded, batches[0].Kind)
	assert.Equal(t, []string{"k1", "k2", "k3"}, ids(batches[0].Records))
}

func TestRemovalFlushesAgainstNewOrder(t *testing.T) {
	rec, _, bea := setup(t)
	ctx := context.Background()

	require.NoError(t, bea.WriteUserRecords(ctx, model.UserItemData{
		Items: map[string]model.RecordValues{"k1": {"v": 1.0}, "k2": {"v": 2.0}},
		Order: []string{"k1", "k2"},
	}))
	sink := &batchRecorder{}
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))
	require.Len(t, sink.all(), 1)

	require.NoError(t, bea.WriteUserRecords(ctx, model.UserItemData{
		Items: map[string]model.RecordValues{"k1": {"v": 1.0}},
		Order: []string{"k1"},
	}))

	batches := sink.all()
	require.Len(t, batches, 2)
	assert.Equal(t, model.BatchRemoved, batches[1].Kind)
	assert.Equal(t, []string{"k2"}, ids(batches[1].Records))
}

func TestChangeDeliversImmediately(t *testing.T) {
	rec, mem, bea := setup(t)
	ctx := context.Background()

	require.NoError(t, bea.WriteUserRecords(ctx, model.UserItemData{
		Items: map[string]model.RecordValues{"k1": {"v": 1.0}},
		Order: []string{"k1"},
	}))
	sink := &batchRecorder{}
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))

	require.NoError(t, mem.Set(ctx, "shared-tables/abc123/itemData/Bea/items/k1", model.RecordValues{"v": 9.0}))

	batches := sink.all()
	require.Len(t, batches, 2)
	assert.Equal(t, model.BatchChanged, batches[1].Kind)
	require.Len(t, batches[1].Records, 1)
	assert.Equal(t, "k1", batches[1].Records[0].ID)
	assert.Equal(t, 9.0, batches[1].Records[0].Values["v"])
}

func TestRemoveCancelsQueuedAdd(t *testing.T) {
	rec, mem, _ := setup(t)
	ctx := context.Background()

	sink := &batchRecorder{}
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))

	require.NoError(t, mem.Set(ctx, "shared-tables/abc123/itemData/Bea/items/k1", model.RecordValues{"v": 1.0}))
	require.NoError(t, mem.Set(ctx, "shared-tables/abc123/itemData/Bea/items/k2", model.RecordValues{"v": 2.0}))
	require.NoError(t, mem.Remove(ctx, "shared-tables/abc123/itemData/Bea/items/k2"))
	require.NoError(t, mem.Set(ctx, "shared-tables/abc123/itemData/Bea/order", []string{"k1"}))

	batches := sink.all()
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"k1"}, ids(batches[0].Records))
}

func TestUnregisterStopsDeliveryAndIsIdempotent(t *testing.T) {
	rec, _, bea := setup(t)
	ctx := context.Background()

	sink := &batchRecorder{}
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))
	assert.Equal(t, []string{"Bea"}, rec.Users())

	rec.Unregister("Bea")
	rec.Unregister("Bea")
	rec.Unregister("never-registered")

	require.NoError(t, bea.WriteUserRecords(ctx, model.UserItemData{
		Items: map[string]model.RecordValues{"k1": {"v": 1.0}},
		Order: []string{"k1"},
	}))
	assert.Empty(t, sink.all())
	assert.Empty(t, rec.Users())
}

func TestRegisterTwiceIsHarmless(t *testing.T) {
	rec, _, bea := setup(t)
	ctx := context.Background()

	require.NoError(t, bea.WriteUserRecords(ctx, model.UserItemData{
		Items: map[string]model.RecordValues{"k1": {"v": 1.0}},
		Order: []string{"k1"},
	}))
	sink := &batchRecorder{}
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))
	require.NoError(t, rec.Register(ctx, "Bea", sink.deliver))
	assert.Len(t, sink.all(), 1)
}
