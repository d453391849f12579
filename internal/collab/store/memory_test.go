package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "shared-tables/abc/schema", map[string]interface{}{"name": "heights"}))

	raw, err := s.Get(ctx, "shared-tables/abc/schema")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "heights", got["name"])

	raw, err = s.Get(ctx, "shared-tables/abc/missing")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestRemovePrunesEmptyAncestors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "shared-tables/abc/itemData/Ada/items/k1", "v"))
	require.NoError(t, s.Remove(ctx, "shared-tables/abc/itemData/Ada/items/k1"))

	raw, err := s.Get(ctx, "shared-tables/abc")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestUpdateTouchesOnlyNamedChildren(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "shared-tables/abc", map[string]interface{}{
		"a": 1, "b": 2,
	}))
	require.NoError(t, s.Update(ctx, "shared-tables/abc", map[string]interface{}{
		"b": 3, "c": 4,
	}))

	raw, err := s.Get(ctx, "shared-tables/abc")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]interface{}{"a": 1.0, "b": 3.0, "c": 4.0}, got)
}

func TestSubscribeValueDeliversInitialAndChanges(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "shared-tables/abc/schema", "v1"))

	var seen []string
	cancel, err := s.SubscribeValue(ctx, "shared-tables/abc/schema", func(raw json.RawMessage) {
		if raw == nil {
			seen = append(seen, "<gone>")
			return
		}
		var v string
		_ = json.Unmarshal(raw, &v)
		seen = append(seen, v)
	})
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "shared-tables/abc/schema", "v2"))
	require.NoError(t, s.Remove(ctx, "shared-tables/abc/schema"))
	assert.Equal(t, []string{"v1", "v2", "<gone>"}, seen)

	cancel()
	require.NoError(t, s.Set(ctx, "shared-tables/abc/schema", "v3"))
	assert.Len(t, seen, 3)
}

func TestSubscribeValueIgnoresUnrelatedWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	calls := 0
	_, err := s.SubscribeValue(ctx, "shared-tables/abc/schema", func(json.RawMessage) { calls++ })
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	require.NoError(t, s.Set(ctx, "shared-tables/abc/itemData/Ada", "x"))
	assert.Equal(t, 1, calls)
}

func TestSubscribeChildrenLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "shared-tables/abc/connectedUsers/Ada", 1))

	var events []string
	cancel, err := s.SubscribeChildren(ctx, "shared-tables/abc/connectedUsers", func(e ChildEvent) {
		events = append(events, string(e.Kind)+":"+e.Key)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"child_added:Ada"}, events)

	require.NoError(t, s.Set(ctx, "shared-tables/abc/connectedUsers/Bea", 2))
	require.NoError(t, s.Set(ctx, "shared-tables/abc/connectedUsers/Ada", 3))
	require.NoError(t, s.Remove(ctx, "shared-tables/abc/connectedUsers/Bea"))
	assert.Equal(t, []string{
		"child_added:Ada",
		"child_added:Bea",
		"child_changed:Ada",
		"child_removed:Bea",
	}, events)

	cancel()
	require.NoError(t, s.Set(ctx, "shared-tables/abc/connectedUsers/Cyd", 4))
	assert.Len(t, events, 4)
}

func TestChildEventsFireForDeepWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var events []ChildEvent
	_, err := s.SubscribeChildren(ctx, "shared-tables/abc/itemData", func(e ChildEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	// a write below a child surfaces as a change of that child
	require.NoError(t, s.Set(ctx, "shared-tables/abc/itemData/Ada/items/k1", "v"))
	require.Len(t, events, 1)
	assert.Equal(t, ChildAdded, events[0].Kind)
	assert.Equal(t, "Ada", events[0].Key)

	require.NoError(t, s.Set(ctx, "shared-tables/abc/itemData/Ada/items/k2", "w"))
	require.Len(t, events, 2)
	assert.Equal(t, ChildChanged, events[1].Kind)
	assert.Equal(t, "Ada", events[1].Key)
}

func TestDisconnectCleanup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "shared-tables/abc/connectedUsers/Ada", 1))
	require.NoError(t, s.OnDisconnectRemove(ctx, "shared-tables/abc/connectedUsers/Ada"))

	s.SimulateDisconnect()
	raw, err := s.Get(ctx, "shared-tables/abc/connectedUsers/Ada")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestCancelDisconnectDisarms(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "shared-tables/abc/connectedUsers/Ada", 1))
	require.NoError(t, s.OnDisconnectRemove(ctx, "shared-tables/abc/connectedUsers/Ada"))
	require.NoError(t, s.CancelDisconnect(ctx, "shared-tables/abc/connectedUsers/Ada"))

	s.SimulateDisconnect()
	raw, err := s.Get(ctx, "shared-tables/abc/connectedUsers/Ada")
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestClosedStoreRejectsUse(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "shared-tables/abc")
	assert.Error(t, err)
	assert.Error(t, s.Set(context.Background(), "shared-tables/abc", 1))
}

func TestHandlerMayReenterStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.SubscribeChildren(ctx, "shared-tables/abc/itemData", func(e ChildEvent) {
		if e.Kind == ChildAdded && e.Key == "Ada" {
			_ = s.Set(ctx, "shared-tables/abc/seen/Ada", true)
		}
	})
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "shared-tables/abc/itemData/Ada", "x"))
	raw, err := s.Get(ctx, "shared-tables/abc/seen/Ada")
	require.NoError(t, err)
	assert.NotNil(t, raw)
}
