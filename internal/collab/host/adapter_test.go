package host_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-table/internal/collab/domain/model"
	"collab-table/internal/collab/host"
	"collab-table/internal/collab/host/hosttest"
	"collab-table/internal/shared/errors"
)

func newAdapter(t *testing.T) (*host.Adapter, *hosttest.SimHost) {
	t.Helper()
	sim := hosttest.New()
	adapter := host.NewAdapter(sim, nil)
	t.Cleanup(adapter.Close)
	return adapter, sim
}

func seedTable(sim *hosttest.SimHost, name string, records ...model.Record) *model.Schema {
	schema := &model.Schema{
		Name:  name,
		Title: name,
		Collections: []model.Collection{
			model.CollaboratorsCollectionSpec("key-a"),
			{
				Name:   "Data",
				Parent: model.CollaboratorsCollection,
				Attrs:  []model.Attribute{{Name: "height"}},
			},
		},
	}
	sim.Seed(schema, records...)
	return schema
}

func TestInitializeReturnsSavedState(t *testing.T) {
	adapter, sim := newAdapter(t)
	require.NoError(t, adapter.SaveState(context.Background(), host.SaveState{
		PersonalDataKeyPrefix: "prefix",
		LastPersonalDataLabel: "Ada",
		LastSelectedTable:     "heights",
	}))

	state, err := adapter.Initialize(context.Background(), host.FrameConfig{Name: "collab-table"})
	require.NoError(t, err)
	assert.Equal(t, "prefix", state.PersonalDataKeyPrefix)
	assert.Equal(t, "Ada", state.LastPersonalDataLabel)
	assert.Equal(t, "heights", state.LastSelectedTable)
	assert.Equal(t, "heights", sim.SavedState().LastSelectedTable)
}

func TestInitializeFirstRunYieldsZeroState(t *testing.T) {
	adapter, _ := newAdapter(t)
	state, err := adapter.Initialize(context.Background(), host.FrameConfig{Name: "collab-table"})
	require.NoError(t, err)
	assert.Equal(t, &host.SaveState{}, state)
}

func TestCreateSchemaAndGetSchema(t *testing.T) {
	adapter, _ := newAdapter(t)

	created, err := adapter.CreateSchema(context.Background(), "Heights", []model.Collection{
		{Name: "People", Attrs: []model.Attribute{{Name: "height"}}},
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Len(t, created.Name, 10)
	assert.Equal(t, "Heights", created.Title)

	fetched, err := adapter.GetSchema(context.Background(), created.Name)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Len(t, fetched.Collections, 1)
	assert.Equal(t, "People", fetched.Collections[0].Name)
	assert.NotZero(t, fetched.Collections[0].ID)
}

func TestGetSchemaMissingTable(t *testing.T) {
	adapter, _ := newAdapter(t)
	schema, err := adapter.GetSchema(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, schema)
}

func TestCreateSchemaRefused(t *testing.T) {
	adapter, sim := newAdapter(t)
	sim.Reject = func(req host.Request) bool {
		return req.Resource == "table" && req.Action == host.ActionCreate
	}

	_, err := adapter.CreateSchema(context.Background(), "Heights", nil)
	require.Error(t, err)
	assert.True(t, errors.IsHost(err))
	assert.ErrorIs(t, err, errors.ErrSchemaRefused)
}

func TestGetSchemaList(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights")

	list, err := adapter.GetSchemaList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "heights", list[0].Name)
}

func TestCreateOrUpdateRecordsSplitsByExistingID(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights", model.Record{
		ID:     "r1",
		Values: model.RecordValues{"height": 150.0, model.CollaboratorKeyAttrName: "key-a"},
	})

	err := adapter.CreateOrUpdateRecords(context.Background(), "heights", []model.Record{
		{ID: "r1", Values: model.RecordValues{"height": 155.0}},
		{ID: "r2", Values: model.RecordValues{"height": 160.0, model.CollaboratorKeyAttrName: "key-b"}},
	})
	require.NoError(t, err)

	records := sim.Records("heights")
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, 155.0, records[0].Values["height"])
	// merge keeps fields the update did not mention
	assert.Equal(t, "key-a", records[0].Values[model.CollaboratorKeyAttrName])
	assert.Equal(t, "r2", records[1].ID)
}

func TestRemoveRecords(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights",
		model.Record{ID: "r1", Values: model.RecordValues{"height": 150.0}},
		model.Record{ID: "r2", Values: model.RecordValues{"height": 160.0}},
	)

	err := adapter.RemoveRecords(context.Background(), "heights", []model.Record{{ID: "r1"}})
	require.NoError(t, err)

	records := sim.Records("heights")
	require.Len(t, records, 1)
	assert.Equal(t, "r2", records[0].ID)
}

func TestGetRecordsOfCollaboratorStripsEditableMarker(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights",
		model.Record{ID: "r1", Values: model.RecordValues{
			model.CollaboratorKeyAttrName: "key-a",
			model.EditableAttrName:        true,
			"height":                      150.0,
		}},
		model.Record{ID: "r2", Values: model.RecordValues{
			model.CollaboratorKeyAttrName: "key-b",
			"height":                      160.0,
		}},
	)

	records, err := adapter.GetRecordsOfCollaborator(context.Background(), "heights", "key-a")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "r1", records[0].ID)
	assert.NotContains(t, records[0].Values, model.EditableAttrName)
	assert.Equal(t, 150.0, records[0].Values["height"])
}

func TestReorderUserRecordsToEnd(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights",
		model.Record{ID: "r1", Values: model.RecordValues{model.CollaboratorKeyAttrName: "key-a"}},
		model.Record{ID: "r2", Values: model.RecordValues{model.CollaboratorKeyAttrName: "key-b"}},
		model.Record{ID: "r3", Values: model.RecordValues{model.CollaboratorKeyAttrName: "key-a"}},
	)

	err := adapter.ReorderUserRecordsToEnd(context.Background(), "heights", "key-a")
	require.NoError(t, err)

	var order []string
	for _, r := range sim.Records("heights") {
		order = append(order, r.ID)
	}
	assert.Equal(t, []string{"r2", "r1", "r3"}, order)
}

func TestConfigureUserCaseUpdatesExistingLabel(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights", model.Record{ID: "r1", Values: model.RecordValues{
		model.CollaboratorKeyAttrName: "key-a",
		model.NameAttrName:            "Old Name",
	}})

	err := adapter.ConfigureUserCase(context.Background(), "heights", "key-a", "New Name", false)
	require.NoError(t, err)

	records := sim.Records("heights")
	require.Len(t, records, 1)
	assert.Equal(t, "New Name", records[0].Values[model.NameAttrName])
}

func TestConfigureUserCaseAdoptsUnsharedRows(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights",
		model.Record{ID: "r1", Values: model.RecordValues{"height": 150.0}},
		model.Record{ID: "r2", Values: model.RecordValues{"height": 160.0}},
	)

	err := adapter.ConfigureUserCase(context.Background(), "heights", "key-a", "Ada", false)
	require.NoError(t, err)

	for _, r := range sim.Records("heights") {
		assert.Equal(t, "key-a", r.Values[model.CollaboratorKeyAttrName])
		assert.Equal(t, "Ada", r.Values[model.NameAttrName])
	}
}

func TestConfigureUserCaseAdoptionDropsEmptyPlaceholder(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights",
		model.Record{ID: "r1", Values: model.RecordValues{
			model.CollaboratorKeyAttrName: "key-a",
			model.NameAttrName:            "Ada",
		}},
		model.Record{ID: "r2", Values: model.RecordValues{"height": 160.0}},
	)

	err := adapter.ConfigureUserCase(context.Background(), "heights", "key-a", "Ada", false)
	require.NoError(t, err)

	records := sim.Records("heights")
	require.Len(t, records, 1)
	assert.Equal(t, "r2", records[0].ID)
	assert.Equal(t, "key-a", records[0].Values[model.CollaboratorKeyAttrName])
}

func TestConfigureUserCaseCreatesPlaceholder(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights")

	err := adapter.ConfigureUserCase(context.Background(), "heights", "key-a", "Ada", true)
	require.NoError(t, err)

	records := sim.Records("heights")
	require.Len(t, records, 1)
	assert.Equal(t, "key-a", records[0].Values[model.CollaboratorKeyAttrName])
	assert.Equal(t, "Ada", records[0].Values[model.NameAttrName])
}

func TestAddCollaborationCollectionsOnPlainTable(t *testing.T) {
	adapter, sim := newAdapter(t)
	sim.Seed(&model.Schema{
		Name: "heights",
		Collections: []model.Collection{
			{Name: "People", Attrs: []model.Attribute{{Name: "height"}}},
		},
	})

	err := adapter.AddCollaborationCollections(context.Background(), "heights", "key-a", "Ada", false)
	require.NoError(t, err)

	schema := sim.Schema("heights")
	coll := schema.FindCollection(model.CollaboratorsCollection)
	require.NotNil(t, coll)
	var names []string
	for _, attr := range coll.Attrs {
		names = append(names, attr.Name)
	}
	assert.Contains(t, names, model.NameAttrName)
	assert.Contains(t, names, model.CollaboratorKeyAttrName)
	assert.Contains(t, names, model.EditableAttrName)
}

func TestAddCollaborationCollectionsRewritesEditableMarker(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights")

	err := adapter.AddCollaborationCollections(context.Background(), "heights", "key-b", "Bea", false)
	require.NoError(t, err)

	schema := sim.Schema("heights")
	coll := schema.FindCollection(model.CollaboratorsCollection)
	require.NotNil(t, coll)
	for _, attr := range coll.Attrs {
		if attr.Name == model.EditableAttrName {
			assert.Contains(t, attr.Formula, "key-b")
			return
		}
	}
	t.Fatalf("editable marker attribute missing")
}

func TestSubscribeTableChanges(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights", model.Record{ID: "r1", Values: model.RecordValues{"height": 150.0}})

	var mu sync.Mutex
	var seen []model.ChangeOperation
	unsubscribe := adapter.SubscribeTableChanges("heights", func(n model.ChangeNotification) {
		mu.Lock()
		seen = append(seen, n.Operation)
		mu.Unlock()
	})

	sim.EditRecord("heights", "r1", "height", 151.0)
	sim.AddRecord("heights", model.RecordValues{"height": 170.0})

	mu.Lock()
	assert.Equal(t, []model.ChangeOperation{model.OpRecordsUpdated, model.OpRecordsCreated}, seen)
	mu.Unlock()

	unsubscribe()
	sim.EditRecord("heights", "r1", "height", 152.0)
	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestApplyStopsOnRejectedRequest(t *testing.T) {
	adapter, sim := newAdapter(t)
	seedTable(sim, "heights")
	sim.Reject = func(req host.Request) bool { return req.Action == host.ActionDelete }

	err := adapter.Apply(context.Background(), []host.Request{
		{Action: host.ActionDelete, Resource: host.TableResource("heights", "itemByID[r9]")},
	})
	require.Error(t, err)
	assert.True(t, errors.IsHost(err))
}
