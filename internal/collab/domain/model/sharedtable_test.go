package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserItemData_OrderedRecords(t *testing.T) {
	data := &UserItemData{
		Items: map[string]RecordValues{
			"r1": {"height": 170},
			"r2": {"height": 155},
			"r3": {"height": 182},
		},
		Order: []string{"r2", "r3", "r1"},
	}
	records := data.OrderedRecords()
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"r2", "r3", "r1"}, ids)
}

func TestUserItemData_OrderedRecords_TornSnapshot(t *testing.T) {
	// an id missing from the order array is still delivered, trailing
	data := &UserItemData{
		Items: map[string]RecordValues{"r1": {}, "r2": {}},
		Order: []string{"r1"},
	}
	records := data.OrderedRecords()
	assert.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "r2", records[1].ID)
}

func TestFromRecords_RoundTrip(t *testing.T) {
	records := []Record{
		{ID: "a", Values: RecordValues{"x": 1}},
		{ID: "b", Values: RecordValues{"x": 2}},
	}
	data := FromRecords(records)
	assert.Equal(t, []string{"a", "b"}, data.Order)
	assert.Equal(t, records, data.OrderedRecords())
}

func TestRecord_IsEmptyUserRecord(t *testing.T) {
	placeholder := Record{ID: "1", Values: RecordValues{
		NameAttrName:            "Alice",
		CollaboratorKeyAttrName: "prefix:Alice",
	}}
	assert.True(t, placeholder.IsEmptyUserRecord())

	real := placeholder.Clone()
	real.Values["height"] = 170
	assert.False(t, real.IsEmptyUserRecord())
}

func TestSharedTableEntry_RemoteUsers(t *testing.T) {
	entry := &SharedTableEntry{
		ItemData: map[string]UserItemData{
			"Alice": {},
			"Bob":   {},
		},
	}
	assert.ElementsMatch(t, []string{"Bob"}, entry.RemoteUsers("Alice"))
}

func TestChangeOperation_Classification(t *testing.T) {
	assert.True(t, OpSelectionChanged.IsSelectionOnly())
	assert.False(t, OpRecordsCreated.IsSelectionOnly())
	assert.True(t, OpAttributesUpdated.IsSchemaChange())
	assert.False(t, OpRecordsMoved.IsSchemaChange())
}
