package model

// ChangeOperation tags a host change notification with what happened.
type ChangeOperation string

const (
	OpRecordsCreated    ChangeOperation = "createRecords"
	OpRecordsUpdated    ChangeOperation = "updateRecords"
	OpRecordsDeleted    ChangeOperation = "deleteRecords"
	OpRecordsMoved      ChangeOperation = "moveRecords"
	OpSelectionChanged  ChangeOperation = "selectRecords"
	OpAttributesCreated ChangeOperation = "createAttributes"
	OpAttributesUpdated ChangeOperation = "updateAttributes"
	OpAttributesDeleted ChangeOperation = "deleteAttributes"
	OpCollectionCreated ChangeOperation = "createCollection"
	OpSchemaUpdated     ChangeOperation = "updateSchema"
)

// IsSelectionOnly reports whether the operation changes nothing worth
// mirroring to the shared record.
func (op ChangeOperation) IsSelectionOnly() bool {
	return op == OpSelectionChanged
}

// IsSchemaChange reports whether the operation altered table structure rather
// than row data.
func (op ChangeOperation) IsSchemaChange() bool {
	switch op {
	case OpAttributesCreated, OpAttributesUpdated, OpAttributesDeleted, OpCollectionCreated, OpSchemaUpdated:
		return true
	}
	return false
}

// ChangeNotification is an asynchronous host notification about one table.
type ChangeNotification struct {
	Table     string                 `json:"table"`
	Operation ChangeOperation        `json:"operation"`
	Result    map[string]interface{} `json:"result,omitempty"`
}

// BatchKind classifies a reconstructed record batch.
type BatchKind string

const (
	BatchAdded   BatchKind = "added"
	BatchChanged BatchKind = "changed"
	BatchRemoved BatchKind = "removed"
)

// RecordBatch is an ordered, de-duplicated batch of one remote user's records
// as delivered by the change stream reconstructor.
type RecordBatch struct {
	User    string    `json:"user"`
	Kind    BatchKind `json:"kind"`
	Records []Record  `json:"records"`
}
