package model

// Child keys of one collaboration session's root node in the store.
const (
	SchemaChild         = "schema"
	ItemDataChild       = "itemData"
	AllUsersChild       = "allUsers"
	ConnectedUsersChild = "connectedUsers"
)

// Child keys of one user's item-data node.
const (
	ItemsChild = "items"
	OrderChild = "order"
)

// UserItemData is one user's slice of the shared record: the records keyed by
// id plus the canonical display ordering. Invariant: Order is always a
// permutation of the key set of Items; the two are written together but the
// store surfaces their mutations as independent child events.
type UserItemData struct {
	Items map[string]RecordValues `json:"items"`
	Order []string                `json:"order"`
}

// OrderedRecords returns the user's records in canonical order. Ids present
// in Items but missing from Order are appended at the end so a torn snapshot
// still yields every record.
func (d *UserItemData) OrderedRecords() []Record {
	if d == nil {
		return nil
	}
	records := make([]Record, 0, len(d.Items))
	seen := make(map[string]struct{}, len(d.Items))
	for _, id := range d.Order {
		if values, ok := d.Items[id]; ok {
			records = append(records, Record{ID: id, Values: values})
			seen[id] = struct{}{}
		}
	}
	for id, values := range d.Items {
		if _, ok := seen[id]; !ok {
			records = append(records, Record{ID: id, Values: values})
		}
	}
	return records
}

// FromRecords builds a UserItemData from an ordered record list.
func FromRecords(records []Record) UserItemData {
	data := UserItemData{
		Items: make(map[string]RecordValues, len(records)),
		Order: make([]string, 0, len(records)),
	}
	for _, r := range records {
		data.Items[r.ID] = r.Values
		data.Order = append(data.Order, r.ID)
	}
	return data
}

// UserMap maps a user's share label to a liveness timestamp (unix millis).
type UserMap map[string]int64

// SharedTableEntry is the store's root object for one collaboration session.
type SharedTableEntry struct {
	// Schema is the full sharable table schema snapshot.
	Schema *Schema `json:"schema,omitempty"`
	// ItemData holds each user's records and canonical ordering.
	ItemData map[string]UserItemData `json:"itemData,omitempty"`
	// AllUsers records every user who has ever joined.
	AllUsers UserMap `json:"allUsers,omitempty"`
	// ConnectedUsers records currently-connected users; entries are removed
	// by the store's disconnect hook, and the whole shared entry is deleted
	// externally once this map empties.
	ConnectedUsers UserMap `json:"connectedUsers,omitempty"`
}

// RemoteUsers lists the users with item data other than the given one.
func (e *SharedTableEntry) RemoteUsers(self string) []string {
	if e == nil {
		return nil
	}
	users := make([]string, 0, len(e.ItemData))
	for user := range e.ItemData {
		if user != self {
			users = append(users, user)
		}
	}
	return users
}
