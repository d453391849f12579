package model

// Reserved bookkeeping attributes. NameAttrName holds the author's display
// label, CollaboratorKeyAttrName identifies which user's record a row is, and
// EditableAttrName is a derived per-session marker that is never transmitted.
const (
	NameAttrName            = "Name"
	CollaboratorKeyAttrName = "__collaborator__"
	EditableAttrName        = "__editable__"
)

// CollaboratorsCollection is the bookkeeping collection every shared schema
// carries; user rows group under it.
const (
	CollaboratorsCollection      = "Collaborators"
	CollaboratorsCollectionTitle = "List of collaborators"
)

// RecordValues maps attribute names to scalar or opaque cell values.
type RecordValues map[string]interface{}

// Record is one row of host data. The ID is host-local and session-scoped;
// it never carries meaning across clients.
type Record struct {
	ID     string       `json:"id"`
	Values RecordValues `json:"values"`
}

// Clone returns a copy of the record with its own values map.
func (r Record) Clone() Record {
	values := make(RecordValues, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Record{ID: r.ID, Values: values}
}

// IsEmptyUserRecord reports whether the record carries nothing beyond the
// required sharing attributes. Such placeholder rows exist only so a user's
// future rows group together, and are deleted once real rows appear.
func (r Record) IsEmptyUserRecord() bool {
	for attr := range r.Values {
		switch attr {
		case NameAttrName, CollaboratorKeyAttrName, EditableAttrName:
		default:
			return false
		}
	}
	return true
}

// EditableAttributeSpec is the derived editability marker rewritten for each
// user on share start: rows are editable only by their author.
func EditableAttributeSpec(personalDataKey string) Attribute {
	return Attribute{
		Name:       EditableAttrName,
		Formula:    CollaboratorKeyAttrName + `="` + personalDataKey + `"`,
		Editable:   Bool(false),
		Renameable: Bool(false),
		Deleteable: Bool(false),
		Hidden:     Bool(true),
	}
}

// CollaboratorsCollectionSpec builds the bookkeeping collection for the
// acting user: the visible Name attribute, the hidden collaborator key, and
// the per-user editability marker.
func CollaboratorsCollectionSpec(personalDataKey string) Collection {
	return Collection{
		Name:   CollaboratorsCollection,
		Title:  CollaboratorsCollectionTitle,
		Parent: RootParent,
		Labels: &CollectionLabels{
			SingleCase: "name",
			PluralCase: "names",
		},
		Attrs: []Attribute{
			{Name: NameAttrName, Editable: Bool(false), Renameable: Bool(false), Deleteable: Bool(false)},
			{Name: CollaboratorKeyAttrName, Editable: Bool(false), Renameable: Bool(false), Deleteable: Bool(false), Hidden: Bool(true)},
			EditableAttributeSpec(personalDataKey),
		},
	}
}
