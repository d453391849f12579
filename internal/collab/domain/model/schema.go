package model

// RootParent is the sentinel parent reference of a schema's root collection.
const RootParent = "_root_"

// Attribute describes one column of a shared table. The CID is the only
// identifier that is stable across host sessions; it is backfilled at initial
// join and lets a later rename be recognized as the same attribute.
type Attribute struct {
	Name        string `json:"name"`
	Formula     string `json:"formula,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	CID         string `json:"cid,omitempty"`
	Precision   string `json:"precision,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Editable    *bool  `json:"editable,omitempty"`
	Renameable  *bool  `json:"renameable,omitempty"`
	Deleteable  *bool  `json:"deleteable,omitempty"`
	Hidden      *bool  `json:"hidden,omitempty"`
}

// IsDeletable reports whether reconciliation may delete this attribute.
// Attributes with no explicit flag are protected.
func (a Attribute) IsDeletable() bool {
	return a.Deleteable != nil && *a.Deleteable
}

// Clone returns a deep copy of the attribute.
func (a Attribute) Clone() Attribute {
	c := a
	c.Editable = cloneBool(a.Editable)
	c.Renameable = cloneBool(a.Renameable)
	c.Deleteable = cloneBool(a.Deleteable)
	c.Hidden = cloneBool(a.Hidden)
	return c
}

// CollectionLabels carries the host's display labels for a collection's cases.
type CollectionLabels struct {
	SingleCase            string `json:"singleCase,omitempty"`
	PluralCase            string `json:"pluralCase,omitempty"`
	SingleCaseWithArticle string `json:"singleCaseWithArticle,omitempty"`
	SetOfCases            string `json:"setOfCases,omitempty"`
	SetOfCasesWithArticle string `json:"setOfCasesWithArticle,omitempty"`
}

// Collection is an ordered group of attributes within a schema. The ID and
// ParentID are host-session-local and must never cross the wire; Parent names
// the parent collection and is the only parent reference that survives
// sharing between documents.
type Collection struct {
	Name        string            `json:"name"`
	Title       string            `json:"title,omitempty"`
	ID          int64             `json:"id,omitempty"`
	Parent      string            `json:"parent,omitempty"`
	ParentID    int64             `json:"-"`
	Description string            `json:"description,omitempty"`
	Labels      *CollectionLabels `json:"labels,omitempty"`
	Attrs       []Attribute       `json:"attrs"`
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := c
	if c.Labels != nil {
		labels := *c.Labels
		out.Labels = &labels
	}
	out.Attrs = make([]Attribute, len(c.Attrs))
	for i, a := range c.Attrs {
		out.Attrs[i] = a.Clone()
	}
	return out
}

// FindAttr returns the attribute with the given name, or nil.
func (c *Collection) FindAttr(name string) *Attribute {
	for i := range c.Attrs {
		if c.Attrs[i].Name == name {
			return &c.Attrs[i]
		}
	}
	return nil
}

// Schema is a named, ordered tree of collections describing one shared
// table's structure. The name is the stable identifier within one host
// document; the title is what users see.
type Schema struct {
	Name        string       `json:"name"`
	Title       string       `json:"title,omitempty"`
	Collections []Collection `json:"collections"`
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{Name: s.Name, Title: s.Title}
	out.Collections = make([]Collection, len(s.Collections))
	for i, c := range s.Collections {
		out.Collections[i] = c.Clone()
	}
	return out
}

// FindCollection returns the collection with the given name, or nil.
func (s *Schema) FindCollection(name string) *Collection {
	for i := range s.Collections {
		if s.Collections[i].Name == name {
			return &s.Collections[i]
		}
	}
	return nil
}

// LastCollection returns the schema's final collection, or nil for an empty
// schema. New attributes from unknown remote collections land here.
func (s *Schema) LastCollection() *Collection {
	if len(s.Collections) == 0 {
		return nil
	}
	return &s.Collections[len(s.Collections)-1]
}

// HasCollection reports whether a collection with the given name exists.
func (s *Schema) HasCollection(name string) bool {
	return s.FindCollection(name) != nil
}

// Sharable returns a copy of the schema prepped for transmission: collection
// parent references become parent names (session-local ids do not survive
// sharing), host-local ids are dropped, and the derived editability marker
// attribute is removed since each client rewrites it for its own user.
func (s *Schema) Sharable() *Schema {
	out := s.Clone()
	for i := range out.Collections {
		coll := &out.Collections[i]
		if coll.Parent == "" && coll.ParentID != 0 {
			for _, candidate := range s.Collections {
				if candidate.ID == coll.ParentID {
					coll.Parent = candidate.Name
					break
				}
			}
		}
		coll.ID = 0
		coll.ParentID = 0

		kept := coll.Attrs[:0]
		for _, attr := range coll.Attrs {
			if attr.Name != EditableAttrName {
				kept = append(kept, attr)
			}
		}
		coll.Attrs = kept
	}
	return out
}

// Validate checks the structural invariants: parent links form a tree rooted
// at the sentinel, and attribute names are unique within each collection.
func (s *Schema) Validate() error {
	byName := make(map[string]*Collection, len(s.Collections))
	for i := range s.Collections {
		byName[s.Collections[i].Name] = &s.Collections[i]
	}
	for i := range s.Collections {
		coll := &s.Collections[i]

		seen := make(map[string]struct{}, len(coll.Attrs))
		for _, attr := range coll.Attrs {
			if _, dup := seen[attr.Name]; dup {
				return &SchemaInvariantError{Collection: coll.Name, Reason: "duplicate attribute " + attr.Name}
			}
			seen[attr.Name] = struct{}{}
		}

		// walk parent links looking for a cycle
		visited := map[string]struct{}{coll.Name: {}}
		cur := coll
		for cur.Parent != "" && cur.Parent != RootParent {
			next, ok := byName[cur.Parent]
			if !ok {
				return &SchemaInvariantError{Collection: cur.Name, Reason: "unknown parent " + cur.Parent}
			}
			if _, again := visited[next.Name]; again {
				return &SchemaInvariantError{Collection: coll.Name, Reason: "parent cycle through " + next.Name}
			}
			visited[next.Name] = struct{}{}
			cur = next
		}
	}
	return nil
}

// SchemaInvariantError reports a violated schema structure invariant.
type SchemaInvariantError struct {
	Collection string
	Reason     string
}

func (e *SchemaInvariantError) Error() string {
	return "schema invariant violated in collection " + e.Collection + ": " + e.Reason
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// Bool returns a pointer to b, for the optional attribute flags.
func Bool(b bool) *bool {
	return &b
}
