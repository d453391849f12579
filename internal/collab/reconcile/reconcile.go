// Package reconcile computes the host operations that align a locally-known
// table schema with an incoming shared schema, preserving unrelated local
// structure. Reconcile is pure: it returns a prepared operation list and
// touches nothing. Submitting the list as one envelope is the caller's job;
// piecemeal submission would make the host emit intermediate notifications
// that re-trigger reconciliation.
package reconcile

import (
	"collab-table/internal/collab/domain/model"
	"collab-table/internal/collab/host"
)

// flatAttr is one attribute tuple of a flattened schema.
type flatAttr struct {
	attr       model.Attribute
	collection string
	position   int
}

// attrCreate is the host payload for creating one attribute at a position.
type attrCreate struct {
	model.Attribute
	Position int `json:"position,omitempty"`
}

// protectedAttrs are bookkeeping attributes that must never be deleted by
// reconciliation regardless of match status.
var protectedAttrs = map[string]struct{}{
	model.NameAttrName:            {},
	model.CollaboratorKeyAttrName: {},
	model.EditableAttrName:        {},
}

// redirectBase keeps attributes redirected into the last collection ordered
// after everything that already exists there.
const redirectBase = 1000

// Reconcile compares the local schema against the incoming shared one and
// returns the operations that align them.
//
// On initial join attributes are matched across the schemas by name; after
// that, attributes carrying a correlation id are matched by it, which lets a
// rename be recognized as the same attribute. Incoming attributes with no
// local match are created, redirected into the local schema's last
// collection when their named collection does not exist locally (collections
// are never merged structurally after creation). Matched attributes are
// diffed field by field with empty and missing treated as equivalent.
// Deletion of unmatched deletable local attributes happens only outside the
// initial join, so a new joiner's freshly-created structure survives.
func Reconcile(local, incoming *model.Schema, initialJoin bool) []host.Request {
	if local == nil || incoming == nil {
		return nil
	}

	var ops []host.Request
	if incoming.Title != "" && incoming.Title != local.Title {
		ops = append(ops, host.Request{
			Action:   host.ActionUpdate,
			Resource: host.TableResource(local.Name, ""),
			Values:   map[string]interface{}{"title": incoming.Title},
		})
	}

	localFlat := flatten(local)
	localByName := make(map[string]flatAttr, len(localFlat))
	localByCID := make(map[string]flatAttr)
	for _, f := range localFlat {
		localByName[f.attr.Name] = f
		if f.attr.CID != "" {
			localByCID[f.attr.CID] = f
		}
	}

	matchedLocalNames := make(map[string]struct{})
	redirects := 0
	for _, in := range flatten(incoming) {
		localMatch, found := match(in.attr, localByName, localByCID, initialJoin)
		if !found {
			ops = append(ops, createOp(local, in, &redirects))
			continue
		}
		matchedLocalNames[localMatch.attr.Name] = struct{}{}
		if changed := diffAttr(localMatch.attr, in.attr); len(changed) > 0 {
			ops = append(ops, host.Request{
				Action:   host.ActionUpdate,
				Resource: host.AttributeResource(local.Name, localMatch.collection, localMatch.attr.Name),
				Values:   changed,
			})
		}
	}

	if !initialJoin {
		for _, f := range localFlat {
			if _, matched := matchedLocalNames[f.attr.Name]; matched {
				continue
			}
			if _, protected := protectedAttrs[f.attr.Name]; protected {
				continue
			}
			if !f.attr.IsDeletable() {
				continue
			}
			ops = append(ops, host.Request{
				Action:   host.ActionDelete,
				Resource: host.AttributeResource(local.Name, f.collection, f.attr.Name),
			})
		}
	}
	return ops
}

func flatten(schema *model.Schema) []flatAttr {
	var out []flatAttr
	for _, coll := range schema.Collections {
		for i, attr := range coll.Attrs {
			out = append(out, flatAttr{attr: attr, collection: coll.Name, position: i})
		}
	}
	return out
}

// match finds the local attribute an incoming one corresponds to. After the
// initial join a shared correlation id wins over the name; attributes
// without one still match by name.
func match(in model.Attribute, byName, byCID map[string]flatAttr, initialJoin bool) (flatAttr, bool) {
	if !initialJoin && in.CID != "" {
		if f, ok := byCID[in.CID]; ok {
			return f, true
		}
	}
	f, ok := byName[in.Name]
	if ok && !initialJoin && in.CID != "" && f.attr.CID != "" && f.attr.CID != in.CID {
		// same name but a different identity is not a match
		return flatAttr{}, false
	}
	return f, ok
}

// createOp prepares the creation of one incoming attribute, scoped to its
// named collection when it exists locally, else redirected to the last one.
func createOp(local *model.Schema, in flatAttr, redirects *int) host.Request {
	target := in.collection
	payload := attrCreate{Attribute: in.attr.Clone()}
	if !local.HasCollection(target) {
		if last := local.LastCollection(); last != nil {
			target = last.Name
		}
		payload.Position = redirectBase + *redirects
		*redirects++
	}
	return host.Request{
		Action:   host.ActionCreate,
		Resource: host.CollectionResource(local.Name, target, "attribute"),
		Values:   payload,
	}
}

// emptyEq reports whether two optional string fields are equivalent, with
// empty and missing treated the same to avoid spurious update storms.
func emptyEq(a, b string) bool {
	return a == b || (a == "" && b == "")
}

// diffAttr returns only the fields of the incoming attribute that genuinely
// differ from the local one. A missing local correlation id is backfilled
// from the incoming attribute so later renames stay matchable.
func diffAttr(local, in model.Attribute) map[string]interface{} {
	changed := make(map[string]interface{})
	if in.Name != "" && in.Name != local.Name {
		changed["name"] = in.Name
	}
	if !emptyEq(local.Formula, in.Formula) {
		changed["formula"] = in.Formula
	}
	if !emptyEq(local.Description, in.Description) {
		changed["description"] = in.Description
	}
	if !emptyEq(local.Type, in.Type) {
		changed["type"] = in.Type
	}
	if !emptyEq(local.Unit, in.Unit) {
		changed["unit"] = in.Unit
	}
	if !emptyEq(local.Precision, in.Precision) {
		changed["precision"] = in.Precision
	}
	if in.CID != "" && in.CID != local.CID {
		changed["cid"] = in.CID
	}
	return changed
}
