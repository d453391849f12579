package host

import (
	"context"

	"collab-table/internal/collab/domain/model"
)

// hostCase is the dynamic shape of one grouped case returned by case search.
type hostCase struct {
	ID string `json:"id"`
}

// SearchCollaboratorCase looks up the grouped case for one user's records.
func (a *Adapter) SearchCollaboratorCase(ctx context.Context, table, personalDataKey string) (string, bool, error) {
	res, err := a.sendSingle(ctx, Request{
		Action:   ActionGet,
		Resource: CollaboratorsResource(table, "caseSearch["+model.CollaboratorKeyAttrName+"=="+personalDataKey+"]"),
	})
	if err != nil {
		return "", false, err
	}
	if !res.Success {
		return "", false, nil
	}
	var cases []hostCase
	if err := DecodeValues(res.Values, &cases); err != nil {
		return "", false, nil
	}
	if len(cases) == 0 || cases[0].ID == "" {
		return "", false, nil
	}
	return cases[0].ID, true, nil
}

// ConfigureUserCase makes sure the acting user has a row grouping: it updates
// an existing user case (the label may have changed), adopts rows that are
// not yet tagged with any collaborator, or creates an empty placeholder row
// carrying only the sharing attributes so user-entered rows group together.
func (a *Adapter) ConfigureUserCase(ctx context.Context, table, personalDataKey, personalDataLabel string, newTable bool) error {
	var changes []Request
	var userCaseID string

	if !newTable {
		id, found, err := a.SearchCollaboratorCase(ctx, table, personalDataKey)
		if err != nil {
			return err
		}
		if found {
			userCaseID = id
		} else {
			unshared, err := a.adoptUnsharedCases(ctx, table, personalDataKey, personalDataLabel)
			if err != nil {
				return err
			}
			changes = unshared
		}
	}

	switch {
	case len(changes) > 0:
		// adoption requests already prepared
	case userCaseID != "":
		changes = append(changes, Request{
			Action:   ActionUpdate,
			Resource: CollaboratorsResource(table, "caseByID["+userCaseID+"]"),
			Values: map[string]interface{}{
				"values": model.RecordValues{model.NameAttrName: personalDataLabel},
			},
		})
	default:
		changes = append(changes, Request{
			Action:   ActionCreate,
			Resource: CollaboratorsResource(table, "item"),
			Values: []map[string]interface{}{{
				"values": model.RecordValues{
					model.NameAttrName:            personalDataLabel,
					model.CollaboratorKeyAttrName: personalDataKey,
				},
			}},
		})
	}

	if len(changes) == 0 {
		return nil
	}
	_, err := a.send(ctx, Batch(changes...))
	return err
}

// adoptUnsharedCases prepares requests that stamp currently-unshared rows
// (rows with no collaborator key, typically generated by other plugins) with
// the acting user's key and label, and that delete the user's empty
// placeholder rows once real rows exist.
func (a *Adapter) adoptUnsharedCases(ctx context.Context, table, personalDataKey, personalDataLabel string) ([]Request, error) {
	responses, err := a.send(ctx, Batch(
		Request{
			Action:   ActionGet,
			Resource: TableResource(table, "itemSearch["+model.CollaboratorKeyAttrName+"=="+personalDataKey+"]"),
		},
		Request{
			Action:   ActionGet,
			Resource: CollaboratorsResource(table, "caseSearch["+model.CollaboratorKeyAttrName+"==]"),
		},
	))
	if err != nil {
		return nil, err
	}

	var userRecords []model.Record
	if len(responses) > 0 && responses[0].Success {
		_ = DecodeValues(responses[0].Values, &userRecords)
	}
	var unsharedCases []hostCase
	if len(responses) > 1 && responses[1].Success {
		_ = DecodeValues(responses[1].Values, &unsharedCases)
	}

	var emptyRecords []model.Record
	for _, r := range userRecords {
		if r.IsEmptyUserRecord() {
			emptyRecords = append(emptyRecords, r)
		}
	}
	nonEmptyCount := len(userRecords) - len(emptyRecords)

	var requests []Request
	if len(emptyRecords) > 0 && (nonEmptyCount > 0 || len(unsharedCases) > 0) {
		for _, r := range emptyRecords {
			requests = append(requests, Request{
				Action:   ActionDelete,
				Resource: CollaboratorsResource(table, "itemByID["+r.ID+"]"),
			})
		}
	}
	for _, c := range unsharedCases {
		requests = append(requests, Request{
			Action:   ActionUpdate,
			Resource: CollaboratorsResource(table, "caseByID["+c.ID+"]"),
			Values: map[string]interface{}{
				"values": model.RecordValues{
					model.NameAttrName:            personalDataLabel,
					model.CollaboratorKeyAttrName: personalDataKey,
				},
			},
		})
	}
	return requests, nil
}

// AddCollaborationCollections augments a table with the bookkeeping
// structure for the acting user: the Collaborators collection if missing
// (otherwise just the per-user editability marker rewrite), optionally an
// empty data collection for a brand-new table, and the user's case.
func (a *Adapter) AddCollaborationCollections(ctx context.Context, table, personalDataKey, personalDataLabel string, addEmptyDataCollection bool) error {
	existing, err := a.sendSingle(ctx, Request{
		Action:   ActionGet,
		Resource: CollaboratorsResource(table, ""),
	})
	if err != nil {
		return err
	}

	var collections []model.Collection
	if !existing.Success {
		collections = append(collections, model.CollaboratorsCollectionSpec(personalDataKey))
	} else {
		// collection already present from a previous share; rewrite the
		// editability marker for this user
		if _, err := a.sendSingle(ctx, Request{
			Action:   ActionUpdate,
			Resource: AttributeResource(table, model.CollaboratorsCollection, model.EditableAttrName),
			Values:   model.EditableAttributeSpec(personalDataKey),
		}); err != nil {
			return err
		}
	}

	if addEmptyDataCollection {
		collections = append(collections, model.Collection{
			Name:   "Data",
			Title:  "Data",
			Parent: model.CollaboratorsCollection,
			Attrs:  []model.Attribute{{Name: "NewAttribute", Editable: model.Bool(true)}},
		})
	}

	if len(collections) > 0 {
		if err := a.AddCollections(ctx, table, collections); err != nil {
			return err
		}
	}

	return a.ConfigureUserCase(ctx, table, personalDataKey, personalDataLabel, addEmptyDataCollection)
}

// AddEditableAttribute creates the editability marker on a freshly adopted
// schema that never had one.
func (a *Adapter) AddEditableAttribute(ctx context.Context, table, personalDataKey string) error {
	_, err := a.sendSingle(ctx, Request{
		Action:   ActionCreate,
		Resource: CollectionResource(table, model.CollaboratorsCollection, "attribute"),
		Values:   model.EditableAttributeSpec(personalDataKey),
	})
	return err
}
