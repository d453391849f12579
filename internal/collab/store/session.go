package store

import (
	"context"
	"encoding/json"
	"time"

	"collab-table/internal/collab/domain/model"
	"collab-table/internal/shared/errors"
	"collab-table/internal/shared/logger"
	"collab-table/internal/shared/paths"
)

// Session binds one collaboration share in the store to the acting user:
// typed reads and writes of the share's subtrees, change subscriptions, and
// presence. The per-user subtrees are keyed by the user's personal data
// label, so the label must be a valid store key.
type Session struct {
	store     RealtimeStore
	shareID   string
	userLabel string
	log       logger.Logger
}

// AttachSession binds a session to an existing or to-be-created share.
func AttachSession(store RealtimeStore, shareID, userLabel string, log logger.Logger) (*Session, error) {
	if !paths.IsValidKey(shareID) {
		return nil, errors.NewValidationError("invalid share identifier").WithDetail("share_id", shareID)
	}
	if !paths.IsValidKey(userLabel) {
		return nil, errors.NewValidationError("name is not usable as a store key").
			WithDetail("user_label", userLabel)
	}
	if log == nil {
		log = logger.NewLogger()
	}
	return &Session{
		store:     store,
		shareID:   shareID,
		userLabel: userLabel,
		log:       log.WithComponent("store-session").WithFields(map[string]interface{}{"share_id": shareID}),
	}, nil
}

// ShareID returns the share this session is bound to.
func (s *Session) ShareID() string { return s.shareID }

// UserLabel returns the acting user's label.
func (s *Session) UserLabel() string { return s.userLabel }

func (s *Session) path(children ...string) string {
	return paths.Join(append([]string{paths.ShareRoot(s.shareID)}, children...)...)
}

// Exists reports whether the share has any data in the store.
func (s *Session) Exists(ctx context.Context) (bool, error) {
	raw, err := s.store.Get(ctx, s.path())
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// ReadEntry reads the whole share subtree once.
func (s *Session) ReadEntry(ctx context.Context) (*model.SharedTableEntry, error) {
	raw, err := s.store.Get(ctx, s.path())
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.NewNotFoundError("no such share").
			WithCause(errors.ErrShareNotFound).
			WithDetail("share_id", s.shareID)
	}
	entry := &model.SharedTableEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, errors.NewStoreError("unreadable share entry").WithCause(err)
	}
	return entry, nil
}

// WriteSchema publishes the sharable schema to the share.
func (s *Session) WriteSchema(ctx context.Context, schema *model.Schema) error {
	return s.store.Set(ctx, s.path(model.SchemaChild), schema)
}

// ReadSchema reads the current shared schema, nil when absent.
func (s *Session) ReadSchema(ctx context.Context) (*model.Schema, error) {
	raw, err := s.store.Get(ctx, s.path(model.SchemaChild))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	schema := &model.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, errors.NewStoreError("unreadable shared schema").WithCause(err)
	}
	return schema, nil
}

// SubscribeSchema watches the shared schema. The handler receives nil while
// the schema node is absent.
func (s *Session) SubscribeSchema(ctx context.Context, handler func(*model.Schema)) (func(), error) {
	return s.store.SubscribeValue(ctx, s.path(model.SchemaChild), func(raw json.RawMessage) {
		if raw == nil {
			handler(nil)
			return
		}
		schema := &model.Schema{}
		if err := json.Unmarshal(raw, schema); err != nil {
			s.log.Warnf("discarding unreadable schema update: %v", err)
			return
		}
		handler(schema)
	})
}

// WriteUserRecords replaces the acting user's record subtree. Host-local
// identifiers are stripped from the stored values.
func (s *Session) WriteUserRecords(ctx context.Context, data model.UserItemData) error {
	items := make(map[string]interface{}, len(data.Items))
	for key, values := range data.Items {
		normalized, err := normalize(values)
		if err != nil {
			return err
		}
		items[key] = StripLocalIDs(normalized)
	}
	return s.store.Set(ctx, s.path(model.ItemDataChild, s.userLabel), map[string]interface{}{
		model.ItemsChild: items,
		model.OrderChild: data.Order,
	})
}

// ReadUserRecords reads one user's record subtree, zero-valued when absent.
func (s *Session) ReadUserRecords(ctx context.Context, userLabel string) (model.UserItemData, error) {
	var data model.UserItemData
	raw, err := s.store.Get(ctx, s.path(model.ItemDataChild, userLabel))
	if err != nil {
		return data, err
	}
	if raw == nil {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, errors.NewStoreError("unreadable user records").WithCause(err)
	}
	return data, nil
}

// RemoveUserRecords deletes the acting user's record subtree.
func (s *Session) RemoveUserRecords(ctx context.Context) error {
	return s.store.Remove(ctx, s.path(model.ItemDataChild, s.userLabel))
}

// SubscribeUsers watches which users have record subtrees in the share.
func (s *Session) SubscribeUsers(ctx context.Context, handler ChildHandler) (func(), error) {
	return s.store.SubscribeChildren(ctx, s.path(model.ItemDataChild), handler)
}

// SubscribeUserItems watches one user's individual records.
func (s *Session) SubscribeUserItems(ctx context.Context, userLabel string, handler ChildHandler) (func(), error) {
	return s.store.SubscribeChildren(ctx, s.path(model.ItemDataChild, userLabel, model.ItemsChild), handler)
}

// SubscribeUserOrder watches one user's record display order.
func (s *Session) SubscribeUserOrder(ctx context.Context, userLabel string, handler func([]string)) (func(), error) {
	return s.store.SubscribeValue(ctx, s.path(model.ItemDataChild, userLabel, model.OrderChild), func(raw json.RawMessage) {
		if raw == nil {
			handler(nil)
			return
		}
		var order []string
		if err := json.Unmarshal(raw, &order); err != nil {
			s.log.Warnf("discarding unreadable order update: %v", err)
			return
		}
		handler(order)
	})
}

// RegisterPresence records the acting user durably in allUsers and volatilely
// in connectedUsers, arming the store to clear the volatile entry if the
// connection drops without a clean leave.
func (s *Session) RegisterPresence(ctx context.Context) error {
	now := time.Now().UnixMilli()
	if err := s.store.Set(ctx, s.path(model.AllUsersChild, s.userLabel), now); err != nil {
		return err
	}
	connected := s.path(model.ConnectedUsersChild, s.userLabel)
	if err := s.store.Set(ctx, connected, now); err != nil {
		return err
	}
	return s.store.OnDisconnectRemove(ctx, connected)
}

// UnregisterPresence clears the volatile presence entry on a clean leave.
// The durable allUsers entry stays so returning users keep their history.
func (s *Session) UnregisterPresence(ctx context.Context) error {
	connected := s.path(model.ConnectedUsersChild, s.userLabel)
	if err := s.store.CancelDisconnect(ctx, connected); err != nil {
		return err
	}
	return s.store.Remove(ctx, connected)
}

// SubscribeConnectedUsers watches current presence.
func (s *Session) SubscribeConnectedUsers(ctx context.Context, handler ChildHandler) (func(), error) {
	return s.store.SubscribeChildren(ctx, s.path(model.ConnectedUsersChild), handler)
}
