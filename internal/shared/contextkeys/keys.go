package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "collab-table context key " + string(c)
}

// ShareIDKey is the key for the active share identifier in context.Context
const ShareIDKey = contextKey("shareID")

// UserLabelKey is the key for the acting user's share label in context.Context
const UserLabelKey = contextKey("userLabel")

// TableKey is the key for the table (schema) name in context.Context
const TableKey = contextKey("table")

// ComponentKey is the key for the originating component name in context.Context
const ComponentKey = contextKey("component")

// OperationKey is the key for the in-flight operation name in context.Context
const OperationKey = contextKey("operation")
