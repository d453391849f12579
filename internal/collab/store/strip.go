package store

// Keys the host attaches to records for its own bookkeeping. They are
// meaningless outside the originating document and must never reach the
// store, where they would be mistaken for data by other participants.
var localIDKeys = map[string]struct{}{
	"id":   {},
	"guid": {},
}

// StripLocalIDs returns a deep copy of a decoded JSON value with every
// host-local identifier key removed, at any depth. The input is not mutated.
func StripLocalIDs(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			if _, local := localIDKeys[k]; local {
				continue
			}
			out[k] = StripLocalIDs(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = StripLocalIDs(child)
		}
		return out
	default:
		return value
	}
}
