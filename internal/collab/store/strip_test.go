package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripLocalIDs(t *testing.T) {
	in := map[string]interface{}{
		"id":     "i1",
		"guid":   "g1",
		"height": 150.0,
		"nested": map[string]interface{}{
			"id":   "i2",
			"keep": true,
		},
		"list": []interface{}{
			map[string]interface{}{"guid": "g3", "v": 1.0},
		},
	}

	out := StripLocalIDs(in).(map[string]interface{})

	assert.NotContains(t, out, "id")
	assert.NotContains(t, out, "guid")
	assert.Equal(t, 150.0, out["height"])
	nested := out["nested"].(map[string]interface{})
	assert.NotContains(t, nested, "id")
	assert.Equal(t, true, nested["keep"])
	first := out["list"].([]interface{})[0].(map[string]interface{})
	assert.NotContains(t, first, "guid")
	assert.Equal(t, 1.0, first["v"])

	// input untouched
	assert.Contains(t, in, "id")
	assert.Contains(t, in["nested"], "id")
}

func TestStripLocalIDsScalars(t *testing.T) {
	assert.Equal(t, "x", StripLocalIDs("x"))
	assert.Nil(t, StripLocalIDs(nil))
}
