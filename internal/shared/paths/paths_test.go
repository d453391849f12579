package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinAndSplit(t *testing.T) {
	assert.Equal(t, "shared-tables/A3KF7Q/items", Join(Root, "A3KF7Q", "items"))
	assert.Equal(t, "a/b", Join("a", "", "b"))
	assert.Equal(t, "a/b", Join("/a/", "b/"))
	assert.Equal(t, []string{"a", "b"}, Split("/a//b/"))
	assert.Empty(t, Split(""))
}

func TestParse(t *testing.T) {
	info, err := Parse("shared-tables/A3KF7Q/items/Alice/order")
	require.NoError(t, err)
	assert.Equal(t, "A3KF7Q", info.ShareID)
	assert.Equal(t, "items/Alice/order", info.Subtree)
	assert.Equal(t, []string{"items", "Alice", "order"}, info.Segments)
}

func TestParse_ShareRootOnly(t *testing.T) {
	info, err := Parse(ShareRoot("A3KF7Q"))
	require.NoError(t, err)
	assert.Equal(t, "A3KF7Q", info.ShareID)
	assert.Empty(t, info.Segments)
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"",
		"items/Alice",
		"shared-tables//items",
		"shared-tables/A3KF7Q/bad#key",
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.Error(t, err, "path %q should not parse", c)
	}
}

func TestIsValidKey(t *testing.T) {
	assert.True(t, IsValidKey("Alice Smith"))
	assert.True(t, IsValidKey("A3KF7Q"))
	assert.False(t, IsValidKey("a/b"))
	assert.False(t, IsValidKey("a.b"))
	assert.False(t, IsValidKey(""))
}

func TestParentOf(t *testing.T) {
	parent, key := ParentOf("shared-tables/A3KF7Q/items/Alice")
	assert.Equal(t, "shared-tables/A3KF7Q/items", parent)
	assert.Equal(t, "Alice", key)

	parent, key = ParentOf("shared-tables")
	assert.Equal(t, "", parent)
	assert.Equal(t, "shared-tables", key)
}

func TestIsAncestor(t *testing.T) {
	assert.True(t, IsAncestor("shared-tables/X", "shared-tables/X/items"))
	assert.True(t, IsAncestor("shared-tables/X", "shared-tables/X"))
	assert.False(t, IsAncestor("shared-tables/X", "shared-tables/XY"))
}
