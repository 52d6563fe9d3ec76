package dagrun

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferencePurity(t *testing.T) {
	id := uuid.New()
	r := NewReference(id, 1)

	attrRef := r.Attr("x")
	require.Equal(t, []Selector{{Kind: SelectorAttr, Attr: "x"}}, attrRef.Path)
	assert.Empty(t, r.Path, "appending a selector must not mutate the receiver")

	itemRef := attrRef.Item(0)
	require.Equal(t, []Selector{
		{Kind: SelectorAttr, Attr: "x"},
		{Kind: SelectorItem, Item: 0},
	}, itemRef.Path)
}

func TestReferenceEqual(t *testing.T) {
	id := uuid.New()
	a := NewReference(id, 1).Attr("x").Item(2)
	b := NewReference(id, 1).Attr("x").Item(2)
	c := NewReference(id, 1).Attr("x").Item(3)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestReferenceSetUUID(t *testing.T) {
	orig := NewReference(uuid.New(), 1).Attr("x")
	newID := uuid.New()
	renamed := orig.SetUUID(newID)

	assert.Equal(t, newID, renamed.UUID)
	assert.Equal(t, orig.Path, renamed.Path)
	assert.NotEqual(t, orig.UUID, renamed.UUID)
}

func TestApplySelectorAttrOnMap(t *testing.T) {
	v, err := applySelector(map[string]any{"x": 4}, Selector{Kind: SelectorAttr, Attr: "x"})
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestApplySelectorAttrMissing(t *testing.T) {
	_, err := applySelector(map[string]any{"x": 4}, Selector{Kind: SelectorAttr, Attr: "y"})
	assert.Error(t, err)
}

func TestApplySelectorItemNegativeIndex(t *testing.T) {
	v, err := applySelector([]any{1, 2, 3}, Selector{Kind: SelectorItem, Item: -1})
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestApplySelectorItemMapKey(t *testing.T) {
	v, err := applySelector(map[string]any{"k": "v"}, Selector{Kind: SelectorItem, Item: "k"})
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestCollectReferences(t *testing.T) {
	r1 := NewReference(uuid.New(), 1)
	r2 := NewReference(uuid.New(), 1)
	v := map[string]any{
		"a": r1,
		"b": []any{r2, "plain"},
	}
	var got []Reference
	collectReferences(v, &got)
	assert.ElementsMatch(t, []Reference{r1, r2}, got)
}
