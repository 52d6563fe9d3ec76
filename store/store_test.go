package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDocStoreConformance exercises the DocStore contract itself, run
// against every backend from its own _test.go file so a fix to the
// contract's meaning only needs writing once.
func testDocStoreConformance(t *testing.T, ds DocStore) {
	ctx := context.Background()
	require.NoError(t, ds.Connect(ctx))
	defer ds.Close(ctx)

	id := uuid.New()
	require.NoError(t, ds.Put(ctx, "outputs", Document{UUID: id, Index: 1, Output: []byte(`1`)}))
	require.NoError(t, ds.Put(ctx, "outputs", Document{UUID: id, Index: 2, Output: []byte(`2`)}))

	other := uuid.New()
	require.NoError(t, ds.Put(ctx, "outputs", Document{UUID: other, Index: 1, Output: []byte(`99`)}))

	latest, err := ds.GetOne(ctx, "outputs", Query{UUID: &id}, Sort{Field: "index", Desc: true})
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Index)
	assert.JSONEq(t, `2`, string(latest.Output))

	all, err := ds.Query(ctx, "outputs", Query{UUID: &id}, Sort{Field: "index"}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].Index)
	assert.Equal(t, 2, all[1].Index)

	specific, err := ds.GetOne(ctx, "outputs", Query{UUID: &id, Index: intPtr(1)}, Sort{})
	require.NoError(t, err)
	assert.Equal(t, 1, specific.Index)

	_, err = ds.GetOne(ctx, "outputs", Query{UUID: &uuid.UUID{}}, Sort{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, ds.EnsureIndex(ctx, "outputs", "uuid"))
}

func intPtr(n int) *int { return &n }

func TestQueryMatches(t *testing.T) {
	id := uuid.New()
	doc := Document{UUID: id, Index: 3}

	assert.True(t, Query{}.Matches(doc))
	assert.True(t, Query{UUID: &id}.Matches(doc))
	assert.True(t, Query{Index: intPtr(3)}.Matches(doc))
	assert.False(t, Query{Index: intPtr(4)}.Matches(doc))

	other := uuid.New()
	assert.False(t, Query{UUID: &other}.Matches(doc))
}
