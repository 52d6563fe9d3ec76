package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAndHydrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryStore()
	require.NoError(t, blobs.Connect(ctx))

	outputJSON := []byte(`{"small":1,"data":[1,2,3,4,5]}`)
	routes := []Route{{Path: "data", Store: "blobs"}}

	spliced, err := split(ctx, map[string]DocStore{"blobs": blobs}, outputJSON, routes)
	require.NoError(t, err)
	assert.NotContains(t, string(spliced), `"data":[1,2,3,4,5]`)
	assert.Contains(t, string(spliced), montyDictClass)

	hydrated, err := hydrate(ctx, map[string]DocStore{"blobs": blobs}, spliced, routes, true)
	require.NoError(t, err)
	assert.JSONEq(t, string(outputJSON), string(hydrated))
}

func TestHydrateSkipsWhenLoadFalse(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryStore()
	require.NoError(t, blobs.Connect(ctx))

	outputJSON := []byte(`{"small":1,"data":[1,2,3]}`)
	routes := []Route{{Path: "data", Store: "blobs"}}

	spliced, err := split(ctx, map[string]DocStore{"blobs": blobs}, outputJSON, routes)
	require.NoError(t, err)

	unhydrated, err := hydrate(ctx, map[string]DocStore{"blobs": blobs}, spliced, routes, false)
	require.NoError(t, err)
	assert.Equal(t, spliced, unhydrated)
}

func TestSplitNoopWhenFieldAbsent(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryStore()
	require.NoError(t, blobs.Connect(ctx))

	outputJSON := []byte(`{"small":1}`)
	routes := []Route{{Path: "data", Store: "blobs"}}

	spliced, err := split(ctx, map[string]DocStore{"blobs": blobs}, outputJSON, routes)
	require.NoError(t, err)
	assert.JSONEq(t, string(outputJSON), string(spliced))
}

func TestSplitErrorsOnUnknownStore(t *testing.T) {
	ctx := context.Background()
	outputJSON := []byte(`{"data":[1,2,3]}`)
	routes := []Route{{Path: "data", Store: "missing"}}

	_, err := split(ctx, map[string]DocStore{}, outputJSON, routes)
	assert.Error(t, err)
}
