package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Route configures one field path within an output document to be
// spliced out into a named auxiliary store. Path uses gjson/sjson dot
// notation ("data", "nested.field").
type Route struct {
	Path  string
	Store string
}

// montyDictClass is the class identifier the auxiliary-store sentinel
// carries, matching the serialization contract's distinguished shape.
const montyDictClass = "MontyDict"

// split walks outputJSON for each configured route; when the matched
// subtree exists it is written whole to the named auxiliary store under
// a fresh blob uuid and replaced in place with a sentinel object.
func split(ctx context.Context, aux map[string]DocStore, outputJSON []byte, routes []Route) ([]byte, error) {
	if len(routes) == 0 {
		return outputJSON, nil
	}
	for _, route := range routes {
		result := gjson.GetBytes(outputJSON, route.Path)
		if !result.Exists() {
			continue
		}
		auxStore, ok := aux[route.Store]
		if !ok {
			return nil, fmt.Errorf("store: route %q references unknown auxiliary store %q", route.Path, route.Store)
		}
		blobUUID := uuid.New()
		if err := auxStore.Put(ctx, blobCollection, Document{
			UUID:   blobUUID,
			Index:  1,
			Output: []byte(result.Raw),
		}); err != nil {
			return nil, fmt.Errorf("store: writing blob for route %q: %w", route.Path, err)
		}
		sentinel := fmt.Sprintf(`{"@class":%q,"blob_uuid":%q,"store":%q}`, montyDictClass, blobUUID.String(), route.Store)
		updated, err := sjson.SetRawBytes(outputJSON, route.Path, []byte(sentinel))
		if err != nil {
			return nil, fmt.Errorf("store: splicing sentinel at %q: %w", route.Path, err)
		}
		outputJSON = updated
	}
	return outputJSON, nil
}

// hydrate inverts split: for each configured route whose matched value
// is a MontyDict sentinel, the original subtree is fetched from its
// auxiliary store and spliced back in. When load is false the
// sentinels are left untouched.
func hydrate(ctx context.Context, aux map[string]DocStore, outputJSON []byte, routes []Route, load bool) ([]byte, error) {
	if !load || len(routes) == 0 {
		return outputJSON, nil
	}
	for _, route := range routes {
		result := gjson.GetBytes(outputJSON, route.Path)
		if !result.Exists() || result.Get("@class").String() != montyDictClass {
			continue
		}
		storeName := result.Get("store").String()
		blobUUIDStr := result.Get("blob_uuid").String()
		blobUUID, err := uuid.Parse(blobUUIDStr)
		if err != nil {
			return nil, fmt.Errorf("store: sentinel at %q has invalid blob_uuid: %w", route.Path, err)
		}
		auxStore, ok := aux[storeName]
		if !ok {
			return nil, fmt.Errorf("store: sentinel at %q references unknown auxiliary store %q", route.Path, storeName)
		}
		blobUUIDCopy := blobUUID
		doc, err := auxStore.GetOne(ctx, blobCollection, Query{UUID: &blobUUIDCopy}, Sort{Field: "index", Desc: true})
		if err != nil {
			return nil, fmt.Errorf("store: loading blob for route %q: %w", route.Path, err)
		}
		updated, err := sjson.SetRawBytes(outputJSON, route.Path, doc.Output)
		if err != nil {
			return nil, fmt.Errorf("store: re-splicing route %q: %w", route.Path, err)
		}
		outputJSON = updated
	}
	return outputJSON, nil
}
