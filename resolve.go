package dagrun

import (
	"context"
	"errors"

	"dagrun/store"

	"github.com/google/uuid"
)

// Resolve looks up the latest output document for r's uuid, applies
// every selector in r's path in order, and returns the resulting value.
// Lookup failure is governed by onMissing. If the resolved value itself
// embeds further References (outputs referencing other outputs, as
// aggregation jobs do) they are resolved too.
func (r Reference) Resolve(ctx context.Context, st *store.JobStore, onMissing OnMissing, cache *store.Cache) (any, error) {
	return ResolveValue(ctx, st, r, onMissing, cache, nil)
}

// ResolveValue recursively substitutes every Reference reachable inside
// v (maps, slices, or v itself) with its resolved value. redirect, which
// may be nil, maps a job uuid to the uuid that should actually be
// consulted in its place. The Manager passes nil: it implements
// replace/detour by writing alias documents under the original uuid.
func ResolveValue(ctx context.Context, st *store.JobStore, v any, onMissing OnMissing, cache *store.Cache, redirect map[uuid.UUID]uuid.UUID) (any, error) {
	resolveOne := func(ref Reference) (any, error) {
		target := chaseRedirect(redirect, ref.UUID)
		if target != ref.UUID {
			ref = Reference{UUID: target, Iteration: ref.Iteration, Path: ref.Path}
		}
		rec, err := st.GetOutput(ctx, ref.UUID, 0, cache, true)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				switch onMissing {
				case OnMissingPassThrough:
					return ref, nil
				case OnMissingNone:
					return nil, nil
				default:
					return nil, &ReferenceResolutionFailure{UUID: ref.UUID, Err: err}
				}
			}
			return nil, &StoreBackendFailure{Err: err}
		}
		val := any(rec.Output)
		for _, sel := range ref.Path {
			val, err = applySelector(val, sel)
			if err != nil {
				return nil, &ReferenceResolutionFailure{UUID: ref.UUID, Err: err}
			}
		}
		return ResolveValue(ctx, st, val, onMissing, cache, redirect)
	}
	return walkReferences(resolveOne, v)
}

// chaseRedirect follows a chain of redirect entries to its final target,
// stopping early if it detects a cycle.
func chaseRedirect(redirect map[uuid.UUID]uuid.UUID, id uuid.UUID) uuid.UUID {
	seen := map[uuid.UUID]bool{}
	for {
		next, ok := redirect[id]
		if !ok || seen[next] {
			return id
		}
		seen[id] = true
		id = next
	}
}
