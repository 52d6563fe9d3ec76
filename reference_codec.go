package dagrun

import (
	"fmt"

	"dagrun/codec"

	"github.com/google/uuid"
)

// outputReferenceClass is the serialization contract's distinguished
// class identifier for References.
const outputReferenceClass = "OutputReference"

func init() {
	codec.RegisterClass(outputReferenceClass,
		func(v any) (map[string]any, bool) {
			ref, ok := v.(Reference)
			if !ok {
				return nil, false
			}
			attrs := make([]any, len(ref.Path))
			for i, sel := range ref.Path {
				if sel.Kind == SelectorAttr {
					attrs[i] = map[string]any{"attr": sel.Attr}
				} else {
					attrs[i] = map[string]any{"item": sel.Item}
				}
			}
			return map[string]any{
				"uuid":       ref.UUID.String(),
				"index":      ref.Iteration,
				"attributes": attrs,
			}, true
		},
		func(fields map[string]any) (any, error) {
			idStr, _ := fields["uuid"].(string)
			id, err := uuid.Parse(idStr)
			if err != nil {
				return nil, fmt.Errorf("codec: OutputReference has invalid uuid: %w", err)
			}
			iteration, _ := toInt(fields["index"])
			var path []Selector
			if rawAttrs, ok := fields["attributes"].([]any); ok {
				for _, raw := range rawAttrs {
					m, ok := raw.(map[string]any)
					if !ok {
						continue
					}
					if name, ok := m["attr"].(string); ok {
						path = append(path, Selector{Kind: SelectorAttr, Attr: name})
					} else if item, ok := m["item"]; ok {
						path = append(path, Selector{Kind: SelectorItem, Item: item})
					}
				}
			}
			return Reference{UUID: id, Iteration: iteration, Path: path}, nil
		},
	)
}
