package dagrun

import (
	"context"
	"fmt"
	"testing"

	"dagrun/funcreg"
)

// Shared function tokens registered once for the whole package's test
// binary. Job functions here are deliberately simple arithmetic/struct
// helpers exercising two-step chaining, output selectors, replace,
// detour, stop_children, addition, failure propagation, and linear
// ordering end to end.

var (
	tokAdd      = funcreg.Token{Package: "dagrun_test", Name: "add"}
	tokMakeDict = funcreg.Token{Package: "dagrun_test", Name: "make_dict"}
	tokSquare   = funcreg.Token{Package: "dagrun_test", Name: "square"}
	tokMakeList = funcreg.Token{Package: "dagrun_test", Name: "make_list"}
	tokExpand   = funcreg.Token{Package: "dagrun_test", Name: "expand"}
	tokInspect  = funcreg.Token{Package: "dagrun_test", Name: "inspect_detour"}
	tokBoom     = funcreg.Token{Package: "dagrun_test", Name: "boom"}
	tokBigBlob  = funcreg.Token{Package: "dagrun_test", Name: "big_blob"}
)

func init() {
	funcreg.Register(tokAdd, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		a, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		b, err := argInt(args, 1)
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})

	funcreg.Register(tokMakeDict, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return map[string]any{"x": 4, "y": 5}, nil
	})

	funcreg.Register(tokSquare, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		n, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		return n * n, nil
	})

	funcreg.Register(tokMakeList, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		n, err := argInt(args, 0)
		if err != nil {
			return nil, err
		}
		out := make([]any, 3)
		for i := range out {
			out[i] = n
		}
		return out, nil
	})

	funcreg.Register(tokExpand, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		replacement, _ := kwargs["__replacement__"].(Node)
		if replacement == nil {
			return nil, fmt.Errorf("expand: no replacement configured")
		}
		return ReplaceWith(replacement), nil
	})

	funcreg.Register(tokInspect, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		detour, _ := kwargs["__detour__"].(Node)
		if detour == nil {
			return nil, fmt.Errorf("inspect_detour: no detour configured")
		}
		return DetourTo(detour), nil
	})

	funcreg.Register(tokBoom, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, fmt.Errorf("boom: deliberate failure")
	})

	funcreg.Register(tokBigBlob, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		payload := make([]any, 200)
		for i := range payload {
			payload[i] = fmt.Sprintf("payload-%d", i)
		}
		return map[string]any{"small": 1, "data": payload}, nil
	})
}

// funcregTokenFor mints a token scoped to t's name, so a test that needs
// a one-off registered function does not collide with another test's
// token across the package's single test binary.
func funcregTokenFor(t *testing.T) funcreg.Token {
	return funcreg.Token{Package: "dagrun_test", Name: t.Name()}
}

// registerCurrentJobProbe registers a function under tok that reports
// its own uuid via CurrentJob, used to test context-scoped job identity
// access.
func registerCurrentJobProbe(tok funcreg.Token) {
	funcreg.Register(tok, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		jc, ok := CurrentJob(ctx)
		if !ok {
			return nil, fmt.Errorf("no current job in context")
		}
		if jc.Store == nil {
			return nil, fmt.Errorf("no store in current job context")
		}
		return jc.UUID.String(), nil
	})
}

// tokStopChildren registers and returns a fresh token whose function
// returns a StopChildren directive.
func tokStopChildren(t *testing.T) funcreg.Token {
	tok := funcregTokenFor(t)
	funcreg.Register(tok, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return StopChildren(), nil
	})
	return tok
}

// tokAddition registers and returns a fresh token whose function
// appends extra as an Addition directive.
func tokAddition(t *testing.T, extra Node) funcreg.Token {
	tok := funcregTokenFor(t)
	funcreg.Register(tok, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return AdditionOf(extra), nil
	})
	return tok
}

// registerOrderRecorder registers a function under tok that appends
// label to *order when invoked, used to observe OrderLinear scheduling.
func registerOrderRecorder(tok funcreg.Token, order *[]string, label string) {
	funcreg.Register(tok, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		*order = append(*order, label)
		return nil, nil
	})
}

func argInt(args []any, idx int) (int, error) {
	if idx >= len(args) {
		return 0, fmt.Errorf("argument %d missing", idx)
	}
	switch n := args[idx].(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %d is not a number: %T", idx, args[idx])
	}
}
