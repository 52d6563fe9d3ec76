package funcreg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	tok := Token{Package: "funcreg_test", Name: "echo"}
	Register(tok, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})

	fn, ok := Lookup(tok)
	require.True(t, ok)
	out, err := fn(context.Background(), []any{42}, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestLookupUnknownToken(t *testing.T) {
	_, ok := Lookup(Token{Package: "funcreg_test", Name: "never_registered"})
	assert.False(t, ok)
}

func TestMustLookupPanicsOnUnknownToken(t *testing.T) {
	assert.Panics(t, func() {
		MustLookup(Token{Package: "funcreg_test", Name: "still_never_registered"})
	})
}

func TestRegisterPanicsOnZeroToken(t *testing.T) {
	assert.Panics(t, func() {
		Register(Token{}, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return nil, nil
		})
	})
}

func TestRegisterPanicsOnDuplicateToken(t *testing.T) {
	tok := Token{Package: "funcreg_test", Name: "dup"}
	Register(tok, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return nil, nil
	})
	assert.Panics(t, func() {
		Register(tok, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return nil, nil
		})
	})
}

func TestTokenString(t *testing.T) {
	tok := Token{Package: "dagrun", Name: "add"}
	assert.Equal(t, "dagrun.add", tok.String())
}

func TestTokenIsZero(t *testing.T) {
	assert.True(t, Token{}.IsZero())
	assert.False(t, Token{Package: "dagrun"}.IsZero())
}
