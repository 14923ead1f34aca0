package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	products map[string]Product
	lookups  int
	markups  int
}

func (s *countingSource) Lookup(_ context.Context, ref Ref) (Product, error) {
	s.lookups++
	p, ok := s.products[ref.Key()]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (s *countingSource) Markup(_ context.Context, _ string, _ SourceType) (decimal.Decimal, error) {
	s.markups++
	return decimal.RequireFromString("35"), nil
}

func newCached(t *testing.T, inner Source) (*CachedSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedSource(inner, client, time.Minute, nil), mr
}

func TestCachedSourceServesRepeatLookupsFromRedis(t *testing.T) {
	ctx := context.Background()
	ref := Internal("RING-001")
	inner := &countingSource{products: map[string]Product{
		ref.Key(): {Ref: ref, Name: "Solitaire ring", Category: "rings", OnHand: 4, UnitCost: decimal.RequireFromString("120.50")},
	}}
	cached, _ := newCached(t, inner)

	first, err := cached.Lookup(ctx, ref)
	require.NoError(t, err)
	second, err := cached.Lookup(ctx, ref)
	require.NoError(t, err)

	require.Equal(t, 1, inner.lookups)
	require.Equal(t, first.Name, second.Name)
	require.Equal(t, 4, second.OnHand)
	require.True(t, first.UnitCost.Equal(second.UnitCost))
}

func TestCachedSourceExpiresEntries(t *testing.T) {
	ctx := context.Background()
	ref := Internal("RING-001")
	inner := &countingSource{products: map[string]Product{ref.Key(): {Ref: ref, OnHand: 1}}}
	cached, mr := newCached(t, inner)

	_, err := cached.Lookup(ctx, ref)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cached.Lookup(ctx, ref)
	require.NoError(t, err)

	require.Equal(t, 2, inner.lookups)
}

func TestCachedSourceDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingSource{products: map[string]Product{}}
	cached, _ := newCached(t, inner)

	_, err := cached.Lookup(ctx, External("EXT-9", "MFR-1"))
	require.ErrorIs(t, err, ErrProductNotFound)
	_, err = cached.Lookup(ctx, External("EXT-9", "MFR-1"))
	require.ErrorIs(t, err, ErrProductNotFound)
	require.Equal(t, 2, inner.lookups)
}

func TestCachedSourceInvalidate(t *testing.T) {
	ctx := context.Background()
	ref := Internal("PEND-7")
	inner := &countingSource{products: map[string]Product{ref.Key(): {Ref: ref}}}
	cached, _ := newCached(t, inner)

	_, err := cached.Lookup(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(ctx, ref))
	_, err = cached.Lookup(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, 2, inner.lookups)
}

func TestCachedSourceMarkup(t *testing.T) {
	ctx := context.Background()
	inner := &countingSource{}
	cached, _ := newCached(t, inner)

	for i := 0; i < 3; i++ {
		pct, err := cached.Markup(ctx, "rings", SourceExternal)
		require.NoError(t, err)
		require.Equal(t, "35", pct.String())
	}
	require.Equal(t, 1, inner.markups)
}

func TestRefValidate(t *testing.T) {
	require.NoError(t, Internal("SKU").Validate())
	require.NoError(t, External("CAT", "").Validate())
	require.Error(t, Ref{Kind: RefInternal}.Validate())
	require.Error(t, Ref{Kind: RefExternal, SKU: "x", CatalogRef: "y"}.Validate())
	require.Error(t, Ref{Kind: "other"}.Validate())
}
