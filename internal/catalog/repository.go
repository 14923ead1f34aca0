package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Source is the read contract shared by the repository and its cache.
type Source interface {
	Lookup(ctx context.Context, ref Ref) (Product, error)
	Markup(ctx context.Context, category string, source SourceType) (decimal.Decimal, error)
}

// Repository reads products and supplier offers from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the catalog repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const internalLookupSQL = `SELECT p.name, p.category, p.on_hand, p.unit_cost,
	o.supplier_ref, COALESCE(s.verified, false), o.cost_min, o.cost_max, o.lead_time_days, o.moq
FROM products p
LEFT JOIN supplier_offers o ON o.catalog_ref = p.offer_ref
LEFT JOIN suppliers s ON s.ref = o.supplier_ref
WHERE p.sku = $1`

const externalLookupSQL = `SELECT o.name, o.category, o.supplier_ref, s.verified,
	o.cost_min, o.cost_max, o.lead_time_days, o.moq
FROM supplier_offers o
JOIN suppliers s ON s.ref = o.supplier_ref
WHERE o.catalog_ref = $1 AND ($2 = '' OR o.supplier_ref = $2)
ORDER BY s.verified DESC, o.cost_min ASC
LIMIT 1`

// Lookup resolves a reference.
func (r *Repository) Lookup(ctx context.Context, ref Ref) (Product, error) {
	if err := ref.Validate(); err != nil {
		return Product{}, err
	}
	switch ref.Kind {
	case RefInternal:
		return r.lookupInternal(ctx, ref)
	case RefExternal:
		return r.lookupExternal(ctx, ref)
	default:
		return Product{}, fmt.Errorf("catalog: unsupported reference kind %q", ref.Kind)
	}
}

func (r *Repository) lookupInternal(ctx context.Context, ref Ref) (Product, error) {
	var (
		p        = Product{Ref: ref}
		supplier *string
		verified bool
		costMin  decimal.NullDecimal
		costMax  decimal.NullDecimal
		lead     *int
		moq      *int
	)
	err := r.pool.QueryRow(ctx, internalLookupSQL, ref.SKU).Scan(
		&p.Name, &p.Category, &p.OnHand, &p.UnitCost,
		&supplier, &verified, &costMin, &costMax, &lead, &moq,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: sku %s", ErrProductNotFound, ref.SKU)
		}
		return Product{}, fmt.Errorf("catalog: lookup sku %s: %w", ref.SKU, err)
	}
	if supplier != nil {
		p.Supplier = &Supplier{
			Ref:          *supplier,
			Verified:     verified,
			CostMin:      costMin.Decimal,
			CostMax:      costMax.Decimal,
			LeadTimeDays: derefInt(lead),
			MOQ:          derefInt(moq),
		}
	}
	return p, nil
}

func (r *Repository) lookupExternal(ctx context.Context, ref Ref) (Product, error) {
	p := Product{Ref: ref, UnitCost: decimal.Zero}
	var s Supplier
	err := r.pool.QueryRow(ctx, externalLookupSQL, ref.CatalogRef, ref.ManufacturerRef).Scan(
		&p.Name, &p.Category, &s.Ref, &s.Verified, &s.CostMin, &s.CostMax, &s.LeadTimeDays, &s.MOQ,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: catalog ref %s", ErrProductNotFound, ref.CatalogRef)
		}
		return Product{}, fmt.Errorf("catalog: lookup %s: %w", ref.CatalogRef, err)
	}
	p.Supplier = &s
	return p, nil
}

// Markup returns the markup percentage for a category and source. Categories
// without a rule fall back to the '*' wildcard, then to zero.
func (r *Repository) Markup(ctx context.Context, category string, source SourceType) (decimal.Decimal, error) {
	const query = `SELECT percent FROM markup_rules
WHERE source_type = $2 AND category IN ($1, '*')
ORDER BY (category = '*') ASC
LIMIT 1`
	var pct decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, category, string(source)).Scan(&pct); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("catalog: markup %s/%s: %w", category, source, err)
	}
	return pct, nil
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
