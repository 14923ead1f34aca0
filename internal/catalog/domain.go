// Package catalog resolves product references into stock and sourcing facts.
package catalog

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RefKind discriminates the product reference variants.
type RefKind string

const (
	RefInternal RefKind = "internal"
	RefExternal RefKind = "external"
)

// SourceType selects the markup rule for a category.
type SourceType string

const (
	SourceInternal SourceType = "internal"
	SourceExternal SourceType = "external"
)

// ErrProductNotFound is returned when a reference resolves to nothing.
var ErrProductNotFound = errors.New("catalog: product not found")

// Ref is a product reference: either an internal SKU or an external
// catalog entry offered by a manufacturer.
type Ref struct {
	Kind            RefKind `json:"kind"`
	SKU             string  `json:"sku,omitempty"`
	CatalogRef      string  `json:"catalog_ref,omitempty"`
	ManufacturerRef string  `json:"manufacturer_ref,omitempty"`
}

// Internal builds a reference to warehouse stock.
func Internal(sku string) Ref { return Ref{Kind: RefInternal, SKU: sku} }

// External builds a reference to a manufacturer catalog entry.
func External(catalogRef, manufacturerRef string) Ref {
	return Ref{Kind: RefExternal, CatalogRef: catalogRef, ManufacturerRef: manufacturerRef}
}

// Validate checks that exactly the fields of the chosen variant are set.
func (r Ref) Validate() error {
	switch r.Kind {
	case RefInternal:
		if r.SKU == "" || r.CatalogRef != "" || r.ManufacturerRef != "" {
			return errors.New("internal reference requires only sku")
		}
	case RefExternal:
		if r.CatalogRef == "" || r.SKU != "" {
			return errors.New("external reference requires catalog_ref and no sku")
		}
	default:
		return fmt.Errorf("unknown reference kind %q", r.Kind)
	}
	return nil
}

// Key is a stable identifier used for caching.
func (r Ref) Key() string {
	if r.Kind == RefInternal {
		return "internal:" + r.SKU
	}
	return "external:" + r.CatalogRef + ":" + r.ManufacturerRef
}

// Supplier describes an external source able to manufacture the product.
type Supplier struct {
	Ref          string          `json:"ref"`
	Verified     bool            `json:"verified"`
	CostMin      decimal.Decimal `json:"cost_min"`
	CostMax      decimal.Decimal `json:"cost_max"`
	LeadTimeDays int             `json:"lead_time_days"`
	MOQ          int             `json:"moq"`
}

// Product is what a reference resolves to.
type Product struct {
	Ref      Ref             `json:"ref"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	OnHand   int             `json:"on_hand"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Supplier *Supplier       `json:"supplier,omitempty"`
}

// HasVerifiedSupplier reports whether an external source can build the product.
func (p Product) HasVerifiedSupplier() bool {
	return p.Supplier != nil && p.Supplier.Verified
}
