package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/sales/pricing"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// ItemOutcome is the classification of one request item.
type ItemOutcome struct {
	ItemID       int64           `json:"item_id"`
	Product      catalog.Ref     `json:"product"`
	Name         string          `json:"name,omitempty"`
	Requested    int             `json:"requested"`
	Available    int             `json:"available"`
	Shortfall    int             `json:"shortfall"`
	Status       InventoryStatus `json:"inventory_status"`
	Source       AvailableSource `json:"available_source"`
	Note         string          `json:"note,omitempty"`
	LeadTimeDays int             `json:"lead_time_days,omitempty"`

	internalCost decimal.Decimal
	externalMin  decimal.Decimal
	externalMax  decimal.Decimal
}

// ValidationSummary aggregates the outcomes of a validation run.
type ValidationSummary struct {
	RequestedQuantity     int             `json:"requested_quantity"`
	AvailableQuantity     int             `json:"available_quantity"`
	ShortfallQuantity     int             `json:"shortfall_quantity"`
	EstimatedInternalCost decimal.Decimal `json:"estimated_internal_cost"`
	ExternalCostMin       decimal.Decimal `json:"external_cost_min"`
	ExternalCostMax       decimal.Decimal `json:"external_cost_max"`
	LongestLeadTimeDays   int             `json:"longest_lead_time_days"`
}

// ValidationReport is the operations-facing result of ValidateRequest.
type ValidationReport struct {
	RequestID                int64             `json:"request_id"`
	Status                   RequestStatus     `json:"status"`
	FullyAvailable           []ItemOutcome     `json:"fully_available"`
	PartiallyAvailable       []ItemOutcome     `json:"partially_available"`
	NeedsExternalManufacture []ItemOutcome     `json:"needs_external_manufacture"`
	Unavailable              []ItemOutcome     `json:"unavailable"`
	Summary                  ValidationSummary `json:"summary"`
}

func newReport(requestID int64) ValidationReport {
	return ValidationReport{
		RequestID:                requestID,
		FullyAvailable:           []ItemOutcome{},
		PartiallyAvailable:       []ItemOutcome{},
		NeedsExternalManufacture: []ItemOutcome{},
		Unavailable:              []ItemOutcome{},
	}
}

func (r *ValidationReport) add(o ItemOutcome) {
	switch o.Status {
	case InventoryInStock:
		r.FullyAvailable = append(r.FullyAvailable, o)
	case InventoryLowStock:
		r.PartiallyAvailable = append(r.PartiallyAvailable, o)
	case InventoryMadeToOrder:
		r.NeedsExternalManufacture = append(r.NeedsExternalManufacture, o)
	default:
		r.Unavailable = append(r.Unavailable, o)
	}
	sum := &r.Summary
	sum.RequestedQuantity += o.Requested
	sum.AvailableQuantity += o.Available
	sum.ShortfallQuantity += o.Shortfall
	sum.EstimatedInternalCost = sum.EstimatedInternalCost.Add(o.internalCost)
	sum.ExternalCostMin = sum.ExternalCostMin.Add(o.externalMin)
	sum.ExternalCostMax = sum.ExternalCostMax.Add(o.externalMax)
	if o.LeadTimeDays > sum.LongestLeadTimeDays {
		sum.LongestLeadTimeDays = o.LeadTimeDays
	}
}

// classify maps an item and its catalog facts to exactly one inventory
// status. lookupErr marks an item the catalog could not resolve.
func classify(item RequestItem, product catalog.Product, lookupErr error) ItemOutcome {
	out := ItemOutcome{
		ItemID:    item.ID,
		Product:   item.Product,
		Name:      product.Name,
		Requested: item.Quantity,
	}
	if lookupErr != nil {
		out.Status = InventoryUnavailable
		out.Source = SourceNone
		out.Shortfall = item.Quantity
		out.Note = fmt.Sprintf("catalog lookup failed: %v", lookupErr)
		return out
	}

	supplier := product.Supplier
	verified := product.HasVerifiedSupplier()

	switch item.Product.Kind {
	case catalog.RefInternal:
		onHand := product.OnHand
		if onHand < 0 {
			onHand = 0
		}
		switch {
		case onHand >= item.Quantity:
			out.Status = InventoryInStock
			out.Source = SourceInternal
			out.Available = item.Quantity
		case onHand > 0:
			out.Status = InventoryLowStock
			out.Source = SourceInternal
			out.Available = onHand
			if verified {
				out.externalFor(supplier, item.Quantity-onHand)
				out.Note = fmt.Sprintf("%d units can be sourced from supplier %s", item.Quantity-onHand, supplier.Ref)
			}
		case verified:
			out.Status = InventoryMadeToOrder
			out.Source = SourceExternal
			out.Available = item.Quantity
			out.externalFor(supplier, item.Quantity)
		default:
			out.Status = InventoryOutOfStock
			out.Source = SourceNone
			out.Note = "no stock and no verified supplier"
		}
		out.internalCost = pricing.LineTotal(product.UnitCost, min(onHand, item.Quantity))
	case catalog.RefExternal:
		if verified {
			out.Status = InventoryMadeToOrder
			out.Source = SourceExternal
			out.Available = item.Quantity
			out.externalFor(supplier, item.Quantity)
		} else {
			out.Status = InventoryUnavailable
			out.Source = SourceNone
			out.Note = "manufacturer is not a verified supplier"
		}
	default:
		out.Status = InventoryUnavailable
		out.Source = SourceNone
		out.Note = fmt.Sprintf("unknown reference kind %q", item.Product.Kind)
	}
	out.Shortfall = max(0, item.Quantity-out.Available)
	return out
}

// externalFor records supplier cost range and lead time for qty units.
func (o *ItemOutcome) externalFor(s *catalog.Supplier, qty int) {
	o.externalMin = pricing.LineTotal(s.CostMin, qty)
	o.externalMax = pricing.LineTotal(s.CostMax, qty)
	o.LeadTimeDays = s.LeadTimeDays
	if s.MOQ > 0 && qty < s.MOQ {
		moq := fmt.Sprintf("below supplier minimum order of %d", s.MOQ)
		if o.Note == "" {
			o.Note = moq
		} else {
			o.Note += "; " + moq
		}
	}
}

// ValidateRequest classifies every item of a submitted request and moves
// it to under_review. Per-item catalog failures become unavailable
// outcomes and never abort the run.
func (s *Service) ValidateRequest(ctx context.Context, actor shared.Actor, requestID int64) (*ValidationReport, error) {
	if err := requireOperations(actor); err != nil {
		return nil, err
	}
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if req.Status != RequestStatusSubmitted && req.Status != RequestStatusUnderReview {
		return nil, ErrNotSubmitted
	}

	outcomes := s.lookupItems(ctx, req.Items)

	var report ValidationReport
	fx := &effects{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		*fx = effects{}
		report = newReport(requestID)
		locked, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if locked.Status != RequestStatusSubmitted && locked.Status != RequestStatusUnderReview {
			return ErrNotSubmitted
		}
		now := s.now()
		for _, item := range locked.Items {
			out, ok := outcomes[item.ID]
			if !ok {
				out = classify(item, catalog.Product{}, fmt.Errorf("item %d added during validation", item.ID))
			}
			validated, shortfall, by := out.Available, out.Shortfall, actor.ID
			item.InventoryStatus = out.Status
			item.AvailableSource = out.Source
			item.ValidatedQuantity = &validated
			item.Shortfall = &shortfall
			item.ValidationNote = out.Note
			item.ValidatedAt = &now
			item.ValidatedBy = &by
			if err := tx.UpdateRequestItem(ctx, item); err != nil {
				return err
			}
			report.add(out)
		}
		from := locked.Status
		locked.Status = RequestStatusUnderReview
		locked.ValidatedAt = &now
		locked.ValidatedBy = &actor.ID
		report.Status = locked.Status
		if from != locked.Status {
			fx.transition(actor, "request", locked.ID, "validate", string(from), string(locked.Status))
		}
		return tx.UpdateRequest(ctx, locked)
	})
	if err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}
	s.flush(ctx, fx)
	s.logger.Info("request validated",
		slog.Int64("request_id", requestID),
		slog.Int("requested", report.Summary.RequestedQuantity),
		slog.Int("shortfall", report.Summary.ShortfallQuantity))
	return &report, nil
}

// lookupItems resolves items through the catalog concurrently.
func (s *Service) lookupItems(ctx context.Context, items []RequestItem) map[int64]ItemOutcome {
	results := make([]ItemOutcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.CatalogConcurrency)
	for i, item := range items {
		g.Go(func() error {
			if s.catalog == nil {
				results[i] = classify(item, catalog.Product{}, errors.New("catalog unavailable"))
				return nil
			}
			product, err := s.catalog.Lookup(gctx, item.Product)
			results[i] = classify(item, product, err)
			return nil
		})
	}
	_ = g.Wait()
	out := make(map[int64]ItemOutcome, len(results))
	for _, o := range results {
		out[o.ItemID] = o
	}
	return out
}
