package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/atelier-b2b/atelier/internal/platform/db"
)

type txRepo struct {
	tx pgx.Tx
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ============================================================================
// REQUEST
// ============================================================================

func (t *txRepo) LockRequest(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, t.tx, id, true)
}

func (t *txRepo) CreateRequest(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO requests (buyer_id, status, notes)
VALUES ($1, $2, $3) RETURNING id`, req.BuyerID, string(req.Status), req.Notes).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateRequest(ctx context.Context, req Request) error {
	tag, err := t.tx.Exec(ctx, `UPDATE requests SET status = $2, submitted_at = $3, validated_at = $4,
	validated_by = $5, assigned_sales_id = $6, assigned_at = $7, notes = $8,
	version = version + 1, updated_at = NOW()
WHERE id = $1`, req.ID, string(req.Status), req.SubmittedAt, req.ValidatedAt,
		req.ValidatedBy, req.AssignedSalesID, req.AssignedAt, req.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrRequestNotFound, req.ID)
	}
	return nil
}

func (t *txRepo) InsertRequestItem(ctx context.Context, item RequestItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO request_items (request_id, ref_kind, sku, catalog_ref, manufacturer_ref, quantity)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		item.RequestID, string(item.Product.Kind), nullable(item.Product.SKU),
		nullable(item.Product.CatalogRef), nullable(item.Product.ManufacturerRef), item.Quantity).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateRequestItem(ctx context.Context, item RequestItem) error {
	_, err := t.tx.Exec(ctx, `UPDATE request_items SET quantity = $2, inventory_status = $3, available_source = $4,
	validated_quantity = $5, shortfall = $6, validation_note = $7, validated_at = $8, validated_by = $9
WHERE id = $1`, item.ID, item.Quantity, nullable(string(item.InventoryStatus)), nullable(string(item.AvailableSource)),
		item.ValidatedQuantity, item.Shortfall, item.ValidationNote, item.ValidatedAt, item.ValidatedBy)
	return err
}

func (t *txRepo) DeleteRequestItem(ctx context.Context, requestID, itemID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM request_items WHERE id = $1 AND request_id = $2`, itemID, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestItemNotFound
	}
	return nil
}

// NextSequence reserves the next number of a document series.
func (t *txRepo) NextSequence(ctx context.Context, docType string, period int) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `INSERT INTO document_sequences (doc_type, period, seq) VALUES ($1, $2, 1)
ON CONFLICT (doc_type, period) DO UPDATE SET seq = document_sequences.seq + 1
RETURNING seq`, docType, period).Scan(&seq)
	return seq, err
}

// ClaimKey records an idempotency key in the transaction. It reports false
// when the key was already committed.
func (t *txRepo) ClaimKey(ctx context.Context, key, module string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO idempotency_keys (module, key) VALUES ($1, $2)
ON CONFLICT (module, key) DO NOTHING`, module, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ============================================================================
// QUOTATION
// ============================================================================

func (t *txRepo) LockQuotation(ctx context.Context, id int64) (Quotation, error) {
	return getQuotation(ctx, t.tx, id, true)
}

func (t *txRepo) ActiveQuotationFor(ctx context.Context, requestID int64) (Quotation, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM quotations
WHERE request_id = $1 AND status IN ('draft', 'sent') FOR UPDATE`, requestID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quotation{}, false, nil
	}
	if err != nil {
		return Quotation{}, false, err
	}
	q, err := getQuotation(ctx, t.tx, id, false)
	return q, err == nil, err
}

func (t *txRepo) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO quotations (request_id, created_by, quotation_number, status, quoted_total, terms)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		q.RequestID, q.CreatedBy, q.Number, string(q.Status), q.QuotedTotal, q.Terms).Scan(&id)
	if db.IsUniqueViolation(err, "quotations_one_active_per_request") {
		return 0, ErrActiveQuotationExists
	}
	return id, err
}

func (t *txRepo) UpdateQuotation(ctx context.Context, q Quotation) error {
	_, err := t.tx.Exec(ctx, `UPDATE quotations SET status = $2, quoted_total = $3, sent_at = $4, expires_at = $5,
	terms = $6, version = version + 1, updated_at = NOW()
WHERE id = $1`, q.ID, string(q.Status), q.QuotedTotal, q.SentAt, q.ExpiresAt, q.Terms)
	return err
}

func (t *txRepo) ReplaceQuotationLines(ctx context.Context, quotationID int64, lines []QuotationLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM quotation_lines WHERE quotation_id = $1`, quotationID); err != nil {
		return fmt.Errorf("delete quotation lines: %w", err)
	}
	for _, l := range lines {
		_, err := t.tx.Exec(ctx, `INSERT INTO quotation_lines (quotation_id, request_item_id, unit_price, quantity, line_total, line_order)
VALUES ($1, $2, $3, $4, $5, $6)`, quotationID, l.RequestItemID, l.UnitPrice, l.Quantity, l.LineTotal, l.LineOrder)
		if err != nil {
			return fmt.Errorf("insert quotation line: %w", err)
		}
	}
	return nil
}

func (t *txRepo) UpdateQuotationLinePrices(ctx context.Context, lines []QuotationLine) error {
	for _, l := range lines {
		if _, err := t.tx.Exec(ctx, `UPDATE quotation_lines SET unit_price = $2, line_total = $3 WHERE id = $1`,
			l.ID, l.UnitPrice, l.LineTotal); err != nil {
			return fmt.Errorf("update quotation line %d: %w", l.ID, err)
		}
	}
	return nil
}

// ============================================================================
// NEGOTIATION
// ============================================================================

func (t *txRepo) LockNegotiation(ctx context.Context, id int64) (Negotiation, error) {
	return getNegotiation(ctx, t.tx, "id", id, true)
}

func (t *txRepo) NegotiationForQuotation(ctx context.Context, quotationID int64) (Negotiation, bool, error) {
	n, err := getNegotiation(ctx, t.tx, "quotation_id", quotationID, true)
	if errors.Is(err, ErrNegotiationNotFound) {
		return Negotiation{}, false, nil
	}
	return n, err == nil, err
}

func (t *txRepo) CreateNegotiation(ctx context.Context, n Negotiation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO negotiations (quotation_id, opened_by, status)
VALUES ($1, $2, $3) RETURNING id`, n.QuotationID, n.OpenedBy, string(n.Status)).Scan(&id)
	if db.IsUniqueViolation(err, "negotiations_quotation_id_key") {
		return 0, ErrAlreadyOpen
	}
	return id, err
}

func (t *txRepo) UpdateNegotiation(ctx context.Context, n Negotiation) error {
	_, err := t.tx.Exec(ctx, `UPDATE negotiations SET status = $2, closed_reason = $3,
	version = version + 1, updated_at = NOW()
WHERE id = $1`, n.ID, string(n.Status), n.ClosedReason)
	return err
}

func (t *txRepo) InsertRound(ctx context.Context, round NegotiationRound) (int64, error) {
	lines, err := json.Marshal(round.Lines)
	if err != nil {
		return 0, fmt.Errorf("encode round lines: %w", err)
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO negotiation_rounds
	(negotiation_id, round_number, proposed_by, proposed_by_user, proposed_total, message, lines)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		round.NegotiationID, round.RoundNumber, string(round.ProposedBy), round.ProposedByUser,
		round.ProposedTotal, round.Message, lines).Scan(&id)
	if db.IsUniqueViolation(err, "negotiation_rounds_negotiation_id_round_number_key") {
		return 0, ErrWrongTurn
	}
	return id, err
}

// ============================================================================
// ORDER & PAYMENT
// ============================================================================

func (t *txRepo) LockOrder(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *txRepo) OrderExistsForRequest(ctx context.Context, requestID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE request_id = $1)`, requestID).Scan(&exists)
	return exists, err
}

func (t *txRepo) CreateOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO orders (quotation_id, request_id, buyer_id, sales_person_id, order_number,
	status, total_amount, paid_amount, ops_final_check_status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		o.QuotationID, o.RequestID, o.BuyerID, o.SalesPersonID, o.OrderNumber,
		string(o.Status), o.TotalAmount, o.PaidAmount, string(o.OpsFinalCheckStatus)).Scan(&id)
	if db.IsUniqueViolation(err, "orders_quotation_id_key") {
		return 0, ErrNotAcceptable
	}
	if err != nil {
		return 0, err
	}
	for _, l := range o.Lines {
		_, err := t.tx.Exec(ctx, `INSERT INTO order_lines (order_id, request_item_id, unit_price, quantity, delivered_quantity)
VALUES ($1, $2, $3, $4, $5)`, id, l.RequestItemID, l.UnitPrice, l.Quantity, l.DeliveredQuantity)
		if err != nil {
			return 0, fmt.Errorf("insert order line: %w", err)
		}
	}
	return id, nil
}

func (t *txRepo) UpdateOrder(ctx context.Context, o Order) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, paid_amount = $3, payment_link_sent_at = $4,
	payment_confirmed_at = $5, payment_confirmation_source = $6, ops_final_check_status = $7,
	ops_final_check_note = $8, forwarded_to_ops_at = $9, balance_requested_at = $10, balance_due_at = $11,
	cancel_reason = $12, version = version + 1, updated_at = NOW()
WHERE id = $1`, o.ID, string(o.Status), o.PaidAmount, o.PaymentLinkSentAt, o.PaymentConfirmedAt,
		o.PaymentConfirmationSource, string(o.OpsFinalCheckStatus), o.OpsFinalCheckNote, o.ForwardedToOpsAt,
		o.BalanceRequestedAt, o.BalanceDueAt, o.CancelReason)
	return err
}

func (t *txRepo) UpdateOrderLine(ctx context.Context, line OrderLine) error {
	_, err := t.tx.Exec(ctx, `UPDATE order_lines SET delivered_quantity = $2 WHERE id = $1`, line.ID, line.DeliveredQuantity)
	return err
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (order_id, kind, amount, method, status, expires_at, gateway_ref)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.OrderID, string(p.Kind), p.Amount, p.Method, string(p.Status), p.ExpiresAt, p.GatewayRef).Scan(&id)
	return id, err
}

func (t *txRepo) UpdatePayment(ctx context.Context, p Payment) error {
	_, err := t.tx.Exec(ctx, `UPDATE payments SET status = $2, expires_at = $3, paid_at = $4, gateway_ref = $5
WHERE id = $1`, p.ID, string(p.Status), p.ExpiresAt, p.PaidAt, p.GatewayRef)
	return err
}

// ============================================================================
// COMMISSION
// ============================================================================

func (t *txRepo) CommissionForOrder(ctx context.Context, orderID int64) (Commission, bool, error) {
	c, err := scanCommission(t.tx.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Commission{}, false, nil
	}
	return c, err == nil, err
}

// InsertCommission inserts c unless the order already has a commission, in
// which case the existing row is returned with inserted false.
func (t *txRepo) InsertCommission(ctx context.Context, c Commission) (Commission, bool, error) {
	created, err := scanCommission(t.tx.QueryRow(ctx, `INSERT INTO commissions
	(order_id, sales_person_id, commission_rate, delivered_value, commission_amount, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (order_id) DO NOTHING
RETURNING `+commissionColumns,
		c.OrderID, c.SalesPersonID, c.Rate, c.DeliveredValue, c.Amount, string(c.Status)))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Commission{}, false, err
	}
	existing, found, err := t.CommissionForOrder(ctx, c.OrderID)
	if err != nil {
		return Commission{}, false, err
	}
	if !found {
		return Commission{}, false, fmt.Errorf("commission for order %d vanished", c.OrderID)
	}
	return existing, false, nil
}

func (t *txRepo) LockCommission(ctx context.Context, id int64) (Commission, error) {
	c, err := scanCommission(t.tx.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Commission{}, fmt.Errorf("%w: id %d", ErrCommissionNotFound, id)
	}
	return c, err
}

func (t *txRepo) UpdateCommission(ctx context.Context, c Commission) error {
	_, err := t.tx.Exec(ctx, `UPDATE commissions SET status = $2, paid_at = $3 WHERE id = $1`, c.ID, string(c.Status), c.PaidAt)
	return err
}

func (t *txRepo) ActiveCommissionStructure(ctx context.Context) (*CommissionStructure, error) {
	var (
		cs  CommissionStructure
		raw []byte
	)
	err := t.tx.QueryRow(ctx, `SELECT id, name, active, tiers FROM commission_structures WHERE active LIMIT 1`).
		Scan(&cs.ID, &cs.Name, &cs.Active, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cs.Tiers, err = decodeTiers(raw); err != nil {
		return nil, err
	}
	return &cs, nil
}
