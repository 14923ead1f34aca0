package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/platform/db"
)

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for the workflow.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in a serializable transaction, retried on
// serialization failures.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

// ============================================================================
// REQUEST
// ============================================================================

const requestColumns = `id, buyer_id, status, submitted_at, validated_at, validated_by,
	assigned_sales_id, assigned_at, notes, version, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var status string
	err := row.Scan(&req.ID, &req.BuyerID, &status, &req.SubmittedAt, &req.ValidatedAt, &req.ValidatedBy,
		&req.AssignedSalesID, &req.AssignedAt, &req.Notes, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	req.Status = RequestStatus(status)
	return req, err
}

func getRequest(ctx context.Context, q dbtx, id int64, lock bool) (Request, error) {
	req, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
		}
		return Request{}, err
	}
	req.Items, err = listRequestItems(ctx, q, id)
	return req, err
}

func listRequestItems(ctx context.Context, q dbtx, requestID int64) ([]RequestItem, error) {
	rows, err := q.Query(ctx, `SELECT id, request_id, ref_kind, COALESCE(sku, ''), COALESCE(catalog_ref, ''),
	COALESCE(manufacturer_ref, ''), quantity, COALESCE(inventory_status, ''), COALESCE(available_source, ''),
	validated_quantity, shortfall, validation_note, validated_at, validated_by
FROM request_items WHERE request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []RequestItem{}
	for rows.Next() {
		var (
			it              RequestItem
			kind            string
			inventoryStatus string
			source          string
		)
		if err := rows.Scan(&it.ID, &it.RequestID, &kind, &it.Product.SKU, &it.Product.CatalogRef,
			&it.Product.ManufacturerRef, &it.Quantity, &inventoryStatus, &source,
			&it.ValidatedQuantity, &it.Shortfall, &it.ValidationNote, &it.ValidatedAt, &it.ValidatedBy); err != nil {
			return nil, err
		}
		it.Product.Kind = catalog.RefKind(kind)
		it.InventoryStatus = InventoryStatus(inventoryStatus)
		it.AvailableSource = AvailableSource(source)
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetRequest returns a request with its items.
func (r *Repository) GetRequest(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, r.pool, id, false)
}

// ListRequests returns one page of requests without items.
func (r *Repository) ListRequests(ctx context.Context, filter RequestFilter) ([]Request, int, error) {
	offset := (filter.Page - 1) * filter.PerPage
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+`, COUNT(*) OVER()
FROM requests
WHERE ($1 = 0 OR buyer_id = $1)
  AND ($2 = 0 OR assigned_sales_id = $2)
  AND ($3 = '' OR status = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, filter.BuyerID, filter.AssignedSalesID, string(filter.Status), filter.PerPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Request{}
	total := 0
	for rows.Next() {
		var (
			req    Request
			status string
		)
		if err := rows.Scan(&req.ID, &req.BuyerID, &status, &req.SubmittedAt, &req.ValidatedAt, &req.ValidatedBy,
			&req.AssignedSalesID, &req.AssignedAt, &req.Notes, &req.Version, &req.CreatedAt, &req.UpdatedAt, &total); err != nil {
			return nil, 0, err
		}
		req.Status = RequestStatus(status)
		out = append(out, req)
	}
	return out, total, rows.Err()
}

// ============================================================================
// QUOTATION
// ============================================================================

const quotationColumns = `id, request_id, created_by, quotation_number, status, quoted_total,
	sent_at, expires_at, terms, version, created_at, updated_at`

func scanQuotation(row pgx.Row) (Quotation, error) {
	var q Quotation
	var status string
	err := row.Scan(&q.ID, &q.RequestID, &q.CreatedBy, &q.Number, &status, &q.QuotedTotal,
		&q.SentAt, &q.ExpiresAt, &q.Terms, &q.Version, &q.CreatedAt, &q.UpdatedAt)
	q.Status = QuotationStatus(status)
	return q, err
}

func getQuotation(ctx context.Context, q dbtx, id int64, lock bool) (Quotation, error) {
	quote, err := scanQuotation(q.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quotation{}, fmt.Errorf("%w: id %d", ErrQuotationNotFound, id)
		}
		return Quotation{}, err
	}
	quote.Lines, err = listQuotationLines(ctx, q, id)
	return quote, err
}

func listQuotationLines(ctx context.Context, q dbtx, quotationID int64) ([]QuotationLine, error) {
	rows, err := q.Query(ctx, `SELECT id, quotation_id, request_item_id, unit_price, quantity, line_total, line_order
FROM quotation_lines WHERE quotation_id = $1 ORDER BY line_order, id`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []QuotationLine{}
	for rows.Next() {
		var l QuotationLine
		if err := rows.Scan(&l.ID, &l.QuotationID, &l.RequestItemID, &l.UnitPrice, &l.Quantity, &l.LineTotal, &l.LineOrder); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetQuotation returns a quotation with its lines.
func (r *Repository) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	return getQuotation(ctx, r.pool, id, false)
}

// ListQuotations returns every quotation of a request, newest first.
func (r *Repository) ListQuotations(ctx context.Context, requestID int64) ([]Quotation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+quotationColumns+` FROM quotations
WHERE request_id = $1 ORDER BY created_at DESC, id DESC`, requestID)
	if err != nil {
		return nil, err
	}
	out, err := collectQuotations(rows)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = listQuotationLines(ctx, r.pool, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func collectQuotations(rows pgx.Rows) ([]Quotation, error) {
	defer rows.Close()
	out := []Quotation{}
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ListOverdueQuotations returns sent quotations whose window has passed.
func (r *Repository) ListOverdueQuotations(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM quotations
WHERE status = 'sent' AND expires_at < $1
ORDER BY expires_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListExpiringQuotations returns sent quotations expiring in (from, to].
func (r *Repository) ListExpiringQuotations(ctx context.Context, from, to time.Time, limit int) ([]Quotation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+quotationColumns+` FROM quotations
WHERE status = 'sent' AND expires_at > $1 AND expires_at <= $2
ORDER BY expires_at LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	return collectQuotations(rows)
}

// ============================================================================
// NEGOTIATION
// ============================================================================

const negotiationColumns = `id, quotation_id, opened_by, status, closed_reason, version, created_at, updated_at`

func getNegotiation(ctx context.Context, q dbtx, where string, arg int64, lock bool) (Negotiation, error) {
	var (
		n      Negotiation
		status string
	)
	err := q.QueryRow(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE `+where+` = $1`+forUpdate(lock), arg).
		Scan(&n.ID, &n.QuotationID, &n.OpenedBy, &status, &n.ClosedReason, &n.Version, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Negotiation{}, fmt.Errorf("%w: %s %d", ErrNegotiationNotFound, where, arg)
		}
		return Negotiation{}, err
	}
	n.Status = NegotiationStatus(status)
	n.NextMover = NextMover(n.Status)
	n.Rounds, err = listRounds(ctx, q, n.ID)
	return n, err
}

func listRounds(ctx context.Context, q dbtx, negotiationID int64) ([]NegotiationRound, error) {
	rows, err := q.Query(ctx, `SELECT id, negotiation_id, round_number, proposed_by, proposed_by_user,
	proposed_total, message, lines, created_at
FROM negotiation_rounds WHERE negotiation_id = $1 ORDER BY round_number`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rounds := []NegotiationRound{}
	for rows.Next() {
		var (
			rd    NegotiationRound
			by    string
			lines []byte
		)
		if err := rows.Scan(&rd.ID, &rd.NegotiationID, &rd.RoundNumber, &by, &rd.ProposedByUser,
			&rd.ProposedTotal, &rd.Message, &lines, &rd.CreatedAt); err != nil {
			return nil, err
		}
		rd.ProposedBy = Party(by)
		if err := json.Unmarshal(lines, &rd.Lines); err != nil {
			return nil, fmt.Errorf("decode round %d lines: %w", rd.RoundNumber, err)
		}
		rounds = append(rounds, rd)
	}
	return rounds, rows.Err()
}

// GetNegotiation returns a negotiation with its rounds.
func (r *Repository) GetNegotiation(ctx context.Context, id int64) (Negotiation, error) {
	return getNegotiation(ctx, r.pool, "id", id, false)
}

// GetNegotiationByQuotation returns the negotiation of a quotation.
func (r *Repository) GetNegotiationByQuotation(ctx context.Context, quotationID int64) (Negotiation, error) {
	return getNegotiation(ctx, r.pool, "quotation_id", quotationID, false)
}

// ============================================================================
// ORDER & PAYMENT
// ============================================================================

const orderColumns = `id, quotation_id, request_id, buyer_id, sales_person_id, order_number, status,
	total_amount, paid_amount, payment_link_sent_at, payment_confirmed_at, payment_confirmation_source,
	ops_final_check_status, ops_final_check_note, forwarded_to_ops_at, balance_requested_at,
	balance_due_at, cancel_reason, version, created_at, updated_at`

func orderDest(o *Order, status, opsStatus *string) []any {
	return []any{&o.ID, &o.QuotationID, &o.RequestID, &o.BuyerID, &o.SalesPersonID, &o.OrderNumber, status,
		&o.TotalAmount, &o.PaidAmount, &o.PaymentLinkSentAt, &o.PaymentConfirmedAt, &o.PaymentConfirmationSource,
		opsStatus, &o.OpsFinalCheckNote, &o.ForwardedToOpsAt, &o.BalanceRequestedAt,
		&o.BalanceDueAt, &o.CancelReason, &o.Version, &o.CreatedAt, &o.UpdatedAt}
}

func getOrder(ctx context.Context, q dbtx, id int64, lock bool) (Order, error) {
	var (
		o         Order
		status    string
		opsStatus string
	)
	err := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`+forUpdate(lock), id).
		Scan(orderDest(&o, &status, &opsStatus)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
		}
		return Order{}, err
	}
	o.Status = OrderStatus(status)
	o.OpsFinalCheckStatus = OpsCheckStatus(opsStatus)
	if o.Lines, err = listOrderLines(ctx, q, id); err != nil {
		return Order{}, err
	}
	o.Payments, err = listPayments(ctx, q, id)
	return o, err
}

func listOrderLines(ctx context.Context, q dbtx, orderID int64) ([]OrderLine, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, request_item_id, unit_price, quantity, delivered_quantity
FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := []OrderLine{}
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.RequestItemID, &l.UnitPrice, &l.Quantity, &l.DeliveredQuantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func listPayments(ctx context.Context, q dbtx, orderID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, kind, amount, method, status, expires_at, paid_at, gateway_ref, created_at
FROM payments WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []Payment{}
	for rows.Next() {
		var (
			p      Payment
			kind   string
			status string
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &kind, &p.Amount, &p.Method, &status, &p.ExpiresAt, &p.PaidAt, &p.GatewayRef, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Kind = PaymentKind(kind)
		p.Status = PaymentStatus(status)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// GetOrder returns an order with lines and payments.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, r.pool, id, false)
}

// ListOrders returns one page of order headers.
func (r *Repository) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int, error) {
	offset := (filter.Page - 1) * filter.PerPage
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+`, COUNT(*) OVER()
FROM orders
WHERE ($1 = 0 OR buyer_id = $1)
  AND ($2 = 0 OR sales_person_id = $2)
  AND ($3 = '' OR status = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, filter.BuyerID, filter.SalesPersonID, string(filter.Status), filter.PerPage, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Order{}
	total := 0
	for rows.Next() {
		var (
			o         Order
			status    string
			opsStatus string
		)
		if err := rows.Scan(append(orderDest(&o, &status, &opsStatus), &total)...); err != nil {
			return nil, 0, err
		}
		o.Status = OrderStatus(status)
		o.OpsFinalCheckStatus = OpsCheckStatus(opsStatus)
		out = append(out, o)
	}
	return out, total, rows.Err()
}

const paymentRefQuery = `SELECT p.id, p.order_id, o.buyer_id, p.amount, p.expires_at
FROM payments p
JOIN orders o ON o.id = p.order_id
WHERE p.status IN ('pending', 'processing') AND `

func (r *Repository) listPaymentRefs(ctx context.Context, cond string, args ...any) ([]PaymentRef, error) {
	rows, err := r.pool.Query(ctx, paymentRefQuery+cond, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []PaymentRef{}
	for rows.Next() {
		var ref PaymentRef
		if err := rows.Scan(&ref.ID, &ref.OrderID, &ref.BuyerID, &ref.Amount, &ref.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// ListOverduePayments returns open payments whose window has passed.
func (r *Repository) ListOverduePayments(ctx context.Context, now time.Time, limit int) ([]PaymentRef, error) {
	return r.listPaymentRefs(ctx, `p.expires_at < $1 ORDER BY p.expires_at LIMIT $2`, now, limit)
}

// ListExpiringPayments returns open payments expiring in (from, to].
func (r *Repository) ListExpiringPayments(ctx context.Context, from, to time.Time, limit int) ([]PaymentRef, error) {
	return r.listPaymentRefs(ctx, `p.expires_at > $1 AND p.expires_at <= $2 ORDER BY p.expires_at LIMIT $3`, from, to, limit)
}

// ============================================================================
// COMMISSION
// ============================================================================

const commissionColumns = `id, order_id, sales_person_id, commission_rate, delivered_value,
	commission_amount, status, paid_at, created_at`

func scanCommission(row pgx.Row) (Commission, error) {
	var (
		c      Commission
		status string
	)
	err := row.Scan(&c.ID, &c.OrderID, &c.SalesPersonID, &c.Rate, &c.DeliveredValue, &c.Amount, &status, &c.PaidAt, &c.CreatedAt)
	c.Status = CommissionStatus(status)
	return c, err
}

// GetCommissionByOrder returns the commission posted for an order.
func (r *Repository) GetCommissionByOrder(ctx context.Context, orderID int64) (Commission, error) {
	c, err := scanCommission(r.pool.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Commission{}, fmt.Errorf("%w: order %d", ErrCommissionNotFound, orderID)
	}
	return c, err
}

// ListCommissions returns commissions, optionally for one sales person.
func (r *Repository) ListCommissions(ctx context.Context, salesPersonID int64) ([]Commission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+commissionColumns+` FROM commissions
WHERE ($1 = 0 OR sales_person_id = $1)
ORDER BY created_at DESC, id DESC`, salesPersonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Commission{}
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeTiers(raw []byte) ([]CommissionTier, error) {
	var tiers []CommissionTier
	if len(raw) == 0 {
		return tiers, nil
	}
	if err := json.Unmarshal(raw, &tiers); err != nil {
		return nil, fmt.Errorf("decode commission tiers: %w", err)
	}
	for _, t := range tiers {
		if t.Rate.LessThan(decimal.Zero) {
			return nil, fmt.Errorf("commission tier rate %s is negative", t.Rate)
		}
	}
	return tiers, nil
}
