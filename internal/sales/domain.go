package sales

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/sales/pricing"
)

// ============================================================================
// REQUEST
// ============================================================================

type RequestStatus string

const (
	RequestStatusDraft       RequestStatus = "draft"
	RequestStatusSubmitted   RequestStatus = "submitted"
	RequestStatusUnderReview RequestStatus = "under_review"
	RequestStatusQuoted      RequestStatus = "quoted"
	RequestStatusClosed      RequestStatus = "closed"
)

// InventoryStatus is the sourcing classification of a request item.
type InventoryStatus string

const (
	InventoryInStock     InventoryStatus = "in_stock"
	InventoryLowStock    InventoryStatus = "low_stock"
	InventoryOutOfStock  InventoryStatus = "out_of_stock"
	InventoryUnavailable InventoryStatus = "unavailable"
	InventoryMadeToOrder InventoryStatus = "made_to_order"
)

// AvailableSource records where validated quantity comes from.
type AvailableSource string

const (
	SourceNone     AvailableSource = "none"
	SourceInternal AvailableSource = "internal"
	SourceExternal AvailableSource = "external"
)

// Request is a buyer's wishlist routed through the workflow.
type Request struct {
	ID              int64         `json:"id"`
	BuyerID         int64         `json:"buyer_id"`
	Status          RequestStatus `json:"status"`
	SubmittedAt     *time.Time    `json:"submitted_at,omitempty"`
	ValidatedAt     *time.Time    `json:"validated_at,omitempty"`
	ValidatedBy     *int64        `json:"validated_by,omitempty"`
	AssignedSalesID *int64        `json:"assigned_sales_id,omitempty"`
	AssignedAt      *time.Time    `json:"assigned_at,omitempty"`
	Notes           string        `json:"notes"`
	Version         int           `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Items           []RequestItem `json:"items"`
}

// Item returns the item with the given id.
func (r *Request) Item(id int64) (RequestItem, bool) {
	for _, it := range r.Items {
		if it.ID == id {
			return it, true
		}
	}
	return RequestItem{}, false
}

// RequestItem is one wishlist line. Validation fields stay empty until the
// request is validated.
type RequestItem struct {
	ID                int64           `json:"id"`
	RequestID         int64           `json:"request_id"`
	Product           catalog.Ref     `json:"product"`
	Quantity          int             `json:"quantity"`
	InventoryStatus   InventoryStatus `json:"inventory_status,omitempty"`
	AvailableSource   AvailableSource `json:"available_source,omitempty"`
	ValidatedQuantity *int            `json:"validated_quantity,omitempty"`
	Shortfall         *int            `json:"shortfall,omitempty"`
	ValidationNote    string          `json:"validation_note,omitempty"`
	ValidatedAt       *time.Time      `json:"validated_at,omitempty"`
	ValidatedBy       *int64          `json:"validated_by,omitempty"`
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	BuyerID         int64
	AssignedSalesID int64
	Status          RequestStatus
	Page            int
	PerPage         int
}

// ============================================================================
// QUOTATION
// ============================================================================

type QuotationStatus string

const (
	QuotationStatusDraft    QuotationStatus = "draft"
	QuotationStatusSent     QuotationStatus = "sent"
	QuotationStatusAccepted QuotationStatus = "accepted"
	QuotationStatusRejected QuotationStatus = "rejected"
	QuotationStatusExpired  QuotationStatus = "expired"
)

// Active reports whether the quotation still occupies the request's single
// active slot.
func (s QuotationStatus) Active() bool {
	return s == QuotationStatusDraft || s == QuotationStatusSent
}

// Markers written into Quotation.Terms.
const (
	extensionMarker     = "[expiry-extended]"
	declineReasonMarker = "[buyer-decline-reason]"
)

type Quotation struct {
	ID          int64           `json:"id"`
	RequestID   int64           `json:"request_id"`
	CreatedBy   int64           `json:"created_by"`
	Number      string          `json:"quotation_number"`
	Status      QuotationStatus `json:"status"`
	QuotedTotal decimal.Decimal `json:"quoted_total"`
	SentAt      *time.Time      `json:"sent_at,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Terms       string          `json:"terms"`
	Version     int             `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Lines       []QuotationLine `json:"lines"`
}

// Overdue reports whether the validity window has passed at now.
func (q *Quotation) Overdue(now time.Time) bool {
	return q.ExpiresAt != nil && now.After(*q.ExpiresAt)
}

// ExtensionUsed reports whether the one-off expiry extension was spent.
func (q *Quotation) ExtensionUsed() bool {
	return strings.Contains(q.Terms, extensionMarker)
}

// DeclineReason extracts the buyer's decline reason from terms.
func DeclineReason(terms string) string {
	idx := strings.LastIndex(terms, declineReasonMarker)
	if idx < 0 {
		return ""
	}
	rest := terms[idx+len(declineReasonMarker):]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	return strings.TrimSpace(rest)
}

func appendTerms(terms, line string) string {
	if strings.TrimSpace(terms) == "" {
		return line
	}
	return strings.TrimRight(terms, "\n") + "\n" + line
}

type QuotationLine struct {
	ID            int64           `json:"id"`
	QuotationID   int64           `json:"quotation_id"`
	RequestItemID int64           `json:"request_item_id"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Quantity      int             `json:"quantity"`
	LineTotal     decimal.Decimal `json:"line_total"`
	LineOrder     int             `json:"line_order"`
}

// totalOf recomputes every line total and returns the quotation total.
func totalOf(lines []QuotationLine) decimal.Decimal {
	total := decimal.Zero
	for i := range lines {
		lines[i].LineTotal = pricing.LineTotal(lines[i].UnitPrice, lines[i].Quantity)
		total = total.Add(lines[i].LineTotal)
	}
	return total
}

// ============================================================================
// NEGOTIATION
// ============================================================================

type NegotiationStatus string

const (
	NegotiationStatusOpen          NegotiationStatus = "open"
	NegotiationStatusCounterBuyer  NegotiationStatus = "counter_buyer"
	NegotiationStatusCounterSeller NegotiationStatus = "counter_seller"
	NegotiationStatusAccepted      NegotiationStatus = "accepted"
	NegotiationStatusRejected      NegotiationStatus = "rejected"
	NegotiationStatusClosed        NegotiationStatus = "closed"
)

// Terminal reports whether no further rounds may be written.
func (s NegotiationStatus) Terminal() bool {
	switch s {
	case NegotiationStatusAccepted, NegotiationStatusRejected, NegotiationStatusClosed:
		return true
	}
	return false
}

// Party is a side of the negotiation.
type Party string

const (
	PartyNone   Party = ""
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

type Negotiation struct {
	ID           int64              `json:"id"`
	QuotationID  int64              `json:"quotation_id"`
	OpenedBy     int64              `json:"opened_by"`
	Status       NegotiationStatus  `json:"status"`
	ClosedReason string             `json:"closed_reason,omitempty"`
	Version      int                `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	Rounds       []NegotiationRound `json:"rounds"`
	NextMover    Party              `json:"next_mover"`
}

// LatestRound returns the most recent round.
func (n *Negotiation) LatestRound() (NegotiationRound, bool) {
	if len(n.Rounds) == 0 {
		return NegotiationRound{}, false
	}
	return n.Rounds[len(n.Rounds)-1], true
}

type NegotiationRound struct {
	ID             int64           `json:"id"`
	NegotiationID  int64           `json:"negotiation_id"`
	RoundNumber    int             `json:"round_number"`
	ProposedBy     Party           `json:"proposed_by"`
	ProposedByUser int64           `json:"proposed_by_user"`
	ProposedTotal  decimal.Decimal `json:"proposed_total"`
	Message        string          `json:"message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []RoundLine     `json:"lines"`
}

// RoundLine is one proposed price within a round.
type RoundLine struct {
	QuotationLineID int64           `json:"quotation_line_id"`
	RequestItemID   int64           `json:"request_item_id"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int             `json:"quantity"`
}

func roundTotal(lines []RoundLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(pricing.LineTotal(l.UnitPrice, l.Quantity))
	}
	return total
}

// ============================================================================
// ORDER & PAYMENT
// ============================================================================

type OrderStatus string

const (
	OrderStatusPendingPayment     OrderStatus = "pending_payment"
	OrderStatusConfirmed          OrderStatus = "confirmed"
	OrderStatusRecheck            OrderStatus = "recheck"
	OrderStatusInProcurement      OrderStatus = "in_procurement"
	OrderStatusPartiallyShipped   OrderStatus = "partially_shipped"
	OrderStatusShipped            OrderStatus = "shipped"
	OrderStatusPartiallyDelivered OrderStatus = "partially_delivered"
	OrderStatusDelivered          OrderStatus = "delivered"
	OrderStatusCancelled          OrderStatus = "cancelled"
)

// fulfillmentProgression lists the post-forward statuses in order.
var fulfillmentProgression = []OrderStatus{
	OrderStatusInProcurement,
	OrderStatusPartiallyShipped,
	OrderStatusShipped,
	OrderStatusPartiallyDelivered,
	OrderStatusDelivered,
}

func progressionIndex(s OrderStatus) int {
	for i, p := range fulfillmentProgression {
		if p == s {
			return i
		}
	}
	return -1
}

type OpsCheckStatus string

const (
	OpsCheckPending  OpsCheckStatus = "pending"
	OpsCheckApproved OpsCheckStatus = "approved"
	OpsCheckRejected OpsCheckStatus = "rejected"
)

type Order struct {
	ID                        int64           `json:"id"`
	QuotationID               int64           `json:"quotation_id"`
	RequestID                 int64           `json:"request_id"`
	BuyerID                   int64           `json:"buyer_id"`
	SalesPersonID             *int64          `json:"sales_person_id,omitempty"`
	OrderNumber               string          `json:"order_number"`
	Status                    OrderStatus     `json:"status"`
	TotalAmount               decimal.Decimal `json:"total_amount"`
	PaidAmount                decimal.Decimal `json:"paid_amount"`
	PaymentLinkSentAt         *time.Time      `json:"payment_link_sent_at,omitempty"`
	PaymentConfirmedAt        *time.Time      `json:"payment_confirmed_at,omitempty"`
	PaymentConfirmationSource string          `json:"payment_confirmation_source,omitempty"`
	OpsFinalCheckStatus       OpsCheckStatus  `json:"ops_final_check_status"`
	OpsFinalCheckNote         string          `json:"ops_final_check_note,omitempty"`
	ForwardedToOpsAt          *time.Time      `json:"forwarded_to_ops_at,omitempty"`
	BalanceRequestedAt        *time.Time      `json:"balance_requested_at,omitempty"`
	BalanceDueAt              *time.Time      `json:"balance_due_at,omitempty"`
	CancelReason              string          `json:"cancel_reason,omitempty"`
	Version                   int             `json:"version"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
	Lines                     []OrderLine     `json:"lines"`
	Payments                  []Payment       `json:"payments"`
}

// FullyPaid reports whether paid amount covers the total.
func (o *Order) FullyPaid() bool {
	return o.PaidAmount.GreaterThanOrEqual(o.TotalAmount)
}

// Outstanding is the unpaid balance, never negative.
func (o *Order) Outstanding() decimal.Decimal {
	out := o.TotalAmount.Sub(o.PaidAmount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// Forwarded reports whether the order was handed to fulfillment.
func (o *Order) Forwarded() bool { return o.ForwardedToOpsAt != nil }

// livePayment returns the newest open payment whose window has not passed.
func (o *Order) livePayment(now time.Time) *Payment {
	for i := len(o.Payments) - 1; i >= 0; i-- {
		p := &o.Payments[i]
		if p.Status.Open() && !now.After(p.ExpiresAt) {
			return p
		}
	}
	return nil
}

// openPayment returns the payment to confirm: the one named by id, or the
// newest open payment.
func (o *Order) openPayment(id int64) *Payment {
	for i := len(o.Payments) - 1; i >= 0; i-- {
		p := &o.Payments[i]
		if !p.Status.Open() {
			continue
		}
		if id == 0 || p.ID == id {
			return p
		}
	}
	return nil
}

// DeliveredValue is Σ unit price × delivered quantity.
func (o *Order) DeliveredValue() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(pricing.LineTotal(l.UnitPrice, l.DeliveredQuantity))
	}
	return total
}

type OrderLine struct {
	ID                int64           `json:"id"`
	OrderID           int64           `json:"order_id"`
	RequestItemID     int64           `json:"request_item_id"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Quantity          int             `json:"quantity"`
	DeliveredQuantity int             `json:"delivered_quantity"`
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	BuyerID       int64
	SalesPersonID int64
	Status        OrderStatus
	Page          int
	PerPage       int
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusExpired    PaymentStatus = "expired"
)

// Open reports whether the payment can still be paid.
func (s PaymentStatus) Open() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// PaymentKind distinguishes the purpose of a payment link.
type PaymentKind string

const (
	PaymentKindFull    PaymentKind = "full"
	PaymentKindDeposit PaymentKind = "deposit"
	PaymentKindBalance PaymentKind = "balance"
)

type Payment struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	Kind       PaymentKind     `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Status     PaymentStatus   `json:"status"`
	ExpiresAt  time.Time       `json:"expires_at"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	GatewayRef string          `json:"gateway_ref,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PaymentRef locates a payment due for expiry or a reminder.
type PaymentRef struct {
	ID        int64
	OrderID   int64
	BuyerID   int64
	Amount    decimal.Decimal
	ExpiresAt time.Time
}

// ============================================================================
// COMMISSION
// ============================================================================

type CommissionStatus string

const (
	CommissionStatusPending CommissionStatus = "pending"
	CommissionStatusPaid    CommissionStatus = "paid"
)

type Commission struct {
	ID             int64            `json:"id"`
	OrderID        int64            `json:"order_id"`
	SalesPersonID  int64            `json:"sales_person_id"`
	Rate           decimal.Decimal  `json:"commission_rate"`
	DeliveredValue decimal.Decimal  `json:"delivered_value"`
	Amount         decimal.Decimal  `json:"commission_amount"`
	Status         CommissionStatus `json:"status"`
	PaidAt         *time.Time       `json:"paid_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// CommissionTier applies Rate once delivered value reaches Threshold.
type CommissionTier struct {
	Threshold decimal.Decimal `json:"threshold"`
	Rate      decimal.Decimal `json:"rate"`
}

type CommissionStructure struct {
	ID     int64            `json:"id"`
	Name   string           `json:"name"`
	Active bool             `json:"active"`
	Tiers  []CommissionTier `json:"tiers"`
}

// RateFor returns the rate of the highest tier whose threshold value
// reaches, or false when no tier applies.
func (c *CommissionStructure) RateFor(value decimal.Decimal) (decimal.Decimal, bool) {
	if c == nil || !c.Active {
		return decimal.Zero, false
	}
	var (
		best  CommissionTier
		found bool
	)
	for _, t := range c.Tiers {
		if value.LessThan(t.Threshold) {
			continue
		}
		if !found || t.Threshold.GreaterThan(best.Threshold) {
			best, found = t, true
		}
	}
	return best.Rate, found
}
