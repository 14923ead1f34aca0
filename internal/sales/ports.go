package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/shared"
	"github.com/atelier-b2b/atelier/internal/users"
)

// RepositoryPort describes the reads used outside transactions and the
// transactional boundary of every workflow aggregate.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id int64) (Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, int, error)
	GetQuotation(ctx context.Context, id int64) (Quotation, error)
	ListQuotations(ctx context.Context, requestID int64) ([]Quotation, error)
	GetNegotiation(ctx context.Context, id int64) (Negotiation, error)
	GetNegotiationByQuotation(ctx context.Context, quotationID int64) (Negotiation, error)
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int, error)
	GetCommissionByOrder(ctx context.Context, orderID int64) (Commission, error)
	ListCommissions(ctx context.Context, salesPersonID int64) ([]Commission, error)
	ListOverdueQuotations(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ListOverduePayments(ctx context.Context, now time.Time, limit int) ([]PaymentRef, error)
	ListExpiringQuotations(ctx context.Context, from, to time.Time, limit int) ([]Quotation, error)
	ListExpiringPayments(ctx context.Context, from, to time.Time, limit int) ([]PaymentRef, error)
}

// TxRepository exposes locked reads and writes inside a transaction.
// Lock* methods take a row lock on the aggregate root.
type TxRepository interface {
	LockRequest(ctx context.Context, id int64) (Request, error)
	CreateRequest(ctx context.Context, req Request) (int64, error)
	UpdateRequest(ctx context.Context, req Request) error
	InsertRequestItem(ctx context.Context, item RequestItem) (int64, error)
	UpdateRequestItem(ctx context.Context, item RequestItem) error
	DeleteRequestItem(ctx context.Context, requestID, itemID int64) error

	NextSequence(ctx context.Context, docType string, period int) (int, error)
	ClaimKey(ctx context.Context, key, module string) (bool, error)

	LockQuotation(ctx context.Context, id int64) (Quotation, error)
	ActiveQuotationFor(ctx context.Context, requestID int64) (Quotation, bool, error)
	CreateQuotation(ctx context.Context, q Quotation) (int64, error)
	UpdateQuotation(ctx context.Context, q Quotation) error
	ReplaceQuotationLines(ctx context.Context, quotationID int64, lines []QuotationLine) error
	UpdateQuotationLinePrices(ctx context.Context, lines []QuotationLine) error

	LockNegotiation(ctx context.Context, id int64) (Negotiation, error)
	NegotiationForQuotation(ctx context.Context, quotationID int64) (Negotiation, bool, error)
	CreateNegotiation(ctx context.Context, n Negotiation) (int64, error)
	UpdateNegotiation(ctx context.Context, n Negotiation) error
	InsertRound(ctx context.Context, round NegotiationRound) (int64, error)

	LockOrder(ctx context.Context, id int64) (Order, error)
	OrderExistsForRequest(ctx context.Context, requestID int64) (bool, error)
	CreateOrder(ctx context.Context, o Order) (int64, error)
	UpdateOrder(ctx context.Context, o Order) error
	UpdateOrderLine(ctx context.Context, line OrderLine) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	UpdatePayment(ctx context.Context, p Payment) error

	CommissionForOrder(ctx context.Context, orderID int64) (Commission, bool, error)
	InsertCommission(ctx context.Context, c Commission) (Commission, bool, error)
	LockCommission(ctx context.Context, id int64) (Commission, error)
	UpdateCommission(ctx context.Context, c Commission) error
	ActiveCommissionStructure(ctx context.Context) (*CommissionStructure, error)
}

// Catalog resolves product references and markups.
type Catalog interface {
	Lookup(ctx context.Context, ref catalog.Ref) (catalog.Product, error)
	Markup(ctx context.Context, category string, source catalog.SourceType) (decimal.Decimal, error)
}

// Notifier delivers notifications. Failures never roll back a transition.
type Notifier interface {
	Notify(ctx context.Context, n notifications.Notification) error
}

// Fulfillment receives forwarded orders.
type Fulfillment interface {
	Forward(ctx context.Context, orderID int64) error
}

// UserDirectory looks up accounts for assignment and commission rates.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
}

// IdempotencyStore claims request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditPort records workflow transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}
