package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/catalog"
	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/shared"
	"github.com/atelier-b2b/atelier/internal/users"
)

// memoryRepo is an in-memory RepositoryPort. Transactions are serialised
// and a failed transaction restores the state it started from. conflicts
// makes that many commits fail as a serialization failure would, so the
// callback is rolled back and run again.
type memoryRepo struct {
	txMu sync.Mutex
	mu   sync.Mutex

	conflicts int

	requests     map[int64]Request
	items        map[int64][]RequestItem
	quotations   map[int64]Quotation
	quoteLines   map[int64][]QuotationLine
	negotiations map[int64]Negotiation
	rounds       map[int64][]NegotiationRound
	orders       map[int64]Order
	orderLines   map[int64][]OrderLine
	payments     map[int64][]Payment
	commissions  map[int64]Commission
	sequences    map[string]int
	keys         map[string]struct{}
	structure    *CommissionStructure
	nextID       int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests:     make(map[int64]Request),
		items:        make(map[int64][]RequestItem),
		quotations:   make(map[int64]Quotation),
		quoteLines:   make(map[int64][]QuotationLine),
		negotiations: make(map[int64]Negotiation),
		rounds:       make(map[int64][]NegotiationRound),
		orders:       make(map[int64]Order),
		orderLines:   make(map[int64][]OrderLine),
		payments:     make(map[int64][]Payment),
		commissions:  make(map[int64]Commission),
		sequences:    make(map[string]int),
		keys:         make(map[string]struct{}),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneSliceMap[K comparable, V any](in map[K][]V) map[K][]V {
	out := make(map[K][]V, len(in))
	for k, v := range in {
		out[k] = append([]V(nil), v...)
	}
	return out
}

func (r *memoryRepo) snapshot() *memoryRepo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &memoryRepo{
		requests:     cloneMap(r.requests),
		items:        cloneSliceMap(r.items),
		quotations:   cloneMap(r.quotations),
		quoteLines:   cloneSliceMap(r.quoteLines),
		negotiations: cloneMap(r.negotiations),
		rounds:       cloneSliceMap(r.rounds),
		orders:       cloneMap(r.orders),
		orderLines:   cloneSliceMap(r.orderLines),
		payments:     cloneSliceMap(r.payments),
		commissions:  cloneMap(r.commissions),
		sequences:    cloneMap(r.sequences),
		keys:         cloneMap(r.keys),
		nextID:       r.nextID,
	}
}

func (r *memoryRepo) restore(s *memoryRepo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests, r.items = s.requests, s.items
	r.quotations, r.quoteLines = s.quotations, s.quoteLines
	r.negotiations, r.rounds = s.negotiations, s.rounds
	r.orders, r.orderLines, r.payments = s.orders, s.orderLines, s.payments
	r.commissions, r.sequences, r.keys = s.commissions, s.sequences, s.keys
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	for {
		before := r.snapshot()
		if err := fn(ctx, &memoryTx{repo: r}); err != nil {
			r.restore(before)
			return err
		}
		if r.conflicts == 0 {
			return nil
		}
		r.conflicts--
		r.restore(before)
	}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

// ============================================================================
// reads
// ============================================================================

func (r *memoryRepo) request(id int64) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
	}
	req.Items = append([]RequestItem{}, r.items[id]...)
	return req, nil
}

func (r *memoryRepo) quotation(id int64) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotations[id]
	if !ok {
		return Quotation{}, fmt.Errorf("%w: id %d", ErrQuotationNotFound, id)
	}
	q.Lines = append([]QuotationLine{}, r.quoteLines[id]...)
	return q, nil
}

func (r *memoryRepo) negotiation(id int64) (Negotiation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.negotiations[id]
	if !ok {
		return Negotiation{}, fmt.Errorf("%w: id %d", ErrNegotiationNotFound, id)
	}
	n.Rounds = make([]NegotiationRound, 0, len(r.rounds[id]))
	for _, rd := range r.rounds[id] {
		rd.Lines = append([]RoundLine{}, rd.Lines...)
		n.Rounds = append(n.Rounds, rd)
	}
	n.NextMover = NextMover(n.Status)
	return n, nil
}

func (r *memoryRepo) negotiationIDFor(quotationID int64) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, n := range r.negotiations {
		if n.QuotationID == quotationID {
			return id, true
		}
	}
	return 0, false
}

func (r *memoryRepo) order(id int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	o.Lines = append([]OrderLine{}, r.orderLines[id]...)
	o.Payments = append([]Payment{}, r.payments[id]...)
	return o, nil
}

func (r *memoryRepo) GetRequest(_ context.Context, id int64) (Request, error) {
	return r.request(id)
}

func (r *memoryRepo) ListRequests(_ context.Context, filter RequestFilter) ([]Request, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.requests {
		if filter.BuyerID != 0 && req.BuyerID != filter.BuyerID {
			continue
		}
		if filter.AssignedSalesID != 0 && (req.AssignedSalesID == nil || *req.AssignedSalesID != filter.AssignedSalesID) {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, filter.Page, filter.PerPage), len(out), nil
}

func paginate[T any](in []T, page, perPage int) []T {
	start := (page - 1) * perPage
	if start >= len(in) {
		return []T{}
	}
	end := min(start+perPage, len(in))
	return in[start:end]
}

func (r *memoryRepo) GetQuotation(_ context.Context, id int64) (Quotation, error) {
	return r.quotation(id)
}

func (r *memoryRepo) ListQuotations(_ context.Context, requestID int64) ([]Quotation, error) {
	r.mu.Lock()
	var ids []int64
	for id, q := range r.quotations {
		if q.RequestID == requestID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	out := []Quotation{}
	for _, id := range ids {
		q, err := r.quotation(id)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *memoryRepo) GetNegotiation(_ context.Context, id int64) (Negotiation, error) {
	return r.negotiation(id)
}

func (r *memoryRepo) GetNegotiationByQuotation(_ context.Context, quotationID int64) (Negotiation, error) {
	id, ok := r.negotiationIDFor(quotationID)
	if !ok {
		return Negotiation{}, ErrNegotiationNotFound
	}
	return r.negotiation(id)
}

func (r *memoryRepo) GetOrder(_ context.Context, id int64) (Order, error) {
	return r.order(id)
}

func (r *memoryRepo) ListOrders(_ context.Context, filter OrderFilter) ([]Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if filter.BuyerID != 0 && o.BuyerID != filter.BuyerID {
			continue
		}
		if filter.SalesPersonID != 0 && (o.SalesPersonID == nil || *o.SalesPersonID != filter.SalesPersonID) {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, filter.Page, filter.PerPage), len(out), nil
}

func (r *memoryRepo) GetCommissionByOrder(_ context.Context, orderID int64) (Commission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.commissions {
		if c.OrderID == orderID {
			return c, nil
		}
	}
	return Commission{}, ErrCommissionNotFound
}

func (r *memoryRepo) ListCommissions(_ context.Context, salesPersonID int64) ([]Commission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Commission{}
	for _, c := range r.commissions {
		if salesPersonID == 0 || c.SalesPersonID == salesPersonID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListOverdueQuotations(_ context.Context, now time.Time, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, q := range r.quotations {
		if q.Status == QuotationStatusSent && q.ExpiresAt != nil && q.ExpiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[:min(limit, len(ids))], nil
}

func (r *memoryRepo) paymentRefs(match func(Payment) bool, limit int) []PaymentRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PaymentRef
	for orderID, ps := range r.payments {
		for _, p := range ps {
			if !p.Status.Open() || !match(p) {
				continue
			}
			out = append(out, PaymentRef{
				ID:        p.ID,
				OrderID:   orderID,
				BuyerID:   r.orders[orderID].BuyerID,
				Amount:    p.Amount,
				ExpiresAt: p.ExpiresAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out[:min(limit, len(out))]
}

func (r *memoryRepo) ListOverduePayments(_ context.Context, now time.Time, limit int) ([]PaymentRef, error) {
	return r.paymentRefs(func(p Payment) bool { return p.ExpiresAt.Before(now) }, limit), nil
}

func (r *memoryRepo) ListExpiringQuotations(_ context.Context, from, to time.Time, limit int) ([]Quotation, error) {
	r.mu.Lock()
	var ids []int64
	for id, q := range r.quotations {
		if q.Status == QuotationStatusSent && q.ExpiresAt != nil && q.ExpiresAt.After(from) && !q.ExpiresAt.After(to) {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := []Quotation{}
	for _, id := range ids[:min(limit, len(ids))] {
		q, err := r.quotation(id)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (r *memoryRepo) ListExpiringPayments(_ context.Context, from, to time.Time, limit int) ([]PaymentRef, error) {
	return r.paymentRefs(func(p Payment) bool {
		return p.ExpiresAt.After(from) && !p.ExpiresAt.After(to)
	}, limit), nil
}

// ============================================================================
// transactional writes
// ============================================================================

func (tx *memoryTx) LockRequest(_ context.Context, id int64) (Request, error) {
	return tx.repo.request(id)
}

func (tx *memoryTx) CreateRequest(_ context.Context, req Request) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	req.ID = r.id()
	req.Version = 1
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	req.Items = nil
	r.requests[req.ID] = req
	return req.ID, nil
}

func (tx *memoryTx) UpdateRequest(_ context.Context, req Request) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.requests[req.ID]
	if !ok {
		return ErrRequestNotFound
	}
	req.Version = current.Version + 1
	req.Items = nil
	r.requests[req.ID] = req
	return nil
}

func (tx *memoryTx) InsertRequestItem(_ context.Context, item RequestItem) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = r.id()
	r.items[item.RequestID] = append(r.items[item.RequestID], item)
	return item.ID, nil
}

func (tx *memoryTx) UpdateRequestItem(_ context.Context, item RequestItem) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[item.RequestID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return nil
		}
	}
	return ErrRequestItemNotFound
}

func (tx *memoryTx) DeleteRequestItem(_ context.Context, requestID, itemID int64) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[requestID]
	for i := range items {
		if items[i].ID == itemID {
			r.items[requestID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return ErrRequestItemNotFound
}

func (tx *memoryTx) NextSequence(_ context.Context, docType string, period int) (int, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s:%d", docType, period)
	r.sequences[key]++
	return r.sequences[key], nil
}

func (tx *memoryTx) ClaimKey(_ context.Context, key, module string) (bool, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	k := module + "|" + key
	if _, ok := r.keys[k]; ok {
		return false, nil
	}
	r.keys[k] = struct{}{}
	return true, nil
}

func (tx *memoryTx) LockQuotation(_ context.Context, id int64) (Quotation, error) {
	return tx.repo.quotation(id)
}

func (tx *memoryTx) ActiveQuotationFor(_ context.Context, requestID int64) (Quotation, bool, error) {
	r := tx.repo
	r.mu.Lock()
	var found int64
	for id, q := range r.quotations {
		if q.RequestID == requestID && q.Status.Active() {
			found = id
		}
	}
	r.mu.Unlock()
	if found == 0 {
		return Quotation{}, false, nil
	}
	q, err := r.quotation(found)
	return q, err == nil, err
}

func (tx *memoryTx) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	if _, active, _ := tx.ActiveQuotationFor(ctx, q.RequestID); active && q.Status.Active() {
		return 0, ErrActiveQuotationExists
	}
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	q.ID = r.id()
	q.Version = 1
	q.CreatedAt = time.Now()
	q.UpdatedAt = q.CreatedAt
	q.Lines = nil
	r.quotations[q.ID] = q
	return q.ID, nil
}

func (tx *memoryTx) UpdateQuotation(_ context.Context, q Quotation) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.quotations[q.ID]
	if !ok {
		return ErrQuotationNotFound
	}
	q.Version = current.Version + 1
	q.Lines = nil
	r.quotations[q.ID] = q
	return nil
}

func (tx *memoryTx) ReplaceQuotationLines(_ context.Context, quotationID int64, lines []QuotationLine) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]QuotationLine, 0, len(lines))
	for _, l := range lines {
		l.ID = r.id()
		l.QuotationID = quotationID
		stored = append(stored, l)
	}
	r.quoteLines[quotationID] = stored
	return nil
}

func (tx *memoryTx) UpdateQuotationLinePrices(_ context.Context, lines []QuotationLine) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range lines {
		stored := r.quoteLines[l.QuotationID]
		for i := range stored {
			if stored[i].ID == l.ID {
				stored[i].UnitPrice = l.UnitPrice
				stored[i].LineTotal = l.LineTotal
			}
		}
	}
	return nil
}

func (tx *memoryTx) LockNegotiation(_ context.Context, id int64) (Negotiation, error) {
	return tx.repo.negotiation(id)
}

func (tx *memoryTx) NegotiationForQuotation(_ context.Context, quotationID int64) (Negotiation, bool, error) {
	id, ok := tx.repo.negotiationIDFor(quotationID)
	if !ok {
		return Negotiation{}, false, nil
	}
	n, err := tx.repo.negotiation(id)
	return n, err == nil, err
}

func (tx *memoryTx) CreateNegotiation(_ context.Context, n Negotiation) (int64, error) {
	if _, exists := tx.repo.negotiationIDFor(n.QuotationID); exists {
		return 0, ErrAlreadyOpen
	}
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	n.ID = r.id()
	n.Version = 1
	n.CreatedAt = time.Now()
	n.Rounds = nil
	r.negotiations[n.ID] = n
	return n.ID, nil
}

func (tx *memoryTx) UpdateNegotiation(_ context.Context, n Negotiation) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.negotiations[n.ID]
	if !ok {
		return ErrNegotiationNotFound
	}
	n.Version = current.Version + 1
	n.Rounds = nil
	r.negotiations[n.ID] = n
	return nil
}

func (tx *memoryTx) InsertRound(_ context.Context, round NegotiationRound) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rounds[round.NegotiationID] {
		if existing.RoundNumber == round.RoundNumber {
			return 0, ErrWrongTurn
		}
	}
	round.ID = r.id()
	round.CreatedAt = time.Now()
	round.Lines = append([]RoundLine{}, round.Lines...)
	r.rounds[round.NegotiationID] = append(r.rounds[round.NegotiationID], round)
	return round.ID, nil
}

func (tx *memoryTx) LockOrder(_ context.Context, id int64) (Order, error) {
	return tx.repo.order(id)
}

func (tx *memoryTx) OrderExistsForRequest(_ context.Context, requestID int64) (bool, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.RequestID == requestID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) CreateOrder(_ context.Context, o Order) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if existing.QuotationID == o.QuotationID {
			return 0, ErrNotAcceptable
		}
	}
	o.ID = r.id()
	o.Version = 1
	o.CreatedAt = time.Now()
	lines := make([]OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		l.ID = r.id()
		l.OrderID = o.ID
		lines = append(lines, l)
	}
	o.Lines, o.Payments = nil, nil
	r.orders[o.ID] = o
	r.orderLines[o.ID] = lines
	return o.ID, nil
}

func (tx *memoryTx) UpdateOrder(_ context.Context, o Order) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	o.Version = current.Version + 1
	o.Lines, o.Payments = nil, nil
	r.orders[o.ID] = o
	return nil
}

func (tx *memoryTx) UpdateOrderLine(_ context.Context, line OrderLine) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := r.orderLines[line.OrderID]
	for i := range lines {
		if lines[i].ID == line.ID {
			lines[i].DeliveredQuantity = line.DeliveredQuantity
			return nil
		}
	}
	return fmt.Errorf("order line %d not found", line.ID)
}

func (tx *memoryTx) InsertPayment(_ context.Context, p Payment) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	p.CreatedAt = time.Now()
	r.payments[p.OrderID] = append(r.payments[p.OrderID], p)
	return p.ID, nil
}

func (tx *memoryTx) UpdatePayment(_ context.Context, p Payment) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := r.payments[p.OrderID]
	for i := range ps {
		if ps[i].ID == p.ID {
			ps[i].Status = p.Status
			ps[i].ExpiresAt = p.ExpiresAt
			ps[i].PaidAt = p.PaidAt
			ps[i].GatewayRef = p.GatewayRef
			return nil
		}
	}
	return fmt.Errorf("payment %d not found", p.ID)
}

func (tx *memoryTx) CommissionForOrder(_ context.Context, orderID int64) (Commission, bool, error) {
	c, err := tx.repo.GetCommissionByOrder(context.Background(), orderID)
	if errors.Is(err, ErrCommissionNotFound) {
		return Commission{}, false, nil
	}
	return c, err == nil, err
}

func (tx *memoryTx) InsertCommission(ctx context.Context, c Commission) (Commission, bool, error) {
	if existing, found, _ := tx.CommissionForOrder(ctx, c.OrderID); found {
		return existing, false, nil
	}
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.id()
	c.CreatedAt = time.Now()
	r.commissions[c.ID] = c
	return c, true, nil
}

func (tx *memoryTx) LockCommission(_ context.Context, id int64) (Commission, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commissions[id]
	if !ok {
		return Commission{}, ErrCommissionNotFound
	}
	return c, nil
}

func (tx *memoryTx) UpdateCommission(_ context.Context, c Commission) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commissions[c.ID] = c
	return nil
}

func (tx *memoryTx) ActiveCommissionStructure(context.Context) (*CommissionStructure, error) {
	return tx.repo.structure, nil
}

// ============================================================================
// collaborators
// ============================================================================

type fakeUsers struct {
	users map[int64]users.User
}

func (f *fakeUsers) GetUser(_ context.Context, id int64) (users.User, error) {
	u, ok := f.users[id]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return u, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]catalog.Product
	failing  map[string]error
	markups  map[string]decimal.Decimal
	lookups  int
}

func (f *fakeCatalog) Lookup(_ context.Context, ref catalog.Ref) (catalog.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if err, ok := f.failing[ref.Key()]; ok {
		return catalog.Product{}, err
	}
	p, ok := f.products[ref.Key()]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}

func (f *fakeCatalog) Markup(_ context.Context, category string, source catalog.SourceType) (decimal.Decimal, error) {
	return f.markups[category+":"+string(source)], nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notifications.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notifications.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) ofType(typ notifications.Type) []notifications.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifications.Notification
	for _, msg := range n.sent {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}

type recordingFulfillment struct {
	mu       sync.Mutex
	orderIDs []int64
	failures int
}

func (f *recordingFulfillment) Forward(_ context.Context, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("queue unavailable")
	}
	f.orderIDs = append(f.orderIDs, orderID)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]struct{})
	}
	k := module + "|" + key
	if _, ok := m.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[k] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"|"+key)
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
