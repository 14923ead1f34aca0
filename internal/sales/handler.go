package sales

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-b2b/atelier/internal/platform/httpx"
	"github.com/atelier-b2b/atelier/internal/rbac"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// idempotencyHeader carries the client's retry key on payment calls.
const idempotencyHeader = "Idempotency-Key"

// RejectionRecorder counts refused operations by error code.
type RejectionRecorder interface {
	Rejected(code string)
}

// SweepTrigger schedules an out-of-band expiry sweep.
type SweepTrigger interface {
	TriggerSweep(ctx context.Context) error
}

// Handler exposes the workflow over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	metrics RejectionRecorder
	sweeper SweepTrigger
}

// HandlerOption customises Handler.
type HandlerOption func(*Handler)

// WithRejectionRecorder counts refused operations.
func WithRejectionRecorder(m RejectionRecorder) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithSweepTrigger enqueues manual sweeps instead of running them inline.
func WithSweepTrigger(t SweepTrigger) HandlerOption {
	return func(h *Handler) { h.sweeper = t }
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{logger: logger, service: service, rbac: rbac}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers workflow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.With(h.rbac.RequireAny(rbac.PermRequestsOwn, rbac.PermRequestsView)).Get("/", h.listRequests)
		r.With(h.rbac.RequireAny(rbac.PermRequestsOwn, rbac.PermRequestsView)).Get("/{id}", h.getRequest)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermRequestsOwn))
			r.Post("/", h.createRequest)
			r.Patch("/{id}", h.updateNotes)
			r.Post("/{id}/items", h.addItem)
			r.Patch("/{id}/items/{itemID}", h.updateItem)
			r.Delete("/{id}/items/{itemID}", h.removeItem)
			r.Post("/{id}/submit", h.submitRequest)
		})
		r.With(h.rbac.RequireAny(rbac.PermRequestsValidate)).Post("/{id}/validate", h.validateRequest)
		r.With(h.rbac.RequireAny(rbac.PermRequestsAssign)).Post("/{id}/assign", h.assignRequest)
		r.With(h.rbac.RequireAny(rbac.PermQuotationsManage, rbac.PermQuotationsRespond)).Get("/{id}/quotations", h.listQuotations)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermQuotationsManage))
			r.Post("/{id}/quotations", h.createQuotation)
			r.Get("/{id}/price-suggestions", h.suggestPrices)
		})
	})

	r.Route("/quotations/{id}", func(r chi.Router) {
		r.With(h.rbac.RequireAny(rbac.PermQuotationsManage, rbac.PermQuotationsRespond)).Get("/", h.getQuotation)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermQuotationsManage))
			r.Put("/lines", h.reviseQuotation)
			r.Post("/send", h.sendQuotation)
			r.Post("/extend", h.extendQuotation)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermQuotationsRespond))
			r.Post("/accept", h.acceptQuotation)
			r.Post("/reject", h.rejectQuotation)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermNegotiationsTake))
			r.Get("/negotiation", h.getQuotationNegotiation)
			r.Post("/negotiation", h.openNegotiation)
		})
	})

	r.Route("/negotiations/{id}", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermNegotiationsTake))
		r.Get("/", h.getNegotiation)
		r.Post("/counter", h.counter)
		r.Post("/accept", h.acceptNegotiation)
		r.Post("/close", h.closeNegotiation)
	})

	r.Route("/orders", func(r chi.Router) {
		r.With(h.rbac.RequireAny(rbac.PermOrdersPay, rbac.PermOrdersManage)).Get("/", h.listOrders)
		r.With(h.rbac.RequireAny(rbac.PermOrdersPay, rbac.PermOrdersManage)).Get("/{id}", h.getOrder)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermOrdersManage))
			r.Post("/{id}/payment-links", h.sendPaymentLink)
			r.Post("/{id}/payment-links/resend", h.resendPaymentLink)
			r.Post("/{id}/payments/confirm", h.confirmPayment)
			r.Post("/{id}/balance", h.requestBalance)
		})
		r.With(h.rbac.RequireAny(rbac.PermOrdersPay, rbac.PermOrdersManage)).Post("/{id}/cancel", h.cancelOrder)
		r.With(h.rbac.RequireAny(rbac.PermOrdersFinalCheck)).Post("/{id}/final-check", h.finalCheck)
		r.With(h.rbac.RequireAny(rbac.PermOrdersManage, rbac.PermOrdersFulfillment)).Post("/{id}/forward", h.forward)
		r.With(h.rbac.RequireAny(rbac.PermOrdersFulfillment)).Post("/{id}/milestones", h.milestone)
		r.With(h.rbac.RequireAny(rbac.PermCommissionsView)).Get("/{id}/commission", h.getOrderCommission)
	})

	r.Route("/commissions", func(r chi.Router) {
		r.With(h.rbac.RequireAny(rbac.PermCommissionsView)).Get("/", h.listCommissions)
		r.With(h.rbac.RequireAny(rbac.PermCommissionsSettle)).Post("/{id}/pay", h.payCommission)
	})

	r.With(h.rbac.RequireAny(rbac.PermSweepRun)).Post("/sweeps", h.runSweep)
}

// ============================================================================
// REQUESTS
// ============================================================================

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutate(w, r, http.StatusCreated, "create request", func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.CreateRequest(ctx, actor, payload.Notes)
	})
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := RequestFilter{Status: RequestStatus(q.Get("status"))}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	items, total, err := h.service.ListRequests(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "list requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data": items,
		"meta": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "get request", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.GetRequest(ctx, actor, id)
	})
}

func (h *Handler) updateNotes(w http.ResponseWriter, r *http.Request) {
	var payload notesPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "update notes", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.UpdateNotes(ctx, actor, id, payload.Notes)
	})
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var payload itemPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "add item", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.AddItem(ctx, actor, id, payload.input())
	})
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var payload quantityPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "update item", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.UpdateItemQuantity(ctx, actor, id, itemID, payload.Quantity)
	})
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.mutateID(w, r, "remove item", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.RemoveItem(ctx, actor, id, itemID)
	})
}

func (h *Handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, "submit request", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.Submit(ctx, actor, id)
	})
}

func (h *Handler) validateRequest(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, "validate request", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.ValidateRequest(ctx, actor, id)
	})
}

func (h *Handler) assignRequest(w http.ResponseWriter, r *http.Request) {
	var payload assignPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "assign request", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.Assign(ctx, actor, id, payload.SalesPersonID)
	})
}

func (h *Handler) suggestPrices(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "suggest prices", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.SuggestPrices(ctx, actor, id)
	})
}

// ============================================================================
// QUOTATIONS
// ============================================================================

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "list quotations", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.ListQuotations(ctx, actor, id)
	})
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	var payload createQuotationPayload
	if !h.decode(w, r, &payload) {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.mutate(w, r, http.StatusCreated, "create quotation", func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.CreateQuotation(ctx, actor, id, lineInputs(payload.Lines), payload.Terms)
	})
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "get quotation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.GetQuotation(ctx, actor, id)
	})
}

func (h *Handler) reviseQuotation(w http.ResponseWriter, r *http.Request) {
	var payload reviseQuotationPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "revise quotation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.ReviseQuotation(ctx, actor, id, lineInputs(payload.Lines))
	})
}

func (h *Handler) sendQuotation(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, "send quotation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.SendQuotation(ctx, actor, id)
	})
}

func (h *Handler) extendQuotation(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, "extend quotation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.ExtendExpiry(ctx, actor, id)
	})
}

func (h *Handler) acceptQuotation(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, "accept quotation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.AcceptQuotation(ctx, actor, id)
	})
}

func (h *Handler) rejectQuotation(w http.ResponseWriter, r *http.Request) {
	var payload reasonPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "reject quotation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.RejectQuotation(ctx, actor, id, payload.Reason)
	})
}

// ============================================================================
// NEGOTIATIONS
// ============================================================================

func (h *Handler) openNegotiation(w http.ResponseWriter, r *http.Request) {
	var payload messagePayload
	if !h.decode(w, r, &payload) {
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.mutate(w, r, http.StatusCreated, "open negotiation", func(ctx context.Context, actor shared.Actor) (any, error) {
		return h.service.OpenNegotiation(ctx, actor, id, payload.Message)
	})
}

func (h *Handler) getQuotationNegotiation(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "get negotiation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.GetNegotiationForQuotation(ctx, actor, id)
	})
}

func (h *Handler) getNegotiation(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "get negotiation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.GetNegotiation(ctx, actor, id)
	})
}

func (h *Handler) counter(w http.ResponseWriter, r *http.Request) {
	var payload counterPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "counter", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.Counter(ctx, actor, id, payload.input(), payload.Message)
	})
}

func (h *Handler) acceptNegotiation(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, "accept negotiation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.AcceptNegotiation(ctx, actor, id)
	})
}

func (h *Handler) closeNegotiation(w http.ResponseWriter, r *http.Request) {
	var payload reasonPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "close negotiation", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.CloseNegotiation(ctx, actor, id, payload.Reason)
	})
}

// ============================================================================
// ORDERS
// ============================================================================

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := OrderFilter{Status: OrderStatus(q.Get("status"))}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	items, total, err := h.service.ListOrders(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "list orders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data": items,
		"meta": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "get order", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.GetOrder(ctx, actor, id)
	})
}

func (h *Handler) sendPaymentLink(w http.ResponseWriter, r *http.Request) {
	var payload paymentLinkPayload
	if !h.decode(w, r, &payload) {
		return
	}
	in := PaymentLinkInput{
		Amount:         payload.Amount,
		Method:         payload.Method,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	}
	h.mutateID(w, r, "send payment link", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.SendPaymentLink(ctx, actor, id, in)
	})
}

func (h *Handler) resendPaymentLink(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(idempotencyHeader)
	h.mutateID(w, r, "resend payment link", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.ResendPaymentLink(ctx, actor, id, key)
	})
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var payload confirmPaymentPayload
	if !h.decode(w, r, &payload) {
		return
	}
	in := ConfirmPaymentInput{
		PaymentID:      payload.PaymentID,
		Source:         payload.Source,
		GatewayRef:     payload.GatewayRef,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	}
	h.mutateID(w, r, "confirm payment", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.ConfirmPayment(ctx, actor, id, in)
	})
}

func (h *Handler) requestBalance(w http.ResponseWriter, r *http.Request) {
	var payload balancePayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "request balance", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.RequestBalance(ctx, actor, id, payload.DueAt)
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var payload reasonPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "cancel order", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.CancelOrder(ctx, actor, id, payload.Reason)
	})
}

func (h *Handler) finalCheck(w http.ResponseWriter, r *http.Request) {
	var payload finalCheckPayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "final check", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.RecordOpsFinalCheck(ctx, actor, id, *payload.Approve, payload.Note)
	})
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, "forward order", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.ForwardToFulfillment(ctx, actor, id)
	})
}

func (h *Handler) milestone(w http.ResponseWriter, r *http.Request) {
	var payload milestonePayload
	if !h.decode(w, r, &payload) {
		return
	}
	h.mutateID(w, r, "record milestone", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.RecordFulfillmentMilestone(ctx, actor, id, payload.Status, payload.lines())
	})
}

// ============================================================================
// COMMISSIONS & SWEEP
// ============================================================================

func (h *Handler) getOrderCommission(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "get commission", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.GetCommissionForOrder(ctx, actor, id)
	})
}

func (h *Handler) listCommissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListCommissions(r.Context(), actor)
	if err != nil {
		h.fail(w, "list commissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) payCommission(w http.ResponseWriter, r *http.Request) {
	h.mutateID(w, r, "pay commission", func(ctx context.Context, actor shared.Actor, id int64) (any, error) {
		return h.service.MarkCommissionPaid(ctx, actor, id)
	})
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper != nil {
		if err := h.sweeper.TriggerSweep(r.Context()); err != nil {
			h.fail(w, "trigger sweep", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
		return
	}
	result, err := h.service.Sweep(r.Context(), h.service.now())
	if err != nil {
		h.fail(w, "run sweep", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// ============================================================================
// PLUMBING
// ============================================================================

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
	}
	return actor, ok
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := bind(r, dest); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, shared.Actor, int64) (any, error)) {
	h.mutateID(w, r, op, fn)
}

func (h *Handler) mutateID(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, shared.Actor, int64) (any, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.mutate(w, r, http.StatusOK, op, func(ctx context.Context, actor shared.Actor) (any, error) {
		return fn(ctx, actor, id)
	})
}

// mutate runs fn for the current actor. A no-op result answers 200 with
// the unchanged state.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, status int, op string, fn func(context.Context, shared.Actor) (any, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	data, err := fn(r.Context(), actor)
	switch {
	case err == nil:
		httpx.JSON(w, status, map[string]any{"data": data})
	case errors.Is(err, shared.ErrNoop):
		httpx.JSON(w, http.StatusOK, map[string]any{"data": data, "code": shared.CodeOf(err)})
	default:
		h.fail(w, op, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	} else if h.metrics != nil {
		h.metrics.Rejected(shared.CodeOf(err))
	}
	httpx.RespondError(w, err)
}
