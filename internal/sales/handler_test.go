package sales

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/atelier-b2b/atelier/internal/rbac"
	"github.com/atelier-b2b/atelier/internal/shared"
)

type countingRecorder struct {
	mu    sync.Mutex
	codes []string
}

func (c *countingRecorder) Rejected(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
}

type stubTrigger struct {
	calls int
}

func (s *stubTrigger) TriggerSweep(context.Context) error {
	s.calls++
	return nil
}

type apiResponse struct {
	Data   json.RawMessage   `json:"data"`
	Meta   shared.Pagination `json:"meta"`
	Code   string            `json:"code"`
	Detail string            `json:"detail"`
	Status any               `json:"status"`
}

func newTestRouter(f *fixture, opts ...HandlerOption) chi.Router {
	router := chi.NewRouter()
	NewHandler(nil, f.svc, rbac.Middleware{}, opts...).MountRoutes(router)
	return router
}

func call(t *testing.T, router http.Handler, actor *shared.Actor, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp apiResponse
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	}
	return rr, resp
}

func TestHandlerRequestLifecycle(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rr, resp := call(t, router, &buyerActor, http.MethodPost, "/requests", map[string]any{"notes": "gala"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var req Request
	require.NoError(t, json.Unmarshal(resp.Data, &req))
	require.Equal(t, RequestStatusDraft, req.Status)

	base := fmt.Sprintf("/requests/%d", req.ID)
	rr, _ = call(t, router, &buyerActor, http.MethodPost, base+"/items", map[string]any{
		"kind": "internal", "sku": "RING-001", "quantity": 2,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, resp = call(t, router, &buyerActor, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &req))
	require.Equal(t, RequestStatusSubmitted, req.Status)

	rr, resp = call(t, router, &buyerActor, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "request_locked", resp.Code)

	rr, resp = call(t, router, &opsActor, http.MethodPost, base+"/validate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report ValidationReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	require.Len(t, report.FullyAvailable, 1)

	rr, resp = call(t, router, &buyerActor, http.MethodGet, "/requests?per_page=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, resp.Meta.Total)
	require.Equal(t, 5, resp.Meta.PerPage)
	require.Equal(t, 1, resp.Meta.Page)
}

func TestHandlerRejectsInvalidPayloads(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	req, err := f.svc.CreateRequest(context.Background(), buyerActor, "")
	require.NoError(t, err)
	path := fmt.Sprintf("/requests/%d/items", req.ID)

	rr, resp := call(t, router, &buyerActor, http.MethodPost, path, map[string]any{"kind": "vintage", "quantity": 0})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, resp.Detail, "kind must be one of")
	require.Contains(t, resp.Detail, "quantity is required")

	rr, _ = call(t, router, &buyerActor, http.MethodPost, path, `{"kind":"internal","sku":"RING-001","quantity":1,"colour":"rose"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr, resp = call(t, router, &buyerActor, http.MethodPost, path, map[string]any{"kind": "internal", "quantity": 1})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_item", resp.Code)

	rr, _ = call(t, router, &buyerActor, http.MethodPost, "/requests/abc/items", map[string]any{"kind": "internal", "sku": "X", "quantity": 1})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerEnforcesPermissions(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rr, _ := call(t, router, nil, http.MethodGet, "/requests", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = call(t, router, &sellerActor, http.MethodPost, "/requests", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = call(t, router, &buyerActor, http.MethodPost, "/requests/1/validate", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = call(t, router, &opsActor, http.MethodPost, "/commissions/1/pay", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = call(t, router, &sellerActor, http.MethodPost, "/sweeps", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandlerReportsNoopWithCode(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	_, q := f.sentQuotation(t)
	path := fmt.Sprintf("/quotations/%d/extend", q.ID)

	rr, resp := call(t, router, &sellerActor, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, resp.Code)

	rr, resp = call(t, router, &sellerActor, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "extension_already_used", resp.Code)
	var got Quotation
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	require.Equal(t, q.ID, got.ID)
}

func TestHandlerCountsRejections(t *testing.T) {
	f := newFixture(t)
	recorder := &countingRecorder{}
	router := newTestRouter(f, WithRejectionRecorder(recorder))
	o := f.pendingOrder(t)

	rr, resp := call(t, router, &sellerActor, http.MethodPost, fmt.Sprintf("/orders/%d/forward", o.ID), nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "payment_not_confirmed", resp.Code)

	rr, _ = call(t, router, &sellerActor, http.MethodGet, "/orders/9999", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	require.Equal(t, []string{"payment_not_confirmed", "order_not_found"}, recorder.codes)
}

func TestHandlerPaymentLinkHonoursIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	o := f.pendingOrder(t)
	path := fmt.Sprintf("/orders/%d/payment-links", o.ID)

	for range 2 {
		rr, _ := call(t, router, &sellerActor, http.MethodPost, path, map[string]any{"method": "card"}, idempotencyHeader, "retry-1")
		require.Equal(t, http.StatusOK, rr.Code)
	}

	got, err := f.svc.GetOrder(context.Background(), sellerActor, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Payments, 1)
	require.Equal(t, "card", got.Payments[0].Method)

	rr, resp := call(t, router, &sellerActor, http.MethodPost, path, map[string]any{"method": "cheque"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, resp.Detail, "method must be one of")
}

func TestHandlerBuyerCancelsOrder(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	o := f.pendingOrder(t)

	rr, resp := call(t, router, &buyerActor, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", o.ID), map[string]any{"reason": "budget cut"})
	require.Equal(t, http.StatusOK, rr.Code)
	var got Order
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	require.Equal(t, OrderStatusCancelled, got.Status)
	require.Equal(t, "budget cut", got.CancelReason)
}

func TestHandlerSweep(t *testing.T) {
	f := newFixture(t)

	rr, resp := call(t, newTestRouter(f), &adminActor, http.MethodPost, "/sweeps", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var result SweepResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))

	trigger := &stubTrigger{}
	rr, resp = call(t, newTestRouter(f, WithSweepTrigger(trigger)), &adminActor, http.MethodPost, "/sweeps", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, "queued", resp.Status)
	require.Equal(t, 1, trigger.calls)
}
