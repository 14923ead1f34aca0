package sales

import "github.com/atelier-b2b/atelier/internal/shared"

// Workflow errors. Each carries a stable code returned to API callers.
var (
	ErrRequestNotFound     = shared.NewError("request_not_found", shared.ErrNotFound, "request not found")
	ErrRequestItemNotFound = shared.NewError("request_item_not_found", shared.ErrNotFound, "request item not found")
	ErrQuotationNotFound   = shared.NewError("quotation_not_found", shared.ErrNotFound, "quotation not found")
	ErrNegotiationNotFound = shared.NewError("negotiation_not_found", shared.ErrNotFound, "negotiation not found")
	ErrOrderNotFound       = shared.NewError("order_not_found", shared.ErrNotFound, "order not found")
	ErrCommissionNotFound  = shared.NewError("commission_not_found", shared.ErrNotFound, "commission not found")

	ErrNotYours   = shared.NewError("not_yours", shared.ErrForbidden, "request belongs to another buyer")
	ErrNotAllowed = shared.NewError("not_allowed", shared.ErrForbidden, "actor may not perform this operation")

	ErrEmptyRequest           = shared.NewError("empty_request", shared.ErrPrecondition, "request has no items")
	ErrRequestLocked          = shared.NewError("request_locked", shared.ErrPrecondition, "request is no longer editable")
	ErrNotSubmitted           = shared.NewError("not_submitted", shared.ErrPrecondition, "request has not been submitted")
	ErrInvalidAssignee        = shared.NewError("invalid_assignee", shared.ErrPrecondition, "assignee must be an active sales or admin user")
	ErrNotValidated           = shared.NewError("not_validated", shared.ErrPrecondition, "request is not awaiting review")
	ErrAlreadyConverted       = shared.NewError("already_converted", shared.ErrPrecondition, "request already has an order")
	ErrNotQuotable            = shared.NewError("not_quotable", shared.ErrPrecondition, "request is not ready for quoting")
	ErrActiveQuotationExists  = shared.NewError("active_quotation_exists", shared.ErrPrecondition, "request already has an active quotation")
	ErrNotDraftOrNotRevisable = shared.NewError("not_draft_or_not_revisable", shared.ErrPrecondition, "quotation can no longer be revised")
	ErrAlreadySent            = shared.NewError("already_sent", shared.ErrPrecondition, "quotation is not a draft")
	ErrNotSent                = shared.NewError("not_sent", shared.ErrPrecondition, "quotation has not been sent")
	ErrQuotationExpired       = shared.NewError("quotation_expired", shared.ErrPrecondition, "quotation has expired")
	ErrNotAcceptable          = shared.NewError("not_acceptable", shared.ErrPrecondition, "quotation is not open for a decision")
	ErrAlreadyOpen            = shared.NewError("already_open", shared.ErrPrecondition, "quotation already has a negotiation")
	ErrWrongTurn              = shared.NewError("wrong_turn", shared.ErrPrecondition, "it is not this party's turn")
	ErrNegotiationClosed      = shared.NewError("negotiation_closed", shared.ErrPrecondition, "negotiation is closed")
	ErrNotParticipant         = shared.NewError("not_participant", shared.ErrForbidden, "actor is not a party to this negotiation")
	ErrPaymentLinkBlocked     = shared.NewError("payment_link_blocked", shared.ErrPrecondition, "order cannot take a payment link")
	ErrPaymentLinkActive      = shared.NewError("payment_link_active", shared.ErrPrecondition, "a payment link is still live")
	ErrPaymentLinkNotSent     = shared.NewError("payment_link_not_sent", shared.ErrPrecondition, "no payment link has been sent")
	ErrNoOpenPayment          = shared.NewError("no_open_payment", shared.ErrPrecondition, "order has no payment awaiting confirmation")
	ErrAlreadyPaid            = shared.NewError("already_paid", shared.ErrPrecondition, "order is fully paid")
	ErrAlreadyForwarded       = shared.NewError("already_forwarded", shared.ErrPrecondition, "order was forwarded to fulfillment")
	ErrPaymentNotConfirmed    = shared.NewError("payment_not_confirmed", shared.ErrPrecondition, "payment has not been confirmed")
	ErrOpsRejected            = shared.NewError("ops_rejected", shared.ErrPrecondition, "operations rejected the order")
	ErrNoDeposit              = shared.NewError("no_deposit", shared.ErrPrecondition, "balance requires a confirmed deposit")
	ErrOrderCancelled         = shared.NewError("order_cancelled", shared.ErrPrecondition, "order is cancelled")
	ErrNotForwarded           = shared.NewError("not_forwarded", shared.ErrPrecondition, "order has not been forwarded")
	ErrMilestoneRegression    = shared.NewError("milestone_regression", shared.ErrPrecondition, "fulfillment status cannot move backwards")
	ErrOrderInRecheck         = shared.NewError("order_in_recheck", shared.ErrPrecondition, "order awaits a new payment link")

	ErrInvalidItem   = shared.NewError("invalid_item", shared.ErrValidation, "request item is invalid")
	ErrInvalidLines  = shared.NewError("invalid_lines", shared.ErrValidation, "quotation lines are invalid")
	ErrInvalidAmount = shared.NewError("invalid_amount", shared.ErrValidation, "amount is invalid")
	ErrInvalidDueAt  = shared.NewError("invalid_due_at", shared.ErrValidation, "due date must be in the future")
	ErrInvalidStatus = shared.NewError("invalid_status", shared.ErrValidation, "status is not a fulfillment milestone")

	ErrExtensionAlreadyUsed = shared.NewError("extension_already_used", shared.ErrNoop, "expiry extension already used")
	ErrCommissionPaid       = shared.NewError("commission_already_paid", shared.ErrNoop, "commission already paid")
)
