// Package notifications queues and stores user notifications raised by
// workflow transitions. Delivery is asynchronous and never blocks the
// transition that triggered it.
package notifications

import (
	"errors"
	"time"
)

// Type classifies a notification.
type Type string

const (
	TypeRequestAssigned     Type = "request_assigned"
	TypeQuotationSent       Type = "quotation_sent"
	TypeQuotationRevised    Type = "quotation_revised"
	TypeQuotationAccepted   Type = "quotation_accepted"
	TypeQuotationRejected   Type = "quotation_rejected"
	TypeQuotationExpiring   Type = "quotation_expiring"
	TypeQuotationExpired    Type = "quotation_expired"
	TypeNegotiationOpened   Type = "negotiation_opened"
	TypeNegotiationCounter  Type = "negotiation_counter"
	TypeNegotiationAccepted Type = "negotiation_accepted"
	TypeNegotiationClosed   Type = "negotiation_closed"
	TypeOrderCreated        Type = "order_created"
	TypePaymentLinkSent     Type = "payment_link_sent"
	TypePaymentConfirmed    Type = "payment_confirmed"
	TypePaymentExpiring     Type = "payment_expiring"
	TypePaymentExpired      Type = "payment_expired"
	TypeBalanceRequested    Type = "balance_requested"
	TypeOrderForwarded      Type = "order_forwarded"
	TypeOrderCancelled      Type = "order_cancelled"
	TypeOrderDelivered      Type = "order_delivered"
	TypeCommissionCreated   Type = "commission_created"
)

// Notification is a message addressed to one user.
type Notification struct {
	ID        int64      `json:"id,omitempty"`
	UserID    int64      `json:"user_id"`
	Type      Type       `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Link      string     `json:"link,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Validate checks the fields required for delivery.
func (n Notification) Validate() error {
	if n.UserID <= 0 {
		return errors.New("notifications: user id required")
	}
	if n.Type == "" || n.Title == "" {
		return errors.New("notifications: type and title required")
	}
	return nil
}
