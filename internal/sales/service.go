// Package sales implements the request → quotation → negotiation → order
// workflow and the sweep that expires its time-bounded records.
package sales

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atelier-b2b/atelier/internal/notifications"
	"github.com/atelier-b2b/atelier/internal/shared"
)

// Config holds the workflow windows.
type Config struct {
	QuotationValidity  time.Duration
	PaymentWindow      time.Duration
	ReminderLead       time.Duration
	CatalogConcurrency int
	SweepBatch         int
}

// DefaultConfig mirrors the environment defaults.
func DefaultConfig() Config {
	return Config{
		QuotationValidity:  48 * time.Hour,
		PaymentWindow:      72 * time.Hour,
		ReminderLead:       12 * time.Hour,
		CatalogConcurrency: 8,
		SweepBatch:         200,
	}
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Repo        RepositoryPort
	Users       UserDirectory
	Catalog     Catalog
	Notifier    Notifier
	Fulfillment Fulfillment
	Idempotency IdempotencyStore
	Audit       AuditPort
	Logger      *slog.Logger
	Clock       func() time.Time
	Money       notifications.MoneyFormatter
}

// Service orchestrates the sales workflow.
type Service struct {
	repo        RepositoryPort
	users       UserDirectory
	catalog     Catalog
	notifier    Notifier
	fulfillment Fulfillment
	idempotency IdempotencyStore
	audit       AuditPort
	logger      *slog.Logger
	now         func() time.Time
	money       notifications.MoneyFormatter
	cfg         Config
}

// NewService constructs the workflow service.
func NewService(deps Deps, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.QuotationValidity <= 0 {
		cfg.QuotationValidity = def.QuotationValidity
	}
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = def.PaymentWindow
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = def.ReminderLead
	}
	if cfg.CatalogConcurrency <= 0 {
		cfg.CatalogConcurrency = def.CatalogConcurrency
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:        deps.Repo,
		users:       deps.Users,
		catalog:     deps.Catalog,
		notifier:    deps.Notifier,
		fulfillment: deps.Fulfillment,
		idempotency: deps.Idempotency,
		audit:       deps.Audit,
		logger:      logger,
		now:         clock,
		money:       deps.Money,
		cfg:         cfg,
	}
}

// effects collects side effects that run only after a transaction commits.
type effects struct {
	notes  []notifications.Notification
	audits []shared.AuditLog
}

func (e *effects) notify(userID int64, typ notifications.Type, title, message, link string) {
	if userID <= 0 {
		return
	}
	e.notes = append(e.notes, notifications.Notification{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Link:    link,
	})
}

func (e *effects) transition(actor shared.Actor, entity string, id int64, action string, from, to string) {
	e.audits = append(e.audits, shared.Transition(actor, entity, id, action, from, to))
}

// flush delivers notifications and audit entries. Failures are logged.
func (s *Service) flush(ctx context.Context, fx *effects) {
	for _, n := range fx.notes {
		if s.notifier == nil {
			break
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("notification failed",
				slog.Int64("user_id", n.UserID),
				slog.String("type", string(n.Type)),
				slog.Any("error", err))
		}
	}
	for _, entry := range fx.audits {
		if s.audit == nil {
			break
		}
		entry.At = s.now()
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("audit record failed",
				slog.String("entity", entry.Entity),
				slog.String("entity_id", entry.EntityID),
				slog.Any("error", err))
		}
	}
}

func requestLink(id int64) string   { return fmt.Sprintf("/requests/%d", id) }
func quotationLink(id int64) string { return fmt.Sprintf("/quotations/%d", id) }
func orderLink(id int64) string     { return fmt.Sprintf("/orders/%d", id) }

// ============================================================================
// AUTHORIZATION
// ============================================================================

// requireOwner allows only the buyer owning the request.
func requireOwner(actor shared.Actor, req Request) error {
	if !actor.IsBuyer() || req.BuyerID != actor.ID {
		return ErrNotYours
	}
	return nil
}

// requireOperations allows operations staff and admins.
func requireOperations(actor shared.Actor) error {
	if actor.Role != shared.RoleOperations && actor.Role != shared.RoleAdmin {
		return ErrNotAllowed
	}
	return nil
}

// requireSeller allows sellers. A sales user must be the one assigned to
// the request; operations and admins act on any request.
func requireSeller(actor shared.Actor, req Request) error {
	if !actor.IsSeller() {
		return ErrNotAllowed
	}
	if actor.Role == shared.RoleSales && (req.AssignedSalesID == nil || *req.AssignedSalesID != actor.ID) {
		return ErrNotAllowed
	}
	return nil
}

// requireParticipant allows the owning buyer or a seller with access.
func requireParticipant(actor shared.Actor, req Request) error {
	if actor.IsBuyer() {
		return requireOwner(actor, req)
	}
	return requireSeller(actor, req)
}
