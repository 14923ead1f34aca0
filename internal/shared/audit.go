package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID    int64
	Action     string
	Entity     string
	EntityID   string
	FromStatus string
	ToStatus   string
	Meta       map[string]any
	At         time.Time
}

// Transition builds an audit entry for a status change.
func Transition(actor Actor, entity string, id int64, action, from, to string) AuditLog {
	return AuditLog{
		ActorID:    actor.ID,
		Action:     action,
		Entity:     entity,
		EntityID:   strconv.FormatInt(id, 10),
		FromStatus: from,
		ToStatus:   to,
		Meta:       map[string]any{"role": string(actor.Role)},
	}
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, from_status, to_status, meta, occurred_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, COALESCE($8, NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, log.FromStatus, log.ToStatus, metaJSON, at)
	return err
}
