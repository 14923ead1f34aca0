package users

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atelier-b2b/atelier/internal/shared"
)

// ErrUserNotFound is returned for unknown user ids.
var ErrUserNotFound = errors.New("users: not found")

// User represents a user account.
type User struct {
	ID             int64           `json:"id"`
	Email          string          `json:"email"`
	Name           string          `json:"name"`
	Role           shared.Role     `json:"role"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CanOwnSales reports whether the user may be assigned a request.
func (u User) CanOwnSales() bool {
	return u.IsActive && (u.Role == shared.RoleSales || u.Role == shared.RoleAdmin)
}
