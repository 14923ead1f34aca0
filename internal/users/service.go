package users

import (
	"context"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context, role string, activeOnly bool) ([]User, error)
}

// Service handles user lookups.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListUsers returns users filtered by role.
func (s *Service) ListUsers(ctx context.Context, role string) ([]User, error) {
	return s.repo.ListUsers(ctx, role, false)
}

// ListAssignable returns active users that may own a request.
func (s *Service) ListAssignable(ctx context.Context) ([]User, error) {
	all, err := s.repo.ListUsers(ctx, "", true)
	if err != nil {
		return nil, err
	}
	out := make([]User, 0, len(all))
	for _, u := range all {
		if u.CanOwnSales() {
			out = append(out, u)
		}
	}
	return out, nil
}
