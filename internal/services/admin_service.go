package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/utils"
)

// AdminService backs the platform administration screens.
type AdminService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *AdminService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Users lists accounts, optionally narrowed to one role.
func (s *AdminService) Users(ctx context.Context, p domain.Principal, role string, page, pageSize int) ([]domain.Account, int64, error) {
	if !p.IsAdmin() {
		return nil, 0, ErrForbidden
	}
	switch role {
	case "", domain.RoleAdmin, domain.RoleUser, domain.RoleAgent:
	default:
		return nil, 0, ErrInvalidStatus
	}
	page, pageSize = utils.NormalizePage(page, pageSize)
	return repo.ListAccountsPage(ctx, s.DB, repo.AccountFilter{Role: role}, utils.Offset(page, pageSize), pageSize)
}

// Admins lists every administrator.
func (s *AdminService) Admins(ctx context.Context, p domain.Principal) ([]domain.Account, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	out, _, err := repo.ListAccountsPage(ctx, s.DB, repo.AccountFilter{Role: domain.RoleAdmin}, 0, 1000)
	return out, err
}

// SetStatus blocks or unblocks an account. Blocking revokes its sessions.
func (s *AdminService) SetStatus(ctx context.Context, p domain.Principal, id, status string) (*domain.Account, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if status != domain.AccountActive && status != domain.AccountBlocked {
		return nil, ErrInvalidStatus
	}
	if id == p.ActorID {
		return nil, ErrCannotBlockSelf
	}
	if err := repo.SetAccountStatus(ctx, s.DB, id, status); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if status == domain.AccountBlocked {
		if _, err := repo.RevokeAllSessions(ctx, s.DB, id, s.now()); err != nil {
			return nil, err
		}
	}
	return repo.GetAccount(ctx, s.DB, id)
}
