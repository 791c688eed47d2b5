// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for accounts
// (owners, agents and admins).
//
// Agents are accounts whose ParentID points at the owning tenant; listing
// helpers accept an AccountFilter so the same queries serve the agents
// screen and the admin users screen.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// AccountFilter narrows ListAccounts. Empty fields are ignored.
type AccountFilter struct {
	Role     string
	ParentID string
	Status   string
}

func (f AccountFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.ParentID != "" {
		q = q.Where("parent_id = ?", f.ParentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

// CreateAccount inserts a, assigning an ID when empty. Email is stored
// lower-cased. Unique violations (email, phone) surface as ErrDuplicate.
func CreateAccount(ctx context.Context, db *gorm.DB, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Status == "" {
		a.Status = domain.AccountActive
	}
	if a.Role == "" {
		a.Role = domain.RoleUser
	}
	return dupOr(db.WithContext(ctx).Create(a).Error)
}

// GetAccount fetches an account by ID or returns ErrNotFound.
func GetAccount(ctx context.Context, db *gorm.DB, id string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountByEmail looks an account up by its (case-insensitive) email.
func GetAccountByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Account, error) {
	var a domain.Account
	err := db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgent fetches an agent belonging to parentID.
func GetAgent(ctx context.Context, db *gorm.DB, parentID, id string) (*domain.Account, error) {
	var a domain.Account
	err := db.WithContext(ctx).
		Where("id = ? AND parent_id = ? AND role = ?", id, parentID, domain.RoleAgent).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccountsPage returns accounts matching f, newest first, plus the
// total count for pagination metadata.
func ListAccountsPage(ctx context.Context, db *gorm.DB, f AccountFilter, offset, limit int) ([]domain.Account, int64, error) {
	var total int64
	if err := f.apply(db.WithContext(ctx).Model(&domain.Account{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Account
	err := f.apply(db.WithContext(ctx)).
		Order("created_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// UpdateAccount applies the column updates to account id. Zero rows
// affected yields ErrNotFound.
func UpdateAccount(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Updates(updates)
	if IsDuplicate(res.Error) {
		return ErrDuplicate
	}
	return affected(res)
}

// SaveAccount writes the listed columns of a. It is a struct update so
// serialized columns such as permissions are encoded.
func SaveAccount(ctx context.Context, db *gorm.DB, a *domain.Account, columns ...string) error {
	res := db.WithContext(ctx).Model(a).Select(columns).Updates(a)
	if IsDuplicate(res.Error) {
		return ErrDuplicate
	}
	return affected(res)
}

// SetAccountStatus changes the status column of account id.
func SetAccountStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	return UpdateAccount(ctx, db, id, map[string]any{"status": status})
}

// TouchLogin records a successful login.
func TouchLogin(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Update("last_login_at", at.UTC()).Error
}

// DeleteAgent soft-deletes an agent owned by parentID.
func DeleteAgent(ctx context.Context, db *gorm.DB, parentID, id string) error {
	return affected(db.WithContext(ctx).
		Where("id = ? AND parent_id = ? AND role = ?", id, parentID, domain.RoleAgent).
		Delete(&domain.Account{}))
}
