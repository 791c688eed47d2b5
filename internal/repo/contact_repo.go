// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// phonebook (contacts and their labels).
//
// Labels are stored as a JSON array in a text column, so label filters use
// a LIKE match on the quoted label (`%"vip"%`). Callers must pass labels
// already normalized (lower-case, trimmed) for the match to be exact.
package repo

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// ContactFilter narrows contact listings. Empty fields are ignored.
type ContactFilter struct {
	Label string // exact label
	Query string // substring of name, phone or email
}

func (f ContactFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Label != "" {
		q = q.Where("labels LIKE ?", labelPattern(f.Label))
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("(LOWER(formatted_name) LIKE ? OR phone LIKE ? OR LOWER(email) LIKE ?)", like, like, like)
	}
	return q
}

func labelPattern(label string) string {
	return `%"` + label + `"%`
}

// ListContactsPage returns a page of contacts for accountID ordered by name,
// plus the total number of matches.
func ListContactsPage(ctx context.Context, db *gorm.DB, accountID string, f ContactFilter, offset, limit int) ([]domain.Contact, int64, error) {
	base := func() *gorm.DB {
		return f.apply(db.WithContext(ctx).Model(&domain.Contact{}).Where("account_id = ?", accountID))
	}
	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Contact
	err := base().
		Order("formatted_name asc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, total, err
}

// ListAllContacts returns every contact of accountID (used by CSV export).
func ListAllContacts(ctx context.Context, db *gorm.DB, accountID string) ([]domain.Contact, error) {
	var out []domain.Contact
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("formatted_name asc, id asc").
		Find(&out).Error
	return out, err
}

// ContactsWithAnyLabel returns the contacts of accountID carrying at least
// one of labels.
func ContactsWithAnyLabel(ctx context.Context, db *gorm.DB, accountID string, labels []string) ([]domain.Contact, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	q := db.WithContext(ctx).Where("account_id = ?", accountID)
	ors := db.Where("labels LIKE ?", labelPattern(labels[0]))
	for _, l := range labels[1:] {
		ors = ors.Or("labels LIKE ?", labelPattern(l))
	}
	var out []domain.Contact
	err := q.Where(ors).Order("phone asc").Find(&out).Error
	return out, err
}

// GetContact fetches a contact owned by accountID.
func GetContact(ctx context.Context, db *gorm.DB, accountID, id string) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContactByPhone fetches a contact by its normalized phone number.
func GetContactByPhone(ctx context.Context, db *gorm.DB, accountID, phone string) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).Where("account_id = ? AND phone = ?", accountID, phone).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateContact inserts c. A phone already present for the account yields
// ErrDuplicate.
func CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return dupOr(db.WithContext(ctx).Create(c).Error)
}

// UpsertContact inserts c or, when (account_id, phone) exists, overwrites
// name, email and labels.
func UpsertContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"formatted_name", "email", "labels", "updated_at"}),
	}).Create(c).Error
}

// SaveContact writes every field of an existing contact.
func SaveContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	res := db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ? AND account_id = ?", c.ID, c.AccountID).
		Select("formatted_name", "phone", "email", "labels", "updated_at").
		Updates(c)
	if IsDuplicate(res.Error) {
		return ErrDuplicate
	}
	return affected(res)
}

// DeleteContact removes a contact owned by accountID.
func DeleteContact(ctx context.Context, db *gorm.DB, accountID, id string) error {
	return affected(db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		Delete(&domain.Contact{}))
}

// ListLabels returns the distinct labels used across the account's
// contacts, sorted. The JSON column is decoded by GORM, so the union is
// computed here rather than in SQL.
func ListLabels(ctx context.Context, db *gorm.DB, accountID string) ([]string, error) {
	var rows []domain.Contact
	err := db.WithContext(ctx).
		Select("id", "labels").
		Where("account_id = ? AND labels IS NOT NULL AND labels <> '' AND labels <> '[]' AND labels <> 'null'", accountID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, r := range rows {
		for _, l := range r.Labels {
			seen[l] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}
