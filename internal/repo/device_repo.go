// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for WhatsApp
// devices (registered business phone numbers).
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
)

// CreateDevice inserts d. A phone_number_id already registered yields ErrDuplicate.
func CreateDevice(ctx context.Context, db *gorm.DB, d *domain.Device) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return dupOr(db.WithContext(ctx).Create(d).Error)
}

// ListDevices returns the devices of accountID ordered by name.
func ListDevices(ctx context.Context, db *gorm.DB, accountID string) ([]domain.Device, error) {
	var out []domain.Device
	err := db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("name asc, id asc").
		Find(&out).Error
	return out, err
}

// GetDevice fetches a device owned by accountID.
func GetDevice(ctx context.Context, db *gorm.DB, accountID, id string) (*domain.Device, error) {
	var d domain.Device
	if err := db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeviceByPhoneNumberID resolves the device a webhook event targets.
func GetDeviceByPhoneNumberID(ctx context.Context, db *gorm.DB, phoneNumberID string) (*domain.Device, error) {
	var d domain.Device
	if err := db.WithContext(ctx).Where("phone_number_id = ?", phoneNumberID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDevice removes a device owned by accountID.
func DeleteDevice(ctx context.Context, db *gorm.DB, accountID, id string) error {
	return affected(db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		Delete(&domain.Device{}))
}
