package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// DeviceService manages the WhatsApp phone numbers of a tenant.
type DeviceService struct {
	DB *gorm.DB
}

// List returns the tenant's devices.
func (s *DeviceService) List(ctx context.Context, p domain.Principal) ([]domain.Device, error) {
	return repo.ListDevices(ctx, s.DB, p.AccountID)
}

// Create registers a phone number id. Ids are unique across tenants because
// they route inbound webhooks.
func (s *DeviceService) Create(ctx context.Context, p domain.Principal, in validate.DeviceInput) (*domain.Device, error) {
	if err := ownerOnly(p); err != nil {
		return nil, err
	}
	d := &domain.Device{
		AccountID:     p.AccountID,
		Name:          strings.TrimSpace(in.Name),
		PhoneNumberID: strings.TrimSpace(in.PhoneNumberID),
		DisplayPhone:  strings.TrimSpace(in.DisplayPhone),
	}
	if err := repo.CreateDevice(ctx, s.DB, d); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrDeviceExists
		}
		return nil, err
	}
	return d, nil
}

// Get returns one of the tenant's devices.
func (s *DeviceService) Get(ctx context.Context, p domain.Principal, id string) (*domain.Device, error) {
	d, err := repo.GetDevice(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	return d, err
}

// Delete removes a device.
func (s *DeviceService) Delete(ctx context.Context, p domain.Principal, id string) error {
	if err := ownerOnly(p); err != nil {
		return err
	}
	err := repo.DeleteDevice(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrDeviceNotFound
	}
	return err
}
