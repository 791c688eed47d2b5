package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/utils"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// BroadcastService creates and manages broadcasts. Sending happens in the
// Dispatcher; this service only moves rows into a dispatchable state.
type BroadcastService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *BroadcastService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// List returns a page of broadcasts, newest first, optionally filtered by status.
func (s *BroadcastService) List(ctx context.Context, p domain.Principal, status string, page, pageSize int) ([]domain.Broadcast, int64, error) {
	page, pageSize = utils.NormalizePage(page, pageSize)
	return repo.ListBroadcastsPage(ctx, s.DB, p.AccountID, status, utils.Offset(page, pageSize), pageSize)
}

// Create stores a broadcast. A scheduled_at in the future makes it
// "scheduled"; otherwise it stays a "draft" until sent.
func (s *BroadcastService) Create(ctx context.Context, p domain.Principal, in validate.BroadcastInput) (*domain.Broadcast, error) {
	b, err := s.build(ctx, p, in)
	if err != nil {
		return nil, err
	}
	if in.ScheduledAt != nil && in.ScheduledAt.After(s.now()) {
		at := in.ScheduledAt.UTC()
		b.Status, b.ScheduledAt = domain.BroadcastScheduled, &at
	}
	if err := repo.CreateBroadcast(ctx, s.DB, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Send stores a broadcast scheduled for immediate dispatch.
func (s *BroadcastService) Send(ctx context.Context, p domain.Principal, in validate.BroadcastInput) (*domain.Broadcast, error) {
	tr := otel.Tracer("services/BroadcastService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(attribute.String("account.id", p.AccountID)),
	)
	defer span.End()

	b, err := s.build(ctx, p, in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	b.Status, b.ScheduledAt = domain.BroadcastScheduled, &now
	if err := repo.CreateBroadcast(ctx, s.DB, b); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("broadcast.id", b.ID))
	return b, nil
}

// Get returns one broadcast.
func (s *BroadcastService) Get(ctx context.Context, p domain.Principal, id string) (*domain.Broadcast, error) {
	b, err := repo.GetBroadcast(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrBroadcastNotFound
	}
	return b, err
}

// Cancel stops a draft or scheduled broadcast.
func (s *BroadcastService) Cancel(ctx context.Context, p domain.Principal, id string) (*domain.Broadcast, error) {
	err := repo.TransitionBroadcast(ctx, s.DB, p.AccountID, id,
		[]string{domain.BroadcastDraft, domain.BroadcastScheduled}, domain.BroadcastCancelled)
	if errors.Is(err, repo.ErrNotFound) {
		// Distinguish a missing row from one that already left the cancellable states.
		if _, gerr := s.Get(ctx, p, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrBroadcastNotCancellable
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, p, id)
}

// Recipients returns a page of the materialized recipients of a broadcast.
func (s *BroadcastService) Recipients(ctx context.Context, p domain.Principal, id string, page, pageSize int) ([]domain.BroadcastRecipient, int64, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, 0, err
	}
	page, pageSize = utils.NormalizePage(page, pageSize)
	return repo.ListRecipientsPage(ctx, s.DB, id, utils.Offset(page, pageSize), pageSize)
}

func (s *BroadcastService) build(ctx context.Context, p domain.Principal, in validate.BroadcastInput) (*domain.Broadcast, error) {
	if _, err := repo.GetDevice(ctx, s.DB, p.AccountID, in.DeviceID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	labels := validate.NormalizeLabels(in.PhonebookData)
	if len(labels) == 0 {
		if phones, _ := validate.SplitPhones(in.CustomText); len(phones) == 0 {
			return nil, ErrNoRecipients
		}
	}
	return &domain.Broadcast{
		AccountID:        p.AccountID,
		DeviceID:         in.DeviceID,
		Name:             strings.TrimSpace(in.Name),
		TemplateName:     strings.TrimSpace(in.TemplateName),
		TemplateLanguage: strings.TrimSpace(in.TemplateLanguage),
		Body:             in.Body,
		CustomText:       in.CustomText,
		PhonebookData:    labels,
		Status:           domain.BroadcastDraft,
	}, nil
}
