package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/validate"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

// TemplateService manages local template records and syncs them from the
// Cloud API.
type TemplateService struct {
	DB     *gorm.DB
	Source whatsapp.TemplateSource
}

// List returns the tenant's templates.
func (s *TemplateService) List(ctx context.Context, p domain.Principal) ([]domain.Template, error) {
	return repo.ListTemplates(ctx, s.DB, p.AccountID)
}

// Create stores a template defined locally.
func (s *TemplateService) Create(ctx context.Context, p domain.Principal, in validate.TemplateInput) (*domain.Template, error) {
	comps, err := json.Marshal(in.Components)
	if err != nil {
		return nil, validate.Fail("components", "must be valid JSON")
	}
	t := &domain.Template{
		AccountID:  p.AccountID,
		Name:       strings.TrimSpace(in.Name),
		Language:   strings.TrimSpace(in.Language),
		Category:   in.Category,
		Status:     "LOCAL",
		Components: datatypes.JSON(comps),
	}
	if err := repo.CreateTemplate(ctx, s.DB, t); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrTemplateExists
		}
		return nil, err
	}
	return t, nil
}

// Delete removes a template.
func (s *TemplateService) Delete(ctx context.Context, p domain.Principal, id string) error {
	err := repo.DeleteTemplate(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrTemplateNotFound
	}
	return err
}

// Sync pulls every template from the business account and upserts them by
// (name, language). It returns how many were written.
func (s *TemplateService) Sync(ctx context.Context, p domain.Principal) (int, error) {
	tr := otel.Tracer("services/TemplateService")
	ctx, span := tr.Start(ctx, "Sync")
	defer span.End()

	if s.Source == nil {
		return 0, errors.Join(ErrUpstream, whatsapp.ErrNotConfigured)
	}
	remote, err := s.Source.ListTemplates(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, errors.Join(ErrUpstream, err)
	}
	n := 0
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rt := range remote {
			comps := datatypes.JSON(rt.Components)
			if len(comps) == 0 {
				comps = datatypes.JSON("[]")
			}
			t := &domain.Template{
				AccountID:  p.AccountID,
				Name:       rt.Name,
				Language:   rt.Language,
				Category:   rt.Category,
				Status:     rt.Status,
				Components: comps,
				ExternalID: rt.ID,
			}
			if err := repo.UpsertTemplate(ctx, tx, t); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("templates.synced", n))
	return n, nil
}
