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

// AgentService lets owners manage the agents of their tenant.
type AgentService struct {
	DB   *gorm.DB
	Auth *AuthService
	Now  func() time.Time
}

func (s *AgentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func ownerOnly(p domain.Principal) error {
	if p.IsAgent() {
		return ErrForbidden
	}
	return nil
}

// List returns a page of the tenant's agents.
func (s *AgentService) List(ctx context.Context, p domain.Principal, page, pageSize int) ([]domain.Account, int64, error) {
	if err := ownerOnly(p); err != nil {
		return nil, 0, err
	}
	page, pageSize = utils.NormalizePage(page, pageSize)
	return repo.ListAccountsPage(ctx, s.DB,
		repo.AccountFilter{Role: domain.RoleAgent, ParentID: p.AccountID},
		utils.Offset(page, pageSize), pageSize)
}

// Create adds an agent under the caller's tenant.
func (s *AgentService) Create(ctx context.Context, p domain.Principal, in validate.AgentInput) (*domain.Account, error) {
	tr := otel.Tracer("services/AgentService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("account.id", p.AccountID)),
	)
	defer span.End()

	if err := ownerOnly(p); err != nil {
		return nil, err
	}
	parent := p.AccountID
	return s.Auth.CreateAccount(ctx, NewAccount{
		Name:        in.Name,
		Email:       in.Email,
		Phone:       in.Phone,
		Password:    in.Password,
		Role:        domain.RoleAgent,
		ParentID:    &parent,
		Permissions: uniquePerms(in.Permissions),
	})
}

// Patch updates name, permissions, or status. Blocking an agent revokes
// every session it holds.
func (s *AgentService) Patch(ctx context.Context, p domain.Principal, id string, in validate.AgentPatch) (*domain.Account, error) {
	if err := ownerOnly(p); err != nil {
		return nil, err
	}
	a, err := repo.GetAgent(ctx, s.DB, p.AccountID, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}

	cols := []string{"updated_at"}
	if in.Name != nil {
		a.Name = strings.TrimSpace(*in.Name)
		cols = append(cols, "name")
	}
	if in.Permissions != nil {
		a.Permissions = uniquePerms(*in.Permissions)
		cols = append(cols, "permissions")
	}
	if in.Status != nil {
		a.Status = *in.Status
		cols = append(cols, "status")
	}
	a.UpdatedAt = s.now()
	if err := repo.SaveAccount(ctx, s.DB, a, cols...); err != nil {
		return nil, err
	}
	if a.Status == domain.AccountBlocked {
		if _, err := repo.RevokeAllSessions(ctx, s.DB, a.ID, s.now()); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Delete removes an agent, releases its conversations, and ends its sessions.
func (s *AgentService) Delete(ctx context.Context, p domain.Principal, id string) error {
	if err := ownerOnly(p); err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.DeleteAgent(ctx, tx, p.AccountID, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrAgentNotFound
			}
			return err
		}
		if _, err := repo.UnassignAgent(ctx, tx, p.AccountID, id); err != nil {
			return err
		}
		_, err := repo.RevokeAllSessions(ctx, tx, id, s.now())
		return err
	})
}

func uniquePerms(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, perm := range domain.AllPermissions {
		for _, want := range in {
			if want == perm {
				if _, dup := seen[perm]; !dup {
					seen[perm] = struct{}{}
					out = append(out, perm)
				}
			}
		}
	}
	return out
}
