// Package services – ConversationService
//
// ConversationService serves the inbox: listing and reading conversations,
// paging their messages, and the agent-facing state changes (mark read,
// assign, open/close). Every change is pushed to the Notifier so connected
// dashboards update without polling.
//
// Visibility: owners see every conversation of their tenant and are the
// only callers that may list the unassigned queue. Agents see the
// conversations assigned to them and nothing else.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/utils"
)

// ConversationQuery narrows the inbox listing.
type ConversationQuery struct {
	Status     string
	AssignedTo string
	Unassigned bool
}

// ConversationService implements the inbox.
type ConversationService struct {
	DB       *gorm.DB
	Notifier Notifier
}

func (s *ConversationService) filter(p domain.Principal, q ConversationQuery) (repo.ConversationFilter, error) {
	f := repo.ConversationFilter{Status: q.Status, AssignedTo: q.AssignedTo, Unassigned: q.Unassigned}
	if p.IsAgent() {
		if q.Unassigned || (q.AssignedTo != "" && q.AssignedTo != p.ActorID) {
			return f, ErrForbidden
		}
		f.AssignedTo = p.ActorID
	}
	return f, nil
}

func visible(p domain.Principal, c *domain.Conversation) bool {
	if !p.IsAgent() {
		return true
	}
	return c.AssignedAgentID != nil && *c.AssignedAgentID == p.ActorID
}

// List returns an inbox page ordered by last activity, plus the total.
func (s *ConversationService) List(ctx context.Context, p domain.Principal, q ConversationQuery, page, pageSize int) ([]domain.Conversation, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("account.id", p.AccountID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	switch q.Status {
	case "", domain.ConversationOpen, domain.ConversationClosed:
	default:
		return nil, 0, ErrInvalidStatus
	}
	page, pageSize = utils.NormalizePage(page, pageSize)
	f, err := s.filter(p, q)
	if err != nil {
		return nil, 0, err
	}
	total, err := repo.CountConversations(ctx, s.DB, p.AccountID, f)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListConversationsPage(ctx, s.DB, p.AccountID, f, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Stats returns the count and latest update of the inbox listing, used
// to derive an ETag.
func (s *ConversationService) Stats(ctx context.Context, p domain.Principal, q ConversationQuery) (int64, *time.Time, error) {
	f, err := s.filter(p, q)
	if err != nil {
		return 0, nil, err
	}
	return repo.ConversationsStats(ctx, s.DB, p.AccountID, f)
}

// Get returns a conversation visible to p.
func (s *ConversationService) Get(ctx context.Context, p domain.Principal, id string) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, s.DB, p.AccountID, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !visible(p, c) {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

// Authorize reports whether p may subscribe to the conversation's events.
func (s *ConversationService) Authorize(ctx context.Context, p domain.Principal, id string) error {
	if !p.Can(domain.PermConversations) {
		return ErrForbidden
	}
	_, err := s.Get(ctx, p, id)
	return err
}

// Messages returns a page of the conversation's messages, newest first.
func (s *ConversationService) Messages(ctx context.Context, p domain.Principal, id string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Messages",
		trace.WithAttributes(
			attribute.String("conversation.id", id),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, 0, err
	}
	page, pageSize = utils.NormalizePage(page, pageSize)
	total, err := repo.CountMessages(ctx, s.DB, id)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, id, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// MessagesStats returns count and latest update of a conversation's
// messages for ETag derivation.
func (s *ConversationService) MessagesStats(ctx context.Context, p domain.Principal, id string) (int64, *time.Time, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return 0, nil, err
	}
	return repo.MessagesStats(ctx, s.DB, id)
}

// MarkRead zeroes the unread counter.
func (s *ConversationService) MarkRead(ctx context.Context, p domain.Principal, id string) (*domain.Conversation, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	if err := repo.MarkConversationRead(ctx, s.DB, p.AccountID, id); err != nil {
		return nil, err
	}
	return s.changed(ctx, p, id)
}

// Assign hands the conversation to an agent of the same tenant, or back to
// the shared queue when agentID is empty. Only owners assign.
func (s *ConversationService) Assign(ctx context.Context, p domain.Principal, id, agentID string) (*domain.Conversation, error) {
	if err := ownerOnly(p); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	var target *string
	if agentID != "" {
		agent, err := repo.GetAgent(ctx, s.DB, p.AccountID, agentID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrAgentNotFound
			}
			return nil, err
		}
		target = &agent.ID
	}
	if err := repo.AssignConversation(ctx, s.DB, p.AccountID, id, target); err != nil {
		return nil, err
	}
	return s.changed(ctx, p, id)
}

// SetStatus opens or closes a conversation.
func (s *ConversationService) SetStatus(ctx context.Context, p domain.Principal, id, status string) (*domain.Conversation, error) {
	if status != domain.ConversationOpen && status != domain.ConversationClosed {
		return nil, ErrInvalidStatus
	}
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	if err := repo.SetConversationStatus(ctx, s.DB, p.AccountID, id, status); err != nil {
		return nil, err
	}
	return s.changed(ctx, p, id)
}

// changed re-reads a conversation after a write and publishes it.
func (s *ConversationService) changed(ctx context.Context, p domain.Principal, id string) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, s.DB, p.AccountID, id)
	if err != nil {
		return nil, err
	}
	notifierOr(s.Notifier).ConversationUpdated(*c)
	return c, nil
}
