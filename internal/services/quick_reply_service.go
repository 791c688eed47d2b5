package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/search"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// SuggestLimit is the number of quick replies Suggest returns at most.
const SuggestLimit = 5

// Suggestion is a ranked quick reply.
type Suggestion struct {
	domain.QuickReply
	Score float64 `json:"score"`
}

// QuickReplyService manages canned responses.
type QuickReplyService struct {
	DB *gorm.DB
}

// List returns the tenant's quick replies.
func (s *QuickReplyService) List(ctx context.Context, p domain.Principal) ([]domain.QuickReply, error) {
	return repo.ListQuickReplies(ctx, s.DB, p.AccountID)
}

// Create adds a quick reply.
func (s *QuickReplyService) Create(ctx context.Context, p domain.Principal, in validate.QuickReplyInput) (*domain.QuickReply, error) {
	q := &domain.QuickReply{
		AccountID: p.AccountID,
		Shortcut:  strings.ToLower(in.Shortcut),
		Title:     strings.TrimSpace(in.Title),
		Message:   in.Message,
	}
	if err := repo.CreateQuickReply(ctx, s.DB, q); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrShortcutTaken
		}
		return nil, err
	}
	return q, nil
}

// Update replaces shortcut, title and message.
func (s *QuickReplyService) Update(ctx context.Context, p domain.Principal, id string, in validate.QuickReplyInput) (*domain.QuickReply, error) {
	err := repo.UpdateQuickReply(ctx, s.DB, p.AccountID, id, map[string]any{
		"shortcut": strings.ToLower(in.Shortcut),
		"title":    strings.TrimSpace(in.Title),
		"message":  in.Message,
	})
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		return nil, ErrShortcutTaken
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrQuickReplyNotFound
	case err != nil:
		return nil, err
	}
	return repo.GetQuickReply(ctx, s.DB, p.AccountID, id)
}

// Delete removes a quick reply.
func (s *QuickReplyService) Delete(ctx context.Context, p domain.Principal, id string) error {
	err := repo.DeleteQuickReply(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrQuickReplyNotFound
	}
	return err
}

// Resolve finds a quick reply by its shortcut.
func (s *QuickReplyService) Resolve(ctx context.Context, p domain.Principal, shortcut string) (*domain.QuickReply, error) {
	q, err := repo.GetQuickReplyByShortcut(ctx, s.DB, p.AccountID, strings.ToLower(shortcut))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrQuickReplyNotFound
	}
	return q, err
}

// Suggest ranks the tenant's quick replies against what the agent has typed
// so far. Title and shortcut words weigh more than message words.
func (s *QuickReplyService) Suggest(ctx context.Context, p domain.Principal, q string) ([]Suggestion, error) {
	all, err := s.List(ctx, p)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.QuickReply, len(all))
	docs := make([]search.Document, 0, len(all))
	for _, qr := range all {
		byID[qr.ID] = qr
		docs = append(docs, search.Document{
			ID:    qr.ID,
			Title: qr.Title + " " + strings.TrimPrefix(qr.Shortcut, "/"),
			Text:  qr.Message,
		})
	}
	idx := search.New(docs, search.WithStopwords(search.DefaultStopwords...))

	out := []Suggestion{}
	for _, r := range idx.Search(q, SuggestLimit) {
		out = append(out, Suggestion{QuickReply: byID[r.ID], Score: r.Score})
	}
	return out, nil
}
