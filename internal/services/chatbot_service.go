package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/flow"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/utils"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// ChatbotService manages chatbot definitions. Graphs are validated on
// every save so the runtime only ever loads executable flows.
type ChatbotService struct {
	DB *gorm.DB
}

// List returns a page of chatbots ordered by name.
func (s *ChatbotService) List(ctx context.Context, p domain.Principal, page, pageSize int) ([]domain.Chatbot, int64, error) {
	page, pageSize = utils.NormalizePage(page, pageSize)
	return repo.ListChatbotsPage(ctx, s.DB, p.AccountID, utils.Offset(page, pageSize), pageSize)
}

// Get returns one chatbot.
func (s *ChatbotService) Get(ctx context.Context, p domain.Principal, id string) (*domain.Chatbot, error) {
	c, err := repo.GetChatbot(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatbotNotFound
	}
	return c, err
}

// Create stores a chatbot after validating its graph.
func (s *ChatbotService) Create(ctx context.Context, p domain.Principal, in validate.ChatbotInput) (*domain.Chatbot, error) {
	c, err := fromChatbotInput(p.AccountID, in)
	if err != nil {
		return nil, err
	}
	if err := repo.CreateChatbot(ctx, s.DB, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces a chatbot's definition.
func (s *ChatbotService) Update(ctx context.Context, p domain.Principal, id string, in validate.ChatbotInput) (*domain.Chatbot, error) {
	c, err := fromChatbotInput(p.AccountID, in)
	if err != nil {
		return nil, err
	}
	c.ID = id
	if err := repo.SaveChatbot(ctx, s.DB, c); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatbotNotFound
		}
		return nil, err
	}
	return s.Get(ctx, p, id)
}

// Toggle enables or disables a chatbot. Disabling aborts its running
// sessions on their next inbound message.
func (s *ChatbotService) Toggle(ctx context.Context, p domain.Principal, id string, enabled bool) (*domain.Chatbot, error) {
	err := repo.UpdateChatbot(ctx, s.DB, p.AccountID, id, map[string]any{"enabled": enabled})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatbotNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, p, id)
}

// Delete removes a chatbot.
func (s *ChatbotService) Delete(ctx context.Context, p domain.Principal, id string) error {
	err := repo.DeleteChatbot(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrChatbotNotFound
	}
	return err
}

func fromChatbotInput(accountID string, in validate.ChatbotInput) (*domain.Chatbot, error) {
	raw, err := json.Marshal(in.Graph)
	if err != nil {
		return nil, validate.Fail("graph", "must be a JSON object")
	}
	if _, err := flow.Parse(raw); err != nil {
		return nil, validate.Fail("graph", strings.TrimPrefix(err.Error(), flow.ErrInvalidGraph.Error()+": "))
	}
	mode := in.MatchMode
	if mode == "" {
		mode = domain.MatchExact
	}
	triggers := make([]string, 0, len(in.Triggers))
	for _, t := range in.Triggers {
		if t = strings.TrimSpace(t); t != "" {
			triggers = append(triggers, t)
		}
	}
	return &domain.Chatbot{
		AccountID: accountID,
		Name:      strings.TrimSpace(in.Name),
		Triggers:  triggers,
		MatchMode: mode,
		Enabled:   in.Enabled,
		Graph:     datatypes.JSON(raw),
	}, nil
}
