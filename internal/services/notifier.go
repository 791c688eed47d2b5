package services

import "github.com/tbourn/go-wa-backend/internal/domain"

// Notifier receives inbox events after they are persisted. The realtime hub
// implements it; NopNotifier discards everything.
type Notifier interface {
	MessageNew(accountID string, m domain.Message)
	MessageUpdated(accountID string, m domain.Message)
	ConversationUpdated(c domain.Conversation)
}

// NopNotifier is a Notifier that does nothing.
type NopNotifier struct{}

func (NopNotifier) MessageNew(string, domain.Message)       {}
func (NopNotifier) MessageUpdated(string, domain.Message)   {}
func (NopNotifier) ConversationUpdated(domain.Conversation) {}

func notifierOr(n Notifier) Notifier {
	if n == nil {
		return NopNotifier{}
	}
	return n
}
