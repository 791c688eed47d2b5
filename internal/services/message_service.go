// Package services – MessageService
//
// This file implements MessageService, which owns the lifecycle of inbox
// messages in both directions:
//
//   - Send persists an agent's outbound text as "queued", publishes it,
//     hands it to the Cloud API and records "sent" or "failed". A repeated
//     Idempotency-Key returns the original message instead of sending again.
//     Status callbacks that arrive before the wamid is stored are stashed
//     and applied once it is.
//   - Ingest consumes a verified webhook payload: inbound messages upsert
//     the contact and conversation, are stored as "received" and forwarded
//     to the chatbot runtime; status callbacks advance delivery state
//     monotonically (queued < sent < delivered < read, failed terminal).
//
// Observability: public methods are OpenTelemetry-instrumented and message
// outcomes are counted in wa_messages_total.
package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/flow"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/validate"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

// DefaultIdempotencyTTL is used when MessageService.IdempotencyTTL is unset.
const DefaultIdempotencyTTL = 24 * time.Hour

// MessageService coordinates message persistence, delivery and webhooks.
type MessageService struct {
	DB       *gorm.DB
	Sender   whatsapp.Sender
	Notifier Notifier
	Flows    *FlowRuntime

	IdempotencyTTL time.Duration
	Now            func() time.Time
}

func (s *MessageService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Send delivers an agent message to the conversation's contact. The bool
// result reports an idempotent replay. A Cloud API failure is not an
// error: the message is returned with status "failed".
func (s *MessageService) Send(ctx context.Context, p domain.Principal, conversationID string, in validate.SendMessageInput, idemKey string) (*domain.Message, bool, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("actor.id", p.ActorID),
		),
	)
	defer span.End()

	conv, err := repo.GetConversation(ctx, s.DB, p.AccountID, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, ErrConversationNotFound
		}
		return nil, false, err
	}
	if !visible(p, conv) {
		return nil, false, ErrConversationNotFound
	}

	idem := repo.IdemKey{ActorID: p.ActorID, ScopeID: conversationID, Key: idemKey}
	if idemKey != "" {
		if m, ok := s.replay(ctx, idem); ok {
			span.SetAttributes(attribute.Bool("idempotency.replay", true))
			return m, true, nil
		}
	}

	text := in.Text
	if in.Shortcut != "" {
		qr, err := repo.GetQuickReplyByShortcut(ctx, s.DB, p.AccountID, strings.ToLower(in.Shortcut))
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, false, ErrQuickReplyNotFound
			}
			return nil, false, err
		}
		text = qr.Message
	}
	if strings.TrimSpace(text) == "" {
		return nil, false, validate.Fail("text", "is required")
	}

	dev, err := repo.GetDevice(ctx, s.DB, p.AccountID, conv.DeviceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, ErrDeviceNotFound
		}
		return nil, false, err
	}

	// A human reply takes over from any running bot.
	if _, err := repo.AbortFlowSessions(ctx, s.DB, conv.ID); err != nil {
		return nil, false, err
	}

	// The key is claimed in the transaction that stores the message, so of
	// two concurrent requests with one key only the first ever sends.
	var reserve func(tx *gorm.DB, messageID string) error
	if idemKey != "" {
		ttl := s.IdempotencyTTL
		if ttl <= 0 {
			ttl = DefaultIdempotencyTTL
		}
		reserve = func(tx *gorm.DB, messageID string) error {
			_, err := repo.RecordIdempotency(ctx, tx, idem, messageID, http.StatusCreated, ttl)
			return err
		}
	}

	actor := p.ActorID
	m := &domain.Message{Type: "text", Body: text, SenderID: &actor}
	err = sendOutbound(ctx, s.DB, notifierOr(s.Notifier), conv, m, reserve, func(ctx context.Context) (string, error) {
		if s.Sender == nil {
			return "", whatsapp.ErrNotConfigured
		}
		return s.Sender.SendText(ctx, dev.PhoneNumberID, conv.ContactPhone, text)
	})
	if errors.Is(err, repo.ErrDuplicate) && idemKey != "" {
		if prev, ok := s.replay(ctx, idem); ok {
			span.SetAttributes(attribute.Bool("idempotency.replay", true))
			return prev, true, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.String("message.status", m.Status))
	return m, false, nil
}

// replay returns the message an earlier request with k produced.
func (s *MessageService) replay(ctx context.Context, k repo.IdemKey) (*domain.Message, bool) {
	rec, err := repo.FindIdempotency(ctx, s.DB, k, s.now())
	if err != nil {
		return nil, false
	}
	m, err := repo.GetMessage(ctx, s.DB, rec.ResourceID)
	if err != nil {
		return nil, false
	}
	return m, true
}

// sendOutbound stores m as a queued outbound message of conv, publishes it,
// runs send and records the outcome. reserve, when set, runs in the
// transaction that stores m. Only persistence failures are returned.
func sendOutbound(ctx context.Context, db *gorm.DB, n Notifier, conv *domain.Conversation, m *domain.Message, reserve func(tx *gorm.DB, messageID string) error, send func(context.Context) (string, error)) error {
	m.ConversationID = conv.ID
	m.Direction = domain.DirectionOutbound
	m.Status = domain.MessageQueued
	if m.Type == "" {
		m.Type = "text"
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateMessage(ctx, tx, m); err != nil {
			return err
		}
		if reserve != nil {
			if err := reserve(tx, m.ID); err != nil {
				return err
			}
		}
		return repo.TouchConversation(ctx, tx, conv.ID, m.Body, m.CreatedAt, false)
	})
	if err != nil {
		return err
	}
	n.MessageNew(conv.AccountID, *m)

	wamid, err := send(ctx)
	if err != nil {
		m.Status, m.Error = domain.MessageFailed, clip(err.Error(), 500)
		log.Ctx(ctx).Warn().Err(err).Str("message_id", m.ID).Msg("outbound send failed")
	} else {
		m.Status, m.ExternalID = domain.MessageSent, wamid
	}
	// The outcome is recorded even when the request context is gone.
	bctx := context.WithoutCancel(ctx)
	if err := repo.UpdateMessageDelivery(bctx, db, m.ID, m.Status, m.ExternalID, m.Error); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	messagesTotal.WithLabelValues(domain.DirectionOutbound, m.Status).Inc()
	n.MessageUpdated(conv.AccountID, *m)

	if m.ExternalID != "" {
		if _, err := applyEarly(bctx, db, n, m, m.UpdatedAt); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("message_id", m.ID).Msg("apply early status callbacks")
		}
	}
	return nil
}

// IngestResult counts what a webhook payload changed.
type IngestResult struct {
	Messages int `json:"messages"`
	Statuses int `json:"statuses"`
}

// Ingest applies a webhook payload. Unknown phone numbers, duplicate
// deliveries and stale status callbacks are skipped, not errors.
func (s *MessageService) Ingest(ctx context.Context, payload whatsapp.Payload) (IngestResult, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Ingest")
	defer span.End()

	var res IngestResult
	for _, in := range payload.Inbound() {
		ok, err := s.receive(ctx, in)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		if ok {
			res.Messages++
		}
	}
	for _, st := range payload.Statuses() {
		ok, err := s.applyStatus(ctx, st)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		if ok {
			res.Statuses++
		}
	}
	span.SetAttributes(
		attribute.Int("ingest.messages", res.Messages),
		attribute.Int("ingest.statuses", res.Statuses),
	)
	return res, nil
}

func (s *MessageService) receive(ctx context.Context, in whatsapp.Inbound) (bool, error) {
	lg := log.Ctx(ctx).With().Str("phone_number_id", in.PhoneNumberID).Logger()

	dev, err := repo.GetDeviceByPhoneNumberID(ctx, s.DB, in.PhoneNumberID)
	if errors.Is(err, repo.ErrNotFound) {
		lg.Warn().Msg("inbound message for unknown phone number")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if in.ExternalID != "" {
		if _, err := repo.GetMessageByExternalID(ctx, s.DB, in.ExternalID); err == nil {
			return false, nil
		}
	}

	phone, _ := validate.NormalizePhone(in.From)
	if phone == "" {
		phone = in.From
	}
	contact, err := s.contactFor(ctx, dev.AccountID, phone, in.ProfileName)
	if err != nil {
		return false, err
	}

	conv, created, err := repo.GetOrCreateConversation(ctx, s.DB, domain.Conversation{
		AccountID:    dev.AccountID,
		DeviceID:     dev.ID,
		ContactID:    &contact.ID,
		ContactPhone: phone,
		ContactName:  contact.FormattedName,
	})
	if err != nil {
		return false, err
	}
	if !created && conv.ContactID == nil {
		if err := repo.UpdateConversationContact(ctx, s.DB, conv.ID, &contact.ID, contact.FormattedName); err != nil {
			return false, err
		}
	}

	at := in.At
	if at.IsZero() {
		at = s.now()
	}
	m := &domain.Message{
		ConversationID: conv.ID,
		Direction:      domain.DirectionInbound,
		Type:           in.Type,
		Body:           in.Text,
		ExternalID:     in.ExternalID,
		Status:         domain.MessageReceived,
		CreatedAt:      at.UTC(),
	}
	if m.Type == "" {
		m.Type = "text"
	}
	if err := repo.CreateMessage(ctx, s.DB, m); err != nil {
		return false, err
	}
	if err := repo.TouchConversation(ctx, s.DB, conv.ID, m.Body, m.CreatedAt, true); err != nil {
		return false, err
	}
	messagesTotal.WithLabelValues(domain.DirectionInbound, domain.MessageReceived).Inc()

	n := notifierOr(s.Notifier)
	n.MessageNew(dev.AccountID, *m)
	if fresh, err := repo.GetConversation(ctx, s.DB, dev.AccountID, conv.ID); err == nil {
		conv = fresh
		n.ConversationUpdated(*conv)
	}

	if s.Flows != nil && (strings.TrimSpace(in.Text) != "" || in.ReplyID != "") {
		fc := flow.Contact{Name: contact.FormattedName, Phone: phone}
		if err := s.Flows.Handle(ctx, dev, conv, fc, flow.Input{Text: in.Text, ReplyID: in.ReplyID}); err != nil {
			lg.Error().Err(err).Str("conversation_id", conv.ID).Msg("chatbot turn failed")
		}
	}
	return true, nil
}

// contactFor finds the phonebook entry for phone, creating one named after
// the WhatsApp profile when missing.
func (s *MessageService) contactFor(ctx context.Context, accountID, phone, profile string) (*domain.Contact, error) {
	c, err := repo.GetContactByPhone(ctx, s.DB, accountID, phone)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	name := strings.TrimSpace(profile)
	if name == "" {
		name = phone
	}
	c = &domain.Contact{AccountID: accountID, FormattedName: name, Phone: phone, Labels: []string{}}
	if err := repo.CreateContact(ctx, s.DB, c); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return repo.GetContactByPhone(ctx, s.DB, accountID, phone)
		}
		return nil, err
	}
	return c, nil
}

func (s *MessageService) applyStatus(ctx context.Context, st whatsapp.StatusUpdate) (bool, error) {
	n := notifierOr(s.Notifier)
	m, err := repo.GetMessageByExternalID(ctx, s.DB, st.ExternalID)
	if errors.Is(err, repo.ErrNotFound) {
		if st.ExternalID == "" {
			return false, nil
		}
		// The send may still be recording this wamid: keep the callback and
		// look again, so whichever side writes last applies it.
		es := &domain.EarlyStatus{ExternalID: st.ExternalID, Status: st.Status, Error: clip(st.Error, 500), ReceivedAt: s.now()}
		if err := repo.StashEarlyStatus(ctx, s.DB, es); err != nil {
			return false, err
		}
		m, err = repo.GetMessageByExternalID(ctx, s.DB, st.ExternalID)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return applyEarly(ctx, s.DB, n, m, s.now())
	}
	if err != nil {
		return false, err
	}
	return advanceStatus(ctx, s.DB, n, m, st.Status, st.Error, s.now())
}

// applyEarly applies and removes the stashed callbacks of m's wamid.
func applyEarly(ctx context.Context, db *gorm.DB, n Notifier, m *domain.Message, now time.Time) (bool, error) {
	pending, err := repo.TakeEarlyStatuses(ctx, db, m.ExternalID)
	if err != nil {
		return false, err
	}
	applied := false
	for _, es := range pending {
		ok, err := advanceStatus(ctx, db, n, m, es.Status, es.Error, now)
		if err != nil {
			return applied, err
		}
		applied = applied || ok
	}
	return applied, nil
}

// advanceStatus moves m to status when that is a step forward and
// publishes the change.
func advanceStatus(ctx context.Context, db *gorm.DB, n Notifier, m *domain.Message, status, errMsg string, now time.Time) (bool, error) {
	if !domain.AdvancesStatus(m.Status, status) {
		return false, nil
	}
	if err := repo.SetMessageStatus(ctx, db, m.ID, m.Status, status); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// lost the race to a newer callback
			return false, nil
		}
		return false, err
	}
	m.Status = status
	if status == domain.MessageFailed && errMsg != "" {
		m.Error = clip(errMsg, 500)
		if err := db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", m.ID).Update("error", m.Error).Error; err != nil {
			return false, err
		}
	}
	m.UpdatedAt = now
	messagesTotal.WithLabelValues(domain.DirectionOutbound, status).Inc()

	var conv domain.Conversation
	if err := db.WithContext(ctx).Select("id", "account_id").First(&conv, "id = ?", m.ConversationID).Error; err != nil {
		return true, nil
	}
	n.MessageUpdated(conv.AccountID, *m)
	return true, nil
}
