package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/flow"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

// defaultListButton labels list messages whose step leaves buttonText empty.
const defaultListButton = "Options"

// FlowRuntime runs chatbot flows against inbound messages. Each turn
// either continues the conversation's active session or starts the first
// enabled chatbot whose trigger matches the text.
type FlowRuntime struct {
	DB       *gorm.DB
	Sender   whatsapp.Sender
	Notifier Notifier
	Engine   flow.Engine
}

// Handle processes one inbound reply for conv.
func (r *FlowRuntime) Handle(ctx context.Context, dev *domain.Device, conv *domain.Conversation, contact flow.Contact, in flow.Input) error {
	tr := otel.Tracer("services/FlowRuntime")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(attribute.String("conversation.id", conv.ID)),
	)
	defer span.End()

	sess, err := r.resume(ctx, conv)
	if err != nil {
		return err
	}

	var (
		st   flow.State
		outs []flow.Output
		bot  *domain.Chatbot
	)
	if sess != nil {
		b, g, err := r.load(ctx, conv.AccountID, sess.ChatbotID)
		if err != nil {
			return err
		}
		bot = b
		prev := flow.State{Node: sess.CurrentNode, Vars: varsFrom(sess.Vars), Retries: sess.Retries}
		st, outs, err = r.Engine.Continue(g, prev, contact, in)
		if err != nil && !errors.Is(err, flow.ErrHopLimit) {
			return err
		}
		r.warnHops(err, bot.ID)
	} else {
		b, g, err := r.match(ctx, conv.AccountID, in.Text)
		if err != nil || b == nil {
			return err
		}
		bot = b
		st, outs, err = r.Engine.Start(g, contact)
		if err != nil && !errors.Is(err, flow.ErrHopLimit) {
			return err
		}
		r.warnHops(err, bot.ID)
		flowSessions.WithLabelValues("started").Inc()
	}
	span.SetAttributes(
		attribute.String("chatbot.id", bot.ID),
		attribute.Int("flow.outputs", len(outs)),
	)

	for _, o := range outs {
		if err := r.emit(ctx, dev, conv, o); err != nil {
			return err
		}
	}
	return r.persist(ctx, conv, bot, sess, st)
}

// resume returns the active session or nil. Sessions whose chatbot was
// disabled or deleted are aborted.
func (r *FlowRuntime) resume(ctx context.Context, conv *domain.Conversation) (*domain.FlowSession, error) {
	sess, err := repo.ActiveFlowSession(ctx, r.DB, conv.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bot, err := repo.GetChatbot(ctx, r.DB, conv.AccountID, sess.ChatbotID)
	if err == nil && bot.Enabled {
		return sess, nil
	}
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if _, err := repo.AbortFlowSessions(ctx, r.DB, conv.ID); err != nil {
		return nil, err
	}
	flowSessions.WithLabelValues("aborted").Inc()
	return nil, nil
}

func (r *FlowRuntime) load(ctx context.Context, accountID, id string) (*domain.Chatbot, *flow.Graph, error) {
	bot, err := repo.GetChatbot(ctx, r.DB, accountID, id)
	if err != nil {
		return nil, nil, err
	}
	g, err := flow.Parse(bot.Graph)
	if err != nil {
		return nil, nil, fmt.Errorf("chatbot %s: %w", bot.ID, err)
	}
	return bot, g, nil
}

// match picks the oldest enabled chatbot triggered by text. Chatbots whose
// stored graph no longer parses are skipped.
func (r *FlowRuntime) match(ctx context.Context, accountID, text string) (*domain.Chatbot, *flow.Graph, error) {
	bots, err := repo.EnabledChatbots(ctx, r.DB, accountID)
	if err != nil {
		return nil, nil, err
	}
	for i := range bots {
		b := &bots[i]
		if !flow.Matches(b.Triggers, b.MatchMode, text) {
			continue
		}
		g, err := flow.Parse(b.Graph)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("chatbot_id", b.ID).Msg("skipping chatbot with invalid graph")
			continue
		}
		return b, g, nil
	}
	return nil, nil, nil
}

func (r *FlowRuntime) warnHops(err error, botID string) {
	if errors.Is(err, flow.ErrHopLimit) {
		log.Warn().Str("component", "flow").Str("chatbot_id", botID).Msg("hop limit reached, ending session")
	}
}

// emit sends one engine output and stores it in the conversation.
func (r *FlowRuntime) emit(ctx context.Context, dev *domain.Device, conv *domain.Conversation, o flow.Output) error {
	m := &domain.Message{Type: "text", Body: o.Text}
	if o.Kind != flow.OutText {
		m.Type = "interactive"
	}
	return sendOutbound(ctx, r.DB, notifierOr(r.Notifier), conv, m, nil, func(ctx context.Context) (string, error) {
		if r.Sender == nil {
			return "", whatsapp.ErrNotConfigured
		}
		switch o.Kind {
		case flow.OutButtons:
			buttons := make([]whatsapp.Button, 0, len(o.Choices))
			for _, c := range o.Choices {
				buttons = append(buttons, whatsapp.Button{ID: c.ID, Title: c.Title})
			}
			return r.Sender.SendButtons(ctx, dev.PhoneNumberID, conv.ContactPhone, o.Text, buttons)
		case flow.OutList:
			rows := make([]whatsapp.Row, 0, len(o.Choices))
			for _, c := range o.Choices {
				rows = append(rows, whatsapp.Row{ID: c.ID, Title: c.Title, Description: c.Description})
			}
			label := o.ButtonText
			if label == "" {
				label = defaultListButton
			}
			return r.Sender.SendList(ctx, dev.PhoneNumberID, conv.ContactPhone, o.Text, label, rows)
		default:
			return r.Sender.SendText(ctx, dev.PhoneNumberID, conv.ContactPhone, o.Text)
		}
	})
}

func (r *FlowRuntime) persist(ctx context.Context, conv *domain.Conversation, bot *domain.Chatbot, sess *domain.FlowSession, st flow.State) error {
	if sess == nil {
		sess = &domain.FlowSession{
			AccountID:      conv.AccountID,
			ChatbotID:      bot.ID,
			ConversationID: conv.ID,
			ContactPhone:   conv.ContactPhone,
			CurrentNode:    st.Node,
			Vars:           varsTo(st.Vars),
		}
		if err := repo.CreateFlowSession(ctx, r.DB, sess); err != nil {
			return err
		}
		if !st.Done {
			return nil
		}
	}
	sess.CurrentNode = st.Node
	sess.Vars = varsTo(st.Vars)
	sess.Retries = st.Retries
	if st.Done {
		sess.Status = domain.FlowCompleted
		event := "completed"
		if st.Handoff {
			event = "handoff"
		}
		flowSessions.WithLabelValues(event).Inc()
	}
	return repo.SaveFlowSession(ctx, r.DB, sess)
}

func varsFrom(m datatypes.JSONMap) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func varsTo(m map[string]string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
