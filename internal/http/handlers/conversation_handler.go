// Conversation and message HTTP handlers.
//
//   - GET   /conversations                 (page, status, assigned_to, unassigned; ETag)
//   - GET   /conversations/{id}
//   - GET   /conversations/{id}/messages   (newest first; ETag)
//   - POST  /conversations/{id}/messages   (Idempotency-Key aware)
//   - POST  /conversations/{id}/read
//   - PATCH /conversations/{id}/assign
//   - PATCH /conversations/{id}/status
//
// Idempotency: if the client supplies an Idempotency-Key and a message was
// already sent with it, the stored message is returned with
// Idempotency-Replayed: true and nothing is sent again.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// SendMessageResponse wraps the message created (or replayed) by a send.
type SendMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListConversations godoc
// @ID          listConversations
// @Summary     Inbox listing
// @Description Ordered by last activity. Agents only see conversations assigned to them.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
// @Param       status       query   string  false  "open|closed"
// @Param       assigned_to  query   string  false  "Agent ID"  format(uuid)
// @Param       unassigned   query   bool    false  "Only unassigned conversations (owners only)"
// @Param       page         query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size    query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.Page[domain.Conversation]
// @Success     304  "Not Modified"
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	ctx := c.Request.Context()
	q := services.ConversationQuery{
		Status:     strings.TrimSpace(c.Query("status")),
		AssignedTo: strings.TrimSpace(c.Query("assigned_to")),
	}
	q.Unassigned, _ = strconv.ParseBool(c.Query("unassigned"))
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, last, err := h.Conversations.Stats(ctx, p, q); err == nil {
		scope := p.ActorID + "|" + q.Status + "|" + q.AssignedTo + "|" + strconv.FormatBool(q.Unassigned) +
			"|" + strconv.Itoa(page) + "|" + strconv.Itoa(pageSize)
		if notModified(c, "conversations", scope, count, last) {
			return
		}
	}

	items, total, err := h.Conversations.List(ctx, p, q, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newPage(items, total, page, pageSize))
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get a conversation
// @Tags        Conversations
// @Produce     json
// @Param       id  path  string  true  "Conversation ID"  format(uuid)
// @Success     200  {object}  domain.Conversation
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	conv, err := h.Conversations.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Messages of a conversation, newest first
// @Tags        Conversations
// @Produce     json
// @Param       id             path    string  true   "Conversation ID"  format(uuid)
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  handlers.Page[domain.Message]
// @Success     304  "Not Modified"
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	page, pageSize := clampPagination(c)

	if count, last, err := h.Conversations.MessagesStats(ctx, p, id); err == nil {
		scope := id + "|" + strconv.Itoa(page) + "|" + strconv.Itoa(pageSize)
		if notModified(c, "messages", scope, count, last) {
			return
		}
	}

	items, total, err := h.Conversations.Messages(ctx, p, id, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newPage(items, total, page, pageSize))
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a text message to the conversation's contact
// @Description Text or a quick reply shortcut. A Cloud API failure still returns 201 with status "failed".
// @Description Supports idempotency via the Idempotency-Key header (same key → same message).
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string                     false  "Idempotency key for safe retries"
// @Param       id               path    string                     true   "Conversation ID"  format(uuid)
// @Param       body             body    validate.SendMessageInput  true   "Message"
// @Success     201  {object}  handlers.SendMessageResponse  "Sent (or failed) message"
// @Success     200  {object}  handlers.SendMessageResponse  "Replayed message"
// @Header      200  {string}  Idempotency-Replayed  "true on replays"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.SendMessageInput
	if !bind(c, &in) {
		return
	}
	m, replayed, err := h.Messages.Send(c.Request.Context(), p, c.Param("id"), in, idempotencyKey(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, SendMessageResponse{Message: m})
		return
	}
	ok(c, http.StatusCreated, SendMessageResponse{Message: m})
}

// MarkConversationRead godoc
// @ID          markConversationRead
// @Summary     Reset the unread counter
// @Tags        Conversations
// @Produce     json
// @Param       id  path  string  true  "Conversation ID"  format(uuid)
// @Success     200  {object}  domain.Conversation
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id}/read [post]
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	conv, err := h.Conversations.MarkRead(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// AssignConversation godoc
// @ID          assignConversation
// @Summary     Assign to an agent, or unassign with an empty agent_id
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       id    path  string                true  "Conversation ID"  format(uuid)
// @Param       body  body  validate.AssignInput  true  "Assignee"
// @Success     200  {object}  domain.Conversation
// @Failure     403  {object}  handlers.ErrorResponse  "Agents cannot assign"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id}/assign [patch]
func (h *Handlers) AssignConversation(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.AssignInput
	if !bind(c, &in) {
		return
	}
	conv, err := h.Conversations.Assign(c.Request.Context(), p, c.Param("id"), in.AgentID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// SetConversationStatus godoc
// @ID          setConversationStatus
// @Summary     Close or reopen a conversation
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       id    path  string                true  "Conversation ID"  format(uuid)
// @Param       body  body  validate.StatusInput  true  "open|closed"
// @Success     200  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id}/status [patch]
func (h *Handlers) SetConversationStatus(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.StatusInput
	if !bind(c, &in) {
		return
	}
	conv, err := h.Conversations.SetStatus(c.Request.Context(), p, c.Param("id"), strings.ToLower(strings.TrimSpace(in.Status)))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// idempotencyKey returns the key validated by IdempotencyValidator, or the
// raw header when that middleware is not installed.
func idempotencyKey(c *gin.Context) string {
	if k, found := middleware.GetIdempotencyKey(c); found {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}
