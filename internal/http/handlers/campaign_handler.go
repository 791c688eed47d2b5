// Outbound content handlers: templates, broadcasts, chatbot flows and
// quick replies.
//
//   - GET /templates, POST /templates, POST /templates/sync, DELETE /templates/{id}
//   - GET /broadcast, POST /broadcast, POST /broadcast/send
//   - GET /broadcast/{id}, POST /broadcast/{id}/cancel, GET /broadcast/{id}/recipients
//   - GET /chatbot/flows, POST /chatbot/flows
//   - GET|PUT|DELETE /chatbot/flows/{id}, PATCH /chatbot/flows/{id}/toggle
//   - GET /quick-replies, POST /quick-replies, GET /quick-replies/suggest
//   - PUT|DELETE /quick-replies/{id}
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// SyncTemplatesResponse reports how many templates were upserted.
type SyncTemplatesResponse struct {
	Synced int `json:"synced" example:"12"`
}

// ToggleChatbotRequest enables or disables a chatbot.
type ToggleChatbotRequest struct {
	Enabled *bool `json:"enabled" validate:"required" example:"true"`
}

//
// Templates
//

// ListTemplates godoc
// @ID          listTemplates
// @Summary     List message templates
// @Tags        Templates
// @Produce     json
// @Success     200  {array}  domain.Template
// @Router      /templates [get]
func (h *Handlers) ListTemplates(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	items, err := h.Templates.List(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Template{}
	}
	ok(c, http.StatusOK, items)
}

// CreateTemplate godoc
// @ID          createTemplate
// @Summary     Store a template locally
// @Tags        Templates
// @Accept      json
// @Produce     json
// @Param       body  body      validate.TemplateInput  true  "Template"
// @Success     201   {object}  domain.Template
// @Failure     409   {object}  handlers.ErrorResponse
// @Router      /templates [post]
func (h *Handlers) CreateTemplate(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.TemplateInput
	if !bind(c, &in) {
		return
	}
	t, err := h.Templates.Create(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, t)
}

// DeleteTemplate godoc
// @ID          deleteTemplate
// @Summary     Delete a template
// @Tags        Templates
// @Param       id  path  string  true  "Template ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /templates/{id} [delete]
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.Templates.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// SyncTemplates godoc
// @ID          syncTemplates
// @Summary     Pull templates from the WhatsApp Cloud API
// @Tags        Templates
// @Produce     json
// @Success     200  {object}  handlers.SyncTemplatesResponse
// @Failure     502  {object}  handlers.ErrorResponse
// @Router      /templates/sync [post]
func (h *Handlers) SyncTemplates(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	n, err := h.Templates.Sync(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SyncTemplatesResponse{Synced: n})
}

//
// Broadcasts
//

// ListBroadcasts godoc
// @ID          listBroadcasts
// @Summary     List broadcasts
// @Tags        Broadcast
// @Produce     json
// @Param       status     query  string  false  "draft|scheduled|sending|completed|failed|cancelled"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.Page[domain.Broadcast]
// @Router      /broadcast [get]
func (h *Handlers) ListBroadcasts(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.Broadcasts.List(c.Request.Context(), p, strings.TrimSpace(c.Query("status")), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newPage(items, total, page, pageSize))
}

// CreateBroadcast godoc
// @ID          createBroadcast
// @Summary     Create a broadcast
// @Description A future scheduled_at schedules it; otherwise it is saved as a draft.
// @Tags        Broadcast
// @Accept      json
// @Produce     json
// @Param       body  body      validate.BroadcastInput  true  "Broadcast"
// @Success     201   {object}  domain.Broadcast
// @Failure     400   {object}  handlers.ErrorResponse
// @Router      /broadcast [post]
func (h *Handlers) CreateBroadcast(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.BroadcastInput
	if !bind(c, &in) {
		return
	}
	b, err := h.Broadcasts.Create(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, b)
}

// SendBroadcast godoc
// @ID          sendBroadcast
// @Summary     Create a broadcast and queue it for immediate dispatch
// @Tags        Broadcast
// @Accept      json
// @Produce     json
// @Param       body  body      validate.BroadcastInput  true  "Broadcast"
// @Success     202   {object}  domain.Broadcast
// @Failure     400   {object}  handlers.ErrorResponse
// @Router      /broadcast/send [post]
func (h *Handlers) SendBroadcast(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.BroadcastInput
	if !bind(c, &in) {
		return
	}
	b, err := h.Broadcasts.Send(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, b)
}

// GetBroadcast godoc
// @ID          getBroadcast
// @Summary     Get a broadcast with its counters
// @Tags        Broadcast
// @Produce     json
// @Param       id  path  string  true  "Broadcast ID"  format(uuid)
// @Success     200  {object}  domain.Broadcast
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /broadcast/{id} [get]
func (h *Handlers) GetBroadcast(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	b, err := h.Broadcasts.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// CancelBroadcast godoc
// @ID          cancelBroadcast
// @Summary     Cancel a draft or scheduled broadcast
// @Tags        Broadcast
// @Produce     json
// @Param       id  path  string  true  "Broadcast ID"  format(uuid)
// @Success     200  {object}  domain.Broadcast
// @Failure     409  {object}  handlers.ErrorResponse  "Already sending or finished"
// @Router      /broadcast/{id}/cancel [post]
func (h *Handlers) CancelBroadcast(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	b, err := h.Broadcasts.Cancel(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// ListBroadcastRecipients godoc
// @ID          listBroadcastRecipients
// @Summary     Per-recipient delivery state
// @Tags        Broadcast
// @Produce     json
// @Param       id         path   string  true   "Broadcast ID"  format(uuid)
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.Page[domain.BroadcastRecipient]
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /broadcast/{id}/recipients [get]
func (h *Handlers) ListBroadcastRecipients(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.Broadcasts.Recipients(c.Request.Context(), p, c.Param("id"), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newPage(items, total, page, pageSize))
}

//
// Chatbot flows
//

// ListChatbots godoc
// @ID          listChatbots
// @Summary     List chatbot flows
// @Tags        Chatbot
// @Produce     json
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.Page[domain.Chatbot]
// @Router      /chatbot/flows [get]
func (h *Handlers) ListChatbots(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.Chatbots.List(c.Request.Context(), p, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newPage(items, total, page, pageSize))
}

// GetChatbot godoc
// @ID          getChatbot
// @Summary     Get a chatbot flow
// @Tags        Chatbot
// @Produce     json
// @Param       id  path  string  true  "Chatbot ID"  format(uuid)
// @Success     200  {object}  domain.Chatbot
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /chatbot/flows/{id} [get]
func (h *Handlers) GetChatbot(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	b, err := h.Chatbots.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// CreateChatbot godoc
// @ID          createChatbot
// @Summary     Save a new chatbot flow
// @Description The graph is validated: one start node, known step types, edges between existing nodes.
// @Tags        Chatbot
// @Accept      json
// @Produce     json
// @Param       body  body      validate.ChatbotInput  true  "Chatbot"
// @Success     201   {object}  domain.Chatbot
// @Failure     400   {object}  handlers.ErrorResponse
// @Router      /chatbot/flows [post]
func (h *Handlers) CreateChatbot(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.ChatbotInput
	if !bind(c, &in) {
		return
	}
	b, err := h.Chatbots.Create(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, b)
}

// UpdateChatbot godoc
// @ID          updateChatbot
// @Summary     Replace a chatbot flow
// @Tags        Chatbot
// @Accept      json
// @Produce     json
// @Param       id    path  string                 true  "Chatbot ID"  format(uuid)
// @Param       body  body  validate.ChatbotInput  true  "Chatbot"
// @Success     200  {object}  domain.Chatbot
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /chatbot/flows/{id} [put]
func (h *Handlers) UpdateChatbot(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.ChatbotInput
	if !bind(c, &in) {
		return
	}
	b, err := h.Chatbots.Update(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// ToggleChatbot godoc
// @ID          toggleChatbot
// @Summary     Enable or disable a chatbot
// @Tags        Chatbot
// @Accept      json
// @Produce     json
// @Param       id    path  string                         true  "Chatbot ID"  format(uuid)
// @Param       body  body  handlers.ToggleChatbotRequest  true  "State"
// @Success     200  {object}  domain.Chatbot
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /chatbot/flows/{id}/toggle [patch]
func (h *Handlers) ToggleChatbot(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in ToggleChatbotRequest
	if !bind(c, &in) {
		return
	}
	b, err := h.Chatbots.Toggle(c.Request.Context(), p, c.Param("id"), *in.Enabled)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// DeleteChatbot godoc
// @ID          deleteChatbot
// @Summary     Delete a chatbot flow
// @Tags        Chatbot
// @Param       id  path  string  true  "Chatbot ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /chatbot/flows/{id} [delete]
func (h *Handlers) DeleteChatbot(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.Chatbots.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

//
// Quick replies
//

// ListQuickReplies godoc
// @ID          listQuickReplies
// @Summary     List quick replies
// @Tags        Quick replies
// @Produce     json
// @Success     200  {array}  domain.QuickReply
// @Router      /quick-replies [get]
func (h *Handlers) ListQuickReplies(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	items, err := h.QuickReplies.List(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.QuickReply{}
	}
	ok(c, http.StatusOK, items)
}

// CreateQuickReply godoc
// @ID          createQuickReply
// @Summary     Create a quick reply
// @Tags        Quick replies
// @Accept      json
// @Produce     json
// @Param       body  body      validate.QuickReplyInput  true  "Quick reply"
// @Success     201   {object}  domain.QuickReply
// @Failure     409   {object}  handlers.ErrorResponse  "Shortcut in use"
// @Router      /quick-replies [post]
func (h *Handlers) CreateQuickReply(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.QuickReplyInput
	if !bind(c, &in) {
		return
	}
	q, err := h.QuickReplies.Create(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, q)
}

// UpdateQuickReply godoc
// @ID          updateQuickReply
// @Summary     Replace a quick reply
// @Tags        Quick replies
// @Accept      json
// @Produce     json
// @Param       id    path  string                    true  "Quick reply ID"  format(uuid)
// @Param       body  body  validate.QuickReplyInput  true  "Quick reply"
// @Success     200  {object}  domain.QuickReply
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /quick-replies/{id} [put]
func (h *Handlers) UpdateQuickReply(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.QuickReplyInput
	if !bind(c, &in) {
		return
	}
	q, err := h.QuickReplies.Update(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}

// DeleteQuickReply godoc
// @ID          deleteQuickReply
// @Summary     Delete a quick reply
// @Tags        Quick replies
// @Param       id  path  string  true  "Quick reply ID"  format(uuid)
// @Success     204
// @Router      /quick-replies/{id} [delete]
func (h *Handlers) DeleteQuickReply(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.QuickReplies.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// SuggestQuickReplies godoc
// @ID          suggestQuickReplies
// @Summary     Rank quick replies by similarity to a draft
// @Tags        Quick replies
// @Produce     json
// @Param       q  query  string  true  "Draft text"
// @Success     200  {array}  services.Suggestion
// @Router      /quick-replies/suggest [get]
func (h *Handlers) SuggestQuickReplies(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	out, err := h.QuickReplies.Suggest(c.Request.Context(), p, c.Query("q"))
	if err != nil {
		failErr(c, err)
		return
	}
	if out == nil {
		out = []services.Suggestion{}
	}
	ok(c, http.StatusOK, out)
}
