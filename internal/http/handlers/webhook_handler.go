// WhatsApp Cloud API webhook and realtime handlers.
//
//   - GET  /webhook   subscription handshake (hub.mode, hub.verify_token, hub.challenge)
//   - POST /webhook   inbound messages and status callbacks
//   - GET  /ws        WebSocket upgrade for inbox events
package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

// HeaderHubSignature carries the HMAC-SHA256 of the webhook body.
const HeaderHubSignature = "X-Hub-Signature-256"

// VerifyWebhook godoc
// @ID          verifyWebhook
// @Summary     Cloud API subscription handshake
// @Description Echoes hub.challenge when hub.verify_token matches the configured token.
// @Tags        Webhook
// @Produce     plain
// @Param       hub.mode          query  string  true  "subscribe"
// @Param       hub.verify_token  query  string  true  "Configured verify token"
// @Param       hub.challenge     query  string  true  "Challenge to echo"
// @Success     200  {string}  string
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /webhook [get]
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	want := h.opts.WebhookVerifyToken
	if mode != "subscribe" || want == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
		fail(c, http.StatusForbidden, ErrCodeVerifyFailed, "webhook verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// ReceiveWebhook godoc
// @ID          receiveWebhook
// @Summary     Cloud API event delivery
// @Description Inbound messages and delivery statuses. Duplicate deliveries are ignored.
// @Tags        Webhook
// @Accept      json
// @Produce     json
// @Param       X-Hub-Signature-256  header  string  false  "sha256=<hex>; required when an app secret is configured"
// @Success     200  {object}  services.IngestResult
// @Failure     401  {object}  handlers.ErrorResponse  "Bad signature"
// @Router      /webhook [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read body")
		return
	}
	if h.opts.WebhookAppSecret != "" &&
		!whatsapp.VerifySignature(h.opts.WebhookAppSecret, body, c.GetHeader(HeaderHubSignature)) {
		fail(c, http.StatusUnauthorized, ErrCodeBadSignature, "invalid webhook signature")
		return
	}

	var payload whatsapp.Payload
	if err := binding.JSON.BindBody(body, &payload); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request body must be valid JSON")
		return
	}
	res, err := h.Messages.Ingest(c.Request.Context(), payload)
	if err != nil {
		// Non-2xx makes the Cloud API redeliver; ingestion is idempotent.
		failErr(c, err)
		return
	}
	middleware.LoggerFrom(c).Debug().
		Int("messages", res.Messages).
		Int("statuses", res.Statuses).
		Msg("webhook ingested")
	ok(c, http.StatusOK, res)
}

// ServeRealtime godoc
// @ID          serveRealtime
// @Summary     Inbox events over WebSocket
// @Description Send {"type":"join_conversation","conversation_id":"..."} to subscribe.
// @Description Browsers pass the session token as ?token= or rely on the cookie.
// @Tags        Realtime
// @Param       token  query  string  false  "Session token"
// @Success     101
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /ws [get]
func (h *Handlers) ServeRealtime(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	h.Realtime.ServeWS(c.Writer, c.Request, p)
	c.Abort()
}
