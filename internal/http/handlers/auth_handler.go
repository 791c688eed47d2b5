// Auth HTTP handlers.
//
//   - POST   /auth/register
//   - POST   /auth/login          (sets the HTTP-only session cookie)
//   - POST   /auth/logout
//   - GET    /auth/me
//   - GET    /auth/sessions
//   - DELETE /auth/sessions/{id}
//   - GET    /api-keys, POST /api-keys, DELETE /api-keys/{id}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// CreateAPIKeyResponse returns the stored key and, once, its secret.
type CreateAPIKeyResponse struct {
	Key *domain.APIKey `json:"key"`
	// Secret is shown only at creation time.
	Secret string `json:"secret" example:"wak_3f9a..."`
}

// Register godoc
// @ID          register
// @Summary     Create an owner account
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      validate.RegisterInput  true  "Account"
// @Success     201   {object}  domain.Account
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "Email or phone taken"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var in validate.RegisterInput
	if !bind(c, &in) {
		return
	}
	a, err := h.Auth.Register(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}

// Login godoc
// @ID          login
// @Summary     Log in and start a session
// @Description Returns a bearer token and sets it as an HTTP-only cookie.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      validate.LoginInput  true  "Credentials"
// @Success     200   {object}  services.LoginResult
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     403   {object}  handlers.ErrorResponse  "Account blocked"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var in validate.LoginInput
	if !bind(c, &in) {
		return
	}
	res, err := h.Auth.Login(c.Request.Context(), in.Email, in.Password, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		failErr(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.opts.CookieName, res.Token, int(h.opts.SessionTTL.Seconds()), "/", "", h.opts.CookieSecure, true)
	ok(c, http.StatusOK, res)
}

// Logout godoc
// @ID          logout
// @Summary     Revoke the current session
// @Tags        Auth
// @Success     204
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /auth/logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.Auth.Logout(c.Request.Context(), p); err != nil {
		failErr(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.opts.CookieName, "", -1, "/", "", h.opts.CookieSecure, true)
	noContent(c)
}

// Me godoc
// @ID          me
// @Summary     Current account
// @Tags        Auth
// @Produce     json
// @Success     200  {object}  domain.Account
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	a, err := h.Auth.Me(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// ListSessions godoc
// @ID          listSessions
// @Summary     Active sessions of the caller
// @Tags        Auth
// @Produce     json
// @Success     200  {array}   domain.Session
// @Router      /auth/sessions [get]
func (h *Handlers) ListSessions(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	items, err := h.Auth.Sessions(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Session{}
	}
	ok(c, http.StatusOK, items)
}

// RevokeSession godoc
// @ID          revokeSession
// @Summary     Revoke one of the caller's sessions
// @Tags        Auth
// @Param       id  path  string  true  "Session ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /auth/sessions/{id} [delete]
func (h *Handlers) RevokeSession(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.Auth.RevokeSession(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListAPIKeys godoc
// @ID          listAPIKeys
// @Summary     List API keys
// @Tags        API keys
// @Produce     json
// @Success     200  {array}  domain.APIKey
// @Router      /api-keys [get]
func (h *Handlers) ListAPIKeys(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	items, err := h.APIKeys.List(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.APIKey{}
	}
	ok(c, http.StatusOK, items)
}

// CreateAPIKey godoc
// @ID          createAPIKey
// @Summary     Create an API key
// @Description The secret is returned once and never stored in clear text.
// @Tags        API keys
// @Accept      json
// @Produce     json
// @Param       body  body      validate.APIKeyInput  true  "Key"
// @Success     201   {object}  handlers.CreateAPIKeyResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Router      /api-keys [post]
func (h *Handlers) CreateAPIKey(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.APIKeyInput
	if !bind(c, &in) {
		return
	}
	k, secret, err := h.APIKeys.Create(c.Request.Context(), p, in.Name)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, CreateAPIKeyResponse{Key: k, Secret: secret})
}

// RevokeAPIKey godoc
// @ID          revokeAPIKey
// @Summary     Revoke an API key
// @Tags        API keys
// @Param       id  path  string  true  "Key ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /api-keys/{id} [delete]
func (h *Handlers) RevokeAPIKey(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.APIKeys.Revoke(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
