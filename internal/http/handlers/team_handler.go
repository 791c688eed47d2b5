// Team and platform handlers: agents, coupons and admin tooling.
//
//   - GET /agents, POST /agents, PATCH /agents/{id}, DELETE /agents/{id}
//   - GET /coupon, POST /coupon, DELETE /coupon/{id}         (admin)
//   - POST /coupon/validate, POST /coupon/redeem
//   - GET /users, GET /users/admins, PATCH /users/{id}/status (admin)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

//
// Agents
//

// ListAgents godoc
// @ID          listAgents
// @Summary     List the owner's agents
// @Tags        Agents
// @Produce     json
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.Page[domain.Account]
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /agents [get]
func (h *Handlers) ListAgents(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.Agents.List(c.Request.Context(), p, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newPage(items, total, page, pageSize))
}

// CreateAgent godoc
// @ID          createAgent
// @Summary     Create an agent with a permission subset
// @Tags        Agents
// @Accept      json
// @Produce     json
// @Param       body  body      validate.AgentInput  true  "Agent"
// @Success     201   {object}  domain.Account
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse
// @Router      /agents [post]
func (h *Handlers) CreateAgent(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.AgentInput
	if !bind(c, &in) {
		return
	}
	a, err := h.Agents.Create(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}

// PatchAgent godoc
// @ID          patchAgent
// @Summary     Update an agent's name, permissions or status
// @Tags        Agents
// @Accept      json
// @Produce     json
// @Param       id    path  string               true  "Agent ID"  format(uuid)
// @Param       body  body  validate.AgentPatch  true  "Changes"
// @Success     200  {object}  domain.Account
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /agents/{id} [patch]
func (h *Handlers) PatchAgent(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.AgentPatch
	if !bind(c, &in) {
		return
	}
	a, err := h.Agents.Patch(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}

// DeleteAgent godoc
// @ID          deleteAgent
// @Summary     Delete an agent
// @Description Conversations assigned to the agent return to the shared queue.
// @Tags        Agents
// @Param       id  path  string  true  "Agent ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /agents/{id} [delete]
func (h *Handlers) DeleteAgent(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.Agents.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

//
// Coupons
//

// ListCoupons godoc
// @ID          listCoupons
// @Summary     List coupons
// @Tags        Coupons
// @Produce     json
// @Success     200  {array}  domain.Coupon
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /coupon [get]
func (h *Handlers) ListCoupons(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	items, err := h.Coupons.List(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Coupon{}
	}
	ok(c, http.StatusOK, items)
}

// CreateCoupon godoc
// @ID          createCoupon
// @Summary     Create a coupon
// @Tags        Coupons
// @Accept      json
// @Produce     json
// @Param       body  body      validate.CouponInput  true  "Coupon"
// @Success     201   {object}  domain.Coupon
// @Failure     409   {object}  handlers.ErrorResponse
// @Router      /coupon [post]
func (h *Handlers) CreateCoupon(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.CouponInput
	if !bind(c, &in) {
		return
	}
	cp, err := h.Coupons.Create(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, cp)
}

// DeleteCoupon godoc
// @ID          deleteCoupon
// @Summary     Delete a coupon
// @Tags        Coupons
// @Param       id  path  string  true  "Coupon ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /coupon/{id} [delete]
func (h *Handlers) DeleteCoupon(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.Coupons.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ValidateCoupon godoc
// @ID          validateCoupon
// @Summary     Quote a coupon against an amount
// @Tags        Coupons
// @Accept      json
// @Produce     json
// @Param       body  body      validate.CouponCheckInput  true  "Code and amount"
// @Success     200   {object}  services.Quote
// @Failure     404   {object}  handlers.ErrorResponse
// @Failure     422   {object}  handlers.ErrorResponse  "Inactive, expired or exhausted"
// @Router      /coupon/validate [post]
func (h *Handlers) ValidateCoupon(c *gin.Context) {
	var in validate.CouponCheckInput
	if !bind(c, &in) {
		return
	}
	q, err := h.Coupons.Validate(c.Request.Context(), in.Code, in.Amount)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}

// RedeemCoupon godoc
// @ID          redeemCoupon
// @Summary     Redeem a coupon
// @Tags        Coupons
// @Accept      json
// @Produce     json
// @Param       body  body      validate.CouponCheckInput  true  "Code and amount"
// @Success     200   {object}  services.Quote
// @Failure     409   {object}  handlers.ErrorResponse  "Already redeemed by this account"
// @Failure     422   {object}  handlers.ErrorResponse
// @Router      /coupon/redeem [post]
func (h *Handlers) RedeemCoupon(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.CouponCheckInput
	if !bind(c, &in) {
		return
	}
	q, err := h.Coupons.Redeem(c.Request.Context(), p, in.Code, in.Amount)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}

//
// Admin
//

// ListUsers godoc
// @ID          listUsers
// @Summary     List accounts
// @Tags        Admin
// @Produce     json
// @Param       role       query  string  false  "owner|agent|admin"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.Page[domain.Account]
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	page, pageSize := clampPagination(c)
	items, total, err := h.Admin.Users(c.Request.Context(), p, strings.TrimSpace(c.Query("role")), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newPage(items, total, page, pageSize))
}

// ListAdmins godoc
// @ID          listAdmins
// @Summary     List platform administrators
// @Tags        Admin
// @Produce     json
// @Success     200  {array}  domain.Account
// @Router      /users/admins [get]
func (h *Handlers) ListAdmins(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	items, err := h.Admin.Admins(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Account{}
	}
	ok(c, http.StatusOK, items)
}

// SetUserStatus godoc
// @ID          setUserStatus
// @Summary     Block or unblock an account
// @Description Blocking revokes every session of the account.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       id    path  string                true  "Account ID"  format(uuid)
// @Param       body  body  validate.StatusInput  true  "active|blocked"
// @Success     200  {object}  domain.Account
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /users/{id}/status [patch]
func (h *Handlers) SetUserStatus(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.StatusInput
	if !bind(c, &in) {
		return
	}
	a, err := h.Admin.SetStatus(c.Request.Context(), p, c.Param("id"), strings.ToLower(strings.TrimSpace(in.Status)))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, a)
}
