// Phonebook and device HTTP handlers.
//
//   - GET    /phonebook            (page, page_size, label, q)
//   - POST   /phonebook
//   - GET    /phonebook/labels
//   - POST   /phonebook/import     (multipart "file", CSV)
//   - GET    /phonebook/export     (CSV)
//   - GET    /phonebook/{id}, PATCH /phonebook/{id}, DELETE /phonebook/{id}
//   - GET    /devices, POST /devices, DELETE /devices/{id}
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// ListContacts godoc
// @ID          listContacts
// @Summary     List phonebook contacts
// @Tags        Phonebook
// @Produce     json
// @Param       label      query  string  false  "Exact label"
// @Param       q          query  string  false  "Substring of name, phone or email"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.Page[domain.Contact]
// @Failure     403  {object}  handlers.ErrorResponse
// @Router      /phonebook [get]
func (h *Handlers) ListContacts(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	page, pageSize := clampPagination(c)
	f := repo.ContactFilter{
		Label: strings.ToLower(strings.TrimSpace(c.Query("label"))),
		Query: strings.TrimSpace(c.Query("q")),
	}
	items, total, err := h.Contacts.List(c.Request.Context(), p, f, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, newPage(items, total, page, pageSize))
}

// CreateContact godoc
// @ID          createContact
// @Summary     Add a contact
// @Tags        Phonebook
// @Accept      json
// @Produce     json
// @Param       body  body      validate.ContactInput  true  "Contact"
// @Success     201   {object}  domain.Contact
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse  "Phone already in phonebook"
// @Router      /phonebook [post]
func (h *Handlers) CreateContact(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.ContactInput
	if !bind(c, &in) {
		return
	}
	ct, err := h.Contacts.Create(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ct)
}

// GetContact godoc
// @ID          getContact
// @Summary     Get a contact
// @Tags        Phonebook
// @Produce     json
// @Param       id  path  string  true  "Contact ID"  format(uuid)
// @Success     200  {object}  domain.Contact
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /phonebook/{id} [get]
func (h *Handlers) GetContact(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	ct, err := h.Contacts.Get(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ct)
}

// UpdateContact godoc
// @ID          updateContact
// @Summary     Replace a contact's fields
// @Tags        Phonebook
// @Accept      json
// @Produce     json
// @Param       id    path  string                 true  "Contact ID"  format(uuid)
// @Param       body  body  validate.ContactInput  true  "Contact"
// @Success     200  {object}  domain.Contact
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /phonebook/{id} [patch]
func (h *Handlers) UpdateContact(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.ContactInput
	if !bind(c, &in) {
		return
	}
	ct, err := h.Contacts.Update(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ct)
}

// DeleteContact godoc
// @ID          deleteContact
// @Summary     Delete a contact
// @Tags        Phonebook
// @Param       id  path  string  true  "Contact ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /phonebook/{id} [delete]
func (h *Handlers) DeleteContact(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.Contacts.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListLabels godoc
// @ID          listLabels
// @Summary     Distinct labels in the phonebook
// @Tags        Phonebook
// @Produce     json
// @Success     200  {array}  string
// @Router      /phonebook/labels [get]
func (h *Handlers) ListLabels(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	labels, err := h.Contacts.Labels(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	if labels == nil {
		labels = []string{}
	}
	ok(c, http.StatusOK, labels)
}

// ImportContacts godoc
// @ID          importContacts
// @Summary     Import contacts from CSV
// @Description Header: formatted_name,phone,email,labels. Labels are separated by "|".
// @Tags        Phonebook
// @Accept      multipart/form-data
// @Produce     json
// @Param       file  formData  file  true  "CSV file"
// @Success     200  {object}  services.ImportResult
// @Failure     400  {object}  handlers.ErrorResponse
// @Router      /phonebook/import [post]
func (h *Handlers) ImportContacts(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot read uploaded file")
		return
	}
	defer f.Close()

	res, err := h.Contacts.Import(c.Request.Context(), p, f)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ExportContacts godoc
// @ID          exportContacts
// @Summary     Export the phonebook as CSV
// @Tags        Phonebook
// @Produce     text/csv
// @Success     200  {file}  file
// @Router      /phonebook/export [get]
func (h *Handlers) ExportContacts(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="phonebook.csv"`)
	c.Status(http.StatusOK)
	if err := h.Contacts.Export(c.Request.Context(), p, c.Writer); err != nil {
		if !c.Writer.Written() {
			failErr(c, err)
			return
		}
		middleware.LoggerFrom(c).Error().Err(err).Msg("phonebook export interrupted")
	}
}

// ListDevices godoc
// @ID          listDevices
// @Summary     List WhatsApp phone numbers
// @Tags        Devices
// @Produce     json
// @Success     200  {array}  domain.Device
// @Router      /devices [get]
func (h *Handlers) ListDevices(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	items, err := h.Devices.List(c.Request.Context(), p)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Device{}
	}
	ok(c, http.StatusOK, items)
}

// CreateDevice godoc
// @ID          createDevice
// @Summary     Register a WhatsApp phone number
// @Tags        Devices
// @Accept      json
// @Produce     json
// @Param       body  body      validate.DeviceInput  true  "Device"
// @Success     201   {object}  domain.Device
// @Failure     409   {object}  handlers.ErrorResponse
// @Router      /devices [post]
func (h *Handlers) CreateDevice(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	var in validate.DeviceInput
	if !bind(c, &in) {
		return
	}
	d, err := h.Devices.Create(c.Request.Context(), p, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, d)
}

// DeleteDevice godoc
// @ID          deleteDevice
// @Summary     Remove a WhatsApp phone number
// @Tags        Devices
// @Param       id  path  string  true  "Device ID"  format(uuid)
// @Success     204
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /devices/{id} [delete]
func (h *Handlers) DeleteDevice(c *gin.Context) {
	p, okp := caller(c)
	if !okp {
		return
	}
	if err := h.Devices.Delete(c.Request.Context(), p, c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
