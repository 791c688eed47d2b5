// Package services – ContactService
//
// This file implements the phonebook: contact CRUD scoped to the tenant,
// label listing, and CSV import/export. Phones are stored as digits only and
// labels normalized (trimmed, lower-case, unique, sorted) so broadcast
// targeting can match them exactly. Names typed in all lower or all upper
// case are title-cased on the way in.
package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/utils"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// csvHeader is the column layout of imports and exports.
var csvHeader = []string{"formatted_name", "phone", "email", "labels"}

const (
	csvLabelSep     = "|"
	maxImportErrors = 50
)

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// ContactService implements the phonebook.
type ContactService struct {
	DB *gorm.DB

	// NameLocale drives title-casing of shouted or lower-case names.
	NameLocale language.Tag
}

func (s *ContactService) caser() cases.Caser {
	tag := s.NameLocale
	if tag == language.Und {
		tag = language.English
	}
	return cases.Title(tag)
}

// List returns a page of contacts, optionally filtered by label and a
// free-text query over name, phone and email.
func (s *ContactService) List(ctx context.Context, p domain.Principal, f repo.ContactFilter, page, pageSize int) ([]domain.Contact, int64, error) {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("account.id", p.AccountID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = utils.NormalizePage(page, pageSize)
	if f.Label != "" {
		f.Label = strings.ToLower(strings.TrimSpace(f.Label))
	}
	return repo.ListContactsPage(ctx, s.DB, p.AccountID, f, utils.Offset(page, pageSize), pageSize)
}

// Create adds a contact.
func (s *ContactService) Create(ctx context.Context, p domain.Principal, in validate.ContactInput) (*domain.Contact, error) {
	c, err := s.fromInput(p.AccountID, in)
	if err != nil {
		return nil, err
	}
	if err := repo.CreateContact(ctx, s.DB, c); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrContactExists
		}
		return nil, err
	}
	return c, nil
}

// Get returns one contact.
func (s *ContactService) Get(ctx context.Context, p domain.Principal, id string) (*domain.Contact, error) {
	c, err := repo.GetContact(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	return c, err
}

// Update replaces the editable fields of a contact.
func (s *ContactService) Update(ctx context.Context, p domain.Principal, id string, in validate.ContactInput) (*domain.Contact, error) {
	cur, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	next, err := s.fromInput(p.AccountID, in)
	if err != nil {
		return nil, err
	}
	next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
	if err := repo.SaveContact(ctx, s.DB, next); err != nil {
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			return nil, ErrContactExists
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return next, nil
}

// Delete removes a contact.
func (s *ContactService) Delete(ctx context.Context, p domain.Principal, id string) error {
	err := repo.DeleteContact(ctx, s.DB, p.AccountID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrContactNotFound
	}
	return err
}

// Labels returns every label in use, sorted.
func (s *ContactService) Labels(ctx context.Context, p domain.Principal) ([]string, error) {
	return repo.ListLabels(ctx, s.DB, p.AccountID)
}

// Import reads a CSV with a formatted_name,phone,email,labels header
// (column order free, email and labels optional, labels separated by "|").
// Valid rows are upserted by phone; invalid rows are skipped and reported.
func (s *ContactService) Import(ctx context.Context, p domain.Principal, r io.Reader) (*ImportResult, error) {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "Import",
		trace.WithAttributes(attribute.String("account.id", p.AccountID)),
	)
	defer span.End()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[h] = i
	}
	if _, ok := cols["formatted_name"]; !ok {
		return nil, fmt.Errorf("%w: missing formatted_name column", ErrInvalidCSV)
	}
	if _, ok := cols["phone"]; !ok {
		return nil, fmt.Errorf("%w: missing phone column", ErrInvalidCSV)
	}
	field := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	res := &ImportResult{Errors: []string{}}
	skip := func(line int, msg string) {
		res.Skipped++
		if len(res.Errors) < maxImportErrors {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %s", line, msg))
		}
	}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skip(line, err.Error())
			continue
		}
		in := validate.ContactInput{
			FormattedName: field(rec, "formatted_name"),
			Phone:         field(rec, "phone"),
			Email:         field(rec, "email"),
		}
		if raw := field(rec, "labels"); raw != "" {
			in.Labels = strings.Split(raw, csvLabelSep)
		}
		if err := validate.Struct(in); err != nil {
			skip(line, err.Error())
			continue
		}
		c, err := s.fromInput(p.AccountID, in)
		if err != nil {
			skip(line, err.Error())
			continue
		}
		if err := repo.UpsertContact(ctx, s.DB, c); err != nil {
			return res, err
		}
		res.Imported++
	}
	span.SetAttributes(attribute.Int("imported", res.Imported), attribute.Int("skipped", res.Skipped))
	return res, nil
}

// Export writes every contact as CSV using the import layout.
func (s *ContactService) Export(ctx context.Context, p domain.Principal, w io.Writer) error {
	contacts, err := repo.ListAllContacts(ctx, s.DB, p.AccountID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range contacts {
		if err := cw.Write([]string{c.FormattedName, c.Phone, c.Email, strings.Join(c.Labels, csvLabelSep)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *ContactService) fromInput(accountID string, in validate.ContactInput) (*domain.Contact, error) {
	phone, ok := validate.NormalizePhone(in.Phone)
	if !ok {
		return nil, validate.Fail("phone", "must be a valid phone number")
	}
	name := s.FormatName(in.FormattedName)
	if name == "" {
		return nil, validate.Fail("formatted_name", "is required")
	}
	return &domain.Contact{
		AccountID:     accountID,
		FormattedName: name,
		Phone:         phone,
		Email:         strings.ToLower(strings.TrimSpace(in.Email)),
		Labels:        validate.NormalizeLabels(in.Labels),
	}, nil
}

// FormatName collapses whitespace and title-cases names written entirely
// in lower or upper case. Mixed-case names are kept as typed.
func (s *ContactService) FormatName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	hasUpper, hasLower := false, false
	for _, r := range name {
		hasUpper = hasUpper || unicode.IsUpper(r)
		hasLower = hasLower || unicode.IsLower(r)
	}
	if hasUpper != hasLower {
		return s.caser().String(strings.ToLower(name))
	}
	return name
}
