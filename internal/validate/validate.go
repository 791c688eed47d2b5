// Package validate holds request body schemas and the rules that check
// them. It wraps go-playground/validator with the project's custom tags
// (phone, label, shortcut) and cross-field refinements, and renders
// failures as field-addressed messages suitable for the error envelope.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// FieldError is one failed rule, addressed by the JSON field name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error aggregates every failed rule of a request body.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalid) match any *Error.
func (e *Error) Is(target error) bool { return target == ErrInvalid }

// ErrInvalid matches every validation failure produced by this package.
var ErrInvalid = errors.New("invalid input")

var (
	once sync.Once
	v    *validator.Validate
)

func engine() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			_, ok := NormalizePhone(fl.Field().String())
			return ok
		})
		_ = v.RegisterValidation("label", func(fl validator.FieldLevel) bool {
			return labelRE.MatchString(strings.ToLower(strings.TrimSpace(fl.Field().String())))
		})
		_ = v.RegisterValidation("shortcut", func(fl validator.FieldLevel) bool {
			return shortcutRE.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("perm", func(fl validator.FieldLevel) bool {
			return isPermission(fl.Field().String())
		})
		v.RegisterStructValidation(broadcastRules, BroadcastInput{})
		v.RegisterStructValidation(couponRules, CouponInput{})
	})
	return v
}

var (
	labelRE    = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} _\-]{0,39}$`)
	shortcutRE = regexp.MustCompile(`^/[a-z0-9][a-z0-9_\-]{0,31}$`)
)

// Struct validates s and returns nil or an *Error.
func Struct(s any) error {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := &Error{Fields: make([]FieldError, 0, len(ve))}
	for _, fe := range ve {
		out.Fields = append(out.Fields, FieldError{Field: fieldPath(fe), Message: message(fe)})
	}
	sort.SliceStable(out.Fields, func(i, j int) bool { return out.Fields[i].Field < out.Fields[j].Field })
	return out
}

// Email reports whether s is a syntactically valid email address.
func Email(s string) bool {
	return engine().Var(strings.TrimSpace(s), "required,email") == nil
}

// Fail builds an *Error for rules checked outside the validator (CSV rows,
// graph structure).
func Fail(field, msg string) error {
	return &Error{Fields: []FieldError{{Field: field, Message: msg}}}
}

// fieldPath strips the root struct name from the namespace
// ("ContactInput.labels[0]" -> "labels[0]").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s items", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "phone":
		return "must contain 8 to 15 digits"
	case "label":
		return "must be 1-40 letters, digits, spaces, '-' or '_'"
	case "shortcut":
		return "must start with '/' followed by lower-case letters, digits, '-' or '_'"
	case "perm":
		return "is not a known permission"
	case "uuid4", "uuid":
		return "must be a UUID"
	case "either":
		return fe.Param()
	default:
		return "is invalid"
	}
}
