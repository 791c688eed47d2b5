package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("want *Error, got %T (%v)", err, err)
	}
	out := map[string]string{}
	for _, f := range ve.Fields {
		out[f.Field] = f.Message
	}
	return out
}

func TestContactSchema_RequiresFormattedName(t *testing.T) {
	err := Struct(ContactInput{Phone: "5511912345678"})
	if err == nil {
		t.Fatal("expected error for missing formatted_name")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("errors.Is(err, ErrInvalid) = false for %v", err)
	}
	got := fieldsOf(t, err)
	if got["formatted_name"] != "is required" {
		t.Fatalf("fields = %v", got)
	}
}

func TestContactSchema_PhoneEmailLabels(t *testing.T) {
	err := Struct(ContactInput{FormattedName: "Ana", Phone: "12-34", Email: "nope", Labels: []string{"ok", "bad!label"}})
	got := fieldsOf(t, err)
	for _, f := range []string{"phone", "email", "labels[1]"} {
		if _, ok := got[f]; !ok {
			t.Fatalf("missing error for %s in %v", f, got)
		}
	}
	if _, ok := got["labels[0]"]; ok {
		t.Fatalf("valid label flagged: %v", got)
	}

	if err := Struct(ContactInput{FormattedName: "Ana", Phone: "+55 (11) 91234-5678", Labels: []string{"VIP", "new lead"}}); err != nil {
		t.Fatalf("valid contact rejected: %v", err)
	}
}

func TestBroadcastSchema_Refinements(t *testing.T) {
	base := BroadcastInput{Name: "Sale", DeviceID: "0b5a7c3e-8d0f-4d1e-9a6b-1f2e3d4c5b6a"}

	got := fieldsOf(t, Struct(base))
	if got["custom_text"] != "either custom_text or phonebook_data must be set" {
		t.Fatalf("custom_text refinement missing: %v", got)
	}
	if got["body"] != "either template_name or body must be set" {
		t.Fatalf("body refinement missing: %v", got)
	}

	withLabels := base
	withLabels.PhonebookData = []string{"vip"}
	withLabels.Body = "Hello"
	if err := Struct(withLabels); err != nil {
		t.Fatalf("labels + body rejected: %v", err)
	}

	withText := base
	withText.CustomText = "5511912345678"
	withText.TemplateName = "spring_sale"
	got = fieldsOf(t, Struct(withText))
	if got["template_language"] != "is required" {
		t.Fatalf("template_language rule missing: %v", got)
	}
	withText.TemplateLanguage = "en_US"
	if err := Struct(withText); err != nil {
		t.Fatalf("custom_text + template rejected: %v", err)
	}
}

func TestQuickReplyAndSendSchemas(t *testing.T) {
	got := fieldsOf(t, Struct(QuickReplyInput{Shortcut: "hours", Title: "t", Message: "m"}))
	if _, ok := got["shortcut"]; !ok {
		t.Fatalf("shortcut without slash accepted: %v", got)
	}
	if err := Struct(QuickReplyInput{Shortcut: "/hours", Title: "t", Message: "m"}); err != nil {
		t.Fatalf("valid quick reply rejected: %v", err)
	}

	got = fieldsOf(t, Struct(SendMessageInput{}))
	if got["text"] != "is required" {
		t.Fatalf("empty send accepted: %v", got)
	}
	if err := Struct(SendMessageInput{Shortcut: "/hours"}); err != nil {
		t.Fatalf("shortcut-only send rejected: %v", err)
	}
}

func TestAgentAndCouponSchemas(t *testing.T) {
	got := fieldsOf(t, Struct(AgentInput{Name: "Carl", Email: "c@example.com", Password: "longenough", Permissions: []string{"conversations", "root"}}))
	if got["permissions[1]"] != "is not a known permission" {
		t.Fatalf("unknown permission accepted: %v", got)
	}

	got = fieldsOf(t, Struct(CouponInput{Code: "SAVE10", PercentOff: 10, AmountOff: 500}))
	if !strings.Contains(got["percent_off"], "exactly one") {
		t.Fatalf("coupon refinement missing: %v", got)
	}
	if err := Struct(CouponInput{Code: "SAVE10", PercentOff: 10}); err != nil {
		t.Fatalf("valid coupon rejected: %v", err)
	}
}

func TestErrorString_SortedFields(t *testing.T) {
	err := Struct(RegisterInput{})
	msg := err.Error()
	if !strings.HasPrefix(msg, "email: is required") || !strings.Contains(msg, "password: is required") {
		t.Fatalf("unexpected message: %q", msg)
	}
	if f := Fail("graph", "must have a start node"); f.Error() != "graph: must have a start node" || !errors.Is(f, ErrInvalid) {
		t.Fatalf("Fail = %v", f)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"+55 (11) 91234-5678": {"5511912345678", true},
		"1234567":             {"1234567", false},
		"12345678":            {"12345678", true},
		"1234567890123456":    {"1234567890123456", false},
		"":                    {"", false},
	}
	for in, tc := range cases {
		got, ok := NormalizePhone(in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizePhone(%q) = %q,%v; want %q,%v", in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNormalizeLabels(t *testing.T) {
	got := NormalizeLabels([]string{" VIP", "lead", "vip", "", "  "})
	if diff := cmp.Diff([]string{"lead", "vip"}, got); diff != "" {
		t.Fatalf("NormalizeLabels mismatch (-want +got):\n%s", diff)
	}
	if got := NormalizeLabels(nil); got == nil || len(got) != 0 {
		t.Fatalf("NormalizeLabels(nil) = %#v, want empty non-nil", got)
	}
}

func TestSplitPhones(t *testing.T) {
	phones, rejected := SplitPhones("5511912345678, +55 11 99876-5432\n5511912345678;abc 5521987654321 5531987654321")
	want := []string{"5511912345678", "5511998765432", "5521987654321", "5531987654321"}
	if diff := cmp.Diff(want, phones); diff != "" {
		t.Fatalf("phones mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"abc"}, rejected); diff != "" {
		t.Fatalf("rejected mismatch (-want +got):\n%s", diff)
	}
}

func TestEmail(t *testing.T) {
	for in, want := range map[string]bool{
		"ana@example.com":   true,
		"  ana@example.com": true,
		"ana@":              false,
		"":                  false,
		"not an email":      false,
	} {
		if got := Email(in); got != want {
			t.Errorf("Email(%q) = %v, want %v", in, got, want)
		}
	}
}
