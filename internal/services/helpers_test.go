package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedOwner creates an owner account and returns its principal.
func seedOwner(t *testing.T, db *gorm.DB, email string) domain.Principal {
	t.Helper()
	a := &domain.Account{Name: "Owner", Email: email, PasswordHash: "x", Permissions: []string{}}
	if err := repo.CreateAccount(context.Background(), db, a); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	return a.Principal()
}

// seedAgent creates an agent under owner and returns its principal.
func seedAgent(t *testing.T, db *gorm.DB, owner domain.Principal, email string, perms ...string) domain.Principal {
	t.Helper()
	parent := owner.AccountID
	a := &domain.Account{Name: "Agent", Email: email, PasswordHash: "x", Role: domain.RoleAgent, ParentID: &parent, Permissions: perms}
	if err := repo.CreateAccount(context.Background(), db, a); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return a.Principal()
}

func seedDevice(t *testing.T, db *gorm.DB, p domain.Principal, phoneNumberID string) *domain.Device {
	t.Helper()
	d := &domain.Device{AccountID: p.AccountID, Name: "Main", PhoneNumberID: phoneNumberID}
	if err := repo.CreateDevice(context.Background(), db, d); err != nil {
		t.Fatalf("seed device: %v", err)
	}
	return d
}

func seedConversation(t *testing.T, db *gorm.DB, p domain.Principal, d *domain.Device, phone string) *domain.Conversation {
	t.Helper()
	c, _, err := repo.GetOrCreateConversation(context.Background(), db, domain.Conversation{
		AccountID: p.AccountID, DeviceID: d.ID, ContactPhone: phone, ContactName: phone,
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return c
}

// sent is one call recorded by fakeSender.
type sent struct {
	Kind    string
	From    string
	To      string
	Body    string
	Choices []string
}

// fakeSender records every send. fail maps a recipient to the errors its
// successive sends return; an exhausted or missing entry succeeds. onSend,
// when set, runs after each recorded call with the running call count.
type fakeSender struct {
	mu     sync.Mutex
	calls  []sent
	fail   map[string][]error
	err    error
	onSend func(n int)
}

func (f *fakeSender) record(s sent) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	n := len(f.calls)
	err := f.err
	if q := f.fail[s.To]; err == nil && len(q) > 0 {
		f.fail[s.To] = q[1:]
		err = q[0]
	}
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("wamid.%d", n), nil
}

func (f *fakeSender) SendText(_ context.Context, from, to, body string) (string, error) {
	return f.record(sent{Kind: "text", From: from, To: to, Body: body})
}

func (f *fakeSender) SendTemplate(_ context.Context, from, to, name, lang string) (string, error) {
	return f.record(sent{Kind: "template", From: from, To: to, Body: name + "/" + lang})
}

func (f *fakeSender) SendButtons(_ context.Context, from, to, body string, buttons []whatsapp.Button) (string, error) {
	s := sent{Kind: "buttons", From: from, To: to, Body: body}
	for _, b := range buttons {
		s.Choices = append(s.Choices, b.ID+"="+b.Title)
	}
	return f.record(s)
}

func (f *fakeSender) SendList(_ context.Context, from, to, body, buttonText string, rows []whatsapp.Row) (string, error) {
	s := sent{Kind: "list", From: from, To: to, Body: body}
	for _, r := range rows {
		s.Choices = append(s.Choices, r.ID+"="+r.Title)
	}
	return f.record(s)
}

func (f *fakeSender) Calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

// recNotifier records event names with the message status or conversation id.
type recNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recNotifier) add(s string) {
	n.mu.Lock()
	n.events = append(n.events, s)
	n.mu.Unlock()
}

func (n *recNotifier) MessageNew(_ string, m domain.Message) { n.add("new:" + m.Status) }
func (n *recNotifier) MessageUpdated(_ string, m domain.Message) {
	n.add("updated:" + m.Status)
}
func (n *recNotifier) ConversationUpdated(c domain.Conversation) { n.add("conversation:" + c.ID) }

func (n *recNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}
