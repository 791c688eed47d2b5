// Package services – AuthService
//
// This file implements registration, password login, and request
// authentication. Passwords are bcrypt hashes; logins create a server-side
// Session row whose id travels in the "sid" claim of an HS256 JWT, so
// revoking the row invalidates the token before it expires. API keys are
// matched by the SHA-256 digest of the presented secret.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/internal/config"
	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/validate"
)

// Claims are the JWT claims of a session token. Subject is the account id.
type Claims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Account   *domain.Account `json:"account"`
	SessionID string          `json:"session_id"`
}

// NewAccount describes an account to create.
type NewAccount struct {
	Name        string
	Email       string
	Phone       string
	Password    string
	Role        string
	ParentID    *string
	Permissions []string
}

// AuthService issues and verifies credentials.
type AuthService struct {
	DB *gorm.DB

	// Secret signs session tokens (HS256).
	Secret []byte
	// TTL is the lifetime of sessions and their tokens.
	TTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// Now is overridable in tests.
	Now func() time.Time
}

// NewAuthService constructs an AuthService from configuration.
func NewAuthService(db *gorm.DB, cfg config.AuthConfig) *AuthService {
	return &AuthService{
		DB:         db,
		Secret:     []byte(cfg.JWTSecret),
		TTL:        cfg.SessionTTL,
		BcryptCost: bcrypt.DefaultCost,
		Now:        time.Now,
	}
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AuthService) cost() int {
	if s.BcryptCost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return s.BcryptCost
}

// HashPassword returns the bcrypt hash of pw.
func (s *AuthService) HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), s.cost())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Register creates an owner account.
func (s *AuthService) Register(ctx context.Context, in validate.RegisterInput) (*domain.Account, error) {
	return s.CreateAccount(ctx, NewAccount{
		Name:     in.Name,
		Email:    in.Email,
		Phone:    in.Phone,
		Password: in.Password,
		Role:     domain.RoleUser,
	})
}

// CreateAccount hashes the password and stores a new account of any role.
// It backs registration, agent creation, and the create-admin command.
func (s *AuthService) CreateAccount(ctx context.Context, na NewAccount) (*domain.Account, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "CreateAccount",
		trace.WithAttributes(attribute.String("account.role", na.Role)),
	)
	defer span.End()

	hash, err := s.HashPassword(na.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	a := &domain.Account{
		ParentID:     na.ParentID,
		Name:         strings.TrimSpace(na.Name),
		Email:        na.Email,
		PasswordHash: hash,
		Role:         na.Role,
		Permissions:  na.Permissions,
	}
	if a.Permissions == nil {
		a.Permissions = []string{}
	}
	if na.Phone != "" {
		if p, ok := validate.NormalizePhone(na.Phone); ok {
			a.Phone = &p
		}
	}
	if err := repo.CreateAccount(ctx, s.DB, a); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return a, nil
}

// dummyHash keeps unknown-email logins as slow as wrong-password ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.MinCost)

// Login verifies the password, opens a session, and signs its token.
func (s *AuthService) Login(ctx context.Context, email, password, userAgent, ip string) (*LoginResult, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	a, err := repo.GetAccountByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if a.Status == domain.AccountBlocked {
		return nil, ErrAccountBlocked
	}

	sess, err := repo.CreateSession(ctx, s.DB, a.ID, clip(userAgent, 255), clip(ip, 64), s.TTL)
	if err != nil {
		return nil, err
	}
	tok, err := s.SignToken(a.ID, sess.ID, a.Role, sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	now := s.now()
	_ = repo.TouchLogin(ctx, s.DB, a.ID, now)
	a.LastLoginAt = &now

	span.SetAttributes(attribute.String("account.id", a.ID))
	return &LoginResult{Token: tok, ExpiresAt: sess.ExpiresAt, Account: a, SessionID: sess.ID}, nil
}

// SignToken signs a session token.
func (s *AuthService) SignToken(accountID, sessionID, role string, exp time.Time) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

// ParseToken verifies signature, algorithm, and expiry.
func (s *AuthService) ParseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || c.Subject == "" || c.SessionID == "" {
		return nil, ErrUnauthenticated
	}
	return c, nil
}

// Authenticate resolves a session token into a Principal. The session must
// be live and the account active.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Principal, error) {
	c, err := s.ParseToken(token)
	if err != nil {
		return domain.Principal{}, err
	}
	sess, err := repo.GetSession(ctx, s.DB, c.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Principal{}, ErrUnauthenticated
		}
		return domain.Principal{}, err
	}
	if sess.AccountID != c.Subject || !sess.Active(s.now()) {
		return domain.Principal{}, ErrUnauthenticated
	}
	a, err := s.activeAccount(ctx, sess.AccountID)
	if err != nil {
		return domain.Principal{}, err
	}
	_ = repo.TouchSession(ctx, s.DB, sess.ID, s.now())

	p := a.Principal()
	p.SessionID = sess.ID
	return p, nil
}

// AuthenticateAPIKey resolves an X-API-Key secret into a Principal.
func (s *AuthService) AuthenticateAPIKey(ctx context.Context, raw string) (domain.Principal, error) {
	if !strings.HasPrefix(raw, apiKeyPrefix) {
		return domain.Principal{}, ErrUnauthenticated
	}
	k, err := repo.GetAPIKeyByHash(ctx, s.DB, HashAPIKey(raw))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Principal{}, ErrUnauthenticated
		}
		return domain.Principal{}, err
	}
	a, err := s.activeAccount(ctx, k.AccountID)
	if err != nil {
		return domain.Principal{}, err
	}
	_ = repo.TouchAPIKey(ctx, s.DB, k.ID, s.now())

	p := a.Principal()
	p.APIKeyID = k.ID
	return p, nil
}

func (s *AuthService) activeAccount(ctx context.Context, id string) (*domain.Account, error) {
	a, err := repo.GetAccount(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	if a.Status == domain.AccountBlocked {
		return nil, ErrAccountBlocked
	}
	return a, nil
}

// Logout revokes the caller's current session.
func (s *AuthService) Logout(ctx context.Context, p domain.Principal) error {
	if p.SessionID == "" {
		return nil
	}
	err := repo.RevokeSession(ctx, s.DB, p.ActorID, p.SessionID, s.now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	return err
}

// Me returns the caller's account.
func (s *AuthService) Me(ctx context.Context, p domain.Principal) (*domain.Account, error) {
	a, err := repo.GetAccount(ctx, s.DB, p.ActorID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

// Sessions lists the caller's live sessions.
func (s *AuthService) Sessions(ctx context.Context, p domain.Principal) ([]domain.Session, error) {
	return repo.ListActiveSessions(ctx, s.DB, p.ActorID, s.now())
}

// RevokeSession revokes one of the caller's sessions.
func (s *AuthService) RevokeSession(ctx context.Context, p domain.Principal, id string) error {
	err := repo.RevokeSession(ctx, s.DB, p.ActorID, id, s.now())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// clip truncates s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
