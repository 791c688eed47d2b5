// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, authentication and
// rate limiting.
//
// Route map (relative to cfg.APIBasePath unless noted):
//   - /auth, /api-keys, /devices              session and tenant setup
//   - /phonebook, /templates, /broadcast      contacts and campaigns
//   - /chatbot/flows, /quick-replies          automation
//   - /conversations                          shared inbox
//   - /agents, /coupon, /users                team and platform admin
//   - /webhook, /ws, /health, /metrics        root level
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-backend/docs"
	"github.com/tbourn/go-wa-backend/internal/config"
	"github.com/tbourn/go-wa-backend/internal/domain"
	"github.com/tbourn/go-wa-backend/internal/flow"
	"github.com/tbourn/go-wa-backend/internal/http/handlers"
	"github.com/tbourn/go-wa-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-backend/internal/realtime"
	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/whatsapp"
)

const (
	defaultBodyLimit = 1 << 20
	importBodyLimit  = 10 << 20
)

// Backends are the process-wide collaborators the routes share with
// background workers. Any of them may be nil: sends then fail with
// whatsapp.ErrNotConfigured, template sync is unavailable and /ws is not
// mounted.
type Backends struct {
	Sender    whatsapp.Sender
	Templates whatsapp.TemplateSource
	Hub       *realtime.Hub
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and builds the services behind them.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (larger for CSV import)
//  6. Metrics
//  7. Gzip (not for /ws or /metrics)
//  8. CORS and security headers
//
// Per group: RequireAuth, then IdempotencyValidator (so replays can bypass),
// then the principal-keyed rate limiter, then permission checks.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, b Backends) {
	r.HandleMethodNotAllowed = true
	base := cfg.APIBasePath

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderAPIKey, handlers.HeaderHubSignature},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Body size limits
	r.Use(limitBody(defaultBodyLimit, map[string]int64{
		joinPath(base, "/phonebook/import"): importBodyLimit,
	}))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics("/ws"))
	r.GET(middleware.MetricsPath, gin.WrapH(promhttp.Handler()))

	// 7) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", middleware.MetricsPath})))

	// 8) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		EnablePolicy:  true,
		APIPrefix:     base,
		NoStore:       []string{base + "/auth", base + "/api-keys"},
		ExposeHeaders: []string{"ETag", middleware.HeaderIdempotencyReplayed},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", health(db))

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = base
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/backends
	var notifier services.Notifier = services.NopNotifier{}
	if b.Hub != nil {
		notifier = b.Hub
	}
	auth := services.NewAuthService(db, cfg.Auth)
	convs := &services.ConversationService{DB: db, Notifier: notifier}
	flows := &services.FlowRuntime{DB: db, Sender: b.Sender, Notifier: notifier, Engine: flow.Engine{}}
	deps := handlers.Deps{
		Auth:          auth,
		APIKeys:       &services.APIKeyService{DB: db},
		Devices:       &services.DeviceService{DB: db},
		Contacts:      &services.ContactService{DB: db, NameLocale: language.English},
		Templates:     &services.TemplateService{DB: db, Source: b.Templates},
		Broadcasts:    &services.BroadcastService{DB: db},
		Chatbots:      &services.ChatbotService{DB: db},
		QuickReplies:  &services.QuickReplyService{DB: db},
		Agents:        &services.AgentService{DB: db, Auth: auth},
		Conversations: convs,
		Messages: &services.MessageService{
			DB:             db,
			Sender:         b.Sender,
			Notifier:       notifier,
			Flows:          flows,
			IdempotencyTTL: cfg.IdempotencyTTL,
		},
		Coupons: &services.CouponService{DB: db},
		Admin:   &services.AdminService{DB: db},
	}
	if b.Hub != nil {
		deps.Realtime = b.Hub
	}
	h := handlers.New(deps, handlers.Options{
		CookieName:         cfg.Auth.CookieName,
		CookieSecure:       cfg.Auth.CookieSecure,
		SessionTTL:         cfg.Auth.SessionTTL,
		WebhookVerifyToken: cfg.WhatsApp.VerifyToken,
		WebhookAppSecret:   cfg.WhatsApp.AppSecret,
	})

	authOpts := middleware.AuthOptions{
		CookieName: cookieName(cfg.Auth.CookieName),
		IsBlocked:  isBlocked,
	}
	requireAuth := middleware.RequireAuth(auth, authOpts)
	idem := middleware.IdempotencyValidator(middleware.IdempotencyOptions{
		Lookup: func(ctx context.Context, s middleware.IdempotencyScope) (bool, error) {
			_, err := repo.FindIdempotency(ctx, db, repo.IdemKey{ActorID: s.ActorID, ScopeID: s.ScopeID, Key: s.Key}, s.At)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	})
	publicRL := middleware.NewRateLimiter(middleware.RateLimitOptions{RPS: cfg.RateRPS, Burst: cfg.RateBurst, Key: middleware.KeyByIP()})
	callerRL := middleware.NewRateLimiter(middleware.RateLimitOptions{RPS: cfg.RateRPS, Burst: cfg.RateBurst, Key: middleware.KeyByPrincipalOrIP()})

	// Cloud API webhook: signed, never rate limited
	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.ReceiveWebhook)

	// Realtime inbox
	if b.Hub != nil {
		wsAuth := authOpts
		wsAuth.AllowQueryToken = true
		r.GET("/ws", middleware.RequireAuth(auth, wsAuth), middleware.RequirePermission(domain.PermConversations), h.ServeRealtime)
	}

	api := groupWithPrefix(r, base)

	// Public API
	public := api.Group("", publicRL.Handler())
	{
		public.POST("/auth/register", h.Register)
		public.POST("/auth/login", h.Login)
		public.POST("/coupon/validate", h.ValidateCoupon)
	}

	// Authenticated API
	authed := api.Group("", requireAuth, idem, callerRL.Handler())
	{
		authed.POST("/auth/logout", h.Logout)
		authed.GET("/auth/me", h.Me)
		authed.GET("/auth/sessions", h.ListSessions)
		authed.DELETE("/auth/sessions/:id", h.RevokeSession)

		authed.GET("/api-keys", h.ListAPIKeys)
		authed.POST("/api-keys", h.CreateAPIKey)
		authed.DELETE("/api-keys/:id", h.RevokeAPIKey)

		authed.GET("/devices", h.ListDevices)
		authed.POST("/devices", h.CreateDevice)
		authed.DELETE("/devices/:id", h.DeleteDevice)

		authed.GET("/agents", h.ListAgents)
		authed.POST("/agents", h.CreateAgent)
		authed.PATCH("/agents/:id", h.PatchAgent)
		authed.DELETE("/agents/:id", h.DeleteAgent)

		authed.POST("/coupon/redeem", h.RedeemCoupon)
	}

	pb := authed.Group("/phonebook", middleware.RequirePermission(domain.PermPhonebook))
	{
		pb.GET("", h.ListContacts)
		pb.POST("", h.CreateContact)
		pb.GET("/labels", h.ListLabels)
		pb.POST("/import", h.ImportContacts)
		pb.GET("/export", h.ExportContacts)
		pb.GET("/:id", h.GetContact)
		pb.PATCH("/:id", h.UpdateContact)
		pb.DELETE("/:id", h.DeleteContact)
	}

	tpl := authed.Group("/templates", middleware.RequirePermission(domain.PermTemplates))
	{
		tpl.GET("", h.ListTemplates)
		tpl.POST("", h.CreateTemplate)
		tpl.POST("/sync", h.SyncTemplates)
		tpl.DELETE("/:id", h.DeleteTemplate)
	}

	bc := authed.Group("/broadcast", middleware.RequirePermission(domain.PermBroadcast))
	{
		bc.GET("", h.ListBroadcasts)
		bc.POST("", h.CreateBroadcast)
		bc.POST("/send", h.SendBroadcast)
		bc.GET("/:id", h.GetBroadcast)
		bc.POST("/:id/cancel", h.CancelBroadcast)
		bc.GET("/:id/recipients", h.ListBroadcastRecipients)
	}

	bot := authed.Group("/chatbot/flows", middleware.RequirePermission(domain.PermChatbot))
	{
		bot.GET("", h.ListChatbots)
		bot.POST("", h.CreateChatbot)
		bot.GET("/:id", h.GetChatbot)
		bot.PUT("/:id", h.UpdateChatbot)
		bot.PATCH("/:id/toggle", h.ToggleChatbot)
		bot.DELETE("/:id", h.DeleteChatbot)
	}

	qr := authed.Group("/quick-replies", middleware.RequirePermission(domain.PermQuickReplies))
	{
		qr.GET("", h.ListQuickReplies)
		qr.POST("", h.CreateQuickReply)
		qr.GET("/suggest", h.SuggestQuickReplies)
		qr.PUT("/:id", h.UpdateQuickReply)
		qr.DELETE("/:id", h.DeleteQuickReply)
	}

	conv := authed.Group("/conversations", middleware.RequirePermission(domain.PermConversations))
	{
		conv.GET("", h.ListConversations)
		conv.GET("/:id", h.GetConversation)
		conv.GET("/:id/messages", h.ListMessages)
		conv.POST("/:id/messages", h.SendMessage)
		conv.POST("/:id/read", h.MarkConversationRead)
		conv.PATCH("/:id/assign", h.AssignConversation)
		conv.PATCH("/:id/status", h.SetConversationStatus)
	}

	admin := authed.Group("", middleware.RequireAdmin())
	{
		admin.GET("/coupon", h.ListCoupons)
		admin.POST("/coupon", h.CreateCoupon)
		admin.DELETE("/coupon/:id", h.DeleteCoupon)

		admin.GET("/users", h.ListUsers)
		admin.GET("/users/admins", h.ListAdmins)
		admin.PATCH("/users/:id/status", h.SetUserStatus)
	}
}

// corsMiddleware returns the CORS chain. With no allowlist every origin is
// accepted without credentials; with one, the request Origin is echoed and
// cookies are allowed.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderAPIKey, middleware.HeaderIdempotencyKey, "If-None-Match",
		},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Force ACAO: * even for requests without an Origin header.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = origins
	base.AllowCredentials = true
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// health reports liveness plus database reachability.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Msg("health: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "up"})
	}
}

func isBlocked(err error) bool {
	return errors.Is(err, services.ErrAccountBlocked)
}

func cookieName(name string) string {
	if name == "" {
		return handlers.DefaultCookieName
	}
	return name
}

// limitBody caps request bodies at def bytes, or at the override registered
// for the matched route. Reads past the cap fail downstream.
func limitBody(def int64, overrides map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := def
		if n, ok := overrides[c.FullPath()]; ok {
			limit = n
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return prefix + p
}
