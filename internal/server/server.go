package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	bookingdomain "github.com/quotehive/quotehive/internal/booking/domain"
	"github.com/quotehive/quotehive/internal/config"
	identitydomain "github.com/quotehive/quotehive/internal/identity/domain"
	ledgerdomain "github.com/quotehive/quotehive/internal/ledger/domain"
	messagedomain "github.com/quotehive/quotehive/internal/message/domain"
	notificationdomain "github.com/quotehive/quotehive/internal/notification/domain"
	"github.com/quotehive/quotehive/internal/observability"
	obslogger "github.com/quotehive/quotehive/internal/observability/logger"
	obsmetrics "github.com/quotehive/quotehive/internal/observability/metrics"
	obstracing "github.com/quotehive/quotehive/internal/observability/tracing"
	paymentdomain "github.com/quotehive/quotehive/internal/payment/domain"
	payoutdomain "github.com/quotehive/quotehive/internal/payout/domain"
	platformdomain "github.com/quotehive/quotehive/internal/platformconfig/domain"
	providerdomain "github.com/quotehive/quotehive/internal/provider/domain"
	quotedomain "github.com/quotehive/quotehive/internal/quote/domain"
	quoterequestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
	"github.com/quotehive/quotehive/internal/ratelimit"
	reviewdomain "github.com/quotehive/quotehive/internal/review/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, m *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(m))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	identitySvc     identitydomain.Service
	providerSvc     providerdomain.Service
	quoteRequestSvc quoterequestdomain.Service
	quoteSvc        quotedomain.Service
	bookingSvc      bookingdomain.Service
	paymentSvc      paymentdomain.Service
	payoutSvc       payoutdomain.Service
	ledgerSvc       ledgerdomain.Service
	reviewSvc       reviewdomain.Service
	notificationSvc notificationdomain.Service
	messageSvc      messagedomain.Service
	platformSvc     platformdomain.Service
	providerRepo    providerdomain.Repository
	authLimiter     *ratelimit.AuthLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	IdentitySvc     identitydomain.Service
	ProviderSvc     providerdomain.Service
	QuoteRequestSvc quoterequestdomain.Service
	QuoteSvc        quotedomain.Service
	BookingSvc      bookingdomain.Service
	PaymentSvc      paymentdomain.Service
	PayoutSvc       payoutdomain.Service
	LedgerSvc       ledgerdomain.Service
	ReviewSvc       reviewdomain.Service
	NotificationSvc notificationdomain.Service
	MessageSvc      messagedomain.Service
	PlatformSvc     platformdomain.Service
	ProviderRepo    providerdomain.Repository
	AuthLimiter     *ratelimit.AuthLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		identitySvc:     p.IdentitySvc,
		providerSvc:     p.ProviderSvc,
		quoteRequestSvc: p.QuoteRequestSvc,
		quoteSvc:        p.QuoteSvc,
		bookingSvc:      p.BookingSvc,
		paymentSvc:      p.PaymentSvc,
		payoutSvc:       p.PayoutSvc,
		ledgerSvc:       p.LedgerSvc,
		reviewSvc:       p.ReviewSvc,
		notificationSvc: p.NotificationSvc,
		messageSvc:      p.MessageSvc,
		platformSvc:     p.PlatformSvc,
		providerRepo:    p.ProviderRepo,
		authLimiter:     p.AuthLimiter,
	}

	s.registerAuthRoutes()
	s.registerAPIRoutes()
	s.registerAdminRoutes()
	s.registerWebhookRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.AuthRateLimit(), s.Signup)
	auth.POST("/login", s.AuthRateLimit(), s.Login)
	auth.POST("/logout", s.AuthRequired(), s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
}

func (s *Server) registerAPIRoutes() {
	s.engine.GET("/api/categories", s.ListCategories)

	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Quote requests --------
	api.POST("/quote-requests", s.RequireRole(identitydomain.RoleCustomer), s.CreateQuoteRequest)
	api.GET("/quote-requests", s.RequireRole(identitydomain.RoleCustomer), s.ListQuoteRequests)
	api.GET("/quote-requests/:id", s.GetQuoteRequest)
	api.POST("/quote-requests/:id/close", s.RequireRole(identitydomain.RoleCustomer), s.CloseQuoteRequest)
	api.GET("/quote-requests/:id/quotes", s.ListQuotesForRequest)
	api.POST("/quote-requests/:id/viewed", s.RequireRole(identitydomain.RoleProvider), s.MarkInvitationViewed)
	api.POST("/quote-requests/:id/decline", s.RequireRole(identitydomain.RoleProvider), s.DeclineInvitation)

	// -------- Quotes --------
	api.POST("/quotes", s.RequireRole(identitydomain.RoleProvider), s.SubmitQuote)
	api.GET("/quotes/:id", s.GetQuote)
	api.POST("/quotes/:id/viewed", s.RequireRole(identitydomain.RoleCustomer), s.MarkQuoteViewed)
	api.POST("/quotes/:id/decline", s.RequireRole(identitydomain.RoleCustomer), s.DeclineQuote)

	// -------- Bookings --------
	api.POST("/bookings", s.RequireRole(identitydomain.RoleCustomer), s.CreateBooking)
	api.GET("/bookings", s.ListBookings)
	api.GET("/bookings/:id", s.GetBooking)
	api.POST("/bookings/:id/accept", s.RequireRole(identitydomain.RoleProvider), s.AcceptBooking)
	api.POST("/bookings/:id/decline", s.RequireRole(identitydomain.RoleProvider), s.DeclineBooking)
	api.POST("/bookings/:id/cancel", s.CancelBooking)
	api.POST("/bookings/:id/complete", s.CompleteBooking)
	api.POST("/bookings/:id/checkout", s.RequireRole(identitydomain.RoleCustomer), s.StartCheckout)
	api.GET("/bookings/:id/refunds", s.ListBookingRefunds)

	// -------- Booking messaging --------
	api.GET("/bookings/:id/thread", s.GetBookingThread)
	api.GET("/threads", s.ListThreads)
	api.GET("/threads/:id/messages", s.ListMessages)
	api.POST("/threads/:id/messages", s.SendMessage)

	// -------- Reviews --------
	api.POST("/reviews", s.RequireRole(identitydomain.RoleCustomer), s.CreateReview)
	api.GET("/reviews/:id", s.GetReview)

	// -------- Notifications --------
	api.GET("/notifications", s.ListNotifications)
	api.GET("/notifications/unread-count", s.UnreadNotificationCount)
	api.POST("/notifications/:id/read", s.MarkNotificationRead)
	api.POST("/notifications/read-all", s.MarkAllNotificationsRead)
	api.GET("/notifications/stream", s.StreamNotifications)

	// -------- Public provider profiles --------
	api.GET("/providers/:id", s.GetProviderProfile)
	api.GET("/providers/:id/reviews", s.ListProviderReviews)

	// -------- Provider workspace --------
	provider := api.Group("/provider", s.RequireRole(identitydomain.RoleProvider))
	{
		provider.POST("/profile", s.CreateProviderProfile)
		provider.GET("/profile", s.GetOwnProviderProfile)
		provider.PATCH("/profile", s.UpdateProviderProfile)
		provider.GET("/requests", s.ListInvitedRequests)
		provider.GET("/quotes", s.ListOwnQuotes)
		provider.POST("/onboarding", s.StartOnboarding)
		provider.GET("/balance", s.GetProviderBalance)
		provider.GET("/ledger", s.ListProviderLedger)
		provider.GET("/payouts", s.ListProviderPayouts)
	}
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired(), s.RequireRole(identitydomain.RoleAdmin))

	admin.GET("/users", s.ListUsers)

	admin.GET("/settings", s.ListSettings)
	admin.PUT("/settings/:key", s.UpdateSetting)

	admin.POST("/providers/:id/activate", s.ActivateProvider)
	admin.POST("/providers/:id/suspend", s.SuspendProvider)
	admin.POST("/providers/:id/payout", s.PayProvider)

	admin.POST("/bookings/:id/refunds", s.CreateRefund)

	admin.GET("/payouts", s.ListPayouts)
	admin.POST("/payouts/run", s.RunPayoutBatch)

	admin.POST("/reviews/:id/hide", s.HideReview)
	admin.POST("/reviews/:id/publish", s.PublishReview)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}
