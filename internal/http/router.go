// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zerowaste/internal/http/handlers"
	"zerowaste/internal/http/middleware"
	"zerowaste/internal/infra"
	"zerowaste/internal/types"
)

type RouterDeps struct {
	Verifier      infra.TokenVerifier
	Roles         middleware.RoleLookup
	Users         handlers.UserService
	Categories    handlers.CategoryService
	Donations     handlers.DonationService
	Requests      handlers.RequestService
	Matches       handlers.MatchService
	Sweeper       handlers.SweepService
	Notifications handlers.Upgrader
	Logger        *slog.Logger
}

type RouterOptions struct {
	AllowedOrigins []string
	RatePerSecond  float64
	RateBurst      int
	AlertThreshold time.Duration
}

func NewRouter(deps RouterDeps, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger), middleware.Metrics())
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := []gin.HandlerFunc{middleware.Auth(deps.Verifier)}
	if deps.Roles != nil {
		authed = append(authed, middleware.ResolveRole(deps.Roles))
	}
	if opts.RatePerSecond > 0 {
		authed = append(authed, middleware.NewRateLimiter(opts.RatePerSecond, opts.RateBurst).Middleware())
	}
	adminOnly := middleware.RequireRole(types.RoleAdmin)
	recipientOnly := middleware.RequireRole(types.RoleRecipient)

	if deps.Notifications != nil {
		ws := handlers.NewNotificationHandler(deps.Notifications)
		r.GET("/ws", append(authed, ws.Stream)...)
	}

	api := r.Group("/api", authed...)

	users := handlers.NewUserHandler(deps.Users)
	api.GET("/users/me", users.Me)
	api.PUT("/users/me", users.UpdateMe)

	categories := handlers.NewCategoryHandler(deps.Categories)
	api.GET("/categories", categories.List)
	api.GET("/categories/:id", categories.Get)
	api.POST("/categories", adminOnly, categories.Create)
	api.PUT("/categories/:id", adminOnly, categories.Update)
	api.DELETE("/categories/:id", adminOnly, categories.Delete)

	donations := handlers.NewDonationHandler(deps.Donations)
	api.POST("/donations", middleware.RequireRole(types.RoleDonor), donations.Create)
	api.GET("/donations", donations.ListAvailable)
	api.GET("/donations/mine", donations.ListMine)
	api.GET("/donations/:id", donations.Get)
	api.PUT("/donations/:id", donations.Update)
	api.POST("/donations/:id/claim", recipientOnly, donations.Claim)
	api.POST("/donations/:id/complete", donations.Complete)
	api.POST("/donations/:id/release", donations.Release)
	api.POST("/donations/:id/withdraw", donations.Withdraw)

	requests := handlers.NewRequestHandler(deps.Requests)
	api.POST("/requests", recipientOnly, requests.Create)
	api.GET("/requests", requests.List)
	api.GET("/requests/stats", adminOnly, requests.Stats)
	api.GET("/requests/:id", requests.Get)
	api.POST("/requests/:id/accept", requests.Accept)
	api.POST("/requests/:id/reject", requests.Reject)
	api.POST("/requests/:id/cancel", requests.Cancel)
	api.POST("/requests/:id/complete", requests.Complete)

	matches := handlers.NewMatchHandler(deps.Matches, deps.Donations)
	api.GET("/matches/donations/:id/recipients", matches.RecipientsForDonation)
	api.GET("/matches/me/donations", matches.DonationsForMe)

	if deps.Sweeper != nil {
		admin := handlers.NewAdminHandler(deps.Sweeper, opts.AlertThreshold)
		api.POST("/admin/sweep", adminOnly, admin.Sweep)
		api.POST("/admin/alerts", adminOnly, admin.Alerts)
	}

	return r
}
