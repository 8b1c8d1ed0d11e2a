package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/deepfence/ThreatMapper-sub005/internal/auth"
	"github.com/deepfence/ThreatMapper-sub005/internal/models"
	"github.com/deepfence/ThreatMapper-sub005/internal/topology"
)

type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// TokenStore maps refresh tokens to usernames.
type TokenStore interface {
	Save(ctx context.Context, token, username string, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (string, error)
}

type Deps struct {
	Users           UserStore
	Tokens          TokenStore
	Signer          *auth.Signer
	Topology        *topology.Service
	RefreshInterval time.Duration
	Gatherer        prometheus.Gatherer
	Logger          *zap.Logger
}

// Handler serves the console HTTP API.
type Handler struct {
	users           UserStore
	tokens          TokenStore
	signer          *auth.Signer
	topology        *topology.Service
	refreshInterval time.Duration
	gatherer        prometheus.Gatherer
	logger          *zap.Logger
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := d.RefreshInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		users:           d.Users,
		tokens:          d.Tokens,
		signer:          d.Signer,
		topology:        d.Topology,
		refreshInterval: interval,
		gatherer:        gatherer,
		logger:          logger.With(zap.String("component", "http")),
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/refresh", h.RefreshToken)

	protected := r.Group("/api")
	protected.Use(h.signer.AuthMiddleware())
	{
		protected.GET("/me", h.Me)

		sessions := protected.Group("/topology/sessions")
		sessions.POST("", h.CreateSession)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.POST("/:id/actions", h.ApplyAction)
		sessions.GET("/:id/tree", h.Tree)
		sessions.GET("/:id/nodes", h.Nodes)
		sessions.GET("/:id/filters", h.Filters)
		sessions.GET("/:id/expanded", h.Expanded)
	}
	r.GET("/api/topology/sessions/:id/watch", h.signer.WebSocketAuthMiddleware(), h.Watch)
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.topology.Registry().Len(),
	})
}
