package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/accountkit/lifecycle-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine   *gin.Engine
	accountH Handler
	registry *prometheus.Registry
	limiter  *middleware.RateLimiter
	dbPinger func() error
}

type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(accountH Handler, registry *prometheus.Registry, dbPinger func() error, config Config) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.Logger(),
	)

	return &Router{
		engine:   engine,
		accountH: accountH,
		registry: registry,
		limiter:  middleware.NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst),
		dbPinger: dbPinger,
	}
}

func (r *Router) Setup() {
	r.setupHealthCheck()

	api := r.engine.Group("/api/v1")
	api.Use(
		middleware.Actor(),
		r.limiter.Limit(),
	)
	r.accountH.RegisterRoutes(api)
}

func (r *Router) setupHealthCheck() {
	r.engine.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.engine.GET("/health/ready", func(c *gin.Context) {
		if err := r.dbPinger(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
