package delivery

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"affsync/internal/delivery/middleware"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

// RouterOptions carries the settings the router needs beyond its handlers
type RouterOptions struct {
	RequestTimeout time.Duration
	// serves locally stored images when both are set
	UploadsPrefix string
	UploadsDir    string
}

type HTTPRouter struct {
	handlers *HTTPHandlers
	logger   *logger.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	opts     RouterOptions
}

func NewHTTPRouter(handlers *HTTPHandlers, logger *logger.Logger, metrics *metrics.Metrics, gatherer prometheus.Gatherer, opts RouterOptions) *HTTPRouter {
	return &HTTPRouter{
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
		gatherer: gatherer,
		opts:     opts,
	}
}

func (r *HTTPRouter) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.MaxMultipartMemory = maxLogoBytes

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(r.logger))
	router.Use(middleware.Recovery(r.logger))
	router.Use(middleware.Metrics(r.metrics))
	router.Use(middleware.Timeout(r.opts.RequestTimeout))

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Content-Type", "X-Request-ID"}
	config.ExposeHeaders = []string{"X-Request-ID"}

	router.Use(cors.New(config))

	router.GET("/health", r.handlers.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("", r.handlers.GetAPIInfo)
		v1.GET("/", r.handlers.GetAPIInfo)

		sync := v1.Group("/sync")
		{
			sync.POST("/run", r.handlers.RunAll)
			sync.POST("/reconcile", r.handlers.Reconcile)
			sync.GET("/status", r.handlers.Status)
			sync.GET("/history/:network", r.handlers.History)
			sync.POST("/:network/run", r.handlers.RunNetwork)
		}

		advertisers := v1.Group("/advertisers/:network/:id")
		{
			advertisers.GET("", r.handlers.GetAdvertiser)
			advertisers.PUT("/logo", r.handlers.UploadLogo)
			advertisers.DELETE("/logo", r.handlers.ResetLogo)
			advertisers.PUT("/description", r.handlers.SetDescription)
			advertisers.PUT("/categories", r.handlers.SetCategories)
			advertisers.DELETE("/categories", r.handlers.ClearCategories)
			advertisers.PUT("/home-link", r.handlers.SetHomeLink)
		}

		v1.GET("/settings", r.handlers.GetSettings)
		v1.PUT("/settings", r.handlers.UpdateSettings)
	}

	if r.opts.UploadsPrefix != "" && r.opts.UploadsDir != "" {
		router.Static(r.opts.UploadsPrefix, r.opts.UploadsDir)
	}

	router.GET("/metrics", middleware.PrometheusHandler(r.gatherer))

	return router
}
