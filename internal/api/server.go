package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"feedsync/internal/api/handlers"
	"feedsync/internal/api/middleware"
	"feedsync/internal/config"
	"feedsync/internal/database"
	"feedsync/internal/events"
	"feedsync/internal/feed"
	"feedsync/internal/logger"

	"github.com/gin-gonic/gin"
)

// Services are the feed components the HTTP layer talks to.
type Services struct {
	Registry *feed.Registry
	History  *feed.History
	Uploads  *feed.UploadNotifier
	// Changes receives product.* and promotion.* events on catalog writes.
	Changes events.Publisher
}

type Server struct {
	config *config.Config
	logger *logger.Logger
	db     *database.Database
	router *gin.Engine
	server *http.Server
}

func New(cfg *config.Config, logger *logger.Logger, db *database.Database, svc Services) *Server {
	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Initialize handlers
	downloadHandler := handlers.NewDownloadHandler(svc.Registry, !cfg.FeedStreamingDisabled, logger)
	feedHandler := handlers.NewFeedHandler(svc.Registry, svc.History, svc.Uploads, logger)
	productHandler := handlers.NewProductHandler(db.DB, svc.Changes, logger)
	promotionHandler := handlers.NewPromotionHandler(db.DB, svc.Changes, logger)

	// Feed download, authenticated by the per-feed secret
	router.GET("/", downloadHandler.Serve)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Routes
	v1 := router.Group("/api/v1", middleware.AdminToken(cfg.AdminToken))
	{
		// Feeds
		feeds := v1.Group("/feeds")
		{
			feeds.GET("", feedHandler.List)
			feeds.POST("/:name/regenerate", feedHandler.Regenerate)
			feeds.GET("/:name/runs", feedHandler.Runs)
			feeds.GET("/:name/upload", feedHandler.Upload)
			feeds.GET("/:name/url", feedHandler.URL)
		}

		// Products
		products := v1.Group("/products")
		{
			products.GET("", productHandler.List)
			products.GET("/:id", productHandler.Get)
			products.POST("", productHandler.Create)
			products.PUT("/:id", productHandler.Update)
			products.DELETE("/:id", productHandler.Delete)
		}

		// Promotions
		promotions := v1.Group("/promotions")
		{
			promotions.GET("", promotionHandler.List)
			promotions.GET("/:id", promotionHandler.Get)
			promotions.POST("", promotionHandler.Create)
			promotions.PUT("/:id", promotionHandler.Update)
			promotions.DELETE("/:id", promotionHandler.Delete)
		}
	}

	return &Server{
		config: cfg,
		logger: logger,
		db:     db,
		router: router,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	// a download may regenerate an unbounded feed inline before answering
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server on " + addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Shutting down server...")
	return s.server.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
