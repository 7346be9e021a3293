package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hunyaochong/ads-cloner/internal/config"
	"github.com/hunyaochong/ads-cloner/internal/models"
	"github.com/hunyaochong/ads-cloner/internal/notify"
	"github.com/hunyaochong/ads-cloner/internal/objectstore"
	"github.com/hunyaochong/ads-cloner/internal/storage"
)

// Downloader is the part of the download worker exposed over HTTP
type Downloader interface {
	Enqueue(ctx context.Context, ids []string) (int, error)
	EnqueueJob(ctx context.Context, jobID string) (int, error)
	Status() models.QueueStatus
}

// Options holds optional server collaborators
type Options struct {
	// Feed serves the live websocket feed at /ws when set.
	Feed *notify.Handler
	// MediaDir is served under /media when the local object store is used.
	MediaDir string
	Logger   *log.Logger
}

// Server handles HTTP requests
type Server struct {
	config     config.ServerConfig
	storage    storage.Storage
	downloader Downloader
	logger     *log.Logger
	router     *gin.Engine
	server     *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, store storage.Storage, dl Downloader, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		config:     cfg,
		storage:    store,
		downloader: dl,
		logger:     logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(logger), corsPolicy(cfg.CORSAllowedOrigins))

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/download-media", s.handleDownloadMedia)
		api.POST("/download-job-media/:jobId", s.handleDownloadJobMedia)
		api.GET("/download-status", s.handleDownloadStatus)
		api.GET("/scraping-jobs/:id", s.handleGetJob)
		api.GET("/ads", s.handleListAds)
	}

	if opts.Feed != nil {
		router.GET("/ws", opts.Feed.ServeWS)
	}
	if opts.MediaDir != "" {
		router.Static(objectstore.LocalMediaRoute, opts.MediaDir)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})

	s.router = router
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler serving all routes
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "ads-cloner",
		"queue":     s.downloader.Status(),
	})
}

type downloadMediaRequest struct {
	AdIDs []string `json:"ad_ids" binding:"required"`
}

// handleDownloadMedia queues the given ads for download
func (s *Server) handleDownloadMedia(c *gin.Context) {
	var req downloadMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ad_ids array is required"})
		return
	}

	queued, err := s.downloader.Enqueue(c.Request.Context(), req.AdIDs)
	if err != nil {
		s.logger.Printf("Error queueing downloads: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("%d ads queued for download", queued),
		"queued":  queued,
	})
}

// handleDownloadJobMedia queues every pending ad of a job
func (s *Server) handleDownloadJobMedia(c *gin.Context) {
	jobID := c.Param("jobId")

	queued, err := s.downloader.EnqueueJob(c.Request.Context(), jobID)
	if err != nil {
		s.logger.Printf("[JOB %s] Error starting job download: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	message := fmt.Sprintf("%d ads queued for download", queued)
	if queued == 0 {
		message = "No pending downloads found"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "queued": queued})
}

func (s *Server) handleDownloadStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.downloader.Status())
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.storage.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to retrieve job: %v", err)})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleListAds(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id is required"})
		return
	}

	ads, err := s.storage.GetAdsByJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to retrieve ads: %v", err)})
		return
	}
	c.JSON(http.StatusOK, ads)
}
