package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"gridbot/logger"
	"gridbot/metrics"
	"gridbot/store"
	"gridbot/trader"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// GridSource exposes the live grids
type GridSource interface {
	Snapshot() []trader.GridStateView
}

// JournalReader is the read side of the grid journal
type JournalReader interface {
	LoadRecentGridEvents(instanceID string, limit int) ([]store.GridEventModel, error)
	LoadLatestSignalAssessment(symbol string) (*store.SignalAssessmentModel, error)
	GetGridInstanceStatistics(instanceID string) (map[string]interface{}, error)
}

// Server read-only HTTP status API
type Server struct {
	router     *gin.Engine
	grids      GridSource
	journal    JournalReader
	symbol     string
	httpServer *http.Server
	port       int
	startedAt  time.Time
}

// NewServer creates the status API. journal may be nil.
func NewServer(grids GridSource, journal JournalReader, symbol string, port int) *Server {
	// Set to Release mode (reduce log output)
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		router:    router,
		grids:     grids,
		journal:   journal,
		symbol:    symbol,
		port:      port,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/grids", s.handleGrids)
		api.GET("/grids/:id/statistics", s.handleGridStatistics)
		api.GET("/events", s.handleEvents)
		api.GET("/signal", s.handleLatestSignal)
	}
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"symbol":  s.symbol,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"journal": s.journal != nil,
	})
}

func (s *Server) handleGrids(c *gin.Context) {
	c.JSON(http.StatusOK, s.grids.Snapshot())
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}

	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid limit %q", raw)})
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.journal.LoadRecentGridEvents(c.Query("grid_id"), limit)
	if err != nil {
		logger.Warnf("[API] failed to load events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to load events: %v", err)})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleGridStatistics(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	stats, err := s.journal.GetGridInstanceStatistics(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "grid not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get statistics: %v", err)})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleLatestSignal(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	assessment, err := s.journal.LoadLatestSignalAssessment(s.symbol)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no signal assessed yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get signal: %v", err)})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// Start blocks serving until Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	logger.Infof("[API] 🌐 status API starting at http://localhost%s", addr)
	logger.Infof("  • GET  /api/health")
	logger.Infof("  • GET  /api/grids")
	logger.Infof("  • GET  /api/grids/:id/statistics")
	logger.Infof("  • GET  /api/events?limit=N&grid_id=ID")
	logger.Infof("  • GET  /api/signal")
	logger.Infof("  • GET  /metrics")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown Gracefully shutdown server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
