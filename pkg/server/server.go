// Package server exposes the document pipeline over HTTP and a websocket
// progress stream.
package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/events"
	"github.com/duynguyendang/lexa/pkg/metrics"
	"github.com/duynguyendang/lexa/pkg/model"
	"github.com/duynguyendang/lexa/pkg/pipeline"
)

// Pipeline is the subset of the orchestrator the handlers drive.
type Pipeline interface {
	StartUpload(ctx context.Context, up pipeline.Upload) (model.Session, error)
	StartExtraction(ctx context.Context, id string) (model.Status, bool, error)
	GetSessionStatus(ctx context.Context, id string) (model.Session, error)
	GetSessionText(ctx context.Context, id string) (string, model.DocumentMetadata, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
	StartAnalysis(ctx context.Context, id string) (pipeline.AnalysisAck, error)
	GetAnalysisResult(ctx context.Context, id string) (*model.AnalysisResult, error)
	AskQuestion(ctx context.Context, id, question, language string) (pipeline.QuestionAck, error)
}

// Subscriber hands out progress subscriptions to websocket clients.
type Subscriber interface {
	Subscribe(opts ...events.SubscribeOption) *events.Subscription
	Unsubscribe(sub *events.Subscription)
}

// Limit is a request budget per client IP.
type Limit struct {
	Requests int
	Window   time.Duration
}

type Config struct {
	AllowedOrigins []string
	MaxUploadSize  int64
	SessionMaxAge  time.Duration
	UploadLimit    Limit
	AnalysisLimit  Limit
	APILimit       Limit
}

// DefaultConfig mirrors the limits of the hosted service.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		MaxUploadSize:  50 << 20,
		SessionMaxAge:  time.Hour,
		UploadLimit:    Limit{Requests: 5, Window: time.Minute},
		AnalysisLimit:  Limit{Requests: 10, Window: time.Minute},
		APILimit:       Limit{Requests: 100, Window: 15 * time.Minute},
	}
}

// Server holds the state for the REST API server.
type Server struct {
	pipeline Pipeline
	events   Subscriber
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Metrics
	router   *gin.Engine
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new Server instance.
func NewServer(p Pipeline, sub Subscriber, cfg Config, opts ...Option) *Server {
	s := &Server{
		pipeline: p,
		events:   sub,
		cfg:      cfg,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("http")

	r := gin.New()
	r.Use(requestID(), recovery(s.log), requestLogger(s.log), cors.New(corsConfig(cfg.AllowedOrigins)))
	if mw := s.metrics.HTTP(); mw != nil {
		r.Use(mw.Handler())
	}
	s.router = r
	s.setupRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.healthCheck)
	s.router.GET("/ws", s.handleWebsocket)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group("/api", rateLimit(s.cfg.APILimit, s.log))

	docs := api.Group("/documents")
	docs.POST("/upload", rateLimit(s.cfg.UploadLimit, s.log), s.handleUpload)
	docs.GET("/session/:id", s.handleSession)
	docs.GET("/session/:id/text", s.handleSessionText)
	docs.POST("/session/:id/extract", s.handleExtract)
	docs.DELETE("/session/:id", s.handleDeleteSession)
	docs.GET("/sessions", s.handleSessions)
	docs.POST("/cleanup", s.handleCleanup)

	analysisLimit := rateLimit(s.cfg.AnalysisLimit, s.log)
	analysis := api.Group("/analysis")
	analysis.POST("/analyze", analysisLimit, s.handleAnalyze)
	analysis.GET("/results/:id", s.handleResults)
	analysis.POST("/question", analysisLimit, s.handleQuestion)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
