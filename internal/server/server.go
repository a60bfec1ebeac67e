package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/acet/internal/civitai"
	"github.com/xaenox/acet/internal/interpreter"
	"github.com/xaenox/acet/internal/models"
	"github.com/xaenox/acet/internal/storage"
	"go.uber.org/zap"
)

type Config struct {
	Addr            string
	OutputDir       string
	PublicURL       string
	RateLimit       float64
	RateBurst       int
	MaxUploadBytes  int64
	RetentionCron   string
	RetentionMaxAge time.Duration
}

// JobStore records relay job progress.
type JobStore interface {
	Create(id, jobType string, total int) (*models.Job, error)
	Get(id string) (*models.Job, error)
	Advance(id string) (*models.Job, error)
	Complete(id string, result any) (*models.Job, error)
	Fail(id string, cause error) (*models.Job, error)
	Prune(cutoff time.Time) (int, error)
}

type Server struct {
	cfg         Config
	interpreter interpreter.Interpreter
	generator   civitai.Generator
	catalog     *interpreter.Catalog
	glossary    storage.Storage
	jobs        JobStore
	metrics     *Metrics
	limiter     *clientLimiter
	http        *http.Client
	logger      *zap.Logger
	router      *gin.Engine
}

func New(cfg Config, interp interpreter.Interpreter, gen civitai.Generator, catalog *interpreter.Catalog,
	glossary storage.Storage, jobs JobStore, logger *zap.Logger) (*Server, error) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		interpreter: interp,
		generator:   gen,
		catalog:     catalog,
		glossary:    glossary,
		jobs:        jobs,
		metrics:     NewMetrics(),
		limiter:     newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		http:        &http.Client{Timeout: 60 * time.Second},
		logger:      logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.metrics.middleware(), cors(), s.limiter.middleware())

	r.GET("/", s.health)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	r.POST("/interpret", s.interpret)
	r.POST("/api/transcribe", s.transcribe)

	r.POST("/generate-image", s.generateImage)
	r.POST("/remix-image", s.remixImage)
	r.POST("/upscale-image/:filename", s.upscaleImage)
	r.POST("/resize-image", s.resizeImage)
	r.POST("/wallpaper/:device", s.wallpaper)
	r.GET("/image/:filename", s.serveImage)

	r.GET("/jobs/:id", s.jobStatus)

	r.POST("/glossary", s.addTerm)
	r.GET("/glossary", s.listTerms)
	r.GET("/glossary/categories", s.listCategories)
	r.DELETE("/glossary/term/:term", s.deleteTermByText)
	r.DELETE("/glossary/:id", s.deleteTermByID)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := s.StartRetention(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Relay listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down relay")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "acet relay is running"})
}

func fail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
