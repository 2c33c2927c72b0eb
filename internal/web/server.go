// Package web serves the single page, its JSON API and stored audio.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tolatu/internal/core"
	"github.com/book-expert/tolatu/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	sessionCookie     = "tolatu_session"
	controllerKey     = "controller"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

//go:embed templates/index.html
var templates embed.FS

// ErrOptionMissing is returned by New when a required dependency is nil.
var ErrOptionMissing = errors.New("web server option missing")

// Options configure a Server.
type Options struct {
	Addr           string
	Logger         *logger.Logger
	Sessions       *session.Registry
	Store          core.ObjectStore
	AudioPrefix    string
	MaxImageBytes  int64
	LongInputRunes int
	AllowOrigins   []string
}

// Server is the local HTTP front end.
type Server struct {
	opts   Options
	log    *logger.Logger
	engine *gin.Engine
}

// New builds the gin engine with recovery, request logging and CORS.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil || opts.Sessions == nil || opts.Store == nil {
		return nil, ErrOptionMissing
	}

	if opts.AudioPrefix == "" {
		opts.AudioPrefix = "/audio"
	}

	if len(opts.AllowOrigins) == 0 {
		opts.AllowOrigins = []string{"*"}
	}

	page, err := template.ParseFS(templates, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(opts.Logger))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  opts.AllowOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))
	engine.SetHTMLTemplate(page)

	s := &Server{opts: opts, log: opts.Logger, engine: engine}
	s.routes()

	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET(s.opts.AudioPrefix+"/:key", s.handleAudio)

	s.engine.GET("/", s.sessionMiddleware(), s.handleIndex)

	api := s.engine.Group("/api", s.requireSession())
	{
		api.GET("/voices", s.handleVoices)
		api.POST("/voices/select", s.handleSelectVoice)
		api.POST("/text-to-speech", s.handleTextToSpeech)
		api.POST("/image-to-speech", s.handleImageToSpeech)
		api.GET("/state", s.handleState)
	}
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("HTTP server listening on %s", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	s.log.Info("Shutting down HTTP server")

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	return nil
}

func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info(
			"[HTTP] %s %s -> %d (%s)",
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// sessionMiddleware attaches the caller's controller, issuing a cookie for
// new sessions.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(sessionCookie)

		newID, ctrl := s.opts.Sessions.Get(c.Request.Context(), id)
		if newID != id {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookie, newID, 0, "/", "", false, true)
		}

		c.Set(controllerKey, ctrl)
		c.Next()
	}
}

// requireSession attaches the controller of an existing session. API calls
// never create sessions; only loading the page does.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(sessionCookie)

		ctrl, ok := s.opts.Sessions.Lookup(id)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: msgSessionExpired})

			return
		}

		c.Set(controllerKey, ctrl)
		c.Next()
	}
}
