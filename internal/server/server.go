package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lagom/internal/auth"
	"github.com/danmuck/lagom/internal/coordinator"
	"github.com/danmuck/lagom/internal/observability"
	"github.com/danmuck/lagom/internal/store"
)

const version = "0.1.0"

// Config describes the HTTP surface.
type Config struct {
	ID          string
	Addr        string
	CORSOrigins []string
	// APIToken enables bearer auth on every route except health, ready, and metrics.
	APIToken string
	// ShutdownTimeout bounds graceful shutdown; zero means 10s.
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ID:              "lagomd",
		Addr:            ":8088",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server exposes the coordinator and the participant directory over HTTP.
type Server struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"`
	Appeared time.Time `json:"appeared"`

	cfg    Config
	coord  *coordinator.Coordinator
	store  store.Store
	router *gin.Engine
}

var trustedProxies = []string{"127.0.0.1", "::1"}

// Appear builds the router with recovery, request logging, metrics, and CORS.
// Routes are attached by RegisterRoutes.
func Appear(cfg Config, coord *coordinator.Coordinator, st store.Store) *Server {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = DefaultConfig().ID
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(cfg.CORSOrigins),
		AllowMethods:  []string{"GET", "POST", "PUT"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.HeaderRequestID},
		ExposeHeaders: []string{observability.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}))
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		log.Warn().Err(err).Strs("proxies", trustedProxies).Msg("trusted_proxies_rejected")
	}

	return &Server{
		ID:       cfg.ID,
		Addr:     cfg.Addr,
		Appeared: time.Now(),
		cfg:      cfg,
		coord:    coord,
		store:    st,
		router:   r,
	}
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve registers routes and blocks until ctx ends or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	log.Info().Str("id", s.ID).Str("addr", s.Addr).Msg("server_listening")

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Str("id", s.ID).Msg("server_stopped")
	return nil
}

func (s *Server) protected() gin.IRoutes {
	if strings.TrimSpace(s.cfg.APIToken) == "" {
		return s.router
	}
	return s.router.Group("/", auth.Middleware(auth.StaticToken{Token: s.cfg.APIToken}))
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
