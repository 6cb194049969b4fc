// Package server exposes one device session over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danmuck/radlink/internal/device"
	"github.com/danmuck/radlink/internal/observability"
	"github.com/danmuck/radlink/internal/protocol/session"
	"github.com/danmuck/radlink/internal/state"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	Version = "0.1.0"

	// RareMaxAge is how long a rare record counts as current.
	RareMaxAge = 2 * time.Minute
	// RequestTimeout bounds device work done for one HTTP request.
	RequestTimeout = 10 * time.Second
	// ShutdownTimeout bounds how long Serve drains requests on exit.
	ShutdownTimeout = 5 * time.Second
)

// Session is the slice of session.Controller the HTTP surface needs.
type Session interface {
	Identity() string
	Status() session.Status
	History() []session.Change
	Cache() *state.Cache
	Apply(ctx context.Context, fn func(*device.Device) error) error
}

type Server struct {
	Addr     string
	Appeared time.Time

	sess    Session
	router  *gin.Engine
	actions map[string]Action
}

func New(addr string, corsOrigins []string, sess Session) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(sess.Identity()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "PUT", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:     addr,
		Appeared: time.Now(),
		sess:     sess,
		router:   r,
		actions:  defaultActions(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on Addr until ctx ends, then drains in-flight requests for up
// to ShutdownTimeout. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: RequestTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("addr", s.Addr).Str("device", s.sess.Identity()).Msg("http listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Str("addr", s.Addr).Msg("http stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
