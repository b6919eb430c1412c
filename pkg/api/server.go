// Package api provides the HTTP control surface for a chirp node: it
// submits outbound messages and reads back delivered ones. It owns no
// protocol state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blechirp/chirp-node/pkg/mesh"
	"github.com/blechirp/chirp-node/pkg/storage"
)

// Config holds server configuration
type Config struct {
	Port         int
	Topic        uint8 // topic reads default to when none is given
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the HTTP API server wrapped around a running engine.
type Server struct {
	engine     *mesh.Engine
	history    *storage.History
	router     *gin.Engine
	port       int
	topic      uint8
	httpServer *http.Server
	started    time.Time
}

// NewServer creates a new HTTP API server. history may be nil when the
// node runs without persistence.
func NewServer(engine *mesh.Engine, history *storage.History, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		engine:  engine,
		history: history,
		router:  router,
		port:    config.Port,
		topic:   config.Topic,
		started: time.Now(),
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/messages", s.handleSend)
		v1.GET("/messages", s.handleMessages)
		v1.GET("/status", s.handleStatus)
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
