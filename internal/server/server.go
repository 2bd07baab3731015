// Package server exposes closure sessions and stored tickets over a JSON
// HTTP API.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/closeout/internal/models"
	"github.com/zulandar/closeout/internal/session"
	"github.com/zulandar/closeout/internal/store"
)

// TicketReader is the read side of the ticket store.
type TicketReader interface {
	List(ctx context.Context, f store.Filter) ([]models.Ticket, error)
	Get(ctx context.Context, id uint) (*models.Ticket, error)
}

// Opts holds configuration for the HTTP server.
type Opts struct {
	Sessions *session.Manager
	Tickets  TicketReader
	Port     int
	Out      io.Writer
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("server: sessions are required")
	}
	if opts.Tickets == nil {
		return nil, fmt.Errorf("server: ticket reader is required")
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts.Sessions, opts.Tickets)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Opts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Closeout API listening on http://localhost:%d\n", opts.Port)
	}
	log.Printf("server: listening on :%d", opts.Port)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
