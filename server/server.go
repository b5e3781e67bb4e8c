package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/techagentng/servicelink/config"
	"github.com/techagentng/servicelink/db"
	"github.com/techagentng/servicelink/services"
	"github.com/techagentng/servicelink/ws"
)

type Server struct {
	Config         *config.Config
	ChatService    services.ChatService
	UserRepository db.UserRepository
	Gateway        *ws.Gateway
	DB             db.GormDB
}

// Start serves the API and shuts down gracefully on SIGINT/SIGTERM.
// Live websocket connections are dropped on shutdown; clients poll
// history on reconnect.
func (s *Server) Start() {
	r := s.setupRouter()

	port := s.Config.Port
	if port == 0 {
		port = 8080
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}

	go func() {
		log.Printf("Server started on port %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
