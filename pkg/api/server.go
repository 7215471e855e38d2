package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/apsync/pkg/api/handlers"
	"github.com/cbodonnell/apsync/pkg/api/middleware"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/gorilla/mux"
)

// APIServer is the local status and control API used by overlays.
type APIServer struct {
	server *http.Server
}

type NewAPIServerOptions struct {
	Port       int
	Token      string
	Controller handlers.Controller
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	return &APIServer{
		server: &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", opts.Port),
			Handler: NewRouter(opts.Controller, opts.Token),
		},
	}
}

// NewRouter builds the API routes.
func NewRouter(controller handlers.Controller, token string) *mux.Router {
	r := mux.NewRouter()
	// preflight requests are answered before the token check
	r.Use(middleware.NewCORSMiddleware(), middleware.NewAuthMiddleware(token))
	r.HandleFunc("/status", handlers.HandleStatus(controller)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/state", handlers.HandleState(controller)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/logs", handlers.HandleLogs(controller)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/reconnect", handlers.HandleReconnect(controller)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/url", handlers.HandleUpdateURL(controller)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/say", handlers.HandleSay(controller)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/reset", handlers.HandleReset(controller)).Methods(http.MethodPost, http.MethodOptions)
	return r
}

// Start starts the APIServer
func (s *APIServer) Start() {
	log.Info("API server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
