package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/chatbase/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/chatbase/internal/api/middlewares"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewRouter builds and wires all routes.
func NewRouter(cc *CoreContext) http.Handler {
	cfg := cc.Config
	botHandler := handlers.NewChatbotHandler(cc.Chatbots, cc.Ledger)
	sourceHandler := handlers.NewSourceHandler(cc.Sources, cfg.Server.MaxUploadBytes)
	chatHandler := handlers.NewChatHandler(cc.Orchestrator)

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", cc.Metrics.Handler())

	// API routes
	r.Route("/api", func(api chi.Router) {
		// Chat turns carry their own budget.
		api.Post("/chat/{chatbotID}", chatHandler.Send)

		api.Group(func(protected chi.Router) {
			protected.Use(middleware.Timeout(timeout))
			protected.Use(appMiddleware.JWTMiddleware(cfg.Server.JWTSecret))

			protected.Get("/quota", botHandler.Usage)

			protected.Post("/chatbots", botHandler.Create)
			protected.Get("/chatbots", botHandler.List)
			protected.Get("/chatbots/{chatbotID}", botHandler.Get)
			protected.Delete("/chatbots/{chatbotID}", botHandler.Delete)

			protected.Post("/chatbots/{chatbotID}/sources", sourceHandler.Create)
			protected.Get("/chatbots/{chatbotID}/sources", sourceHandler.List)
			protected.Get("/sources/{sourceID}", sourceHandler.Get)
			protected.Delete("/sources/{sourceID}", sourceHandler.Delete)
		})
	})

	return r
}

func NewServer(cc *CoreContext) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cc.Config.Server.Port,
		Handler:           NewRouter(cc),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
