package app

import (
	"context"
	"log"
	"time"

	"github.com/markdave123-py/chatbase/internal/config"
)

type App struct {
	Core   *CoreContext
	Server *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	cc, err := NewCoreContext(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{Core: cc, Server: NewServer(cc)}, nil
}

// Run serves until ctx ends, then drains HTTP, the scheduler and ingestion.
func (a *App) Run(ctx context.Context) error {
	a.Core.Scheduler.Start(ctx)
	log.Printf("Quota reset scheduled, next run at %s", a.Core.Scheduler.Next(time.Now()).Format(time.RFC3339))

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := a.Core.Shutdown(shutdownCtx); err != nil {
		log.Printf("ingestion shutdown: %v", err)
	}
	return serveErr
}

func (a *App) Close() {
	if a.Core != nil {
		a.Core.Close()
	}
}
