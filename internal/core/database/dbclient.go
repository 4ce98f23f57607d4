package db

import (
	"context"
	"fmt"
	"log"

	"github.com/markdave123-py/chatbase/internal/config"
	"github.com/markdave123-py/chatbase/internal/core"
)

// New returns the DbClient selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (core.DbClient, error) {
	switch cfg.Driver {
	case "postgres":
		c, err := NewDatabaseClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		log.Println("Database initialized and ready.")
		return c, nil
	case "memory":
		log.Println("Using in-memory document store; data is lost on restart.")
		return NewMemoryClient(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
