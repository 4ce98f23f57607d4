package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/chatbase/internal/app"
	"github.com/markdave123-py/chatbase/internal/config"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var port string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			// Handle SIGINT/SIGTERM for graceful shutdown
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Close()
			return application.Run(ctx)
		},
	}
	serve.Flags().StringVar(&port, "port", "", "listen port (overrides server.port)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config or .)")

	return serve
}
