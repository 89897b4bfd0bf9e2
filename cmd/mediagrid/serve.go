package main

import (
	"github.com/ST2Projects/media-grid/internal/push"
	"github.com/ST2Projects/media-grid/internal/web"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gallery server (pages, thumbnails, push channel)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.WebServer.Host = host
			}
			if port > 0 {
				cfg.WebServer.Port = port
			}

			db, err := ctx.openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			hub := push.NewHub()
			defer hub.Close()

			runCtx, stop := signalContext(cmd.Context())
			defer stop()
			return web.New(cfg, db, hub).Start(runCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides web_server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides web_server.port)")
	return cmd
}
