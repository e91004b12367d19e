// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newskylabs/kkrdata/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr    string
		port    int
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an HTTP server that resolves resources on request",
		Long: `Start an HTTP server that provides:
  - REST API to inspect and resolve resources
  - WebSocket for live progress updates

Resolves run one at a time. Requests for a resource that is already being
resolved join the running job.

Example:
  kkrdata serve
  kkrdata serve --port 3000
  kkrdata serve --addr 0.0.0.0 --allow-origin http://localhost:5173`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.resolver(cmd, nil)
			if err != nil {
				return err
			}

			cfg := server.DefaultConfig()
			cfg.Addr = addr
			cfg.Port = port
			cfg.AllowedOrigins = origins
			cfg.Version = cmd.Root().Version

			fmt.Fprintln(a.stdout)
			fmt.Fprintln(a.stdout, titleStyle.Render("kkrdata server"))
			fmt.Fprintf(a.stdout, "  API:    http://%s:%d/api\n", addr, port)
			fmt.Fprintf(a.stdout, "  Cache:  %s\n", r.Dir())
			fmt.Fprintln(a.stdout)

			logger := a.log().WithPrefix("server")
			return server.New(cfg, r, logger).ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringSliceVar(&origins, "allow-origin", nil, "Allowed CORS origins (default: any)")

	return cmd
}
