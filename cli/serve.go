package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/foomo/geocat-mcp/layers"
	"github.com/foomo/geocat-mcp/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server, stdio unless --http is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc := rt.newService()
			s := mcp.NewServer(mcp.Services{
				SharedObjects: svc,
				Catalog:       rt.client,
				Layers:        layers.NewManager(layers.NewCollection(rt.cfg.LayerObjects()...), layers.Selected),
				Logger:        rt.logger.Named("mcp"),
			})

			if httpAddr == "" {
				rt.logger.Info("starting MCP server in stdio mode")
				return server.ServeStdio(s)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handler := mcp.NewMcpHTTPSSEServer(rt.logger.Named("sse"), s, svc, rt.cfg.HTTP.Endpoint, nil)
			defer handler.GetSSEServer().Close()
			httpServer := &http.Server{
				Addr:              httpAddr,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errs := make(chan error, 1)
			go func() {
				rt.logger.Info("starting MCP server", zap.String("addr", httpAddr), zap.String("endpoint", rt.cfg.HTTP.Endpoint))
				errs <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errs:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			rt.logger.Info("shutting down MCP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP server address (e.g., ':8080')")
	return cmd
}
