package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/logging"
	"github.com/BioHazard786/livestream/internal/storeserver"
	"github.com/BioHazard786/livestream/internal/ui"
	"github.com/spf13/cobra"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket signaling store server",
	Long: `Run the signaling store server that create and join talk to with the
default ws backend. Rooms live in memory; a participant whose connection
drops is removed from its room.

Examples:
  livestream serve
  livestream serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), flagAddr)
	},
}

func serve(ctx context.Context, addr string) error {
	log := logging.Component("server")

	hub := storeserver.NewHub(nil)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           storeserver.NewMux(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", "error", err)
		}
	}()

	ui.PrintInfof("Signaling store listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errs.New("serve", err)
	}
	log.Info("server stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&flagAddr, "addr", ":8080", "Listen address")
}
