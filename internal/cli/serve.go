package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/evidencegate/internal/api"
)

const shutdownTimeout = 15 * time.Second

var initTests bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes publication checks, the gate pipeline, reliability runs,
contradiction management and confidence ratings over HTTP, plus /health
and /metrics.

Example:
  evidencegate serve --addr :8080
  EVIDENCEGATE_STORE_DRIVER=postgres EVIDENCEGATE_STORE_DSN=postgres://... evidencegate serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().BoolVar(&initTests, "init-tests", true, "seed the reliability test battery on startup")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(a *app) error {
		if initTests {
			if _, err := a.lab.InitializeTestSuite(ctx); err != nil {
				// the API still serves; reliability runs will report ErrNoTests
				a.logger.Error("initialize reliability tests", "error", err)
			}
		}

		srv := api.NewServer(a.services(), a.cfg.Server.AllowedOrigins).NewHTTPServer(a.cfg.Server)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.logger.Info("listening", "addr", srv.Addr, "store", a.cfg.Store.Driver, "llm", a.llm.ProviderName())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			a.logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	})
}
