package cmd

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mproxy/pkg/dispatch"
	"mproxy/pkg/gateway"
	"mproxy/pkg/metrics"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP relay",
	Long:  "Builds every configured channel worker and serves POST /api/send/{channel}, GET /api/ping and GET /metrics.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, collection, log, err := bootstrap("cmd.serve")
		if err != nil {
			return err
		}

		recorder := metrics.New()
		controller := dispatch.New(collection, recorder, log)

		svc, err := gateway.NewService(cfg.Server, controller, log, gateway.WithMetrics(recorder, recorder.Handler()))
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Relay started", "address", svc.Addr(), "channels", strings.Join(collection.Channels(), ","))
		if err := svc.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error("Relay failed", "error", err)
			return err
		}

		log.Info("Relay stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
