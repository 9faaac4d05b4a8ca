package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/golden-record/internal/app"
	"github.com/jonathan/golden-record/internal/samples"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workbench HTTP server",
	Long:  `Start an HTTP server that exposes the workbench controls, a server-sent event stream of state changes and Prometheus metrics.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck // shutdown errors are logged by the backends

	a.Start(ctx)

	srv := a.Server(ctx, samples.NewGenerator(uint64(time.Now().UnixNano())))
	return srv.Run(ctx)
}
