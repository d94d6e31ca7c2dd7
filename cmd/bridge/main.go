package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vtt-scp/ccom-logger/internal/engine"
	"github.com/vtt-scp/ccom-logger/internal/logging"
)

// signalContext is cancelled by the first SIGINT or SIGTERM and then stops
// trapping them, so a second signal kills a drain that does not finish.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

func rootCmd() *cobra.Command {
	var cfg engine.Config
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Copy CCOM measurements from an MQTT broker into Postgres.",
		Long: `bridge subscribes to the broker, decodes every CCOM message into
measurement records, buffers them in memory and copies them to the database
in batches. SIGINT or SIGTERM stops intake and drains the buffer before exit;
a second signal exits immediately.

Broker and database settings come from MQTT_* and DATABASE_* environment
variables (or a .env file), optionally layered over YAML files named in the
pipeline file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			e, err := engine.Bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			return e.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfg.PipelineYml, "pipeline", "", "pipeline YAML file (optional)")
	cmd.Flags().IntVar(&cfg.GRPCPort, "grpc-port", 0, "health service port; overrides the pipeline file")
	cmd.Flags().IntVar(&cfg.MetricsPort, "metrics-port", 0, "Prometheus port; overrides the pipeline file")
	return cmd
}

func main() {
	logging.InitFromEnv()
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		logging.L().Error("bridge exited with error", "err", err)
		os.Exit(1)
	}
}
