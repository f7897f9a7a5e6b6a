// Command gatewayd is the gateway's single entry point (spec.md §6 CLI
// surface). Flag handling is grounded on the teacher's cmd/aleutian
// rootCmd (cobra.Command with a PersistentPreRun that loads
// config.yaml), generalized to spec.md §6's flag set: --config, --host,
// --port, --skip-optimization, --force-optimization.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NickScherbakov/GC-Forged-Pylot/pkg/logging"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/routes"

	"github.com/spf13/cobra"
)

var (
	configPath        string
	host              string
	port              int
	skipOptimization  bool
	forceOptimization bool
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "Local inference gateway: an OpenAI-compatible HTTP/WebSocket front for a local or remote LLM backend",
	RunE:  run,
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	rootCmd.Flags().StringVar(&host, "host", "", "override the configured listen host")
	rootCmd.Flags().IntVar(&port, "port", 0, "override the configured listen port")
	rootCmd.Flags().BoolVar(&skipOptimization, "skip-optimization", false, "skip hardware detection/optimization at startup")
	rootCmd.Flags().BoolVar(&forceOptimization, "force-optimization", false, "force a fresh hardware probe even if the stored profile is not stale")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}

	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	cfg.SkipOptimization = skipOptimization
	cfg.ForceOptimization = forceOptimization

	logger := logging.New(logging.Config{
		Service: "gatewayd",
		JSON:    cfg.LogJSON,
		LogDir:  cfg.LogDir,
	})

	cfgStore := config.NewStore(cfg)
	gateway.SetRouteInstaller(routes.SetupRoutes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lc := &gateway.Lifecycle{}

	errCh := make(chan error, 1)
	go func() {
		errCh <- lc.Start(ctx, cfgStore, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gatewayd: %w", err)
		}
		return nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulDrainTimeout)
	defer cancel()
	if err := lc.Stop(stopCtx, cfg.GracefulDrainTimeout); err != nil {
		return fmt.Errorf("gatewayd: shutdown: %w", err)
	}
	return nil
}
