package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the query API",
	Long: `Start every dependency, run scheduled cycles for due sources and serve the
read-only query API until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	st := a.startup(a.schedulerDependency(), a.httpDependency())
	if err := st.Start(ctx); err != nil {
		return err
	}
	a.checker.SetReady(true)
	logger.Infof("%s %s started", cfg.AppName, cfg.Version)

	<-ctx.Done()
	logger.Info("Shutting down")
	a.checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return st.Stop(shutdownCtx)
}
