package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cronrunner "readersync/internal/cron"
	"readersync/internal/handler"
	"readersync/internal/logger"
	"readersync/internal/service"
)

var (
	version    = "dev"
	configPath string
	jsonOutput bool
	fullSync   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "readersync",
		Short: "Mirror Readwise Reader documents into PostgreSQL",
		Long: `readersync pulls the Readwise Reader document list page by page and
upserts every document into PostgreSQL. Runs are incremental from the last
committed checkpoint unless --full-sync is given.`,
		SilenceUsage: true,
		RunE:         runSync,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $RS_CONFIG or config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.Flags().BoolVar(&fullSync, "full-sync", false, "Bypass the checkpoint and re-sync everything")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		RunE:  runSync,
	}
	syncCmd.Flags().BoolVar(&fullSync, "full-sync", false, "Bypass the checkpoint and re-sync everything")
	rootCmd.AddCommand(syncCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run scheduled syncs and the status API",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "readersync %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := newApp(configSource(configPath))
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := a.sync.Sync(ctx, service.SyncOptions{FullSync: fullSync})
	printResult(cmd.OutOrStdout(), res, jsonOutput)
	return err
}

func printResult(w io.Writer, res service.Result, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}
	fmt.Fprintf(w, "run %s %s: mode=%s pages=%d upserted=%d failed=%d\n",
		res.RunID, res.State, res.Mode, res.Pages, res.Upserted, res.Failed)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(configSource(configPath))
	if err != nil {
		return err
	}
	defer a.close()
	log := a.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := cronrunner.New(logger.Component(log, "cron"), ctx)
	if a.cfg.Cron.Enabled {
		opts := service.SyncOptions{FullSync: a.cfg.Cron.FullSync}
		_, err := runner.Add("document_sync", a.cfg.Cron.Sync, func(ctx context.Context) {
			_, err := a.sync.Sync(ctx, opts)
			switch {
			case errors.Is(err, service.ErrRunInProgress):
				log.Info("cron sync skipped, run in progress")
			case err != nil:
				log.Warn("cron sync failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule sync: %w", err)
		}
	}

	if strings.EqualFold(a.cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	(&handler.HealthHandler{DB: a.db.Gorm, Store: a.store}).Register(engine)
	syncHandler := &handler.SyncHandler{
		Service: a.sync,
		Store:   a.store,
		Logger:  logger.Component(log, "http"),
		BaseCtx: ctx,
	}
	syncHandler.Register(engine)

	srv := &http.Server{
		Addr:              a.cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runner.Start()
	defer runner.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case serveErr = <-errCh:
		log.Error("server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	// Triggered runs see ctx cancelled and abort; the store must stay open until they return.
	stop()
	syncHandler.Wait()
	return serveErr
}
