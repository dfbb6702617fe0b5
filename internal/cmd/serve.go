package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hearthmap/hearthmap/internal/largetile"
	"github.com/hearthmap/hearthmap/internal/publicmap"
	"github.com/hearthmap/hearthmap/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tiles and the management API",
	Long: `Serve runs the HTTP server: per-tenant tiles generated on demand,
published public-map tiles, and the status endpoint. The generation queue
and the tile pregenerator run in the background.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("cache-dir", "", "Directory for generated large tiles (default: the grid storage root)")
	serveCmd.Flags().String("cache-control", "public, max-age=60", "Cache-Control header for served tiles")
	serveCmd.Flags().Int("cache-entries", 500, "In-memory tile cache size")
	serveCmd.Flags().Int("catalog-concurrency", 8, "Max concurrent catalog-backed tile generations")
	serveCmd.Flags().Bool("pregenerate", true, "Fill the tile cache in the background")
	serveCmd.Flags().Duration("pregenerate-interval", 30*time.Second, "Pregeneration cycle interval")
	serveCmd.Flags().Int("workers", 4, "Workers per pregeneration batch")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"serve.addr", "addr"},
		{"serve.cache_dir", "cache-dir"},
		{"serve.cache_control", "cache-control"},
		{"serve.cache_entries", "cache-entries"},
		{"serve.catalog_concurrency", "catalog-concurrency"},
		{"serve.pregenerate", "pregenerate"},
		{"serve.pregenerate_interval", "pregenerate-interval"},
		{"serve.workers", "workers"},
	}
	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, serveCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cache := largetile.New(largetile.Config{
		Store:      store,
		CacheDir:   viper.GetString("serve.cache_dir"),
		Logger:     logger,
		MaxEntries: viper.GetInt("serve.cache_entries"),
		CatalogSem: viper.GetInt("serve.catalog_concurrency"),
	})

	orch := publicmap.New(publicmap.Config{
		Store:   store,
		Fetcher: newFetcher(),
		Logger:  logger,
	})
	scheduler := publicmap.NewScheduler(orch, store, logger, 0)

	srv := server.New(server.Config{
		Store:        store,
		Cache:        cache,
		Scheduler:    scheduler,
		Logger:       logger,
		CacheControl: viper.GetString("serve.cache_control"),
	})

	addr := viper.GetString("serve.addr")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := scheduler.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if viper.GetBool("serve.pregenerate") {
		pregen := largetile.NewPregenerator(largetile.PregenConfig{
			Cache:    cache,
			Store:    store,
			Logger:   logger,
			Interval: viper.GetDuration("serve.pregenerate_interval"),
			Workers:  viper.GetInt("serve.workers"),
		})
		g.Go(func() error {
			if err := pregen.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	logger.Info("server listening", "addr", addr,
		"cache_dir", viper.GetString("serve.cache_dir"),
		"pregenerate", viper.GetBool("serve.pregenerate"))

	return g.Wait()
}
