package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hearthmap/hearthmap/internal/largetile"
	"github.com/hearthmap/hearthmap/internal/publicmap"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the generation scheduler and tile pregenerator",
	Long: `Daemon runs the background workers without the HTTP server: the
public-map scheduler (queued and periodic regenerations) and the per-tenant
tile pregenerator.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().String("cache-dir", "", "Directory for generated large tiles (default: the grid storage root)")
	daemonCmd.Flags().Duration("scan-interval", 30*time.Second, "Auto-regenerate scan interval")
	daemonCmd.Flags().Duration("pregenerate-interval", 30*time.Second, "Pregeneration cycle interval")
	daemonCmd.Flags().Int("workers", 4, "Workers per pregeneration batch")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"daemon.cache_dir", "cache-dir"},
		{"daemon.scan_interval", "scan-interval"},
		{"daemon.pregenerate_interval", "pregenerate-interval"},
		{"daemon.workers", "workers"},
	}
	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, daemonCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	orch := publicmap.New(publicmap.Config{
		Store:   store,
		Fetcher: newFetcher(),
		Logger:  logger,
	})
	scheduler := publicmap.NewScheduler(orch, store, logger, viper.GetDuration("daemon.scan_interval"))

	cache := largetile.New(largetile.Config{
		Store:    store,
		CacheDir: viper.GetString("daemon.cache_dir"),
		Logger:   logger,
	})
	pregen := largetile.NewPregenerator(largetile.PregenConfig{
		Cache:    cache,
		Store:    store,
		Logger:   logger,
		Interval: viper.GetDuration("daemon.pregenerate_interval"),
		Workers:  viper.GetInt("daemon.workers"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("daemon starting",
		"scan_interval", viper.GetDuration("daemon.scan_interval"),
		"cache_dir", viper.GetString("daemon.cache_dir"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(scheduler.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(pregen.Run(ctx)) })
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
