// Package cmd wires the command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearthmap/hearthmap/internal/catalog"
)

var (
	cfgFile string
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hearthmap",
	Short: "A multi-tenant Haven & Hearth map tile server",
	Long: `Hearthmap composes player-uploaded map data into web map tiles.

It serves per-tenant tiles on demand, merges the maps of several tenants
into published public maps, and accepts world snapshot (.hmap) uploads as
an additional map source.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("catalog-db", "hearthmap.db", "Path to the catalog database")
	rootCmd.PersistentFlags().String("grid-storage", "map", "Root directory for tiles and uploads")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose logging")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"catalog_db", "catalog-db"},
		{"grid_storage", "grid-storage"},
		{"verbose", "verbose"},
	}
	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, rootCmd.PersistentFlags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("HEARTHMAP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func initLogging() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// openStore opens the catalog from the persistent flags.
func openStore() (*catalog.Store, error) {
	return catalog.Open(viper.GetString("catalog_db"), viper.GetString("grid_storage"), logger)
}
