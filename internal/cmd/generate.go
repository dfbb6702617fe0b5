package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearthmap/hearthmap/internal/publicmap"
	"github.com/hearthmap/hearthmap/internal/texres"
)

var generateCmd = &cobra.Command{
	Use:   "generate <slug>",
	Short: "Generate a public map's tiles",
	Long:  `Generate composes, pyramids and publishes the tiles of one public map.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("texture-base-url", "", "Base URL for tileset texture downloads (snapshot sources)")
	generateCmd.Flags().String("texture-cache-dir", "", "Directory for cached textures (default: hmap-tile-cache)")
	generateCmd.Flags().String("invalidate-url", "", "Webhook POSTed after a successful generation")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"generate.texture_base_url", "texture-base-url"},
		{"generate.texture_cache_dir", "texture-cache-dir"},
		{"generate.invalidate_url", "invalidate-url"},
	}
	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, generateCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	orch := publicmap.New(publicmap.Config{
		Store:         store,
		Fetcher:       newFetcher(),
		Logger:        logger,
		InvalidateURL: viper.GetString("generate.invalidate_url"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return orch.Generate(ctx, args[0])
}

func newFetcher() *texres.Fetcher {
	baseURL := viper.GetString("generate.texture_base_url")
	if baseURL == "" {
		return nil
	}
	return texres.New(texres.Config{
		BaseURL:  baseURL,
		CacheDir: viper.GetString("generate.texture_cache_dir"),
	}, logger)
}
