package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearthmap/hearthmap/internal/largetile"
	"github.com/hearthmap/hearthmap/internal/worker"
)

var pregenerateCmd = &cobra.Command{
	Use:   "pregenerate <tenant> [map]",
	Short: "Generate a tenant's missing large tiles",
	Long: `Pregenerate fills the large-tile disk cache for one tenant map, or for
every map of the tenant when no map is given.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPregenerate,
}

func init() {
	rootCmd.AddCommand(pregenerateCmd)

	pregenerateCmd.Flags().String("cache-dir", "", "Directory for generated large tiles (default: the grid storage root)")
	pregenerateCmd.Flags().Int("workers", 4, "Parallel tile generators")
	pregenerateCmd.Flags().Bool("quiet", false, "Suppress the progress line")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"pregenerate.cache_dir", "cache-dir"},
		{"pregenerate.workers", "workers"},
		{"pregenerate.quiet", "quiet"},
	}
	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, pregenerateCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runPregenerate(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cache := largetile.New(largetile.Config{
		Store:    store,
		CacheDir: viper.GetString("pregenerate.cache_dir"),
		Logger:   logger,
	})

	ctx, stop := cmdContext()
	defer stop()

	tenant := args[0]
	var maps []string
	if len(args) == 2 {
		maps = []string{args[1]}
	} else {
		maps, err = store.ListTenantMaps(ctx, tenant)
		if err != nil {
			return err
		}
	}

	workers := viper.GetInt("pregenerate.workers")
	quiet := viper.GetBool("pregenerate.quiet")
	for _, mapID := range maps {
		prog := worker.NewProgress(0, !quiet)
		perZoom, err := cache.GenerateMissingTiles(ctx, tenant, mapID, workers, prog.Callback())
		prog.Done()
		if err != nil {
			return fmt.Errorf("failed to pregenerate %s/%s: %w", tenant, mapID, err)
		}

		total := 0
		zooms := make([]int, 0, len(perZoom))
		for z, n := range perZoom {
			total += n
			zooms = append(zooms, z)
		}
		sort.Ints(zooms)
		fmt.Printf("%s/%s: %d tiles generated\n", tenant, mapID, total)
		for _, z := range zooms {
			fmt.Printf("  zoom %d: %d\n", z, perZoom[z])
		}
	}
	return nil
}
