package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var hmapCmd = &cobra.Command{
	Use:   "hmap",
	Short: "Manage uploaded world snapshots",
}

var hmapUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a .hmap world snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runHmapUpload,
}

var hmapListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded snapshots",
	RunE:  runHmapList,
}

var hmapAnalyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Decode a snapshot and record its grid counts and bounds",
	Args:  cobra.ExactArgs(1),
	RunE:  runHmapAnalyze,
}

var hmapDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an uploaded snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runHmapDelete,
}

func init() {
	rootCmd.AddCommand(hmapCmd)
	hmapCmd.AddCommand(hmapUploadCmd, hmapListCmd, hmapAnalyzeCmd, hmapDeleteCmd)

	hmapUploadCmd.Flags().String("name", "", "Display name (default: the file name)")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snapshot id %q", s)
	}
	return id, nil
}

func runHmapUpload(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := cmdContext()
	defer stop()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	name, _ := cmd.Flags().GetString("name")
	fileName := filepath.Base(args[0])
	if name == "" {
		name = fileName
	}

	src, err := store.CreateHmapSource(ctx, name, fileName, f)
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %q as snapshot #%d (%d bytes)\n", src.Name, src.ID, src.FileSizeBytes)
	return nil
}

func runHmapList(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := cmdContext()
	defer stop()

	sources, err := store.ListHmapSources(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tGRIDS\tSEGMENTS\tANALYZED")
	for _, src := range sources {
		grids, segments, analyzed := "-", "-", "-"
		if src.TotalGrids != nil {
			grids = strconv.Itoa(*src.TotalGrids)
		}
		if src.SegmentCount != nil {
			segments = strconv.Itoa(*src.SegmentCount)
		}
		if src.AnalyzedAt != nil {
			analyzed = src.AnalyzedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			src.ID, src.Name, src.FileSizeBytes, grids, segments, analyzed)
	}
	return w.Flush()
}

func runHmapAnalyze(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := cmdContext()
	defer stop()

	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	src, err := store.AnalyzeHmapSource(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("snapshot #%d %q\n", src.ID, src.Name)
	if src.TotalGrids != nil {
		fmt.Printf("  grids:    %d\n", *src.TotalGrids)
	}
	if src.SegmentCount != nil {
		fmt.Printf("  segments: %d\n", *src.SegmentCount)
	}
	if src.Bounds != nil && src.Bounds.Valid() {
		fmt.Printf("  bounds:   x %d..%d, y %d..%d\n",
			src.Bounds.MinX, src.Bounds.MaxX, src.Bounds.MinY, src.Bounds.MaxY)
	}
	return nil
}

func runHmapDelete(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := cmdContext()
	defer stop()

	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	if err := store.DeleteHmapSource(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted snapshot #%d\n", id)
	return nil
}
