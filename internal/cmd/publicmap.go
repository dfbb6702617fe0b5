package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hearthmap/hearthmap/internal/catalog"
)

var publicmapCmd = &cobra.Command{
	Use:   "publicmap",
	Short: "Manage public maps and their sources",
}

var publicmapCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a public map",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicmapCreate,
}

var publicmapListCmd = &cobra.Command{
	Use:   "list",
	Short: "List public maps",
	RunE:  runPublicmapList,
}

var publicmapShowCmd = &cobra.Command{
	Use:   "show <slug>",
	Short: "Show one public map and its sources",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicmapShow,
}

var publicmapUpdateCmd = &cobra.Command{
	Use:   "update <slug>",
	Short: "Update a public map's settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicmapUpdate,
}

var publicmapDeleteCmd = &cobra.Command{
	Use:   "delete <slug>",
	Short: "Delete a public map and its generated tiles",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicmapDelete,
}

var publicmapAddSourceCmd = &cobra.Command{
	Use:   "add-source <slug> <tenant> <map>",
	Short: "Attach a tenant map as a source",
	Args:  cobra.ExactArgs(3),
	RunE:  runPublicmapAddSource,
}

var publicmapRemoveSourceCmd = &cobra.Command{
	Use:   "remove-source <slug> <tenant> <map>",
	Short: "Detach a tenant map source",
	Args:  cobra.ExactArgs(3),
	RunE:  runPublicmapRemoveSource,
}

var publicmapAddHmapCmd = &cobra.Command{
	Use:   "add-hmap <slug> <hmap-source-id>",
	Short: "Attach an uploaded world snapshot as a source",
	Args:  cobra.ExactArgs(2),
	RunE:  runPublicmapAddHmap,
}

var publicmapRemoveHmapCmd = &cobra.Command{
	Use:   "remove-hmap <slug> <hmap-source-id>",
	Short: "Detach a world snapshot source",
	Args:  cobra.ExactArgs(2),
	RunE:  runPublicmapRemoveHmap,
}

var publicmapAnalyzeCmd = &cobra.Command{
	Use:   "analyze <slug>",
	Short: "Report per-snapshot grid contributions",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublicmapAnalyze,
}

var publicmapTenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "List tenant maps available as sources",
	RunE:  runPublicmapTenants,
}

func init() {
	rootCmd.AddCommand(publicmapCmd)
	publicmapCmd.AddCommand(publicmapCreateCmd, publicmapListCmd, publicmapShowCmd,
		publicmapUpdateCmd, publicmapDeleteCmd,
		publicmapAddSourceCmd, publicmapRemoveSourceCmd,
		publicmapAddHmapCmd, publicmapRemoveHmapCmd,
		publicmapAnalyzeCmd, publicmapTenantsCmd)

	publicmapCreateCmd.Flags().String("slug", "", "URL slug (default: derived from the name)")
	publicmapCreateCmd.Flags().Bool("active", true, "Serve the map once generated")
	publicmapCreateCmd.Flags().String("created-by", "", "Recorded creator")

	publicmapListCmd.Flags().Bool("all", false, "Include inactive maps")

	publicmapUpdateCmd.Flags().String("name", "", "New display name")
	publicmapUpdateCmd.Flags().Bool("active", true, "Serve the map")
	publicmapUpdateCmd.Flags().Bool("auto-regenerate", false, "Regenerate on a schedule")
	publicmapUpdateCmd.Flags().Int("interval-minutes", 0, "Regeneration interval in minutes")

	publicmapAddSourceCmd.Flags().Int("priority", 0, "Merge priority (higher wins ties)")
	publicmapAddSourceCmd.Flags().String("added-by", "", "Recorded operator")

	publicmapAddHmapCmd.Flags().Int("priority", 0, "Merge priority (higher wins ties)")
}

func cmdContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runPublicmapCreate(cmd *cobra.Command, args []string) error {
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

	slug, _ := cmd.Flags().GetString("slug")
	active, _ := cmd.Flags().GetBool("active")
	createdBy, _ := cmd.Flags().GetString("created-by")

	m, err := store.CreatePublicMap(ctx, args[0], slug, active, createdBy)
	if err != nil {
		return err
	}
	fmt.Printf("created public map %q (slug %s)\n", m.Name, m.ID)
	return nil
}

func runPublicmapList(cmd *cobra.Command, args []string) error {
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

	all, _ := cmd.Flags().GetBool("all")
	maps, err := store.ListPublicMaps(ctx, !all)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tNAME\tACTIVE\tSTATUS\tTILES\tLAST GENERATED")
	for _, m := range maps {
		last := "-"
		if m.LastGeneratedAt != nil {
			last = m.LastGeneratedAt.Format("2006-01-02 15:04")
		}
		status := m.GenerationStatus
		if status == catalog.StatusRunning {
			status = fmt.Sprintf("%s (%d%%)", status, m.GenerationProgress)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\t%s\n",
			m.ID, m.Name, m.IsActive, status, m.TileCount, last)
	}
	return w.Flush()
}

func runPublicmapShow(cmd *cobra.Command, args []string) error {
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

	m, err := store.GetPublicMap(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Slug:            %s\n", m.ID)
	fmt.Printf("Name:            %s\n", m.Name)
	fmt.Printf("Active:          %t\n", m.IsActive)
	fmt.Printf("Status:          %s (%d%%)\n", m.GenerationStatus, m.GenerationProgress)
	fmt.Printf("Tiles:           %d\n", m.TileCount)
	if m.AutoRegenerate && m.RegenerateIntervalMinutes != nil {
		fmt.Printf("Auto-regenerate: every %d minutes\n", *m.RegenerateIntervalMinutes)
	}
	if m.LastGeneratedAt != nil {
		fmt.Printf("Last generated:  %s", m.LastGeneratedAt.Format("2006-01-02 15:04:05"))
		if m.LastGenerationDuration != nil {
			fmt.Printf(" (%.1fs)", *m.LastGenerationDuration)
		}
		fmt.Println()
	}
	if m.GenerationError != nil {
		fmt.Printf("Last error:      %s\n", *m.GenerationError)
	}
	if m.Bounds != nil && m.Bounds.Valid() {
		fmt.Printf("Bounds:          x %d..%d, y %d..%d\n",
			m.Bounds.MinX, m.Bounds.MaxX, m.Bounds.MinY, m.Bounds.MaxY)
	}

	sources, err := store.ListTenantSources(ctx, m.ID)
	if err != nil {
		return err
	}
	if len(sources) > 0 {
		fmt.Println("\nTenant sources (merge order):")
		for _, s := range sources {
			fmt.Printf("  %s (priority %d)\n", s.Key(), s.Priority)
		}
	}

	links, err := store.ListHmapSourceLinks(ctx, m.ID)
	if err != nil {
		return err
	}
	if len(links) > 0 {
		fmt.Println("\nSnapshot sources (merge order):")
		for _, l := range links {
			line := fmt.Sprintf("  #%d (priority %d)", l.HmapSourceID, l.Priority)
			if l.NewGrids != nil && l.OverlappingGrids != nil {
				line += fmt.Sprintf(", %d new / %d overlapping grids", *l.NewGrids, *l.OverlappingGrids)
			}
			fmt.Println(line)
		}
	}
	return nil
}

func runPublicmapUpdate(cmd *cobra.Command, args []string) error {
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

	var u catalog.PublicMapUpdate
	if cmd.Flags().Changed("name") {
		name, _ := cmd.Flags().GetString("name")
		u.Name = &name
	}
	if cmd.Flags().Changed("active") {
		active, _ := cmd.Flags().GetBool("active")
		u.IsActive = &active
	}
	if cmd.Flags().Changed("auto-regenerate") {
		auto, _ := cmd.Flags().GetBool("auto-regenerate")
		u.AutoRegenerate = &auto
	}
	if cmd.Flags().Changed("interval-minutes") {
		minutes, _ := cmd.Flags().GetInt("interval-minutes")
		u.RegenerateIntervalMinutes = &minutes
	}

	if err := store.UpdatePublicMap(ctx, args[0], u); err != nil {
		return err
	}
	fmt.Printf("updated %s\n", args[0])
	return nil
}

func runPublicmapDelete(cmd *cobra.Command, args []string) error {
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

	if err := store.DeletePublicMap(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func runPublicmapAddSource(cmd *cobra.Command, args []string) error {
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

	priority, _ := cmd.Flags().GetInt("priority")
	addedBy, _ := cmd.Flags().GetString("added-by")

	if err := store.AddTenantSource(ctx, args[0], args[1], args[2], priority, addedBy); err != nil {
		return err
	}
	fmt.Printf("added %s/%s to %s\n", args[1], args[2], args[0])
	return nil
}

func runPublicmapRemoveSource(cmd *cobra.Command, args []string) error {
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

	if err := store.RemoveTenantSource(ctx, args[0], args[1], args[2]); err != nil {
		return err
	}
	fmt.Printf("removed %s/%s from %s\n", args[1], args[2], args[0])
	return nil
}

func runPublicmapAddHmap(cmd *cobra.Command, args []string) error {
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

	id, err := parseID(args[1])
	if err != nil {
		return err
	}
	priority, _ := cmd.Flags().GetInt("priority")

	if err := store.AddHmapSourceLink(ctx, args[0], id, priority); err != nil {
		return err
	}
	fmt.Printf("added snapshot #%d to %s\n", id, args[0])
	return nil
}

func runPublicmapRemoveHmap(cmd *cobra.Command, args []string) error {
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

	id, err := parseID(args[1])
	if err != nil {
		return err
	}

	if err := store.RemoveHmapSourceLink(ctx, args[0], id); err != nil {
		return err
	}
	fmt.Printf("removed snapshot #%d from %s\n", id, args[0])
	return nil
}

func runPublicmapAnalyze(cmd *cobra.Command, args []string) error {
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

	report, err := store.AnalyzeContributions(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runPublicmapTenants(cmd *cobra.Command, args []string) error {
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

	infos, err := store.ListAvailableTenantMaps(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tMAP\tNAME\tTILES")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", info.TenantID, info.MapID, info.Name, info.TileCount)
	}
	return w.Flush()
}
