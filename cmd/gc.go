package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soloqueue/soloqueue/internal/memory"
	"github.com/soloqueue/soloqueue/internal/workspace"
)

func gcCmd() *cobra.Command {
	var (
		skipOrphanScan bool
		archiveDays    int
		force          bool
	)

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run artifact garbage collection once",
		Long: "Prunes expired ephemeral artifacts, removes orphaned blobs, and " +
			"optionally archives old artifacts. Safe to run while agents are " +
			"active: a concurrent run is skipped via a file lock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws, err := workspace.New(cfg.WorkspacePath())
			if err != nil {
				return err
			}
			mem, err := memory.NewManager(ws.Root(), nil, cfg.Memory.RetentionDays)
			if err != nil {
				return err
			}
			defer mem.Close()

			if archiveDays == 0 {
				archiveDays = cfg.Memory.ArchiveDays
			}

			gc := mem.GC()
			if !force && !gc.ShouldRun(cfg.Memory.GCIntervalHours) {
				fmt.Println("gc: ran recently, skipping (use --force to override)")
				return nil
			}

			stats, err := gc.RunOnce(cmd.Context(), skipOrphanScan)
			if err != nil {
				return err
			}
			if stats.Skipped {
				fmt.Println("gc: another run holds the lock, skipped")
				return nil
			}
			fmt.Printf("gc: %d expired rows pruned, %d orphan blobs removed\n",
				stats.Phase1Deleted, stats.Phase2Deleted)

			if archiveDays > 0 {
				moved, err := gc.ArchiveByDate(cmd.Context(), mem.ArchiveDir(), archiveDays)
				if err != nil {
					return err
				}
				fmt.Printf("gc: %d artifacts archived\n", moved)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipOrphanScan, "skip-orphan-scan", false, "skip phase 2 (orphan blob removal)")
	cmd.Flags().IntVar(&archiveDays, "archive-days", 0, "also archive non-ephemeral artifacts older than N days")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the cooldown window")
	return cmd
}
