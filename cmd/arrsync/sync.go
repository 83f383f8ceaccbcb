package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/arrsync/internal/models"
)

var syncRunsLimit int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upstream sync commands",
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one upstream update check now",
	RunE:  runSyncRun,
}

var syncRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent scheduler runs",
	RunE:  runSyncRuns,
}

func init() {
	syncRunsCmd.Flags().IntVar(&syncRunsLimit, "limit", 10, "Maximum number of runs to show")

	syncCmd.AddCommand(syncRunCmd, syncRunsCmd)
	rootCmd.AddCommand(syncCmd)
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	sched := application.Scheduler()
	if sched == nil {
		return fmt.Errorf("upstream sync is disabled in the config")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := sched.Run(ctx, models.RunTriggerManual)
	if err != nil {
		return err
	}
	printRun(result)
	return nil
}

func runSyncRuns(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	sched := application.Scheduler()
	if sched == nil {
		return fmt.Errorf("upstream sync is disabled in the config")
	}

	runs, err := sched.Runs(syncRunsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tTRIGGER\tCOMMIT\tOUTDATED\tAUTO-SYNCED\tATTENTION\tERRORS")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Trigger,
			shortCommit(r.LatestCommit),
			r.TemplatesOutdated,
			r.TemplatesAutoSynced,
			r.TemplatesNeedingAttention,
			len(r.Errors),
		)
	}
	return w.Flush()
}

func printRun(r *models.RunResult) {
	fmt.Printf("Run finished in %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Printf("  Upstream commit:    %s\n", shortCommit(r.LatestCommit))
	fmt.Printf("  Templates checked:  %d\n", r.TemplatesChecked)
	fmt.Printf("  Outdated:           %d\n", r.TemplatesOutdated)
	fmt.Printf("  Auto-synced:        %d\n", r.TemplatesAutoSynced)
	fmt.Printf("  Needing attention:  %d\n", r.TemplatesNeedingAttention)
	fmt.Printf("  Catalogs refreshed: %d (failed %d)\n", r.CachesRefreshed, r.CachesFailed)
	if len(r.Errors) > 0 {
		fmt.Println("  Errors:")
		for _, e := range r.Errors {
			fmt.Printf("    - %s\n", e)
		}
	}
}

func shortCommit(c string) string {
	if len(c) > 10 {
		return c[:10]
	}
	if c == "" {
		return "-"
	}
	return c
}
