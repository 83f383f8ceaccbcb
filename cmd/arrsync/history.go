package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/arrsync/internal/deploy"
	"github.com/foxzi/arrsync/internal/models"
)

var (
	historyTemplate string
	historyInstance string
	historyLimit    int

	deployAs       string
	deployStrategy string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Deployment history commands",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <history_id>",
	Short: "Show deployment details",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyUndeployCmd = &cobra.Command{
	Use:   "undeploy <history_id>",
	Short: "Remove the formats a deployment created",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryUndeploy,
}

var deployCmd = &cobra.Command{
	Use:   "deploy <template_id> <instance_id>",
	Short: "Deploy a template to an instance",
	Args:  cobra.ExactArgs(2),
	RunE:  runDeploy,
}

func init() {
	historyListCmd.Flags().StringVar(&historyTemplate, "template", "", "Filter by template id")
	historyListCmd.Flags().StringVar(&historyInstance, "instance", "", "Filter by instance id")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of entries to show")

	deployCmd.Flags().StringVar(&deployAs, "as", "cli", "Deployer name recorded in history")
	deployCmd.Flags().StringVar(&deployStrategy, "strategy", "", "Sync strategy (auto, notify, manual)")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyUndeployCmd)
	rootCmd.AddCommand(historyCmd, deployCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	entries, total, err := application.Engine().ListHistory(models.HistoryFilter{
		TemplateID: historyTemplate,
		InstanceID: historyInstance,
		Limit:      historyLimit,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No deployments found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEPLOYED\tTEMPLATE\tINSTANCE\tSTATUS\tAPPLIED\tFAILED\tBY")
	for _, e := range entries {
		status := string(e.Status)
		if e.RolledBack {
			status += " (undeployed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.ID,
			e.DeployedAt.Local().Format(time.DateTime),
			e.TemplateID,
			e.InstanceID,
			status,
			e.AppliedCFs,
			e.FailedCFs,
			e.DeployedBy,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nShowing %d of %d\n", len(entries), total)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	e, err := application.Engine().GetHistory(args[0])
	if err != nil {
		return err
	}
	printEntry(e)
	return nil
}

func runHistoryUndeploy(cmd *cobra.Command, args []string) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Engine().Undeploy(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Undeployed %s from %s\n", result.HistoryID, result.InstanceID)
	fmt.Printf("  Removed:   %d\n", len(result.Removed))
	fmt.Printf("  Preserved: %d\n", len(result.Preserved))
	fmt.Printf("  Failed:    %d\n", len(result.Failed))
	for _, it := range result.Failed {
		fmt.Printf("    - %s: %s\n", it.Name, it.Error)
	}
	return nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	strategy, err := models.ParseSyncStrategy(deployStrategy)
	if err != nil {
		return err
	}

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	entry, err := application.Engine().Deploy(context.Background(), deploy.Request{
		TemplateID:   args[0],
		InstanceID:   args[1],
		SyncStrategy: strategy,
		DeployedBy:   deployAs,
		Trigger:      models.TriggerManual,
	})
	if entry != nil {
		printEntry(entry)
	}
	return err
}

func printEntry(e *models.HistoryEntry) {
	fmt.Printf("Deployment %s\n", e.ID)
	fmt.Printf("  Template: %s\n", e.TemplateID)
	fmt.Printf("  Instance: %s\n", e.InstanceID)
	fmt.Printf("  Status:   %s\n", e.Status)
	fmt.Printf("  By:       %s (%s)\n", e.DeployedBy, e.Trigger)
	fmt.Printf("  At:       %s\n", e.DeployedAt.Local().Format(time.DateTime))
	fmt.Printf("  Applied:  %d of %d\n", e.AppliedCFs, e.TotalCFs)
	if e.RolledBackAt != nil {
		fmt.Printf("  Undeployed at: %s\n", e.RolledBackAt.Local().Format(time.DateTime))
	}
	if len(e.Items) == 0 {
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\n  TRASH ID\tNAME\tACTION\tRESULT")
	for _, it := range e.Items {
		result := "ok"
		if !it.Applied {
			result = "failed: " + it.Error
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", it.TrashID, it.Name, it.Action, result)
	}
	w.Flush()
}
