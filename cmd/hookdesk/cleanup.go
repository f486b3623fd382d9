package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up old webhook logs and audit entries",
	RunE:  runCleanup,
}

var (
	cleanupLogsDays  int
	cleanupAuditDays int
	cleanupDryRun    bool
)

func init() {
	cleanupCmd.Flags().IntVar(&cleanupLogsDays, "logs-days", 30, "Delete webhook logs older than N days (0 keeps all)")
	cleanupCmd.Flags().IntVar(&cleanupAuditDays, "audit-days", 180, "Delete audit log entries older than N days (0 keeps all)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted without actually deleting")
}

// pruner removes rows older than a cutoff from one table
type pruner struct {
	label  string
	days   int
	count  func(ctx context.Context, cutoff time.Time) (int, error)
	delete func(ctx context.Context, cutoff time.Time) (int64, error)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no data will be deleted")
		fmt.Println()
	}

	targets := []pruner{
		{"Webhook logs", cleanupLogsDays, e.store.Logs.CountLogsBefore, e.store.Logs.DeleteLogsBefore},
		{"Audit log entries", cleanupAuditDays, e.store.Audit.CountAuditBefore, e.store.Audit.DeleteAuditBefore},
	}

	now := time.Now()
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if err := prune(cmd.Context(), t, now.AddDate(0, 0, -t.days)); err != nil {
			return fmt.Errorf("failed to cleanup %s: %w", t.label, err)
		}
	}

	if !cleanupDryRun {
		fmt.Println("\nCleanup completed")
	}
	return nil
}

func prune(ctx context.Context, t pruner, cutoff time.Time) error {
	count, err := t.count(ctx, cutoff)
	if err != nil {
		return err
	}

	fmt.Printf("%s older than %d days: %d\n", t.label, t.days, count)

	if cleanupDryRun || count == 0 {
		return nil
	}

	deleted, err := t.delete(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("  Deleted: %d\n", deleted)
	return nil
}
