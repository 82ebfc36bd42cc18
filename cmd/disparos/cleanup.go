package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old dispatch history entries",
	RunE:  runCleanup,
}

var (
	cleanupDays   int
	cleanupDryRun bool
)

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 90, "Delete history entries older than N days")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be deleted without actually deleting")

	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	application, _, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := context.Background()
	cutoff := time.Now().AddDate(0, 0, -cleanupDays)

	if cleanupDryRun {
		fmt.Println("Dry run mode - no data will be deleted")
		fmt.Println()
	}

	count, err := application.History.CountOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup history: %w", err)
	}
	fmt.Printf("History entries older than %d days: %d\n", cleanupDays, count)

	if !cleanupDryRun && count > 0 {
		deleted, err := application.CleanupHistory(ctx, time.Since(cutoff))
		if err != nil {
			return fmt.Errorf("failed to cleanup history: %w", err)
		}
		fmt.Printf("  Deleted: %d\n", deleted)
		fmt.Println("\nCleanup completed")
	}

	return nil
}
