package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one worker pass over the due batches and exit",
	RunE:  runDispatch,
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	application, _, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	result, err := application.Worker.RunOnce(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("dispatch pass failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
