package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/disparos/internal/webhook"
)

var webhookTimeout time.Duration

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook commands",
}

var webhookTestCmd = &cobra.Command{
	Use:   "test <url>",
	Short: "Send a test payload to a webhook URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runWebhookTest,
}

func init() {
	webhookTestCmd.Flags().DurationVar(&webhookTimeout, "timeout", 30*time.Second, "request timeout")

	webhookCmd.AddCommand(webhookTestCmd)
	rootCmd.AddCommand(webhookCmd)
}

func runWebhookTest(cmd *cobra.Command, args []string) error {
	client := webhook.NewClient(webhookTimeout)

	res := client.Test(context.Background(), args[0])
	if !res.Success {
		return fmt.Errorf("webhook test failed: %s", res.Error)
	}

	fmt.Printf("Webhook reachable (latency %s)\n", res.Latency.Round(time.Millisecond))
	if res.Opaque {
		fmt.Println("  delivered through the fallback transport, response not readable")
	} else {
		fmt.Printf("  status: %d\n", res.Status)
	}
	return nil
}
