package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/dkratky/casecoder/internal/metrics"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show server runtime statistics",
	Long: `Show annotator and store timing statistics collected since the server
started, for throughput and cost monitoring.`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}

	uptime := time.Duration(stats.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Printf("Server uptime: %s\n\n", uptime)

	printOp("Annotator calls", stats.Annotate)
	printOp("Store reads", stats.StoreRead)
	printOp("Store writes", stats.StoreWrite)
	return nil
}

func printOp(label string, op *metrics.OperationSnapshot) {
	if op == nil {
		fmt.Printf("%s: none\n", label)
		return
	}
	fmt.Printf("%s:\n", label)
	fmt.Printf("  Count:    %d\n", op.Count)
	fmt.Printf("  Avg time: %.1fms\n", op.AvgTimeMs)
	fmt.Printf("  Min/Max:  %dms / %dms\n", op.MinTimeMs, op.MaxTimeMs)
	if op.TotalPromptBytes != nil && op.TotalResponseBytes != nil {
		fmt.Printf("  Prompt bytes:   %d (avg %.0f)\n", *op.TotalPromptBytes, *op.AvgPromptBytes)
		fmt.Printf("  Response bytes: %d (avg %.0f)\n", *op.TotalResponseBytes, *op.AvgResponseBytes)
	}
	fmt.Println()
}
