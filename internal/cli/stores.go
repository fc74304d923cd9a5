package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var clearField string

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Inspect case stores",
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the case stores known to the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stores, err := apiClient.ListStores(context.Background())
		if err != nil {
			return fmt.Errorf("list stores: %w", err)
		}
		if len(stores) == 0 {
			fmt.Println("No case stores found")
			return nil
		}
		for _, name := range stores {
			fmt.Println(name)
		}
		return nil
	},
}

var storesShowCmd = &cobra.Command{
	Use:   "show <store>",
	Short: "Show pipeline progress for one store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := apiClient.ShowStore(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("show store: %w", err)
		}

		fmt.Printf("Store: %s\n", s.Name)
		fmt.Printf("  Cases:    %d\n", s.Cases)
		fmt.Printf("  Coded:    %d\n", s.Coded)
		fmt.Printf("  Themed:   %d\n", s.Themed)
		fmt.Printf("  Assigned: %d\n", s.Assigned)
		if s.Finalized {
			fmt.Printf("  Final themes (%d):\n", len(s.FinalThemes))
			for _, t := range s.FinalThemes {
				fmt.Printf("    - %s\n", t)
			}
		} else {
			fmt.Println("  Final themes: not finalized yet")
		}
		return nil
	},
}

var storesClearCmd = &cobra.Command{
	Use:   "clear <store> <case-id>",
	Short: "Clear one annotation field on a case",
	Long: `Clear an annotation field so the corresponding phase re-processes the case
on its next run.

Fields: codes, candidate_theme, final_theme`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.ClearCaseField(context.Background(), args[0], args[1], clearField); err != nil {
			return fmt.Errorf("clear field: %w", err)
		}
		fmt.Printf("Cleared %s on case %s in %s\n", clearField, args[1], args[0])
		return nil
	},
}

func init() {
	storesClearCmd.Flags().StringVarP(&clearField, "field", "f", "", "field to clear (required)")
	storesClearCmd.MarkFlagRequired("field")

	storesCmd.AddCommand(storesListCmd)
	storesCmd.AddCommand(storesShowCmd)
	storesCmd.AddCommand(storesClearCmd)
	rootCmd.AddCommand(storesCmd)
}
