package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/dkratky/casecoder/internal/analysis"
	"github.com/spf13/cobra"
)

var (
	runStore        string
	runBackend      string
	runModel        string
	runInstructions string
	runThemes       []string
	runWatch        bool
)

var runCmd = &cobra.Command{
	Use:   "run <phase>",
	Short: "Start an analysis phase",
	Long: `Start a phase run on the server. The run processes only cases that still
lack the phase's output, so re-running after a stop resumes where it left off.

Phases: initial-coding, candidate-theming, theme-finalization, theme-assignment

Examples:
  casecoder run initial-coding --store cases.json
  casecoder run candidate-theming --store cases.json --backend openai --watch
  casecoder run theme-assignment --store cases.json --themes "Fraud,Burglary"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var stopCmd = &cobra.Command{
	Use:   "stop <phase>",
	Short: "Request cancellation of a running phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase, err := analysis.ParsePhase(args[0])
		if err != nil {
			return err
		}
		if err := apiClient.StopPhase(context.Background(), phase.Slug()); err != nil {
			return fmt.Errorf("stop phase: %w", err)
		}
		fmt.Printf("Stop requested for %s. The run halts after the current case.\n", phase.Slug())
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running state of all phases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		phases, err := apiClient.Phases(context.Background())
		if err != nil {
			return fmt.Errorf("fetch status: %w", err)
		}

		slugs := make([]string, 0, len(phases))
		for slug := range phases {
			slugs = append(slugs, slug)
		}
		sort.Strings(slugs)

		fmt.Printf("%-22s %s\n", "PHASE", "STATE")
		for _, slug := range slugs {
			state := "idle"
			if phases[slug] {
				state = "running"
			}
			fmt.Printf("%-22s %s\n", slug, state)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runStore, "store", "s", "", "case store file name (required)")
	runCmd.Flags().StringVarP(&runBackend, "backend", "b", "", "annotator backend (openai, anthropic, googleai, ollama, bedrock)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "model name override")
	runCmd.Flags().StringVarP(&runInstructions, "instructions", "i", "", "special instructions injected into the prompts")
	runCmd.Flags().StringSliceVar(&runThemes, "themes", nil, "explicit theme vocabulary (theme-assignment only)")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "follow live progress after starting")
	runCmd.MarkFlagRequired("store")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	phase, err := analysis.ParsePhase(args[0])
	if err != nil {
		return err
	}

	result, err := apiClient.StartPhase(context.Background(), phase.Slug(), analysis.StartRequest{
		Store:        runStore,
		Backend:      runBackend,
		Model:        runModel,
		Instructions: runInstructions,
		Themes:       runThemes,
	})
	if err != nil {
		return fmt.Errorf("start phase: %w", err)
	}

	fmt.Printf("Started %s (run %s) on %s\n", result.Phase, result.RunID, runStore)

	if runWatch {
		return RunWatch(apiClient, result.Phase)
	}
	fmt.Printf("Use 'casecoder watch %s' to follow progress.\n", result.Phase)
	return nil
}
