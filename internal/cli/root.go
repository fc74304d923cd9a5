// Package cli provides the command-line interface for casecoder.
package cli

import (
	"github.com/dkratky/casecoder/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	// API client, initialized before every command runs.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "casecoder",
	Short: "AI-assisted thematic analysis of case narratives",
	Long: `Casecoder drives a four-phase thematic analysis over a JSON case store:
initial coding, candidate theming, theme finalization, and theme assignment.

Phases run on the casecoder server as resumable background jobs; this CLI
starts, stops, and watches them, and inspects the case stores.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		apiClient = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default CASECODER_SERVER_URL or http://localhost:8711)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
