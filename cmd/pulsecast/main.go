package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "pulsecast"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	var configPath string
	var pretty bool

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Bandit-driven trend selection and publish scheduling",
		Version: version,
		Long: `pulsecast picks which trending topic to post about next and decides when
posting is allowed. Topic candidates are scored from scraped trend metrics, an
epsilon-greedy policy balances proven topics against new ones, and per-platform
publish gates keep posting volume inside platform limits.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(pretty)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Force human-readable log output")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop daemon",
		Long:  "Starts the per-platform decision loops, the outcome poller, and the stats/metrics HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath)
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select",
		Short: "Run a single topic selection",
		Long:  "Fetches candidates, runs one policy step, and prints the decision as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelect(configPath)
		},
	}

	outcomeCmd := &cobra.Command{
		Use:   "outcome",
		Short: "Report realized metrics for a published topic",
		Long:  "Resolves the most recent open decision for the topic and updates the arm ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			views, _ := cmd.Flags().GetInt64("views")
			likes, _ := cmd.Flags().GetInt64("likes")
			shares, _ := cmd.Flags().GetInt64("shares")
			comments, _ := cmd.Flags().GetInt64("comments")
			return runOutcome(configPath, topic, views, likes, shares, comments)
		},
	}
	outcomeCmd.Flags().String("topic", "", "Topic of the published post (required)")
	outcomeCmd.Flags().Int64("views", 0, "View count")
	outcomeCmd.Flags().Int64("likes", 0, "Like count")
	outcomeCmd.Flags().Int64("shares", 0, "Share count")
	outcomeCmd.Flags().Int64("comments", 0, "Comment count")
	outcomeCmd.MarkFlagRequired("topic")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print decision statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(configPath)
		},
	}

	gateCmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate publish admission for a platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, _ := cmd.Flags().GetString("platform")
			return runGate(configPath, platform)
		},
	}
	gateCmd.Flags().String("platform", "", "Platform to check (required)")
	gateCmd.MarkFlagRequired("platform")

	rootCmd.AddCommand(runCmd, selectCmd, outcomeCmd, statsCmd, gateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging picks console output on a TTY and structured JSON otherwise.
func setupLogging(pretty bool) {
	if pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
