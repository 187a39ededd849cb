// Package cmd implements the jobctl command line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jobrelay/internal/client"
)

var rootCmd = &cobra.Command{
	Use:   "jobctl",
	Short: "jobctl interacts with a jobrelay API",
	Long: `jobctl is the command-line interface for the jobrelay job system.

Jobs are submitted to the API in status pending, claimed and executed by a
polling worker, and reported back through webhook callbacks. jobctl covers
the operator side of that lifecycle: submitting work, watching it finish,
inspecting job state, and reading the webhook audit log.

Common workflows:

  Submit a job and wait for its result:
    jobctl submit --type demo --input '{"x":1}' --watch

  Check a job:
    jobctl status <job-id>

  List jobs stuck in running (e.g. after a worker crash):
    jobctl list --status running

  Inspect the webhook audit trail for a job:
    jobctl logs <job-id>

Configuration:
  JOBRELAY_API_URL   API endpoint (default: http://localhost:8080)`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "jobrelay API base URL")
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindEnv("url", "JOBRELAY_API_URL")
}

func apiClient() *client.Client {
	return client.New(viper.GetString("url"))
}
