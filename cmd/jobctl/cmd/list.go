package cmd

import (
	"github.com/spf13/cobra"
)

var (
	listStatus string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		jobs, err := apiClient().ListJobs(cmd.Context(), listStatus, listLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, jobs)
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, running, completed, failed)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of jobs")
	rootCmd.AddCommand(listCmd)
}
