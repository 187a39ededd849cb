package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a job's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient().GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, job)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
