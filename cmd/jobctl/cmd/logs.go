package cmd

import (
	"github.com/spf13/cobra"
)

var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs [job-id]",
	Short: "Show the webhook audit log",
	Long: `Without arguments, print the most recent webhook audit rows. With a
job id, print every callback received for that job, oldest first. Rows with
processed=false mark callbacks that never mutated a job (unknown id,
malformed payload, or a strict-mode terminal rejection).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api := apiClient()
		if len(args) == 1 {
			logs, err := api.WebhookLogsForJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, logs)
		}
		logs, err := api.WebhookLogs(cmd.Context(), logsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, logs)
	},
}

func init() {
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "maximum number of rows")
	rootCmd.AddCommand(logsCmd)
}
