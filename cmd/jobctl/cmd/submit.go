package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"jobrelay/internal/models"
	"jobrelay/internal/observer"
)

var (
	submitType  string
	submitInput string
	submitWatch bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job, optionally waiting for its result",
	Long: `Submit a new job to the API. With --watch, jobctl polls for the
terminal state with growing intervals and prints the result or error.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		input := map[string]any{}
		if submitInput != "" {
			if err := json.Unmarshal([]byte(submitInput), &input); err != nil {
				return fmt.Errorf("--input must be a JSON object: %w", err)
			}
		}

		api := apiClient()
		ctx := cmd.Context()

		if !submitWatch {
			job, err := api.CreateJob(ctx, submitType, input)
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		}

		obs := observer.New(api, nil, 0, 0)
		var watchErr error
		job, watch, err := obs.StartJob(ctx, submitType, input, observer.Callbacks{
			OnCompleted: func(job models.Job) {
				_ = printJSON(cmd, job)
			},
			OnFailed: func(job models.Job) {
				_ = printJSON(cmd, job)
				if job.Error != nil {
					watchErr = fmt.Errorf("job failed: %s", *job.Error)
				} else {
					watchErr = fmt.Errorf("job failed")
				}
			},
			OnError: func(err error) {
				watchErr = err
			},
		})
		if err != nil {
			return err
		}
		cmd.Printf("submitted job %s, waiting...\n", job.ID)
		<-watch.Done()
		return watchErr
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitType, "type", "", "job type (required)")
	submitCmd.Flags().StringVar(&submitInput, "input", "", "input payload as a JSON object")
	submitCmd.Flags().BoolVar(&submitWatch, "watch", false, "wait for the job to reach a terminal state")
	_ = submitCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(submitCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
