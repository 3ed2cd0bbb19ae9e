package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wordai/api/internal/model"
)

var statusResource string

var statusCmd = &cobra.Command{
	Use:   "status <job-id|polling-url>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Status(cmd.Context(), pollingURL(statusResource, args[0]))
		if err != nil {
			return err
		}
		printStatus(cmd, status)
		return nil
	},
}

func printStatus(cmd *cobra.Command, s *model.JobStatusResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s [%s] %s %d%%", s.JobID, s.JobType, s.Status, s.Progress)
	if s.CurrentStep != "" {
		fmt.Fprintf(out, " (%s)", s.CurrentStep)
	}
	fmt.Fprintln(out)

	if s.Error != nil {
		fmt.Fprintf(out, "error: %s: %s\n", s.Error.Kind, s.Error.Message)
	}
	if len(s.Result) > 0 {
		var pretty any
		if json.Unmarshal(s.Result, &pretty) == nil {
			data, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Fprintf(out, "result: %s\n", data)
		}
	}
}

func init() {
	statusCmd.Flags().StringVar(&statusResource, "resource", "chapters", "Resource the job was submitted under")
	rootCmd.AddCommand(statusCmd)
}
