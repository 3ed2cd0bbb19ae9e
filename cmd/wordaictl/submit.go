package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	submitParams []string
	submitWait   bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <resource> <id> <operation>",
	Short: "Submit a job",
	Example: `  # Translate a chapter into English and wait for it
  wordaictl submit chapters c1 translate -p target_language=en --wait

  # Export a presentation video
  wordaictl submit presentations p1 export-video -p language=vi -p resolution=1080p`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(submitParams)
		if err != nil {
			return err
		}

		c := newClient()
		resp, err := c.Submit(cmd.Context(), args[0], args[1], args[2], params)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %s %s (cost %d, %s, ~%ds)\n",
			resp.JobID, resp.Status, resp.Cost, resp.Billing, resp.EstimatedTimeSeconds)
		fmt.Fprintf(cmd.OutOrStdout(), "poll: %s\n", resp.PollingURL)

		if !submitWait {
			return nil
		}
		return waitAndReport(cmd, c, resp.PollingURL)
	},
}

// parseParams turns key=value pairs into a JSON body. Integer values are sent
// as numbers.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", p)
		}
		if n, err := strconv.Atoi(v); err == nil {
			params[k] = n
			continue
		}
		params[k] = v
	}
	return params, nil
}

func init() {
	submitCmd.Flags().StringArrayVarP(&submitParams, "param", "p", nil, "Operation parameter as key=value (repeatable)")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Poll until the job finishes")
	addWaitFlags(submitCmd)
	rootCmd.AddCommand(submitCmd)
}
