package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wordai/api/internal/model"
	"github.com/wordai/api/internal/poller"
)

var (
	waitResource string
	waitInterval time.Duration
	waitTimeout  time.Duration
)

var waitCmd = &cobra.Command{
	Use:   "wait <job-id|polling-url>",
	Short: "Poll a job until it completes, fails or the timeout passes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return waitAndReport(cmd, newClient(), pollingURL(waitResource, args[0]))
	},
}

func addWaitFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&waitInterval, "interval", poller.DefaultInterval, "Polling interval")
	cmd.Flags().DurationVar(&waitTimeout, "timeout", poller.DefaultTimeout, "Give up polling after this long")
}

func waitAndReport(cmd *cobra.Command, c *poller.Client, url string) error {
	var lastProgress = -1
	status, err := poller.Wait(cmd.Context(), c.StatusFunc(url), poller.Options{
		Interval: waitInterval,
		Timeout:  waitTimeout,
		OnStatus: func(s *model.JobStatusResponse) {
			if s.Progress != lastProgress && !s.Status.IsTerminal() {
				lastProgress = s.Progress
				fmt.Fprintf(cmd.ErrOrStderr(), "... %s %d%% %s\n", s.Status, s.Progress, s.CurrentStep)
			}
		},
	})
	if errors.Is(err, poller.ErrStillProcessing) {
		fmt.Fprintf(cmd.OutOrStdout(), "still processing after %s; check again with: wordaictl status %s\n", waitTimeout, url)
		return nil
	}
	if err != nil {
		return err
	}

	printStatus(cmd, status)
	if status.Status == model.JobStatusFailed {
		return fmt.Errorf("job %s failed", status.JobID)
	}
	return nil
}

func init() {
	waitCmd.Flags().StringVar(&waitResource, "resource", "chapters", "Resource the job was submitted under")
	addWaitFlags(waitCmd)
	rootCmd.AddCommand(waitCmd)
}
