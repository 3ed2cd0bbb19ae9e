package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wordai/api/internal/poller"
)

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

var (
	apiURL   string
	apiToken string
)

var rootCmd = &cobra.Command{
	Use:   "wordaictl",
	Short: "Submit and track WordAI jobs from the command line",
	Long: `wordaictl submits generation jobs to the WordAI API and polls them
until they finish, the same way the web client does.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", getEnvOrDefault("WORDAI_API_URL", "http://localhost:8000"), "Base URL of the WordAI API")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("WORDAI_TOKEN"), "Bearer token (default $WORDAI_TOKEN)")
}

func newClient() *poller.Client {
	return poller.NewClient(apiURL, apiToken)
}

// pollingURL accepts either a polling URL or a bare job id.
func pollingURL(resource, arg string) string {
	if strings.HasPrefix(arg, "/") {
		return arg
	}
	return fmt.Sprintf("/api/%s/jobs/%s", resource, arg)
}
