package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthURL string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the user service health endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		heading("Health")

		client := http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(healthURL)
		if err != nil {
			fmt.Printf("  %s[-]%s %-12s %soffline%s\n", Red, Reset, "user-service", Red, Reset)
			return fmt.Errorf("user service unreachable: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fmt.Printf("  %s[-]%s %-12s %s%d%s\n", Red, Reset, "user-service", Red, resp.StatusCode, Reset)
			return fmt.Errorf("user service returned %d", resp.StatusCode)
		}
		fmt.Printf("  %s[+]%s %-12s %sok%s\n", Green, Reset, "user-service", Green, Reset)
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthURL, "url", "http://localhost:8080/health", "health endpoint URL")
}
