package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/YogaNavi-Refactoring/YogaNavi-User-Service/pkg/config"
)

var (
	cfg        = config.LoadForService("USER")
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "sagactl <command>",
	Short:         "Inspect the user-sync saga: audit trail, dead letters, service health",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "user service PostgreSQL URL")
	rootCmd.PersistentFlags().StringSliceVar(&cfg.Kafka.Brokers, "brokers", cfg.Kafka.Brokers, "Kafka bootstrap brokers")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(auditCmd, dlqCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s[-]%s %v\n", Red, Reset, err)
		os.Exit(1)
	}
}
