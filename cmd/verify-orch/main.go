package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "verify-orch",
		Short: "Adversarial verification orchestrator",
		Long: `verify-orch drives an adversarial verification loop over a requirement.
A test author and an implementer work in isolation from each other while
a reviewer gates every iteration on alignment, stability, mutation
coverage and tamper checks until the suite and the code hold up.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
