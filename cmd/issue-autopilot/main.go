package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "issue-autopilot",
		Short: "Issue Autopilot - adaptive agents for issue resolution",
		Long: `Issue Autopilot runs one autonomous agent per tracked issue. Each
agent iterates plan, prioritize, patch, validate and apply until its
confidence target is reached, it stalls, or risk forces escalation.`,
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
