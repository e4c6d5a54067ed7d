package cmd

import (
	"os"

	"github.com/mezonai/chainfork/logx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chainfork",
	Short: "Fork-choice and irreversibility node",
	Long:  "Command line interface for running, replaying and inspecting a chainfork node.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed:", err)
		os.Exit(1)
	}
}
