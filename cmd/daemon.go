/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/sempr/labjudge/internal/daemon"
	"github.com/sempr/labjudge/pkg/models"
	"github.com/spf13/cobra"
)

var daemonArgs models.DaemonArgs

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run a judge worker",
	Long: `Run a judge worker. It polls the submission queue, compiles and tests one
job at a time, and publishes progress and the verdict on the submission's
channel. Start several workers with distinct --worker ids to judge in parallel.`,
	Run: func(cmd *cobra.Command, args []string) {
		daemonArgs.Home = home
		daemon.Main(&daemonArgs)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().BoolVar(&daemonArgs.Debug, "debug", false, "stay in the foreground and log to stdout")
	daemonCmd.Flags().BoolVar(&daemonArgs.Once, "once", false, "exit once the queue is empty")
	daemonCmd.Flags().IntVar(&daemonArgs.Worker, "worker", 0, "worker id, selects the pid file")
}
