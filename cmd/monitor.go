/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/sempr/labjudge/internal/daemon"
	"github.com/sempr/labjudge/internal/monitor"
	"github.com/sempr/labjudge/pkg/models"
	"github.com/spf13/cobra"
)

var monitorArgs models.MonitorArgs

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print the verdicts of a lab session as they are recorded",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd.Context(), &monitorArgs)
	},
}

func runMonitor(ctx context.Context, a *models.MonitorArgs) error {
	cfg, err := daemon.Setup(home)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	deps, err := daemon.OpenDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	hub := monitor.NewHub(deps.Bus)
	defer hub.Close()

	id := a.MonitorID
	if id == "" {
		id = uuid.NewString()
	}
	verdicts, err := hub.SubscribeSession(ctx, a.LabSessionID, id)
	if err != nil {
		return err
	}
	defer hub.UnsubscribeSession(a.LabSessionID, id)
	slog.Info("watching session", "session_id", a.LabSessionID, "monitor_id", id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-verdicts:
			if !ok {
				return nil
			}
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", data)
		}
	}
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorArgs.LabSessionID, "session", "", "lab session id")
	monitorCmd.Flags().StringVar(&monitorArgs.MonitorID, "id", "", "monitor id (default: random)")
	monitorCmd.MarkFlagRequired("session")
}
