/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/sempr/labjudge/internal/daemon"
	"github.com/sempr/labjudge/internal/pubsub"
	"github.com/sempr/labjudge/internal/submission"
	"github.com/sempr/labjudge/pkg/models"
	"github.com/spf13/cobra"
)

var submitArgs models.SubmitArgs

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a source file for judging and stream its events",
	Long: `Copy a source file into the uploads tree, queue it with the test cases from
a TOML or JSON file, and print every event of the submission as a
"data: {...}" line until the verdict arrives. The verdict is then stored and
sent to the lab session's monitors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSubmit(cmd.Context(), &submitArgs)
	},
}

func runSubmit(ctx context.Context, a *models.SubmitArgs) error {
	// resolve paths given on the command line before Setup changes directory
	source, err := filepath.Abs(a.Source)
	if err != nil {
		return err
	}
	tests, err := filepath.Abs(a.TestsFile)
	if err != nil {
		return err
	}
	cases, err := submission.LoadTestCases(tests)
	if err != nil {
		return err
	}

	cfg, err := daemon.Setup(home)
	if err != nil {
		return err
	}
	uploads := a.Uploads
	if uploads == "" {
		uploads = filepath.Join(cfg.Home, "uploads")
	}
	job, err := submission.PrepareJob(uploads, a.StudentID, a.QuestionID, a.LabSessionID, source, cases)
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

	var sink submission.VerdictSink
	if deps.Store != nil {
		sink = deps.Store
	}
	recorder := submission.NewRecorder(sink, pubsub.NewPublisher(deps.Bus, cfg.PublishRetry))
	svc := submission.NewService(deps.Queue, deps.Bus, recorder, cfg.AwaitDuration())

	stream, err := svc.Submit(ctx, job)
	if err != nil {
		return err
	}
	for ev := range stream.C {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		fmt.Printf("data: %s\n\n", data)
	}
	return stream.Err()
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitArgs.StudentID, "student", "", "student id")
	submitCmd.Flags().StringVar(&submitArgs.QuestionID, "question", "", "question id")
	submitCmd.Flags().StringVar(&submitArgs.LabSessionID, "session", "", "lab session id")
	submitCmd.Flags().StringVar(&submitArgs.Source, "source", "", "C++ source file")
	submitCmd.Flags().StringVar(&submitArgs.TestsFile, "tests", "", "test case file (.toml or .json)")
	submitCmd.Flags().StringVar(&submitArgs.Uploads, "uploads", "", "uploads directory (default <home>/uploads)")
	submitCmd.MarkFlagRequired("student")
	submitCmd.MarkFlagRequired("question")
	submitCmd.MarkFlagRequired("source")
	submitCmd.MarkFlagRequired("tests")
}
