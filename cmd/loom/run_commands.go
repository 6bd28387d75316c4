package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/flow"
	"loom/internal/state"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a fresh pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeFlow(cmd, ctx, func(runCtx context.Context, manager *flow.Manager) (*flow.Summary, error) {
				return manager.Run(runCtx)
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted run from its checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeFlow(cmd, ctx, func(runCtx context.Context, manager *flow.Manager) (*flow.Summary, error) {
				return manager.Resume(runCtx)
			})
		},
	}
}

func executeFlow(cmd *cobra.Command, ctx *commandContext, invoke func(context.Context, *flow.Manager) (*flow.Summary, error)) error {
	release, err := ctx.acquireRunLock()
	if err != nil {
		return err
	}
	defer release()

	logger, err := ctx.logger()
	if err != nil {
		return err
	}
	manager, history, err := ctx.buildManager(logger)
	if err != nil {
		return err
	}
	defer history.Close()

	runCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// First interrupt pauses after the current batch; a second one aborts.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		first := true
		for range sigCh {
			if first {
				first = false
				manager.RequestPause()
				fmt.Fprintln(cmd.ErrOrStderr(), "pause requested, finishing current batch; interrupt again to abort")
				continue
			}
			cancel()
		}
	}()

	summary, err := invoke(runCtx, manager)
	if summary != nil {
		printSummary(cmd, summary)
	}
	if err != nil {
		return err
	}
	if summary.Failed() {
		return fmt.Errorf("run %s finished with %d failed batches", summary.RunID, summary.FailedBatches)
	}
	return nil
}

func printSummary(cmd *cobra.Command, s *flow.Summary) {
	rows := [][]string{
		{"Run", s.RunID},
		{"Status", displayName(string(s.Status))},
		{"Batches", fmt.Sprintf("%d/%d completed, %d failed", s.CompletedBatches, s.TotalBatches, s.FailedBatches)},
		{"Items integrated", fmt.Sprintf("%d", s.ItemsIntegrated)},
		{"Average quality", fmt.Sprintf("%.2f", s.AverageQuality)},
		{"Duration", s.Duration.Round(time.Second).String()},
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))

	if s.Status == state.FlowPaused {
		fmt.Fprintln(cmd.OutOrStdout(), "Run paused; continue with `loom resume`.")
	}
}
