package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/state"
	"loom/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show run progress and store totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			f, err := state.NewStore(cfg.StateFile()).Load()
			if err != nil {
				if errors.Is(err, state.ErrNoState) {
					fmt.Fprintln(out, "No run recorded yet. Start one with `loom run`.")
					return printStoreTotals(cmd, ctx)
				}
				return err
			}

			stale := f.StaleAfter(time.Duration(cfg.Flow.StalenessHours)*time.Hour, time.Now().UTC())
			rows := [][]string{
				{"Run", f.RunID},
				{"Status", displayName(string(f.Status))},
				{"Progress", fmt.Sprintf("%d/%d batches (%.0f%%)", f.CompletedBatches, f.TotalBatches, f.Progress()*100)},
				{"Failed batches", fmt.Sprintf("%d", f.FailedBatches)},
				{"Items completed", fmt.Sprintf("%d/%d", f.ItemsCompleted(), f.TotalItems)},
				{"Average quality", fmt.Sprintf("%.2f", f.AverageQuality())},
				{"Updated", f.UpdatedAt.Local().Format(time.RFC1123)},
				{"Stale", yesNo(stale)},
			}
			if f.LastError != "" {
				rows = append(rows, []string{"Last error", f.LastError})
			}
			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignLeft}))

			if len(f.Batches) > 0 {
				batchRows := make([][]string, 0, f.TotalBatches)
				for n := 1; n <= f.TotalBatches; n++ {
					b := f.Batch(n)
					errText := b.LastError
					if len(errText) > 60 {
						errText = errText[:57] + "..."
					}
					batchRows = append(batchRows, []string{
						fmt.Sprintf("%d", b.Number),
						displayName(string(b.Status)),
						fmt.Sprintf("%d", b.Items),
						fmt.Sprintf("%d", b.Attempts),
						fmt.Sprintf("%.2f", b.QualityScore),
						errText,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Batch", "Status", "Items", "Attempts", "Quality", "Error"},
					batchRows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
			}

			return printStoreTotals(cmd, ctx)
		},
	}
}

func printStoreTotals(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	doc, err := store.LoadOrInit(cfg.Paths.StoreFile)
	if err != nil {
		return err
	}
	if doc.TotalCount == 0 {
		fmt.Fprintln(out, "Store is empty.")
		return nil
	}

	rows := make([][]string, 0, len(doc.Categories))
	for _, category := range sortedKeys(doc.Categories) {
		rows = append(rows, []string{displayName(category), fmt.Sprintf("%d", doc.Categories[category])})
	}
	rows = append(rows, []string{"Total", fmt.Sprintf("%d", doc.TotalCount)})
	fmt.Fprintln(out, renderTable([]string{"Category", "Items"}, rows, []columnAlignment{alignLeft, alignRight}))
	return nil
}
