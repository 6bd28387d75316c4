package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

func newStoreCommand(ctx *commandContext) *cobra.Command {
	storeCmd := &cobra.Command{
		Use:   "store",
		Short: "Store inspection utilities",
	}
	storeCmd.AddCommand(newStoreValidateCommand(ctx))
	storeCmd.AddCommand(newStoreShowCommand(ctx))
	return storeCmd
}

func newStoreValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check store consistency and report every issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			doc, err := store.Load(cfg.Paths.StoreFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			valid, issues := store.Validate(doc)
			if valid {
				fmt.Fprintf(out, "Store valid: %d items\n", doc.TotalCount)
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(out, "  - %s\n", issue)
			}
			return fmt.Errorf("store has %d consistency issues", len(issues))
		},
	}
}

func newStoreShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show store distribution by category, difficulty, and type",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			doc, err := store.LoadOrInit(cfg.Paths.StoreFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Store: %s (%d items, generated %s)\n",
				cfg.Paths.StoreFile, doc.TotalCount, doc.GeneratedAt.Local().Format("2006-01-02 15:04"))

			for _, section := range []struct {
				name   string
				counts map[string]int
			}{
				{"Category", doc.Categories},
				{"Difficulty", doc.Difficulty},
				{"Type", doc.Types},
			} {
				if len(section.counts) == 0 {
					continue
				}
				rows := make([][]string, 0, len(section.counts))
				for _, key := range sortedKeys(section.counts) {
					rows = append(rows, []string{displayName(key), fmt.Sprintf("%d", section.counts[key])})
				}
				fmt.Fprintln(out, renderTable([]string{section.name, "Items"}, rows, []columnAlignment{alignLeft, alignRight}))
			}
			return nil
		},
	}
}

func sortedKeys(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
