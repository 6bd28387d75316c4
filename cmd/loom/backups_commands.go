package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/backup"
)

func newBackupsCommand(ctx *commandContext) *cobra.Command {
	backupsCmd := &cobra.Command{
		Use:   "backups",
		Short: "Store snapshot utilities",
	}
	backupsCmd.AddCommand(newBackupsListCommand(ctx))
	backupsCmd.AddCommand(newBackupsCreateCommand(ctx))
	backupsCmd.AddCommand(newBackupsRestoreCommand(ctx))
	return backupsCmd
}

func (c *commandContext) backupManager() (*backup.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	return backup.NewManager(cfg, logger), nil
}

func newBackupsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List store snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := ctx.backupManager()
			if err != nil {
				return err
			}
			backups, err := mgr.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintln(out, "No backups found.")
				return nil
			}

			rows := make([][]string, 0, len(backups))
			for _, b := range backups {
				batch := "-"
				if b.Batch > 0 {
					batch = fmt.Sprintf("%d", b.Batch)
				}
				rows = append(rows, []string{
					b.ID,
					b.CreatedAt.Local().Format(time.DateTime),
					displayName(b.Reason),
					batch,
					fmt.Sprintf("%d", b.ItemCount),
					fmt.Sprintf("%d KiB", (b.SizeBytes+1023)/1024),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Created", "Reason", "Batch", "Items", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newBackupsCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Snapshot the current store",
		RunE: func(cmd *cobra.Command, args []string) error {
			release, err := ctx.acquireRunLock()
			if err != nil {
				return err
			}
			defer release()

			mgr, err := ctx.backupManager()
			if err != nil {
				return err
			}
			b, err := mgr.Create(backup.ReasonManual, 0)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created backup %s (%d items)\n", b.ID, b.ItemCount)
			return nil
		},
	}
}

func newBackupsRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore the store from a snapshot (a safety snapshot is taken first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			release, err := ctx.acquireRunLock()
			if err != nil {
				return err
			}
			defer release()

			mgr, err := ctx.backupManager()
			if err != nil {
				return err
			}
			b, err := mgr.RestoreByID(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored store from %s (%d items)\n", b.ID, b.ItemCount)
			return nil
		},
	}
}
