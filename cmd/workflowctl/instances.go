package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-engine/internal/infrastructure/spreadsheet"
)

var exportOutput string

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"inst"},
	Short:   "Inspect and maintain workflow instances",
}

var instancesSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply the timeout policy of every overdue stage once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.engine.TimeoutSweep(cmd.Context())
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(res)
		}
		fmt.Printf("scanned %d, escalated %d, auto-approved %d, skipped %d, failed %d\n",
			res.Scanned, res.Escalated, res.AutoApproved, res.Skipped, res.Failed)
		return nil
	},
}

var instancesHistoryCmd = &cobra.Command{
	Use:   "history <instance-id>",
	Short: "Print the approval log of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.engine.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(entries)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tSTAGE\tAPPROVER\tACTION\tSTATUS\tDATE\tCOMMENTS")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s -> %s\t%s\t%s\n",
				e.Sequence, e.Stage, e.ApproverID, e.Action, e.PreviousStatus, e.NewStatus,
				e.ActionDate.Format("2006-01-02 15:04:05"), e.Comments)
		}
		return tw.Flush()
	},
}

var instancesVerifyCmd = &cobra.Command{
	Use:   "verify <instance-id>...",
	Short: "Replay approval logs and compare them with the stored instances",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		inconsistent := 0
		for _, id := range args {
			replay, err := a.engine.Reconstruct(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			if !replay.Consistent {
				inconsistent++
			}
			if outputJSON {
				if err := printJSON(map[string]interface{}{"instanceId": id, "replay": replay}); err != nil {
					return err
				}
				continue
			}
			if replay.Consistent {
				fmt.Printf("%s: consistent (%s at stage %d, %d entries)\n", id, replay.Status, replay.Stage, replay.Entries)
			} else {
				fmt.Printf("%s: MISMATCH %s\n", id, replay.Mismatch)
			}
		}

		if inconsistent > 0 {
			return fmt.Errorf("%d of %d instances disagree with their approval log", inconsistent, len(args))
		}
		return nil
	},
}

var instancesExportCmd = &cobra.Command{
	Use:   "export <instance-id>",
	Short: "Write the audit trail of an instance to an XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		inst, err := a.engine.Get(ctx, args[0])
		if err != nil {
			return err
		}
		entries, err := a.engine.History(ctx, args[0])
		if err != nil {
			return err
		}

		exporter := spreadsheet.NewAuditExporter(a.cfg.Export.FontName, a.logger)
		path := exportOutput
		if path == "" {
			path = "audit-" + inst.ID + exporter.FileExtension()
		}

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := exporter.Export(f, inst, entries); err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}

		fmt.Printf("wrote %s (%d log entries)\n", path, len(entries))
		return nil
	},
}

func init() {
	instancesExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default audit-<id>.xlsx)")

	instancesCmd.AddCommand(instancesSweepCmd)
	instancesCmd.AddCommand(instancesHistoryCmd)
	instancesCmd.AddCommand(instancesVerifyCmd)
	instancesCmd.AddCommand(instancesExportCmd)
}
