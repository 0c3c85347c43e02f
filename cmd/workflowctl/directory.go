package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/approval-engine/internal/domain/rule"
	"github.com/garyjia/approval-engine/internal/infrastructure/spreadsheet"
)

var (
	delegateFrom string
	delegateTo   string
	delegateDays int
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Maintain the employee directory used for approver routing",
}

var directoryImportCmd = &cobra.Command{
	Use:   "import <employees.xlsx>",
	Short: "Upsert employees from an HR spreadsheet",
	Long: `Import the first sheet of an XLSX export. Recognised columns are id, name,
department, grade, approver, manager, roles (comma separated) and active; id
and name are required and a blank active cell means active. The import is
applied in one transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		records, err := spreadsheet.ReadDirectory(f)
		if err != nil {
			return err
		}

		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.tx.WithTransaction(cmd.Context(), func(ctx context.Context) error {
			for _, rec := range records {
				if err := a.repos.Directory.SaveEmployee(ctx, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		fmt.Printf("imported %d employees\n", len(records))
		return nil
	},
}

var directoryDelegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Route an approver's stages to a delegate for a period",
	RunE: func(cmd *cobra.Command, args []string) error {
		if delegateFrom == "" || delegateTo == "" {
			return fmt.Errorf("--from and --to are required")
		}
		if delegateDays < 1 {
			return fmt.Errorf("--days must be at least 1")
		}

		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now().UTC()
		d := rule.Delegation{
			ApproverID: delegateFrom,
			DelegateID: delegateTo,
			StartsAt:   start,
			EndsAt:     start.AddDate(0, 0, delegateDays),
		}
		if err := a.repos.Directory.AddDelegation(cmd.Context(), d); err != nil {
			return err
		}

		fmt.Printf("%s delegates to %s until %s\n", d.ApproverID, d.DelegateID, d.EndsAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	directoryDelegateCmd.Flags().StringVar(&delegateFrom, "from", "", "approver being covered")
	directoryDelegateCmd.Flags().StringVar(&delegateTo, "to", "", "delegate receiving the approvals")
	directoryDelegateCmd.Flags().IntVar(&delegateDays, "days", 7, "length of the delegation in days")

	directoryCmd.AddCommand(directoryImportCmd)
	directoryCmd.AddCommand(directoryDelegateCmd)
}
