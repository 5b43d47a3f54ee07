package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/peopleops/importer"
	"github.com/warp/peopleops/quarter"
	"github.com/warp/peopleops/store/sqlite"
)

var importFlags struct {
	file    string
	quarter string
	db      string
	confirm bool
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Preview (and optionally confirm) a bulk bonus import from CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		q := quarter.PreviousFrom(clock)
		if importFlags.quarter != "" {
			parsed, err := quarter.Parse(importFlags.quarter)
			if err != nil {
				return err
			}
			q = parsed
		}

		f, err := os.Open(importFlags.file)
		if err != nil {
			return eris.Wrap(err, "open import file")
		}
		defer f.Close()

		rows, err := importer.Read(importFlags.file, f)
		if err != nil {
			return err
		}

		dbPath := importFlags.db
		if dbPath == "" {
			dbPath = cfg.Store.Path
		}
		store, err := sqlite.New(dbPath)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer store.Close()

		im := importer.New(store, importer.WithConcurrency(cfg.Import.Concurrency))
		preview, err := im.Preview(ctx, q, rows)
		if err != nil {
			return err
		}
		if err := formatPreview(cmd.OutOrStdout(), preview); err != nil {
			return err
		}

		if !importFlags.confirm {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "\nPreview only. Re-run with --confirm to save the valid rows.")
			return err
		}

		res, err := im.Confirm(ctx, preview)
		if err != nil {
			return eris.Wrap(err, "confirm import")
		}
		zap.L().Info("import complete",
			zap.String("quarter", q.String()),
			zap.Int("imported", res.Imported),
			zap.Int("skipped", res.Skipped),
			zap.String("file", importFlags.file),
		)
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "\nImported %d, skipped %d, failed %d.\n", res.Imported, res.Skipped, len(res.Errors))
		return err
	},
}

func formatPreview(out io.Writer, p *importer.Preview) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "LINE\tEMAIL\tBREAKDOWN\tATTAINMENT\tAMOUNT\tERROR")
	_, _ = fmt.Fprintln(w, "----\t-----\t---------\t----------\t------\t-----")
	for _, r := range p.Rows {
		if !r.Valid() {
			_, _ = fmt.Fprintf(w, "%d\t%s\t\t\t\t%s\n", r.Line, r.Email, r.Error)
			continue
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d/%d/%d\t%.1f%%\t$%.2f\t\n",
			r.Line, r.Email,
			r.Breakdown.NotEmployedMonths, r.Breakdown.RampUpMonths, r.Breakdown.PostRampUpMonths,
			r.AttainmentPercentage, r.Amount,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%s: %d valid, %d invalid\n", p.Quarter, p.Valid, p.Invalid)
	return err
}

func init() {
	importCmd.Flags().StringVar(&importFlags.file, "file", "", "path to .csv or .xlsx file (required)")
	importCmd.Flags().StringVar(&importFlags.quarter, "quarter", "", "quarter YYYY-QN (default: previous quarter)")
	importCmd.Flags().StringVar(&importFlags.db, "db", "", "SQLite path (default from config)")
	importCmd.Flags().BoolVar(&importFlags.confirm, "confirm", false, "save the valid rows as confirmed bonuses")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
