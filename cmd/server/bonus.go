package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/warp/peopleops/commission"
	"github.com/warp/peopleops/quarter"
)

var bonusFlags struct {
	start          string
	quarter        string
	attainment     float64
	quota          float64
	quarterlyBonus float64
	notEmployed    int
	rampUp         int
	postRampUp     int
}

var bonusCmd = &cobra.Command{
	Use:   "bonus",
	Short: "Quarter breakdown and commission bonus calculator",
}

var bonusBreakdownCmd = &cobra.Command{
	Use:   "breakdown",
	Short: "Classify the months of a quarter for a start date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q, start, err := parseBreakdownFlags()
		if err != nil {
			return err
		}
		return formatBreakdown(cmd.OutOrStdout(), q, start)
	},
}

var bonusCalculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Compute a prorated commission bonus",
	Long: `Compute a prorated commission bonus.

The breakdown comes from --quarter (and optionally --start), or from the
explicit --not-employed/--ramp-up/--post-ramp-up counts.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var b commission.Breakdown
		if bonusFlags.quarter != "" {
			q, start, err := parseBreakdownFlags()
			if err != nil {
				return err
			}
			b = commission.CalculateQuarterBreakdown(start, q)
		} else {
			b = commission.Breakdown{
				NotEmployedMonths: bonusFlags.notEmployed,
				RampUpMonths:      bonusFlags.rampUp,
				PostRampUpMonths:  bonusFlags.postRampUp,
			}
			if err := b.Validate(); err != nil {
				return err
			}
		}

		res, err := commission.Calculate(bonusFlags.attainment, bonusFlags.quota, bonusFlags.quarterlyBonus, b)
		if err != nil {
			return err
		}
		return formatResult(cmd.OutOrStdout(), res)
	},
}

func parseBreakdownFlags() (quarter.Quarter, *time.Time, error) {
	q, err := quarter.Parse(bonusFlags.quarter)
	if err != nil {
		return quarter.Quarter{}, nil, err
	}
	if bonusFlags.start == "" {
		return q, nil, nil
	}
	start, err := time.Parse("2006-01-02", bonusFlags.start)
	if err != nil {
		return quarter.Quarter{}, nil, eris.Wrap(err, "start date (use YYYY-MM-DD)")
	}
	return q, &start, nil
}

func formatBreakdown(out io.Writer, q quarter.Quarter, start *time.Time) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MONTH\tSTATUS")
	_, _ = fmt.Fprintln(w, "-----\t------")
	statuses := commission.ClassifyQuarter(start, q)
	for i, m := range q.Months() {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", m, statuses[i])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%s: %s\n", q, commission.CalculateQuarterBreakdown(start, q))
	return err
}

func formatResult(out io.Writer, res commission.Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "breakdown\t%s\n", res.Breakdown)
	_, _ = fmt.Fprintf(w, "attainment\t%.2f%%\n", res.AttainmentPercentage)
	_, _ = fmt.Fprintf(w, "monthly bonus\t%s\n", commission.Money(res.MonthlyBonus).StringFixed(2))
	_, _ = fmt.Fprintf(w, "ramp-up portion\t%s\n", commission.Money(res.RampUpPortion).StringFixed(2))
	_, _ = fmt.Fprintf(w, "post-ramp-up portion\t%s\n", commission.Money(res.PostRampUpPortion).StringFixed(2))
	_, _ = fmt.Fprintf(w, "amount\t%s\n", commission.Money(res.Amount).StringFixed(2))
	return w.Flush()
}

func init() {
	for _, c := range []*cobra.Command{bonusBreakdownCmd, bonusCalculateCmd} {
		c.Flags().StringVar(&bonusFlags.start, "start", "", "employee start date YYYY-MM-DD (omit if unknown)")
		c.Flags().StringVar(&bonusFlags.quarter, "quarter", "", "quarter YYYY-QN")
	}
	_ = bonusBreakdownCmd.MarkFlagRequired("quarter")

	f := bonusCalculateCmd.Flags()
	f.Float64Var(&bonusFlags.attainment, "attainment", 0, "attainment achieved in the quarter")
	f.Float64Var(&bonusFlags.quota, "quota", 0, "quota for the quarter (> 0)")
	f.Float64Var(&bonusFlags.quarterlyBonus, "quarterly-bonus", 0, "on-target bonus for the quarter")
	f.IntVar(&bonusFlags.notEmployed, "not-employed", 0, "months not employed (without --quarter)")
	f.IntVar(&bonusFlags.rampUp, "ramp-up", 0, "ramp-up months (without --quarter)")
	f.IntVar(&bonusFlags.postRampUp, "post-ramp-up", 0, "post-ramp-up months (without --quarter)")
	_ = bonusCalculateCmd.MarkFlagRequired("quota")

	bonusCmd.AddCommand(bonusBreakdownCmd, bonusCalculateCmd)
	rootCmd.AddCommand(bonusCmd)
}
