package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/peopleops/quarter"
)

var historyN int

var quarterCmd = &cobra.Command{
	Use:   "quarter",
	Short: "Quarter arithmetic (YYYY-QN)",
}

var quarterPreviousCmd = &cobra.Command{
	Use:   "previous",
	Short: "Print the quarter before the current one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), quarter.PreviousFrom(clock))
		return err
	},
}

var quarterNextCmd = &cobra.Command{
	Use:   "next <quarter>",
	Short: "Print the quarter after the given one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		next, err := quarter.Next(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), next)
		return err
	},
}

var quarterHistoryCmd = &cobra.Command{
	Use:   "history <quarter>",
	Short: "Print the n quarters before the given one, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyN > quarter.MaxPreviousN {
			return fmt.Errorf("--count must be at most %d", quarter.MaxPreviousN)
		}
		quarters, err := quarter.PreviousN(args[0], historyN)
		if err != nil {
			return err
		}
		if len(quarters) == 0 {
			return nil
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(quarters, "\n"))
		return err
	},
}

var quarterValidateCmd = &cobra.Command{
	Use:   "validate <quarter>",
	Short: "Exit non-zero unless the argument is a canonical quarter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !quarter.Validate(args[0]) {
			return &quarter.FormatError{Input: args[0]}
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "valid")
		return err
	},
}

func init() {
	quarterHistoryCmd.Flags().IntVarP(&historyN, "count", "n", 4, "number of quarters")
	quarterCmd.AddCommand(quarterPreviousCmd, quarterNextCmd, quarterHistoryCmd, quarterValidateCmd)
	rootCmd.AddCommand(quarterCmd)
}
