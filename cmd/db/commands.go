package db

import (
	"fmt"
	"sort"

	"github.com/scalab/tracevault/lib/model"
	"github.com/scalab/tracevault/lib/store"
	"github.com/spf13/cobra"
)

var (
	// infoCmd prints the structure of a container
	infoCmd = &cobra.Command{
		Use:   "info <file>",
		Short: "Show experiments, series and trace counts of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := store.Load(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d experiment(s)\n", args[0], database.Len())
			for _, expName := range database.ExperimentNames() {
				exp := database.Experiment(expName)
				fmt.Printf("  %s (%d series)\n", expName, exp.Len())
				printMetadata(exp.Metadata, "    ")
				for _, sName := range exp.SeriesNames() {
					s := exp.Series(sName)
					if shape, ok := s.RefShape(); ok {
						fmt.Printf("    %s: %d trace(s), %s\n", sName, s.Len(), shape)
					} else {
						fmt.Printf("    %s: empty\n", sName)
					}
					printMetadata(s.Metadata, "      ")
				}
			}
			return nil
		},
	}

	// lsCmd lists experiment or series names
	lsCmd = &cobra.Command{
		Use:   "ls <file> [experiment]",
		Short: "List experiment names, or the series of one experiment",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := store.Load(args[0])
			if err != nil {
				return err
			}

			if len(args) == 1 {
				for _, name := range database.ExperimentNames() {
					fmt.Println(name)
				}
				return nil
			}

			exp := database.Experiment(args[1])
			if exp == nil {
				return fmt.Errorf("experiment %q not found", args[1])
			}
			for _, name := range exp.SeriesNames() {
				fmt.Println(name)
			}
			return nil
		},
	}

	// mergeCmd merges one container into another
	mergeCmd = &cobra.Command{
		Use:   "merge <src> <dst>",
		Short: "Merge the contents of one container into another (update mode)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := store.Load(args[0])
			if err != nil {
				return err
			}

			report, err := store.Save(database, args[1], nil)
			if report != nil {
				fmt.Printf("new experiments: %d, new series: %d, merged series: %d, appended traces: %d\n",
					report.NewExperiments, report.NewSeries, report.MergedSeries, report.AppendedTraces)
				for _, w := range report.Warnings {
					fmt.Printf("warning: %s\n", w)
				}
			}
			return err
		},
	}
)

// printMetadata prints a metadata map in sorted key order
func printMetadata(meta model.Metadata, indent string) {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s%s = %s\n", indent, k, meta[k])
	}
}
