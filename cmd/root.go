package cmd

import (
	"fmt"
	"os"

	"github.com/scalab/tracevault/cmd/db"
	"github.com/scalab/tracevault/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.2.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "tracevault",
		Short: "side-channel measurement container",
		Long: fmt.Sprintf(`tracevault (v%s)

A storage library and tool for side-channel measurement campaigns:
traces are organized as database > experiment > series > trace and
persisted to a single-file, crash-safe container.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tracevault",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tracevault v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(db.DatabaseCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	RootCmd.PersistentFlags().String("log-level", "warn", util.WrapString("log level (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
