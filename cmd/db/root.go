package db

import (
	"github.com/scalab/tracevault/cmd/util"
	"github.com/spf13/cobra"
)

var (
	// DatabaseCommands represents the container command group
	DatabaseCommands = &cobra.Command{
		Use:               "db",
		Short:             "Inspect and merge trace containers",
		PersistentPreRunE: setup,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands
	DatabaseCommands.AddCommand(infoCmd)
	DatabaseCommands.AddCommand(lsCmd)
	DatabaseCommands.AddCommand(mergeCmd)
}

// setup binds flags and applies the configured log level
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return util.ConfigureLogging()
}
