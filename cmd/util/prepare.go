package util

import (
	"github.com/spf13/cobra"
)

// PrepareCommand binds the flags of cmd to viper and initializes the loggers.
// It is the PersistentPreRunE of every command group.
func PrepareCommand(cmd *cobra.Command) error {
	if err := BindCommandFlags(cmd); err != nil {
		return err
	}
	return InitLogging()
}
