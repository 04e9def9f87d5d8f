package data

import (
	"github.com/ValentinKolb/oKV/cmd/util"
	"github.com/spf13/cobra"
)

var (
	stack *util.Stack

	// DataCommands represents the data command group
	DataCommands = &cobra.Command{
		Use:   "data",
		Short: "Read and write records through the offline-first data router",
		Long: `Read and write records through the offline-first data router. Requests go to the remote service
or the local store depending on --routing and --url. Writes marked --queueable are deferred while offline
and delivered by the next command that runs online (see okv queue).`,
		PersistentPreRunE: setupStack,
	}
)

func init() {
	// runs after failed commands too
	cobra.OnFinalize(closeStack)

	// Add common RPC and data layer flags to the data commands
	util.SetupRPCClientFlags(DataCommands)
	util.SetupStackFlags(DataCommands)
	setupOptionFlags(DataCommands)

	// Add subcommands
	DataCommands.AddCommand(getCmd)
	DataCommands.AddCommand(listCmd)
	DataCommands.AddCommand(queryCmd)
	DataCommands.AddCommand(createCmd)
	DataCommands.AddCommand(updateCmd)
	DataCommands.AddCommand(patchCmd)
	DataCommands.AddCommand(deleteCmd)
	DataCommands.AddCommand(deleteAllCmd)
	DataCommands.AddCommand(uploadCmd)
	DataCommands.AddCommand(downloadCmd)
}

// setupStack wires the data layer and delivers pending writes
func setupStack(cmd *cobra.Command, _ []string) error {
	if err := util.PrepareCommand(cmd); err != nil {
		return err
	}

	var err error
	if stack, err = util.BuildStack(cmd.Context()); err != nil {
		return err
	}
	stack.DrainPending(cmd.Context())
	return nil
}

func closeStack() {
	if stack == nil {
		return
	}
	if err := stack.Close(); err != nil {
		util.Logger.Warningf("failed to close data layer: %v", err)
	}
	stack = nil
}
