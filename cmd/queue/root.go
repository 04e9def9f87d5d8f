package queue

import (
	"github.com/ValentinKolb/oKV/cmd/util"
	"github.com/spf13/cobra"
)

var (
	stack *util.Stack

	// QueueCommands represents the queue command group
	QueueCommands = &cobra.Command{
		Use:               "queue",
		Short:             "Inspect and deliver writes queued while offline",
		PersistentPreRunE: setupStack,
	}
)

func init() {
	cobra.OnFinalize(closeStack)

	// The queue commands need the remote service to replay operations
	util.SetupRPCClientFlags(QueueCommands)
	util.SetupStackFlags(QueueCommands)

	QueueCommands.AddCommand(listCmd)
	QueueCommands.AddCommand(drainCmd)
	QueueCommands.AddCommand(removeCmd)
	QueueCommands.AddCommand(purgeCmd)
	QueueCommands.AddCommand(failuresCmd)
	QueueCommands.AddCommand(statsCmd)
}

// setupStack wires the data layer. Pending writes are not delivered implicitly here.
func setupStack(cmd *cobra.Command, _ []string) error {
	if err := util.PrepareCommand(cmd); err != nil {
		return err
	}
	var err error
	stack, err = util.BuildStack(cmd.Context())
	return err
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
