package queue

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
)

var (
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the pending operations in delivery order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := stack.Queue.Pending(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ops)
		},
	}
	drainCmd = &cobra.Command{
		Use:   "drain",
		Short: "Delivers the pending operations to the remote service",
		Long: `Delivers the pending operations to the remote service. With --watch the command keeps running,
delivers on every reconnect and prints every state change of an operation until it is interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				return watchQueue(cmd)
			}
			if !stack.Oracle.IsOnline() {
				return fmt.Errorf("remote service unreachable, nothing delivered")
			}
			stats, err := stack.Queue.Drain(cmd.Context(), stack.Oracle, stack.Router)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [id]",
		Short: "Removes a pending operation without delivering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := stack.Queue.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id=%s, removed=%t\n", args[0], found)
			return nil
		},
	}
	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Removes all pending operations without delivering them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := stack.Queue.Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d operations\n", n)
			return nil
		},
	}
	failuresCmd = &cobra.Command{
		Use:   "failures",
		Short: "Lists the operations dropped without delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearLog, _ := cmd.Flags().GetBool("clear"); clearLog {
				n, err := stack.Queue.ClearFailures(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d failures\n", n)
				return nil
			}
			failures, err := stack.Queue.Failures(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), failures)
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints queue and connectivity metrics in prometheus format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := stack.Queue.Len(cmd.Context())
			if err != nil {
				return err
			}
			failures, err := stack.Queue.Failures(cmd.Context())
			if err != nil {
				return err
			}
			online := 0.0
			if stack.Oracle.IsOnline() {
				online = 1
			}
			metrics.GetOrCreateGauge("okv_queue_pending", func() float64 { return float64(pending) })
			metrics.GetOrCreateGauge("okv_queue_failures", func() float64 { return float64(len(failures)) })
			metrics.GetOrCreateGauge("okv_connectivity_online", func() float64 { return online })
			metrics.WritePrometheus(cmd.OutOrStdout(), false)
			return nil
		},
	}
)

func init() {
	drainCmd.Flags().Bool("watch", false, "Keep delivering until interrupted")
	failuresCmd.Flags().Bool("clear", false, "Empty the failure log")
}

// watchQueue runs the queue until SIGINT or SIGTERM and prints its events
func watchQueue(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-stack.Queue.Events():
				line := fmt.Sprintf("%s %s %s/%s attempts=%d", e.Type, e.Op.ID, e.Op.Kind, e.Op.Collection, e.Op.Attempts)
				if e.Err != nil {
					line += " error=" + e.Err.Error()
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
		}
	}()

	stack.Queue.Run(ctx, stack.Oracle, stack.Router)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
