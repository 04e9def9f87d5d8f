package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/oKV/cmd/data"
	"github.com/ValentinKolb/oKV/cmd/queue"
	"github.com/ValentinKolb/oKV/cmd/serve"
	"github.com/ValentinKolb/oKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "okv",
		Short: "offline-first data access layer",
		Long: fmt.Sprintf(`oKV (v%s)

An offline-first data access layer written in Go. Requests are routed
between a local sqlite store and a remote service, writes made while
offline are queued durably and replayed on reconnect.

Every flag can also be set as environment variable OKV_<FLAG>
(e.g. OKV_TRANSPORT_ENDPOINTS), .env and .env.local are loaded.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of oKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("oKV v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(data.DataCommands)
	RootCmd.AddCommand(queue.QueueCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, cbor, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, http, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("level at which logs are written to stderr (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
