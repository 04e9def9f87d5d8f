package data

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ValentinKolb/oKV/cmd/util"
	"github.com/ValentinKolb/oKV/lib/connectivity"
	"github.com/ValentinKolb/oKV/lib/router"
	"github.com/ValentinKolb/oKV/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// setupOptionFlags adds the flags that map to router.Options
func setupOptionFlags(cmd *cobra.Command) {
	key := "routing"
	cmd.PersistentFlags().String(key, "cloud", util.WrapString("Target of the request (auto, cloud, disk). auto uses the remote service only if --url is set"))

	key = "url"
	cmd.PersistentFlags().String(key, "", util.WrapString("Remote locator of the request, directs auto routed requests to the remote service"))

	key = "id-column"
	cmd.PersistentFlags().String(key, "id", util.WrapString("Field holding the record id"))

	key = "persist"
	cmd.PersistentFlags().Bool(key, false, util.WrapString("Store the remote result in the local store"))

	key = "queueable"
	cmd.PersistentFlags().Bool(key, false, util.WrapString("Queue the write while offline instead of failing"))

	key = "prefer-disk"
	cmd.PersistentFlags().Bool(key, false, util.WrapString("Serve remote reads from the local store while offline"))

	key = "dual-read"
	cmd.PersistentFlags().Bool(key, false, util.WrapString("Read the local store and the remote service and print both results (get and list only)"))

	key = "wifi-only"
	cmd.PersistentFlags().Bool(key, false, util.WrapString("Only transfer the file while on wifi, otherwise queue it"))

	key = "while-charging"
	cmd.PersistentFlags().Bool(key, false, util.WrapString("Only transfer the file while charging, otherwise queue it"))
}

// options reads the routing flags
func options() (router.Options, error) {
	routing, err := router.ParseRouting(viper.GetString("routing"))
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{
		Routing:    routing,
		URL:        viper.GetString("url"),
		IDColumn:   viper.GetString("id-column"),
		Persist:    viper.GetBool("persist"),
		Queueable:  viper.GetBool("queueable"),
		PreferDisk: viper.GetBool("prefer-disk"),
		DualRead:   viper.GetBool("dual-read"),
		Conditions: connectivity.Requirement{
			WifiOnly:      viper.GetBool("wifi-only"),
			WhileCharging: viper.GetBool("while-charging"),
		},
	}, nil
}

// resultView is the printed form of a router.Result
type resultView struct {
	Decision    string        `json:"decision"`
	Source      string        `json:"source"`
	Queued      bool          `json:"queued,omitempty"`
	OperationID string        `json:"operationId,omitempty"`
	Payload     store.Payload `json:"payload"`
	Error       string        `json:"error,omitempty"`
}

func printResult(w io.Writer, res router.Result) error {
	view := resultView{
		Decision:    res.Decision.String(),
		Source:      res.Source.String(),
		Queued:      res.Queued,
		OperationID: res.OperationID,
		Payload:     res.Payload,
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

// run executes req and prints the result. Dual reads print every emission.
func run(cmd *cobra.Command, req router.Request) error {
	opts, err := options()
	if err != nil {
		return err
	}
	if req.URL != "" {
		opts.URL = req.URL
	}
	req.Options = opts

	if !req.DualRead {
		res, err := stack.Router.Execute(cmd.Context(), req)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	}

	var lastErr error
	succeeded := false
	for res := range stack.Router.Observe(cmd.Context(), req) {
		if err := printResult(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if res.Err != nil {
			lastErr = res.Err
		} else {
			succeeded = true
		}
	}
	if !succeeded {
		return lastErr
	}
	return nil
}

// readInput returns the argument, the contents of the file for "@path" or stdin for "-"
func readInput(cmd *cobra.Command, arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(arg, "@"):
		return os.ReadFile(arg[1:])
	default:
		return []byte(arg), nil
	}
}

// decodePayload decodes a JSON object into a single payload and a JSON array into a collection
func decodePayload(data []byte) (store.Payload, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		records, err := store.DecodeRecords([]byte(trimmed))
		if err != nil {
			return store.Payload{}, fmt.Errorf("invalid record list: %w", err)
		}
		return store.Collection(records), nil
	}
	record, err := store.DecodeRecord([]byte(trimmed))
	if err != nil {
		return store.Payload{}, fmt.Errorf("invalid record: %w", err)
	}
	return store.Single(record), nil
}
