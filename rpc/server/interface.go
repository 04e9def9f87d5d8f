package server

import (
	"github.com/ValentinKolb/oKV/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request against the given shard and returns a response.
	// Failures are reported as an error response, never as a nil message.
	Handle(req *common.Message, shard *Shard) (resp *common.Message)
}
