// Package client implements the remote store of oKV as an RPC client. NewRPCStore
// returns a store.IRemoteStore that forwards every operation to the remote service
// through a transport and a serializer.
//
// Failures are classified so the router can tell network trouble from a rejected
// request:
//
//   - unreachable endpoints and calls whose context was already done become RetCConnectivity
//   - requests without a response in time become RetCTimeout, the service may have applied them
//   - error responses keep their class: RetCNotFound, RetCClient or RetCServer
//   - responses that cannot be decoded become RetCDecode
//
// Usage Example:
//
//	config := common.ClientConfig{
//		TimeoutSecond: 5,
//		Transport: common.ClientTransportConfig{
//			Endpoints:              []string{"localhost:8080"},
//			RetryCount:             3,
//			ConnectionsPerEndpoint: 1,
//		},
//	}
//
//	remote, err := client.NewRPCStore(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//		panic(err)
//	}
//	defer remote.Close()
//
//	todo, err := remote.Get(ctx, "todos", "42")
//	if store.IsConnectivity(err) {
//		// offline
//	}
package client
