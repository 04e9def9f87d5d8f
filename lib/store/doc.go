// Package store defines the contracts of the two data sources the router dispatches to,
// together with the record model and the unified error type shared by all layers.
//
// The package focuses on:
//   - A local contract (ILocalStore) for on-device storage with freshness-aware reads
//   - A remote contract (IRemoteStore) for a network service with classified failures
//   - A closed Payload variant so no layer has to inspect data at runtime
//
// Key Components:
//
//   - Record: A JSON object addressed by the value of an id column. Ids are normalised
//     to strings so 42, 42.0 and "42" address the same record.
//
//   - Payload: Either Single(record) or Collection(records). The variant is chosen by the
//     caller and survives serialisation, which is what the mutation queue relies on.
//
//   - Query: A serialisable predicate (AND of field conditions) with optional sort and limit.
//     Local stores evaluate it with Query.Apply.
//
//   - Error System: A structured error with a RetCode. Remote failures are always one of
//     RetCConnectivity, RetCTimeout, RetCClient, RetCServer or RetCDecode. Only connectivity failures
//     are ever deferred by the router, see IsConnectivity and IsBusiness.
//
// Implementations:
//
//	The package includes two implementations of ILocalStore:
//
//	- Memory Store (lstore): Sharded concurrent maps, nothing survives a restart.
//	  Used for tests and as a cache-only deployment.
//	  Available in the "github.com/ValentinKolb/oKV/lib/store/lstore" package.
//
//	- SQL Store (sqlstore): An embedded sqlite database, durable across restarts.
//	  Available in the "github.com/ValentinKolb/oKV/lib/store/sqlstore" package.
//
//	IRemoteStore is implemented by the rpc client in "github.com/ValentinKolb/oKV/rpc/client".
package store
