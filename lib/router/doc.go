/*
Package router implements the data router of oKV, the single entry point for all data operations.

For every Request the router decides whether it is served by the local store, by the remote
store, by both, or deferred to the mutation queue. The decision is reported in Result.Decision:

  - RemoteOnly: the remote store answered.
  - LocalOnly: the local store answered (disk routing, offline fallback or a fresh cache entry).
  - RemoteThenCacheLocally: the remote store answered and the result was written locally.
  - Queued: the write was deferred and will be replayed by the queue.
  - DualRead: both stores were read and the local copy was reconciled.

Remote directed writes that are queueable never fail because of the network. While offline, or
while the transfer conditions of a file are not met, they are written to the queue and the call
returns at once. A write that is not queueable fails with store.RetCNoNetworkNotPersisted instead.

Connectivity failures of the remote store are retried with a linear backoff as long as the link
quality is at least moderate. Business failures (not found, client, server, decode) are returned
unchanged.

The Router implements queue.Replayer, so queued operations are replayed through the same path
as a live request:

	q, _ := queue.Open(db, queue.DefaultPolicy())
	r := router.New(router.DefaultConfig(), remote, local, oracle, q)
	go q.Run(ctx, oracle, r)

	res, err := r.CreateOne(ctx, "todos", store.Record{"title": "milk"},
		router.Options{Routing: router.RoutingCloud, Queueable: true, Persist: true})

Offline-first reads use Observe, which emits the local result first and the remote result once it
arrives:

	for res := range r.Observe(ctx, router.Request{Kind: router.KindGetList, Collection: "todos"}) {
		render(res.Payload)
	}
*/
package router
