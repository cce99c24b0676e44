package api

// TransactionPool is the thin boundary the REST v1 `/v1/pool` route
// queries. spec.md names the transaction pool itself as out of core
// scope beyond its invocation surface, so this interface exposes only
// the read-only summary the API needs, not admission policy.
type TransactionPool interface {
	Size() int
}

// NopPool is the default TransactionPool wired when no real mempool is
// attached: it always reports empty, matching a node that validates
// and relays blocks without admitting loose transactions.
type NopPool struct{}

func (NopPool) Size() int { return 0 }
