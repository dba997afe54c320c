package noungraph

import (
	"context"

	"github.com/noungraph/noungraph/internal/txn"
)

// Transact runs a caller-supplied sequence of txn.Operations as a single
// transaction: if any operation fails, every operation that already
// succeeded is rolled back in reverse order before the error is returned.
// This is the same framework AddNoun uses internally, exposed so callers
// can compose their own multi-step, multi-index writes with the same
// all-or-nothing guarantee.
func (e *Engine) Transact(ctx context.Context, ops ...txn.Operation) error {
	return txn.New(ops...).Run(ctx)
}

// Prefetch warms the cache for a batch of noun ids ahead of an anticipated
// burst of reads (e.g. before rendering search results), coalescing
// concurrent cold loads for the same id via the cache manager's
// singleflight group. A no-op if no cache is attached.
func (e *Engine) Prefetch(ctx context.Context, ids []string) error {
	if e.cache == nil {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = nounBlobKey(id)
	}
	_, err := e.cache.GetMany(ctx, keys)
	return err
}
