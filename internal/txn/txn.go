// Package txn implements the engine's transactional operation framework:
// a sequence of named, independently reversible steps run in order, with
// automatic reverse-order rollback the moment any step fails. It gives the
// engine's multi-index writes (e.g. "add a noun" touches the HNSW graph,
// the metadata chunk index, and the id mapper) all-or-nothing semantics
// without a real multi-writer transaction log underneath.
package txn

import (
	"context"
	"errors"
	"fmt"

	nerrors "github.com/noungraph/noungraph/internal/errors"
)

// Rollback undoes the effect of a successfully executed Operation. It must
// tolerate being called when the operation's state was never fully
// established (a partial failure mid-Execute) and must tolerate being
// called more than once — neither should panic or corrupt state further.
type Rollback func(ctx context.Context) error

// Operation is one reversible unit of work within a Transaction.
type Operation interface {
	// Name identifies the operation for logging and error attribution.
	Name() string
	// Execute performs the operation's effect and returns a Rollback that
	// reverses it, or an error if the effect could not be established (in
	// which case the returned Rollback, if non-nil, undoes whatever
	// partial state Execute did manage to create before failing).
	Execute(ctx context.Context) (Rollback, error)
}

// step records an executed operation's rollback for possible unwinding.
type step struct {
	op       Operation
	rollback Rollback
}

// Transaction runs a sequence of Operations in order. If any Execute call
// fails, every previously succeeded step is rolled back in reverse order
// before the error is returned.
type Transaction struct {
	ops []Operation
}

// New returns a Transaction that will run ops in the given order.
func New(ops ...Operation) *Transaction {
	return &Transaction{ops: ops}
}

// Run executes every operation in order. On the first failure it unwinds
// every already-succeeded step (including a partial rollback from the
// failing step itself, if Execute returned one alongside its error) in
// reverse order and returns an EngineError wrapping the original failure
// (keeping its Kind, Code and Retryable, or Permanent when the failure is
// not an EngineError), noting any rollback failures encountered while
// unwinding.
func (t *Transaction) Run(ctx context.Context) error {
	var completed []step

	for _, op := range t.ops {
		rollback, err := op.Execute(ctx)
		if err != nil {
			if rollback != nil {
				completed = append(completed, step{op, rollback})
			}
			rollbackErr := unwind(ctx, completed)
			return wrapFailure(op.Name(), err, rollbackErr)
		}
		completed = append(completed, step{op, rollback})
	}
	return nil
}

// unwind rolls back every step in reverse order, collecting (not stopping
// on) any rollback errors so a failure in one rollback doesn't prevent the
// rest from running.
func unwind(ctx context.Context, completed []step) []error {
	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		s := completed[i]
		if s.rollback == nil {
			continue
		}
		if err := s.rollback(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rollback of %q failed: %w", s.op.Name(), err))
		}
	}
	return errs
}

// wrapFailure attributes a step failure to its operation name while
// preserving the original error's Kind/Code/Retryable — a transaction
// wrapping a Conflict or Transient failure must still report as such to a
// caller checking nerrors.IsKind, not flatten to Permanent just because it
// passed through this framework.
func wrapFailure(opName string, cause error, rollbackErrs []error) error {
	kind := nerrors.KindPermanent
	code := nerrors.CodeOperationFailed
	retryable := false
	var causeErr *nerrors.EngineError
	if errors.As(cause, &causeErr) {
		kind = causeErr.Kind
		code = causeErr.Code
		retryable = causeErr.Retryable
	}

	ee := &nerrors.EngineError{
		Code:      code,
		Message:   fmt.Sprintf("operation %q failed: %s", opName, cause.Error()),
		Kind:      kind,
		Component: "txn",
		Cause:     cause,
		Retryable: retryable,
	}
	if len(rollbackErrs) > 0 {
		msg := fmt.Sprintf("%d rollback(s) also failed while unwinding", len(rollbackErrs))
		ee = ee.WithDetail("rollback_failures", msg)
	}
	return ee
}

// Batch groups operations that should be treated as a single logical step
// within a larger Transaction: all of them Execute, and if any fails, every
// one of them that succeeded rolls back as part of this Batch's own
// Rollback, before the failure propagates to the enclosing Transaction.
type Batch struct {
	name string
	ops  []Operation
}

// NewBatch returns a Batch named name wrapping ops.
func NewBatch(name string, ops ...Operation) *Batch {
	return &Batch{name: name, ops: ops}
}

func (b *Batch) Name() string { return b.name }

// Execute runs every member operation in order. On success it returns a
// single Rollback that unwinds every member in reverse order; on failure
// it unwinds whatever members already succeeded itself and returns the
// original error (so the enclosing Transaction sees a Batch as one atomic
// step, either fully applied or fully reverted).
func (b *Batch) Execute(ctx context.Context) (Rollback, error) {
	var completed []step
	for _, op := range b.ops {
		rollback, err := op.Execute(ctx)
		if err != nil {
			if rollback != nil {
				completed = append(completed, step{op, rollback})
			}
			unwind(ctx, completed)
			return nil, fmt.Errorf("batch %q: operation %q failed: %w", b.name, op.Name(), err)
		}
		completed = append(completed, step{op, rollback})
	}

	rollback := func(ctx context.Context) error {
		errs := unwind(ctx, completed)
		if len(errs) > 0 {
			return fmt.Errorf("batch %q: %d rollback failures", b.name, len(errs))
		}
		return nil
	}
	return rollback, nil
}
