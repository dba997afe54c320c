package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOp records its own execute/rollback calls into a shared log so tests
// can assert ordering.
type fakeOp struct {
	name      string
	log       *[]string
	failOn    bool
	failAfter bool // fail after partially applying (rollback still returned)
}

func (f *fakeOp) Name() string { return f.name }

func (f *fakeOp) Execute(ctx context.Context) (Rollback, error) {
	*f.log = append(*f.log, "execute:"+f.name)
	rollback := func(ctx context.Context) error {
		*f.log = append(*f.log, "rollback:"+f.name)
		return nil
	}
	if f.failOn {
		if f.failAfter {
			return rollback, errors.New("boom")
		}
		return nil, errors.New("boom")
	}
	return rollback, nil
}

func TestRunSucceedsWithNoRollback(t *testing.T) {
	var log []string
	tx := New(
		&fakeOp{name: "a", log: &log},
		&fakeOp{name: "b", log: &log},
	)
	require.NoError(t, tx.Run(context.Background()))
	assert.Equal(t, []string{"execute:a", "execute:b"}, log)
}

func TestRunRollsBackInReverseOrderOnFailure(t *testing.T) {
	var log []string
	tx := New(
		&fakeOp{name: "a", log: &log},
		&fakeOp{name: "b", log: &log},
		&fakeOp{name: "c", log: &log, failOn: true},
	)
	err := tx.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"execute:a", "execute:b", "execute:c", "rollback:b", "rollback:a"}, log)
}

func TestFailingStepsOwnPartialRollbackRunsToo(t *testing.T) {
	var log []string
	tx := New(
		&fakeOp{name: "a", log: &log},
		&fakeOp{name: "b", log: &log, failOn: true, failAfter: true},
	)
	err := tx.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"execute:a", "execute:b", "rollback:b", "rollback:a"}, log)
}

func TestBatchActsAsSingleStepInEnclosingTransaction(t *testing.T) {
	var log []string
	batch := NewBatch("add-noun",
		&fakeOp{name: "idmap", log: &log},
		&fakeOp{name: "hnsw", log: &log},
	)
	tx := New(
		batch,
		&fakeOp{name: "metadata", log: &log, failOn: true},
	)
	err := tx.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{
		"execute:idmap", "execute:hnsw", "execute:metadata",
		"rollback:hnsw", "rollback:idmap",
	}, log)
}

func TestRollbackToleratesRepeatedInvocation(t *testing.T) {
	calls := 0
	rollback := func(ctx context.Context) error {
		calls++
		return nil
	}
	require.NoError(t, rollback(context.Background()))
	require.NoError(t, rollback(context.Background()))
	assert.Equal(t, 2, calls)
}
