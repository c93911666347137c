package wal

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/marlowdb/walcore/internal/executor"
	"github.com/marlowdb/walcore/storage"
	"github.com/marlowdb/walcore/walerr"
)

// TxState is a Transaction's lifecycle state (§3): Running → (Committing →
// Committed | Rejected) | Aborted.
type TxState int32

const (
	StateRunning TxState = iota
	StateCommitting
	StateCommitted
	StateRejected
	StateAborted
)

func (s TxState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TransactionOps is the behavior a concrete transaction kind supplies to
// the shared Transaction base (§9: inheritance collapses to composition).
type TransactionOps interface {
	doCommit(t *Transaction) error
	access(t *Transaction, index, length int64, writable bool) (*storage.Access, error)
	onClose(t *Transaction)
}

// Transaction holds the fields and state machine common to every
// transaction kind: executor identity, writability, autocommit, and
// lifecycle state (§4.8). Behavior specific to a backing WAL is supplied
// through TransactionOps rather than subclassing.
type Transaction struct {
	id         uuid.UUID
	executorID executor.ID
	writable   bool
	autocommit bool
	state      atomic.Int32
	ops        TransactionOps
}

func newTransaction(execID executor.ID, writable, autocommit bool, ops TransactionOps) *Transaction {
	t := &Transaction{id: uuid.New(), executorID: execID, writable: writable, autocommit: autocommit, ops: ops}
	t.state.Store(int32(StateRunning))
	return t
}

func (t *Transaction) ID() uuid.UUID        { return t.id }
func (t *Transaction) Writable() bool       { return t.writable }
func (t *Transaction) Autocommit() bool     { return t.autocommit }
func (t *Transaction) State() TxState       { return TxState(t.state.Load()) }
func (t *Transaction) ExecutorID() executor.ID { return t.executorID }

func (t *Transaction) checkExecutor(callerID executor.ID) error {
	if callerID != t.executorID {
		return walerr.BadState("wal: transaction owned by a different executor")
	}
	return nil
}

// Access narrows writable to t.writable && writable and fails BadState
// unless the transaction is Running (§4.8).
func (t *Transaction) Access(callerID executor.ID, index, length int64, writable bool) (*storage.Access, error) {
	if err := t.checkExecutor(callerID); err != nil {
		return nil, err
	}
	if index < 0 || length <= 0 {
		return nil, walerr.OutOfRange("wal: invalid access window [%d,+%d)", index, length)
	}
	if t.State() != StateRunning {
		return nil, walerr.BadState("wal: access on a %s transaction", t.State())
	}
	return t.ops.access(t, index, length, t.writable && writable)
}

// Commit drives Running → Committing, invokes the backing doCommit, and
// resolves to Committed, Rejected (on ErrConcurrentWrite), or Aborted (any
// other failure) per §4.8.
func (t *Transaction) Commit(callerID executor.ID) error {
	if err := t.checkExecutor(callerID); err != nil {
		return err
	}
	if !t.state.CompareAndSwap(int32(StateRunning), int32(StateCommitting)) {
		return walerr.BadState("wal: commit on a %s transaction", t.State())
	}
	err := t.ops.doCommit(t)
	switch {
	case err == nil:
		t.state.Store(int32(StateCommitted))
	case errors.Is(err, walerr.ErrConcurrentWrite):
		t.state.Store(int32(StateRejected))
	default:
		t.state.Store(int32(StateAborted))
	}
	return err
}

// Abort drives Running → Aborted.
func (t *Transaction) Abort(callerID executor.ID) error {
	if err := t.checkExecutor(callerID); err != nil {
		return err
	}
	if !t.state.CompareAndSwap(int32(StateRunning), int32(StateAborted)) {
		return walerr.BadState("wal: abort on a %s transaction", t.State())
	}
	return nil
}

// Close commits (if autocommit) or aborts a still-Running transaction,
// then always invokes onClose. Idempotent: closing a terminal transaction
// only re-runs onClose.
func (t *Transaction) Close(callerID executor.ID) error {
	if err := t.checkExecutor(callerID); err != nil {
		return err
	}
	var commitErr error
	if t.State() == StateRunning {
		if t.autocommit {
			commitErr = t.Commit(callerID)
		} else {
			t.state.CompareAndSwap(int32(StateRunning), int32(StateAborted))
		}
	}
	t.ops.onClose(t)
	return commitErr
}

// forceAbort is used by the janitor, bypassing the executor-affinity
// check since the owning executor is dead.
func (t *Transaction) forceAbort() {
	if t.state.CompareAndSwap(int32(StateRunning), int32(StateAborted)) {
		t.ops.onClose(t)
	}
}

// IsOrphan reports whether t is Running but its creating executor is no
// longer alive, per reg's liveness probe (§4.9.11).
func (t *Transaction) IsOrphan(reg *executor.Registry) bool {
	return t.State() == StateRunning && !reg.IsAlive(t.executorID)
}

// WalTransaction is the WAL-backed TransactionOps implementation: it owns
// a snapshot view at endMark, the pages it has touched, and assembles the
// TransactionRecord a successful commit appends to the log.
type WalTransaction struct {
	*Transaction

	wal            *WAL
	endMark        int64
	beginTimestamp int64 // ms since epoch
	sequenceNumber int64 // -1 until committed

	snapshot        *SnapshotStorage
	accessReleases  []func()
}

func newWalTransaction(w *WAL, execID executor.ID, writable, autocommit bool, endMark, beginTimestamp int64) *WalTransaction {
	wt := &WalTransaction{wal: w, endMark: endMark, beginTimestamp: beginTimestamp, sequenceNumber: -1}
	wt.Transaction = newTransaction(execID, writable, autocommit, wt)
	wt.snapshot = NewSnapshotStorage(w, endMark, writable)
	return wt
}

// EndMark reports the sequence number of the last transaction committed
// at the moment this one began.
func (wt *WalTransaction) EndMark() int64 { return wt.endMark }

// SequenceNumber reports the sequence number this transaction was
// assigned on commit, or -1 if it has not committed (yet, or ever).
func (wt *WalTransaction) SequenceNumber() int64 { return atomic.LoadInt64(&wt.sequenceNumber) }

func (wt *WalTransaction) access(_ *Transaction, index, length int64, writable bool) (*storage.Access, error) {
	acc, release, err := wt.wal.accesses.acquire(wt.snapshot, index, length, writable)
	if err != nil {
		return nil, err
	}
	wt.accessReleases = append(wt.accessReleases, release)
	return acc, nil
}

func (wt *WalTransaction) doCommit(_ *Transaction) error {
	return wt.wal.commitTransaction(wt)
}

func (wt *WalTransaction) onClose(_ *Transaction) {
	wt.wal.endTransaction(wt)
}
