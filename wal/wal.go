// Package wal implements the write-ahead log core: snapshot-isolated
// transactions over a storage.Storage pair (data + log), conflict
// detection by per-page edit intersection, checkpointing, and an
// orphan-transaction janitor.
package wal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/marlowdb/walcore/internal/executor"
	"github.com/marlowdb/walcore/storage"
	"github.com/marlowdb/walcore/walerr"
)

// maxConcurrentReaders is the reader-count ceiling §4.9.3 models as an
// 8-bit counter; realized here via a weighted semaphore rather than a
// hand-rolled bit field (§9's "bit layout is not normative").
const maxConcurrentReaders = 255

// WAL is a write-ahead log layered over a data Storage and a log Storage.
// Use Open to create one.
type WAL struct {
	data storage.Storage
	log  storage.Storage
	opts Options

	pages     *pagePool
	accesses  *accessPool
	execReg   *executor.Registry

	transactionsMu sync.Mutex
	transactions   map[uuid.UUID]*WalTransaction

	indexMu            sync.Mutex
	index              []*TransactionRecord
	indexLastCommitted atomic.Int64 // -1 means no committed transaction
	sequencer          atomic.Int64 // last issued sequence number, -1 initially

	// readerSem admits up to maxConcurrentReaders concurrent page loads
	// from data; checkpoint write-back acquires the full weight to drain
	// readers and gain exclusivity (§4.9.3 StorageWriteLock).
	readerSem *semaphore.Weighted

	janitorStop   chan struct{}
	janitorDone   chan struct{}
	janitorTicker *time.Ticker

	closing atomic.Bool
	closed  atomic.Bool
}

// Open creates a WAL over data and log, replaying any committed-but-not-
// checkpointed records left from a prior run (§4.9.10) before starting the
// background janitor.
func Open(data, log storage.Storage, opts Options) (*WAL, error) {
	w := &WAL{
		data:        data,
		log:         log,
		opts:        opts,
		pages:       newPagePool(),
		accesses:    newAccessPool(),
		execReg:     executor.NewRegistry(opts.LivenessProbe),
		transactions: make(map[uuid.UUID]*WalTransaction),
		readerSem:  semaphore.NewWeighted(maxConcurrentReaders),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	w.indexLastCommitted.Store(-1)
	w.sequencer.Store(-1)

	if err := w.reload(); err != nil {
		return nil, err
	}

	w.janitorTicker = time.NewTicker(opts.JanitorPeriod)
	go w.janitorLoop()

	return w, nil
}

// Begin starts a transaction on behalf of execID (§4.9.4). writable and
// autocommit mirror Transaction's fields; the returned endMark is the
// sequence number of the last transaction committed so far, or -1 if none
// has committed yet.
func (w *WAL) Begin(execID executor.ID, writable, autocommit bool) (*WalTransaction, error) {
	if w.closed.Load() || w.closing.Load() {
		return nil, walerr.BadState("wal: begin on a closed WAL")
	}

	w.transactionsMu.Lock()
	defer w.transactionsMu.Unlock()

	endMark := w.indexLastCommitted.Load()
	wt := newWalTransaction(w, execID, writable, autocommit, endMark, time.Now().UnixMilli())
	w.transactions[wt.ID()] = wt
	w.execReg.Set(execID, wt)
	w.resetJanitorWait()

	w.opts.logger().WithFields(map[string]any{"tx": wt.ID(), "endMark": endMark, "writable": writable}).Debug("wal: began transaction")
	return wt, nil
}

// acquirePage implements pageLoader for SnapshotStorage (§4.9.5).
func (w *WAL) acquirePage(location int64, endMark int64) (*WalPage, error) {
	page := w.pages.acquire(location)

	if err := w.loadBase(page, location); err != nil {
		w.pages.release(page)
		return nil, err
	}

	w.indexMu.Lock()
	for _, rec := range w.index {
		if int64(rec.SequenceNumber) > endMark {
			continue
		}
		for _, p := range rec.Pages {
			if p.Location != location {
				continue
			}
			for _, e := range p.Edits {
				copy(page.buf[e.Offset:], e.Bytes)
			}
		}
	}
	w.indexMu.Unlock()

	page.markReady()
	return page, nil
}

// loadBase reads up to one page of bytes for location from data into
// page's buffer, zeroing any suffix past the store's current size.
func (w *WAL) loadBase(page *WalPage, location int64) error {
	ctx := context.Background()
	if err := w.readerSem.Acquire(ctx, 1); err != nil {
		return walerr.Io("wal: acquire reader permit", err)
	}
	defer w.readerSem.Release(1)

	for i := range page.buf {
		page.buf[i] = 0
	}

	acc, err := storage.NewAccess(w.data, location, storage.PageSize, false)
	if err != nil {
		return err
	}
	defer acc.Close()

	buf, err := acc.ReadBytes(storage.PageSize)
	if err != nil {
		return err
	}
	copy(page.buf[:], buf)
	return nil
}

// commitTransaction implements WalTransaction.doCommit (§4.9.7).
func (w *WAL) commitTransaction(wt *WalTransaction) error {
	dirty := dirtyPageRecords(wt.snapshot.acquiredPages())
	if len(dirty) == 0 {
		return nil
	}

	rec := &TransactionRecord{
		TimestampMs: time.Now().UnixMilli(),
		Pages:       dirty,
	}

	w.indexMu.Lock()
	defer w.indexMu.Unlock()

	if w.indexLastCommitted.Load() > wt.endMark {
		for _, other := range w.index {
			if int64(other.SequenceNumber) <= wt.endMark {
				continue
			}
			if other.intersects(rec) {
				return walerr.NewConcurrentWrite(other.SequenceNumber, time.UnixMilli(other.TimestampMs))
			}
		}
	}

	seq := w.sequencer.Add(1)
	rec.SequenceNumber = uint64(seq)

	logSize, err := w.log.Size()
	if err != nil {
		return walerr.Io("wal: log size", err)
	}
	logLocation := int64(logSize)
	if logLocation < headerSize {
		logLocation = headerSize
	}

	if len(w.index) == 0 {
		if err := writeLogHeader(w.log, logHeader{
			lastCheckpointTimestampMs: time.Now().UnixMilli(),
			indexedTransactionCount:   1,
			firstTransactionLogOffset: uint64(headerSize),
		}); err != nil {
			return walerr.Io("wal: write header", err)
		}
	}

	if err := writeTransactionRecordAt(w.log, logLocation, rec); err != nil {
		return walerr.Io("wal: append transaction record", err)
	}
	if err := w.log.Flush(); err != nil {
		return walerr.Io("wal: flush log", err)
	}

	w.index = append(w.index, rec)
	w.indexLastCommitted.Store(seq)
	atomic.StoreInt64(&wt.sequenceNumber, seq)

	w.opts.logger().WithFields(map[string]any{"tx": wt.ID(), "seq": seq, "pages": len(dirty)}).Info("wal: committed transaction")
	return nil
}

// dirtyPageRecords converts the WalPages a transaction touched into the
// on-log PageRecord shape, keeping only pages with at least one edit and
// sorting by location ascending (§6's on-disk invariant).
func dirtyPageRecords(pages map[int64]*WalPage) []PageRecord {
	var out []PageRecord
	for loc, p := range pages {
		edits := p.Edits().Edits()
		if len(edits) == 0 {
			continue
		}
		recs := make([]EditRecord, len(edits))
		for i, e := range edits {
			recs[i] = EditRecord{Offset: e.Offset, Length: e.Length, Bytes: e.Bytes}
		}
		out = append(out, PageRecord{Location: loc, Edits: recs})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Location > out[j].Location; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// endTransaction releases every resource a transaction held and removes
// it from the live set (§4.9.8).
func (w *WAL) endTransaction(wt *WalTransaction) {
	for _, p := range wt.snapshot.acquiredPages() {
		w.pages.release(p)
	}
	for _, release := range wt.accessReleases {
		release()
	}
	// Drop the released holdings so a repeated close does not hand the
	// same pool pages and access slots back a second time.
	clear(wt.snapshot.acquiredPages())
	wt.accessReleases = nil

	w.transactionsMu.Lock()
	delete(w.transactions, wt.ID())
	if cur, ok := w.execReg.Current(wt.ExecutorID()); ok && cur == wt {
		w.execReg.Forget(wt.ExecutorID())
	}
	w.transactionsMu.Unlock()
}

// resetJanitorWait postpones the janitor's next periodic sweep, called on
// every Begin (§4.9.4 step 2) so a burst of activity does not race an
// imminent sweep. Must be called with transactionsMu held.
func (w *WAL) resetJanitorWait() {
	if w.janitorTicker != nil {
		w.janitorTicker.Reset(w.opts.JanitorPeriod)
	}
}

func (w *WAL) janitorLoop() {
	defer close(w.janitorDone)
	for {
		select {
		case <-w.janitorStop:
			return
		case <-w.janitorTicker.C:
			w.cleanup(false)
		}
	}
}

// cleanup reaps orphaned transactions, then runs a checkpoint if the
// §4.9.9 triggers are met (or forceCheckpoint is set).
func (w *WAL) cleanup(forceCheckpoint bool) {
	// Snapshot the registry rather than holding its lock while calling
	// back into transaction code (executor.Registry.Snapshot's documented
	// purpose).
	var orphans []*WalTransaction
	for _, cur := range w.execReg.Snapshot() {
		wt, ok := cur.(*WalTransaction)
		if !ok {
			continue
		}
		if wt.IsOrphan(w.execReg) {
			orphans = append(orphans, wt)
		}
	}

	for _, wt := range orphans {
		wt.forceAbort()
		w.opts.logger().WithField("tx", wt.ID()).Warn("wal: reaped orphaned transaction")
	}

	if err := w.maybeCheckpoint(forceCheckpoint); err != nil {
		w.opts.logger().WithError(err).Error("wal: checkpoint failed")
	}
}

func (w *WAL) maybeCheckpoint(force bool) error {
	w.indexMu.Lock()
	indexLen := len(w.index)
	w.indexMu.Unlock()

	logSize, err := w.log.Size()
	if err != nil {
		return walerr.Io("wal: log size", err)
	}

	if !force && indexLen < w.opts.IndexTrigger && int64(logSize) <= w.opts.LogSizeTrigger {
		return nil
	}
	return w.checkpoint()
}

// checkpoint writes back every logged record not concurrent with a still-
// running transaction, then truncates the log (§4.9.9).
func (w *WAL) checkpoint() error {
	minEndMark := int64(math.MaxInt64)
	w.transactionsMu.Lock()
	for _, wt := range w.transactions {
		if wt.State() == StateRunning && wt.endMark < minEndMark {
			minEndMark = wt.endMark
		}
	}
	w.transactionsMu.Unlock()

	w.indexMu.Lock()
	defer w.indexMu.Unlock()

	k := 0
	for k < len(w.index) && int64(w.index[k].SequenceNumber) < minEndMark {
		k++
	}
	if k == 0 {
		return nil
	}

	ctx := context.Background()
	if err := w.readerSem.Acquire(ctx, maxConcurrentReaders); err != nil {
		return walerr.Io("wal: acquire storage write lock", err)
	}
	writeBackErr := func() error {
		defer w.readerSem.Release(maxConcurrentReaders)
		for _, rec := range w.index[:k] {
			if err := applyRecord(w.data, rec); err != nil {
				return err
			}
		}
		return w.data.Flush()
	}()
	if writeBackErr != nil {
		return walerr.Io("wal: checkpoint write-back", writeBackErr)
	}

	if k == len(w.index) {
		size, err := w.log.Size()
		if err != nil {
			return walerr.Io("wal: log size", err)
		}
		if _, err := w.log.Cut(headerSize, int64(size)); err != nil {
			return walerr.Io("wal: truncate log", err)
		}
		if err := writeLogHeader(w.log, logHeader{lastCheckpointTimestampMs: time.Now().UnixMilli()}); err != nil {
			return walerr.Io("wal: rewrite header", err)
		}
		w.index = w.index[:0]
	} else {
		newFirstOffset := w.index[k].LogLocation()
		if _, err := w.log.Cut(headerSize, newFirstOffset); err != nil {
			return walerr.Io("wal: cut checkpointed prefix", err)
		}
		if err := writeLogHeader(w.log, logHeader{
			lastCheckpointTimestampMs: time.Now().UnixMilli(),
			indexedTransactionCount:   uint64(len(w.index) - k),
			firstTransactionLogOffset: uint64(newFirstOffset),
		}); err != nil {
			return walerr.Io("wal: rewrite header", err)
		}
		w.index = append(w.index[:0], w.index[k:]...)
	}

	if err := w.log.Flush(); err != nil {
		return walerr.Io("wal: flush log", err)
	}

	logSize, _ := w.log.Size()
	w.opts.logger().WithFields(map[string]any{"checkpointed": k, "logSize": humanize.Bytes(logSize)}).Info("wal: checkpoint complete")
	return nil
}

// reload replays any committed-but-unchecked-pointed records left in the
// log from a prior run into data, then truncates the log (§4.9.10).
func (w *WAL) reload() error {
	size, err := w.log.Size()
	if err != nil {
		return walerr.Io("wal: log size", err)
	}
	if int64(size) <= headerSize {
		return nil
	}

	hdr, err := readLogHeader(w.log)
	if err != nil {
		return err
	}

	offset := int64(hdr.firstTransactionLogOffset)
	if offset == 0 {
		offset = headerSize
	}

	var records []*TransactionRecord
	for offset < int64(size) {
		rec, ok, derr := decodeTransactionRecordAt(w.log, offset, int64(size))
		if derr != nil {
			return walerr.Io("wal: decode transaction record", derr)
		}
		if !ok {
			break // partial tail from a crash; discarded (§4.9.1 invariant 5)
		}
		records = append(records, rec)
		offset = rec.logLocation + rec.encodedLen()
	}

	for _, rec := range records {
		if err := applyRecord(w.data, rec); err != nil {
			return walerr.Io("wal: replay transaction record", err)
		}
	}
	if err := w.data.Flush(); err != nil {
		return walerr.Io("wal: flush replayed data", err)
	}

	if _, err := w.log.Cut(headerSize, int64(size)); err != nil {
		return walerr.Io("wal: truncate log after reload", err)
	}
	if err := writeLogHeader(w.log, logHeader{lastCheckpointTimestampMs: time.Now().UnixMilli()}); err != nil {
		return walerr.Io("wal: rewrite header after reload", err)
	}
	if err := w.log.Flush(); err != nil {
		return walerr.Io("wal: flush log after reload", err)
	}

	w.opts.logger().WithField("replayed", len(records)).Info("wal: reload complete")
	return nil
}

// Flush forces an unconditional checkpoint.
func (w *WAL) Flush() error {
	return w.checkpoint()
}

// Cleanup runs one janitor pass on demand (orphan reap + conditional
// checkpoint), without waiting for the periodic timer.
func (w *WAL) Cleanup() {
	w.cleanup(false)
}

// Close stops accepting new transactions, stops the janitor, runs a final
// forced checkpoint, and closes both underlying stores (§4.9.12).
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.closing.Store(true)

	close(w.janitorStop)
	if w.janitorTicker != nil {
		w.janitorTicker.Stop()
	}
	<-w.janitorDone

	ckErr := w.checkpoint()
	logErr := w.log.Close()
	dataErr := w.data.Close()

	switch {
	case ckErr != nil:
		return fmt.Errorf("wal: close: checkpoint: %w", ckErr)
	case logErr != nil:
		return fmt.Errorf("wal: close: log: %w", logErr)
	case dataErr != nil:
		return fmt.Errorf("wal: close: data: %w", dataErr)
	default:
		return nil
	}
}
