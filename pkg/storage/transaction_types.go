package storage

import (
	"errors"
	"sync"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
	"github.com/dd0wney/cluso-tablestore/pkg/wal"
)

var (
	ErrTransactionFinished = errors.New("transaction has already been committed or aborted")
	ErrMustAbort           = errors.New("transaction is marked must-abort")
	ErrEmptyRedoBuffer     = errors.New("no staged redo record; was StageWrite/StageDelete called?")
	ErrStaleRedoRecord     = errors.New("staged redo record does not match the operation")
)

// RedoRecord is one staged write in a transaction's redo buffer. The table
// operation consuming it fills in the slot assignment; for a migrating
// update, UpdatedSlot always records the post-migration slot so commit-time
// log serialization sees the correct location even when the caller ignores
// the return value.
type RedoRecord struct {
	Op       wal.OpType
	TableOid catalog.TableOid

	// Slot is the intended tuple for updates and deletes, and the assigned
	// slot after an insert.
	Slot TupleSlot

	// UpdatedSlot is the tuple's slot after the operation; differs from
	// Slot when an update migrated the tuple to a newer layout version.
	UpdatedSlot TupleSlot

	// Delta is the after-image of the touched columns; nil for deletes.
	Delta *ProjectedRow

	// Version is the layout version the record targets. For schema changes
	// it is the newly registered version.
	Version LayoutVersion
}

// txnWrite remembers a version node installed by this transaction so commit
// can publish it and abort can unlink it.
type txnWrite struct {
	slot TupleSlot
	node *versionNode
}

// TransactionContext carries one transaction's snapshot timestamp, redo
// buffer, and write set. A transaction belongs to one worker at a time;
// the context itself is safe against the manager's concurrent bookkeeping.
type TransactionContext struct {
	id      uint64
	startTS uint64
	mgr     *TransactionManager

	mu        sync.Mutex
	redo      []*RedoRecord
	writes    []txnWrite
	mustAbort bool
	finished  bool
}

// ID returns the transaction id.
func (txn *TransactionContext) ID() uint64 { return txn.id }

// StartTime returns the transaction's snapshot timestamp.
func (txn *TransactionContext) StartTime() uint64 { return txn.startTS }

// SetMustAbort marks the transaction so the MVCC layer unwinds its version
// chains on finish. Set whenever a delegated table operation fails.
func (txn *TransactionContext) SetMustAbort() {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	txn.mustAbort = true
}

// MustAbort reports whether the transaction is marked must-abort.
func (txn *TransactionContext) MustAbort() bool {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	return txn.mustAbort
}

// StageWrite appends an insert/update redo record for the given table and
// returns it. For inserts, slot is the zero TupleSlot and the table
// operation assigns one.
func (txn *TransactionContext) StageWrite(table catalog.TableOid, slot TupleSlot, delta *ProjectedRow) *RedoRecord {
	op := wal.OpUpdate
	if !slot.Valid() {
		op = wal.OpInsert
	}
	record := &RedoRecord{Op: op, TableOid: table, Slot: slot, Delta: delta}
	txn.mu.Lock()
	txn.redo = append(txn.redo, record)
	txn.mu.Unlock()
	return record
}

// StageDelete appends a delete redo record for the given table and slot.
func (txn *TransactionContext) StageDelete(table catalog.TableOid, slot TupleSlot) *RedoRecord {
	record := &RedoRecord{Op: wal.OpDelete, TableOid: table, Slot: slot}
	txn.mu.Lock()
	txn.redo = append(txn.redo, record)
	txn.mu.Unlock()
	return record
}

// stageSchemaChange appends a schema-change redo record; called by
// SqlTable.UpdateSchema.
func (txn *TransactionContext) stageSchemaChange(table catalog.TableOid, version LayoutVersion) *RedoRecord {
	record := &RedoRecord{Op: wal.OpSchemaChange, TableOid: table, Version: version}
	txn.mu.Lock()
	txn.redo = append(txn.redo, record)
	txn.mu.Unlock()
	return record
}

// LastRedoRecord returns the most recently staged record, or nil.
func (txn *TransactionContext) LastRedoRecord() *RedoRecord {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if len(txn.redo) == 0 {
		return nil
	}
	return txn.redo[len(txn.redo)-1]
}

// RedoRecords returns the staged records in order.
func (txn *TransactionContext) RedoRecords() []*RedoRecord {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	out := make([]*RedoRecord, len(txn.redo))
	copy(out, txn.redo)
	return out
}

func (txn *TransactionContext) recordWrite(slot TupleSlot, node *versionNode) {
	txn.mu.Lock()
	txn.writes = append(txn.writes, txnWrite{slot: slot, node: node})
	txn.mu.Unlock()
}
