package storage

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dd0wney/cluso-tablestore/pkg/logging"
	"github.com/dd0wney/cluso-tablestore/pkg/metrics"
	"github.com/dd0wney/cluso-tablestore/pkg/wal"
)

// TransactionManager hands out snapshot timestamps and drives commit and
// abort. When a redo log is attached, commit serializes the transaction's
// staged records to it before publishing.
type TransactionManager struct {
	ts     atomic.Uint64
	nextID atomic.Uint64

	redoLog *wal.RedoLog
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewTransactionManager builds a manager with no redo log attached.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{}
}

// SetRedoLog attaches a redo log; subsequent commits append their staged
// records to it.
func (m *TransactionManager) SetRedoLog(log *wal.RedoLog) { m.redoLog = log }

// SetLogger attaches a structured logger.
func (m *TransactionManager) SetLogger(logger logging.Logger) { m.logger = logger }

// SetMetrics attaches a metrics registry; redo log appends are recorded
// into it.
func (m *TransactionManager) SetMetrics(registry *metrics.Registry) { m.metrics = registry }

// appendRedo writes one entry to the redo log and records it.
func (m *TransactionManager) appendRedo(op wal.OpType, txnID uint64, data []byte) error {
	if _, err := m.redoLog.Append(op, txnID, data); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordRedoAppend(len(data))
	}
	return nil
}

// Begin starts a transaction reading at the current snapshot.
func (m *TransactionManager) Begin() *TransactionContext {
	return &TransactionContext{
		id:      m.nextID.Add(1),
		startTS: m.ts.Load(),
		mgr:     m,
	}
}

// Commit publishes the transaction's writes at a fresh timestamp. A
// transaction marked must-abort is aborted instead and ErrMustAbort
// returned.
func (m *TransactionManager) Commit(txn *TransactionContext) error {
	txn.mu.Lock()
	if txn.finished {
		txn.mu.Unlock()
		return ErrTransactionFinished
	}
	if txn.mustAbort {
		txn.mu.Unlock()
		m.Abort(txn)
		return ErrMustAbort
	}
	txn.finished = true
	writes := txn.writes
	redo := txn.redo
	txn.mu.Unlock()

	if m.redoLog != nil {
		for _, record := range redo {
			if err := m.appendRedo(record.Op, txn.id, encodeRedoRecord(record)); err != nil {
				return fmt.Errorf("failed to append redo record: %w", err)
			}
		}
		if err := m.appendRedo(wal.OpCommit, txn.id, nil); err != nil {
			return fmt.Errorf("failed to append commit record: %w", err)
		}
		if m.metrics != nil {
			m.metrics.SetRedoCompressionRatio(m.redoLog.Stats().CompressionRatio)
		}
	}

	commitTS := m.ts.Add(1)
	for _, w := range writes {
		rec := &w.slot.block.slots[w.slot.offset]
		rec.mu.Lock()
		w.node.commitTS = commitTS
		w.node.owner = nil
		rec.mu.Unlock()
	}

	if m.logger != nil {
		m.logger.Debug("transaction committed",
			logging.Field{Key: "txn_id", Value: txn.id},
			logging.Field{Key: "commit_ts", Value: commitTS},
			logging.Field{Key: "writes", Value: len(writes)},
		)
	}
	return nil
}

// Abort unwinds the transaction's version chains in reverse write order.
func (m *TransactionManager) Abort(txn *TransactionContext) {
	txn.mu.Lock()
	if txn.finished {
		txn.mu.Unlock()
		return
	}
	txn.finished = true
	writes := txn.writes
	txn.mu.Unlock()

	for i := len(writes) - 1; i >= 0; i-- {
		w := writes[i]
		w.slot.block.slots[w.slot.offset].unlink(w.node)
	}

	if m.redoLog != nil {
		// Abort records let downstream consumers discard staged work; a
		// failure to write one is not fatal to the abort itself.
		if err := m.appendRedo(wal.OpAbort, txn.id, nil); err != nil && m.logger != nil {
			m.logger.Warn("failed to append abort record",
				logging.Field{Key: "txn_id", Value: txn.id},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	if m.logger != nil {
		m.logger.Debug("transaction aborted",
			logging.Field{Key: "txn_id", Value: txn.id},
			logging.Field{Key: "writes_unwound", Value: len(writes)},
		)
	}
}

// encodeRedoRecord serializes a redo record for the log:
// tableOid(4) version(4) block(16) offset(4) updatedBlock(16)
// updatedOffset(4) numCols(2) then per column id(2) null(1) len(4) bytes.
func encodeRedoRecord(record *RedoRecord) []byte {
	size := 4 + 4 + 16 + 4 + 16 + 4 + 2
	if record.Delta != nil {
		for pos := 0; pos < record.Delta.NumColumns(); pos++ {
			size += 2 + 1 + 4 + len(record.Delta.Value(pos))
		}
	}
	buf := make([]byte, 0, size)

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], uint32(record.TableOid))
	buf = append(buf, scratch[:4]...)
	binary.LittleEndian.PutUint32(scratch[:4], uint32(record.Version))
	buf = append(buf, scratch[:4]...)
	buf = appendSlot(buf, record.Slot)
	buf = appendSlot(buf, record.UpdatedSlot)

	if record.Delta == nil {
		buf = append(buf, 0, 0)
		return buf
	}
	binary.LittleEndian.PutUint16(scratch[:2], uint16(record.Delta.NumColumns()))
	buf = append(buf, scratch[:2]...)
	for pos, cid := range record.Delta.ColumnIDs() {
		binary.LittleEndian.PutUint16(scratch[:2], uint16(cid))
		buf = append(buf, scratch[:2]...)
		if record.Delta.IsNull(pos) {
			buf = append(buf, 1, 0, 0, 0, 0)
			continue
		}
		value := record.Delta.Value(pos)
		buf = append(buf, 0)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(value)))
		buf = append(buf, scratch[:4]...)
		buf = append(buf, value...)
	}
	return buf
}

func appendSlot(buf []byte, slot TupleSlot) []byte {
	var scratch [4]byte
	if !slot.Valid() {
		buf = append(buf, make([]byte, 16)...)
		return append(buf, scratch[:]...)
	}
	id := slot.block.ID()
	buf = append(buf, id[:]...)
	binary.LittleEndian.PutUint32(scratch[:], slot.offset)
	return append(buf, scratch[:]...)
}
