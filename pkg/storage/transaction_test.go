package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
	"github.com/dd0wney/cluso-tablestore/pkg/wal"
)

func TestTransaction_CommitTwiceFails(t *testing.T) {
	e := newTestEngine(t, schemaAB())

	txn := e.mgr.Begin()
	e.insertRow(t, txn, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(1, 4),
		2: encodeInt(2, 4),
	})
	e.commit(t, txn)

	if err := e.mgr.Commit(txn); !errors.Is(err, ErrTransactionFinished) {
		t.Errorf("Second commit = %v, want ErrTransactionFinished", err)
	}
}

func TestTransaction_StageWriteOpTypes(t *testing.T) {
	e := newTestEngine(t, schemaAB())
	txn := e.mgr.Begin()

	insert := txn.StageWrite(e.table.Oid(), TupleSlot{}, &ProjectedRow{})
	if insert.Op != wal.OpInsert {
		t.Errorf("StageWrite without slot staged %v, want insert", insert.Op)
	}

	slot := e.insertRow(t, txn, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(1, 4),
		2: encodeInt(2, 4),
	})
	update := txn.StageWrite(e.table.Oid(), slot, &ProjectedRow{})
	if update.Op != wal.OpUpdate {
		t.Errorf("StageWrite with slot staged %v, want update", update.Op)
	}

	del := txn.StageDelete(e.table.Oid(), slot)
	if del.Op != wal.OpDelete {
		t.Errorf("StageDelete staged %v, want delete", del.Op)
	}
	if txn.LastRedoRecord() != del {
		t.Error("LastRedoRecord should be the delete")
	}
	e.mgr.Abort(txn)
}

func TestTransaction_CommitWritesRedoLog(t *testing.T) {
	redoLog, err := wal.Open(filepath.Join(t.TempDir(), "redo"), wal.Options{Compress: true})
	if err != nil {
		t.Fatalf("Failed to open redo log: %v", err)
	}
	defer redoLog.Close()

	e := newTestEngine(t, schemaAB())
	e.mgr.SetRedoLog(redoLog)

	txn := e.mgr.Begin()
	slot := e.insertRow(t, txn, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(1, 4),
		2: encodeInt(2, 4),
	})
	e.commit(t, txn)

	e.updateSchema(t, schemaABWithC(15719), 1)

	txn = e.mgr.Begin()
	if _, err := e.updateColumns(t, txn, slot, 1, map[catalog.ColumnOid][]byte{
		3: encodeInt(42, 4),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	e.commit(t, txn)

	entries, err := redoLog.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	var ops []wal.OpType
	for _, entry := range entries {
		ops = append(ops, entry.Op)
	}
	// txn1: insert, commit. txn2: schema change, commit.
	// txn3 (migration): update, delete, insert, commit — delete strictly
	// before insert.
	want := []wal.OpType{
		wal.OpInsert, wal.OpCommit,
		wal.OpSchemaChange, wal.OpCommit,
		wal.OpUpdate, wal.OpDelete, wal.OpInsert, wal.OpCommit,
	}
	if len(ops) != len(want) {
		t.Fatalf("Redo stream ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("Redo stream ops = %v, want %v", ops, want)
		}
	}
}

func TestTransaction_AbortWritesAbortRecord(t *testing.T) {
	redoLog, err := wal.Open(filepath.Join(t.TempDir(), "redo"), wal.Options{})
	if err != nil {
		t.Fatalf("Failed to open redo log: %v", err)
	}
	defer redoLog.Close()

	e := newTestEngine(t, schemaAB())
	e.mgr.SetRedoLog(redoLog)

	txn := e.mgr.Begin()
	e.insertRow(t, txn, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(1, 4),
		2: encodeInt(2, 4),
	})
	e.mgr.Abort(txn)

	entries, err := redoLog.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Op != wal.OpAbort {
		t.Errorf("Redo stream after abort = %v, want a single abort record", entries)
	}
}
