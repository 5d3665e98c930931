package storage

import (
	"errors"
	"sync"
	"testing"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
)

func TestDataTable_WriteWriteConflict(t *testing.T) {
	e := newTestEngine(t, schemaAB())

	setup := e.mgr.Begin()
	slot := e.insertRow(t, setup, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(1, 4),
		2: encodeInt(2, 4),
	})
	e.commit(t, setup)

	first := e.mgr.Begin()
	second := e.mgr.Begin()

	if _, err := e.updateColumns(t, first, slot, 0, map[catalog.ColumnOid][]byte{
		2: encodeInt(20, 4),
	}); err != nil {
		t.Fatalf("First update failed: %v", err)
	}

	// The second writer hits the first's uncommitted version.
	if _, err := e.updateColumns(t, second, slot, 0, map[catalog.ColumnOid][]byte{
		2: encodeInt(30, 4),
	}); !errors.Is(err, ErrWriteConflict) {
		t.Errorf("Concurrent update = %v, want ErrWriteConflict", err)
	}
	if !second.MustAbort() {
		t.Error("Conflicting transaction should be marked must-abort")
	}
	if err := e.mgr.Commit(second); !errors.Is(err, ErrMustAbort) {
		t.Errorf("Commit of must-abort transaction = %v, want ErrMustAbort", err)
	}

	e.commit(t, first)

	check := e.mgr.Begin()
	row, visible := e.selectRow(t, check, slot, 0)
	if !visible {
		t.Fatal("Row not visible after conflict resolution")
	}
	expectValue(t, row, 2, encodeInt(20, 4))
	e.commit(t, check)
}

func TestDataTable_AbortUnwindsVersions(t *testing.T) {
	e := newTestEngine(t, schemaAB())

	setup := e.mgr.Begin()
	slot := e.insertRow(t, setup, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(1, 4),
		2: encodeInt(2, 4),
	})
	e.commit(t, setup)

	txn := e.mgr.Begin()
	if _, err := e.updateColumns(t, txn, slot, 0, map[catalog.ColumnOid][]byte{
		2: encodeInt(99, 4),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	inserted := e.insertRow(t, txn, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(100, 4),
		2: encodeInt(200, 4),
	})
	e.mgr.Abort(txn)

	check := e.mgr.Begin()
	row, visible := e.selectRow(t, check, slot, 0)
	if !visible {
		t.Fatal("Original row lost after abort")
	}
	expectValue(t, row, 2, encodeInt(2, 4))
	if _, visible := e.selectRow(t, check, inserted, 0); visible {
		t.Error("Aborted insert should not be visible")
	}
	e.commit(t, check)
}

func TestDataTable_SnapshotIsolation(t *testing.T) {
	e := newTestEngine(t, schemaAB())

	setup := e.mgr.Begin()
	slot := e.insertRow(t, setup, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(1, 4),
		2: encodeInt(2, 4),
	})
	e.commit(t, setup)

	reader := e.mgr.Begin()

	writer := e.mgr.Begin()
	if _, err := e.updateColumns(t, writer, slot, 0, map[catalog.ColumnOid][]byte{
		2: encodeInt(50, 4),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	e.commit(t, writer)

	// The reader's snapshot predates the writer's commit.
	row, visible := e.selectRow(t, reader, slot, 0)
	if !visible {
		t.Fatal("Row not visible to reader")
	}
	expectValue(t, row, 2, encodeInt(2, 4))
	e.commit(t, reader)

	late := e.mgr.Begin()
	row, visible = e.selectRow(t, late, slot, 0)
	if !visible {
		t.Fatal("Row not visible to late reader")
	}
	expectValue(t, row, 2, encodeInt(50, 4))
	e.commit(t, late)
}

func TestDataTable_OwnWritesVisible(t *testing.T) {
	e := newTestEngine(t, schemaAB())

	txn := e.mgr.Begin()
	slot := e.insertRow(t, txn, 0, map[catalog.ColumnOid][]byte{
		1: encodeInt(1, 4),
		2: encodeInt(2, 4),
	})
	row, visible := e.selectRow(t, txn, slot, 0)
	if !visible {
		t.Fatal("Transaction cannot see its own insert")
	}
	expectValue(t, row, 1, encodeInt(1, 4))

	// Not visible to a concurrent transaction.
	other := e.mgr.Begin()
	if _, visible := e.selectRow(t, other, slot, 0); visible {
		t.Error("Uncommitted insert visible to another transaction")
	}
	e.commit(t, other)
	e.commit(t, txn)
}

func TestDataTable_BlockOverflow(t *testing.T) {
	// Slot capacity 64 per test engine; insert past several blocks.
	e := newTestEngine(t, schemaAB())

	txn := e.mgr.Begin()
	const rows = 200
	for i := 0; i < rows; i++ {
		e.insertRow(t, txn, 0, map[catalog.ColumnOid][]byte{
			1: encodeInt(int64(i), 4),
			2: encodeInt(int64(i), 4),
		})
	}
	e.commit(t, txn)

	if e.store.BlocksAllocated() < rows/64 {
		t.Errorf("BlocksAllocated = %d, want at least %d", e.store.BlocksAllocated(), rows/64)
	}

	initializer, pm, err := e.table.InitializerForProjectedColumns([]catalog.ColumnOid{1}, rows+8, 0)
	if err != nil {
		t.Fatalf("InitializerForProjectedColumns failed: %v", err)
	}
	txn = e.mgr.Begin()
	it := e.table.Begin()
	batch := initializer.Initialize()
	if err := e.table.Scan(txn, &it, batch, 0); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if batch.NumTuples() != rows {
		t.Fatalf("Scan returned %d tuples, want %d", batch.NumTuples(), rows)
	}
	for i := 0; i < rows; i++ {
		if got := decodeInt(batch.Row(i).Value(pm[1])); got != int64(i) {
			t.Errorf("Tuple %d: a = %d, want %d", i, got, i)
		}
	}
	e.commit(t, txn)
}

func TestDataTable_ConcurrentInserts(t *testing.T) {
	e := newTestEngine(t, schemaAB())

	initializerRow, pm, err := e.table.InitializerForProjectedRow([]catalog.ColumnOid{1, 2}, 0)
	if err != nil {
		t.Fatalf("InitializerForProjectedRow failed: %v", err)
	}

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			txn := e.mgr.Begin()
			for i := 0; i < perWorker; i++ {
				row := initializerRow.InitializeRow()
				row.SetValue(pm[1], encodeInt(int64(worker), 4))
				row.SetValue(pm[2], encodeInt(int64(i), 4))
				redo := txn.StageWrite(e.table.Oid(), TupleSlot{}, row)
				if _, err := e.table.Insert(txn, redo, 0); err != nil {
					t.Errorf("Insert failed: %v", err)
					return
				}
			}
			if err := e.mgr.Commit(txn); err != nil {
				t.Errorf("Commit failed: %v", err)
			}
		}(w)
	}
	wg.Wait()

	initializer, _, err := e.table.InitializerForProjectedColumns([]catalog.ColumnOid{1}, workers*perWorker+8, 0)
	if err != nil {
		t.Fatalf("InitializerForProjectedColumns failed: %v", err)
	}
	txn := e.mgr.Begin()
	it := e.table.Begin()
	batch := initializer.Initialize()
	if err := e.table.Scan(txn, &it, batch, 0); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if batch.NumTuples() != workers*perWorker {
		t.Errorf("Scan returned %d tuples, want %d", batch.NumTuples(), workers*perWorker)
	}
	e.commit(t, txn)
}
