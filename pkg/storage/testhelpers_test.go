package storage

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
)

// testEngine bundles the pieces most tests need.
type testEngine struct {
	store *BlockStore
	mgr   *TransactionManager
	table *SqlTable
}

func newTestEngine(t *testing.T, schema *catalog.Schema) *testEngine {
	t.Helper()
	store := NewBlockStore(64)
	table, err := NewSqlTable(store, schema, 1)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return &testEngine{store: store, mgr: NewTransactionManager(), table: table}
}

func (e *testEngine) commit(t *testing.T, txn *TransactionContext) {
	t.Helper()
	if err := e.mgr.Commit(txn); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

// updateSchema registers a new layout version in its own transaction.
func (e *testEngine) updateSchema(t *testing.T, schema *catalog.Schema, version LayoutVersion) {
	t.Helper()
	txn := e.mgr.Begin()
	if err := e.table.UpdateSchema(txn, schema, version); err != nil {
		t.Fatalf("UpdateSchema to version %d failed: %v", version, err)
	}
	e.commit(t, txn)
}

// insertRow inserts one row under the given version; nil values stay null.
func (e *testEngine) insertRow(t *testing.T, txn *TransactionContext, version LayoutVersion, values map[catalog.ColumnOid][]byte) TupleSlot {
	t.Helper()
	schema, err := e.table.GetSchema(version)
	if err != nil {
		t.Fatalf("GetSchema failed: %v", err)
	}
	initializer, pm, err := e.table.InitializerForProjectedRow(schema.Oids(), version)
	if err != nil {
		t.Fatalf("InitializerForProjectedRow failed: %v", err)
	}
	row := initializer.InitializeRow()
	for oid, value := range values {
		if value != nil {
			row.SetValue(pm[oid], value)
		}
	}
	redo := txn.StageWrite(e.table.Oid(), TupleSlot{}, row)
	slot, err := e.table.Insert(txn, redo, version)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return slot
}

// selectRow materializes the full schema projection of a slot at a version.
// Returns nil when the tuple is not visible.
func (e *testEngine) selectRow(t *testing.T, txn *TransactionContext, slot TupleSlot, version LayoutVersion) (map[catalog.ColumnOid][]byte, bool) {
	t.Helper()
	schema, err := e.table.GetSchema(version)
	if err != nil {
		t.Fatalf("GetSchema failed: %v", err)
	}
	initializer, pm, err := e.table.InitializerForProjectedRow(schema.Oids(), version)
	if err != nil {
		t.Fatalf("InitializerForProjectedRow failed: %v", err)
	}
	row := initializer.InitializeRow()
	visible, err := e.table.Select(txn, slot, row, version)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if !visible {
		return nil, false
	}
	out := make(map[catalog.ColumnOid][]byte)
	for oid, pos := range pm {
		if !row.IsNull(pos) {
			out[oid] = row.Value(pos)
		}
	}
	return out, true
}

// updateColumns applies a delta to a slot at a version, returning the
// post-update slot.
func (e *testEngine) updateColumns(t *testing.T, txn *TransactionContext, slot TupleSlot, version LayoutVersion, values map[catalog.ColumnOid][]byte) (TupleSlot, error) {
	t.Helper()
	oids := make([]catalog.ColumnOid, 0, len(values))
	for oid := range values {
		oids = append(oids, oid)
	}
	initializer, pm, err := e.table.InitializerForProjectedRow(oids, version)
	if err != nil {
		t.Fatalf("InitializerForProjectedRow failed: %v", err)
	}
	delta := initializer.InitializeRow()
	for oid, value := range values {
		if value != nil {
			delta.SetValue(pm[oid], value)
		}
	}
	redo := txn.StageWrite(e.table.Oid(), slot, delta)
	return e.table.Update(txn, redo, version)
}

func encodeInt(v int64, attrSize uint16) []byte {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(v))
	out := make([]byte, attrSize)
	copy(out, scratch[:])
	return out
}

func decodeInt(b []byte) int64 {
	var scratch [8]byte
	copy(scratch[:], b)
	return int64(binary.LittleEndian.Uint64(scratch[:]))
}

func expectValue(t *testing.T, row map[catalog.ColumnOid][]byte, oid catalog.ColumnOid, want []byte) {
	t.Helper()
	got, ok := row[oid]
	if !ok {
		t.Fatalf("Column %d is null, want %v", oid, want)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Column %d = %v, want %v", oid, got, want)
	}
}

// schemaAB is the two-integer-column base schema used across tests.
func schemaAB() *catalog.Schema {
	return catalog.MustNewSchema([]catalog.Column{
		catalog.NewColumn("a", catalog.TypeInteger, false, 1),
		catalog.NewColumn("b", catalog.TypeInteger, false, 2),
	})
}

// schemaABWithC extends schemaAB with integer column c defaulting to defaultC.
func schemaABWithC(defaultC int64) *catalog.Schema {
	return catalog.MustNewSchema([]catalog.Column{
		catalog.NewColumn("a", catalog.TypeInteger, false, 1),
		catalog.NewColumn("b", catalog.TypeInteger, false, 2),
		catalog.NewColumnWithDefault("c", catalog.TypeInteger, false, 3,
			catalog.IntConstant(defaultC, catalog.TypeInteger.AttrSize())),
	})
}
