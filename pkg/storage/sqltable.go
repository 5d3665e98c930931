package storage

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
	"github.com/dd0wney/cluso-tablestore/pkg/logging"
	"github.com/dd0wney/cluso-tablestore/pkg/metrics"
)

// dataTableVersion bundles everything the SqlTable needs to talk to one
// layout version's data table. Immutable after registration; the read path
// takes no locks on it.
type dataTableVersion struct {
	dataTable *DataTable
	layout    BlockLayout
	oidToID   ColumnOidToIDMap
	idToOid   ColumnIDToOidMap
	schema    *catalog.Schema
	defaults  map[catalog.ColumnOid]catalog.ConstantValue
}

// SqlTable presents one logical table whose schema evolves over time. It
// owns one DataTable per layout version and translates between logical
// column oids and each version's physical column ids. Tuples written under
// an old layout are readable under any newer one, and migrate to a newer
// layout lazily when an update touches a column their version lacks.
type SqlTable struct {
	oid   catalog.TableOid
	name  string
	store *BlockStore

	// Fixed-capacity registry; entries are written before numVersions is
	// advanced, so readers that snapshot the count see initialized entries
	// only.
	tables      [MaxNumVersions]*dataTableVersion
	numVersions atomic.Uint32
	schemaMu    sync.Mutex

	logger  logging.Logger
	metrics *metrics.Registry
}

// TableConfig carries optional wiring for a SqlTable.
type TableConfig struct {
	Name    string
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// NewSqlTable constructs a table with the given initial schema as layout
// version 0.
func NewSqlTable(store *BlockStore, schema *catalog.Schema, oid catalog.TableOid) (*SqlTable, error) {
	return NewSqlTableWithConfig(store, schema, oid, TableConfig{})
}

// NewSqlTableWithConfig constructs a table with optional logging and
// metrics attached.
func NewSqlTableWithConfig(store *BlockStore, schema *catalog.Schema, oid catalog.TableOid, config TableConfig) (*SqlTable, error) {
	name := config.Name
	if name == "" {
		name = fmt.Sprintf("table_%d", oid)
	}
	t := &SqlTable{
		oid:     oid,
		name:    name,
		store:   store,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
	dv, err := t.createTableVersion(schema, 0)
	if err != nil {
		return nil, err
	}
	t.tables[0] = dv
	t.numVersions.Store(1)
	if t.metrics != nil {
		t.metrics.SetSchemaVersionCount(t.name, 1)
	}
	return t, nil
}

// Oid returns the table's catalog identity.
func (t *SqlTable) Oid() catalog.TableOid { return t.oid }

// Name returns the table's display name.
func (t *SqlTable) Name() string { return t.name }

// version resolves a layout version against the registry snapshot.
func (t *SqlTable) version(v LayoutVersion) (*dataTableVersion, error) {
	if uint32(v) >= t.numVersions.Load() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, v)
	}
	return t.tables[v], nil
}

// Select materializes the tuple at slot into out as visible to txn, seen
// through the given layout version. out's header must hold column ids valid
// in that version. Returns whether the tuple is visible.
func (t *SqlTable) Select(txn *TransactionContext, slot TupleSlot, out *ProjectedRow, version LayoutVersion) (bool, error) {
	start := time.Now()
	visible, err := t.selectInto(txn, slot, out, version)
	t.record("select", start, err)
	return visible, err
}

func (t *SqlTable) selectInto(txn *TransactionContext, slot TupleSlot, out *ProjectedRow, version LayoutVersion) (bool, error) {
	desired, err := t.version(version)
	if err != nil {
		return false, err
	}
	tupleVersion := slot.TupleVersion()
	if tupleVersion > version {
		return false, fmt.Errorf("%w: tuple %d, desired %d", ErrVersionSkew, tupleVersion, version)
	}

	if tupleVersion == version {
		return desired.dataTable.Select(txn, slot, out, nil), nil
	}

	tuple := t.tables[tupleVersion]
	scratch := getScratchHeader(out.NumColumns())
	defer putScratchHeader(scratch)

	missing, sizeMap, err := alignHeaderToVersion(out.ColumnIDs(), tuple, desired, scratch)
	if err != nil {
		restoreHeader(out.ColumnIDs(), scratch)
		return false, err
	}
	visible := tuple.dataTable.Select(txn, slot, out, sizeMap)
	restoreHeader(out.ColumnIDs(), scratch)

	if visible {
		t.fillMissingColumns(out, missing, tupleVersion, version)
	}
	return visible, nil
}

// Update applies the staged redo record's delta to its tuple, seen through
// the given layout version. If the delta touches a column the tuple's
// version lacks, the tuple migrates: it is deleted from its version's data
// table and reinserted under the desired version, and the returned slot
// differs from the original. Any underlying failure marks the transaction
// must-abort.
func (t *SqlTable) Update(txn *TransactionContext, redo *RedoRecord, version LayoutVersion) (TupleSlot, error) {
	start := time.Now()
	slot, err := t.update(txn, redo, version)
	t.record("update", start, err)
	return slot, err
}

func (t *SqlTable) update(txn *TransactionContext, redo *RedoRecord, version LayoutVersion) (TupleSlot, error) {
	desired, err := t.version(version)
	if err != nil {
		return TupleSlot{}, err
	}
	if redo.Delta == nil || !redo.Slot.Valid() {
		return TupleSlot{}, ErrStaleRedoRecord
	}
	tupleVersion := redo.Slot.TupleVersion()
	if tupleVersion > version {
		return TupleSlot{}, fmt.Errorf("%w: tuple %d, desired %d", ErrVersionSkew, tupleVersion, version)
	}

	if tupleVersion == version {
		if !desired.dataTable.Update(txn, redo.Slot, redo.Delta) {
			txn.SetMustAbort()
			return TupleSlot{}, ErrWriteConflict
		}
		redo.UpdatedSlot = redo.Slot
		return redo.Slot, nil
	}

	tuple := t.tables[tupleVersion]
	scratch := getScratchHeader(redo.Delta.NumColumns())
	defer putScratchHeader(scratch)

	missing, _, err := alignHeaderToVersion(redo.Delta.ColumnIDs(), tuple, desired, scratch)
	if err != nil {
		restoreHeader(redo.Delta.ColumnIDs(), scratch)
		return TupleSlot{}, err
	}

	if len(missing) == 0 {
		// Every touched column exists in the tuple's version; update in
		// place in the old data table.
		ok := tuple.dataTable.Update(txn, redo.Slot, redo.Delta)
		restoreHeader(redo.Delta.ColumnIDs(), scratch)
		if !ok {
			txn.SetMustAbort()
			return TupleSlot{}, ErrWriteConflict
		}
		redo.UpdatedSlot = redo.Slot
		return redo.Slot, nil
	}

	// The delta touches columns the tuple's version lacks: migrate.
	restoreHeader(redo.Delta.ColumnIDs(), scratch)
	return t.migrate(txn, redo, desired, tupleVersion, version)
}

// migrate moves the tuple to the desired version: materialize it fully
// (defaults included), delete it from its old data table, apply the delta,
// and insert the result into the desired version's data table. The delete
// is staged and executed before the insert so the version chain for the
// tuple stays acyclic in the redo stream.
func (t *SqlTable) migrate(txn *TransactionContext, redo *RedoRecord, desired *dataTableVersion, tupleVersion, version LayoutVersion) (TupleSlot, error) {
	initializer := NewProjectedRowInitializer(desired.layout, desired.layout.AllColumnIDs())
	row := initializer.InitializeRow()

	visible, err := t.selectInto(txn, redo.Slot, row, version)
	if err != nil {
		return TupleSlot{}, err
	}
	if !visible {
		txn.SetMustAbort()
		return TupleSlot{}, ErrWriteConflict
	}

	txn.StageDelete(t.oid, redo.Slot)
	if !t.tables[tupleVersion].dataTable.Delete(txn, redo.Slot) {
		txn.SetMustAbort()
		return TupleSlot{}, ErrWriteConflict
	}

	applyDeltaToRow(row, redo.Delta)

	insertRedo := txn.StageWrite(t.oid, TupleSlot{}, row)
	insertRedo.Version = version
	newSlot, err := desired.dataTable.Insert(txn, row)
	if err != nil {
		txn.SetMustAbort()
		return TupleSlot{}, err
	}
	insertRedo.Slot = newSlot
	insertRedo.UpdatedSlot = newSlot
	redo.UpdatedSlot = newSlot

	if t.metrics != nil {
		t.metrics.RecordTupleMigration(t.name)
	}
	if t.logger != nil {
		t.logger.Debug("tuple migrated",
			logging.Field{Key: "table", Value: t.name},
			logging.Field{Key: "from_version", Value: uint32(tupleVersion)},
			logging.Field{Key: "to_version", Value: uint32(version)},
		)
	}
	return newSlot, nil
}

// applyDeltaToRow overlays the delta onto a full-projection row; both are
// in the same version's column ids.
func applyDeltaToRow(row *ProjectedRow, delta *ProjectedRow) {
	for pos, cid := range delta.ColumnIDs() {
		idx, found := slices.BinarySearch(row.ColumnIDs(), cid)
		if !found {
			continue
		}
		if delta.IsNull(pos) {
			row.SetNull(idx)
			continue
		}
		row.SetValue(idx, delta.Value(pos))
	}
}

// Insert stores the staged redo record's delta as a new tuple in the given
// layout version's data table and writes the assigned slot back into the
// record.
func (t *SqlTable) Insert(txn *TransactionContext, redo *RedoRecord, version LayoutVersion) (TupleSlot, error) {
	start := time.Now()
	slot, err := t.insert(txn, redo, version)
	t.record("insert", start, err)
	return slot, err
}

func (t *SqlTable) insert(txn *TransactionContext, redo *RedoRecord, version LayoutVersion) (TupleSlot, error) {
	desired, err := t.version(version)
	if err != nil {
		return TupleSlot{}, err
	}
	if redo.Slot.Valid() {
		return TupleSlot{}, ErrSlotOccupied
	}
	if redo.Delta == nil {
		return TupleSlot{}, ErrStaleRedoRecord
	}

	slot, err := desired.dataTable.Insert(txn, redo.Delta)
	if err != nil {
		txn.SetMustAbort()
		return TupleSlot{}, err
	}
	redo.Slot = slot
	redo.UpdatedSlot = slot
	redo.Version = version
	return slot, nil
}

// Delete removes the tuple at slot from its own version's data table; the
// desired version is irrelevant to deletes. StageDelete must have been
// called immediately before. Failure marks the transaction must-abort.
func (t *SqlTable) Delete(txn *TransactionContext, slot TupleSlot) error {
	start := time.Now()
	err := t.delete(txn, slot)
	t.record("delete", start, err)
	return err
}

func (t *SqlTable) delete(txn *TransactionContext, slot TupleSlot) error {
	last := txn.LastRedoRecord()
	if last == nil {
		return ErrEmptyRedoBuffer
	}
	if last.Slot != slot {
		return ErrStaleRedoRecord
	}

	tupleVersion := slot.TupleVersion()
	if !t.tables[tupleVersion].dataTable.Delete(txn, slot) {
		// The transaction must abort so the MVCC layer can unwind the
		// version chain correctly.
		txn.SetMustAbort()
		return ErrWriteConflict
	}
	return nil
}

// TableIterator tracks a scan's position across the table's data tables.
type TableIterator struct {
	version LayoutVersion
	slot    SlotIterator
}

// Version returns the layout version the iterator is currently in.
func (it *TableIterator) Version() LayoutVersion { return it.version }

// Begin returns an iterator at the first slot of the oldest data table.
// Scans started here visit every live tuple exactly once.
func (t *SqlTable) Begin() TableIterator {
	return TableIterator{version: 0, slot: t.tables[0].dataTable.Begin()}
}

// Scan materializes visible tuples into out, starting at the iterator's
// position and walking data tables in version order up to the given layout
// version, until out is full or the table is exhausted. Tuples stored under
// older layouts are translated and default-filled. A tuple migrating
// during a concurrent scan may be seen twice or not at all; deterministic
// scans must start from Begin.
func (t *SqlTable) Scan(txn *TransactionContext, it *TableIterator, out *ProjectedColumns, version LayoutVersion) error {
	start := time.Now()
	err := t.scan(txn, it, out, version)
	t.record("scan", start, err)
	return err
}

func (t *SqlTable) scan(txn *TransactionContext, it *TableIterator, out *ProjectedColumns, version LayoutVersion) error {
	desired, err := t.version(version)
	if err != nil {
		return err
	}

	for it.version <= version {
		dv := t.tables[it.version]
		if it.slot.dt != dv.dataTable {
			// First visit to this version's data table (its layout may have
			// been registered after the iterator last advanced).
			it.slot = dv.dataTable.Begin()
		}

		var exhausted bool
		if it.version == version {
			_, exhausted = dv.dataTable.IncrementalScan(txn, &it.slot, out, nil)
		} else {
			startRow := out.NumTuples()
			scratch := getScratchHeader(out.NumColumns())
			missing, sizeMap, alignErr := alignHeaderToVersion(out.ColumnIDs(), dv, desired, scratch)
			if alignErr != nil {
				restoreHeader(out.ColumnIDs(), scratch)
				putScratchHeader(scratch)
				return alignErr
			}
			_, exhausted = dv.dataTable.IncrementalScan(txn, &it.slot, out, sizeMap)
			restoreHeader(out.ColumnIDs(), scratch)
			putScratchHeader(scratch)

			for row := startRow; row < out.NumTuples(); row++ {
				t.fillMissingColumns(out.Row(row), missing, it.version, version)
			}
		}

		if !exhausted {
			// Buffer full; the iterator stays put for the next call.
			return nil
		}
		it.version++
		if it.version <= version {
			it.slot = t.tables[it.version].dataTable.Begin()
		}
	}
	return nil
}

func (t *SqlTable) record(operation string, start time.Time, err error) {
	if t.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.metrics.RecordTableOperation(operation, status, time.Since(start))
}
