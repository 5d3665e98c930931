package storage

import (
	"slices"
	"sync"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
)

// RowBuffer is the materialization surface shared by ProjectedRow and the
// per-tuple views of ProjectedColumns.
type RowBuffer interface {
	NumColumns() int
	ColumnIDs() []ColumnID
	AttrSize(pos int) uint16
	IsNull(pos int) bool
	SetNull(pos int)
	Value(pos int) []byte
	SetValue(pos int, src []byte)
}

// DataTable is the block-level store for one layout version: append-only
// blocks of tuple slots, each slot holding an MVCC version chain. A
// SqlTable owns one DataTable per layout version.
type DataTable struct {
	store         *BlockStore
	layout        BlockLayout
	layoutVersion LayoutVersion

	mu     sync.Mutex
	blocks []*Block
}

// NewDataTable builds an empty data table for the given layout.
func NewDataTable(store *BlockStore, layout BlockLayout, version LayoutVersion) *DataTable {
	dt := &DataTable{store: store, layout: layout, layoutVersion: version}
	dt.blocks = append(dt.blocks, store.allocate(dt))
	return dt
}

// Layout returns the table's block layout.
func (dt *DataTable) Layout() BlockLayout { return dt.layout }

// LayoutVersion returns the layout version this table stores tuples under.
func (dt *DataTable) LayoutVersion() LayoutVersion { return dt.layoutVersion }

// Select materializes the tuple at slot into out as visible to txn. Column
// ids in out's header must be valid in this table's layout or the IGNORE
// sentinel; positions with IGNORE are left untouched and marked null.
// sizeMap overrides the copy width for columns whose stored attribute size
// differs from the projection slot. Returns false if no version of the
// tuple is visible to txn.
func (dt *DataTable) Select(txn *TransactionContext, slot TupleSlot, out RowBuffer, sizeMap AttrSizeMap) bool {
	rec := &slot.block.slots[slot.offset]
	rec.mu.Lock()
	defer rec.mu.Unlock()

	node := rec.visible(txn)
	if node == nil || node.deleted {
		return false
	}
	dt.materialize(node, out, sizeMap)
	return true
}

// Insert stores the projected row as a new tuple owned by txn and returns
// its slot.
func (dt *DataTable) Insert(txn *TransactionContext, row *ProjectedRow) (TupleSlot, error) {
	values := make([][]byte, dt.layout.NumColumns())
	nulls := make([]bool, dt.layout.NumColumns())
	for i := range nulls {
		nulls[i] = true
	}
	node := &versionNode{owner: txn, values: values, nulls: nulls}
	dt.applyDelta(node, row)

	slot := dt.allocateSlot()
	rec := &slot.block.slots[slot.offset]
	rec.mu.Lock()
	rec.chain = node
	rec.mu.Unlock()

	txn.recordWrite(slot, node)
	return slot, nil
}

// Update applies the delta to the tuple at slot as a new version owned by
// txn. The delta's header must already be in this table's column ids.
// Returns false on a write-write conflict or if the tuple is not visible.
func (dt *DataTable) Update(txn *TransactionContext, slot TupleSlot, delta *ProjectedRow) bool {
	rec := &slot.block.slots[slot.offset]
	rec.mu.Lock()
	defer rec.mu.Unlock()

	base, ok := rec.writable(txn)
	if !ok {
		return false
	}

	node := &versionNode{owner: txn, values: cloneValues(base.values), nulls: slices.Clone(base.nulls)}
	dt.applyDelta(node, delta)
	node.next = rec.chain
	rec.chain = node

	txn.recordWrite(slot, node)
	return true
}

// Delete pushes a tombstone version for the tuple at slot. Returns false on
// a write-write conflict or if the tuple is not visible.
func (dt *DataTable) Delete(txn *TransactionContext, slot TupleSlot) bool {
	rec := &slot.block.slots[slot.offset]
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if _, ok := rec.writable(txn); !ok {
		return false
	}

	node := &versionNode{owner: txn, deleted: true, next: rec.chain}
	rec.chain = node

	txn.recordWrite(slot, node)
	return true
}

// SlotIterator walks one data table's slots in insertion order.
type SlotIterator struct {
	dt       *DataTable
	blockIdx int
	slotIdx  uint32
}

// Begin returns an iterator at the table's first slot.
func (dt *DataTable) Begin() SlotIterator {
	return SlotIterator{dt: dt}
}

// DataTable returns the table the iterator walks.
func (it *SlotIterator) DataTable() *DataTable { return it.dt }

// IncrementalScan appends visible tuples to out, starting at the iterator's
// position, until out is full or the table is exhausted. The iterator is
// advanced one past the last slot examined. Returns the number of tuples
// appended and whether the table is exhausted.
func (dt *DataTable) IncrementalScan(txn *TransactionContext, it *SlotIterator, out *ProjectedColumns, sizeMap AttrSizeMap) (int, bool) {
	dt.mu.Lock()
	blocks := dt.blocks
	dt.mu.Unlock()

	filled := 0
	for it.blockIdx < len(blocks) {
		block := blocks[it.blockIdx]
		n := block.inserted.Load()
		for it.slotIdx < n {
			if out.NumTuples() == out.MaxTuples() {
				return filled, false
			}
			slot := TupleSlot{block: block, offset: it.slotIdx}
			it.slotIdx++

			rec := &block.slots[slot.offset]
			rec.mu.Lock()
			node := rec.visible(txn)
			if node == nil || node.deleted {
				rec.mu.Unlock()
				continue
			}
			tuple := out.appendTuple(slot)
			dt.materialize(node, out.Row(tuple), sizeMap)
			rec.mu.Unlock()
			filled++
		}
		if n < uint32(len(block.slots)) {
			// Partially filled tail block; nothing further to visit now.
			return filled, true
		}
		it.blockIdx++
		it.slotIdx = 0
	}
	return filled, true
}

func (dt *DataTable) allocateSlot() TupleSlot {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	block := dt.blocks[len(dt.blocks)-1]
	if block.inserted.Load() == uint32(len(block.slots)) {
		block = dt.store.allocate(dt)
		dt.blocks = append(dt.blocks, block)
	}
	offset := block.inserted.Load()
	block.inserted.Add(1)
	return TupleSlot{block: block, offset: offset}
}

// materialize copies the version's columns into out per out's header.
func (dt *DataTable) materialize(node *versionNode, out RowBuffer, sizeMap AttrSizeMap) {
	for pos, cid := range out.ColumnIDs() {
		if cid == IgnoreColumnID {
			out.SetNull(pos)
			continue
		}
		if node.nulls[cid] {
			out.SetNull(pos)
			continue
		}
		src := node.values[cid]
		if want, ok := sizeMap[cid]; ok && want != catalog.VarlenColumn && int(want) < len(src) {
			// Projection slot is narrower than the stored attribute; keep
			// the low-order bytes that fit. The slot is zeroed on write.
			src = src[:want]
		}
		out.SetValue(pos, src)
	}
}

// applyDelta writes the delta's columns into the version node, sized to
// this table's layout.
func (dt *DataTable) applyDelta(node *versionNode, delta *ProjectedRow) {
	for pos, cid := range delta.ColumnIDs() {
		if cid == IgnoreColumnID {
			continue
		}
		if delta.IsNull(pos) {
			node.nulls[cid] = true
			node.values[cid] = nil
			continue
		}
		src := delta.Value(pos)
		node.nulls[cid] = false
		if dt.layout.IsVarlen(cid) {
			node.values[cid] = slices.Clone(src)
			continue
		}
		buf := make([]byte, dt.layout.AttrSize(cid))
		copyFixedAttr(buf, src)
		node.values[cid] = buf
	}
}

func cloneValues(values [][]byte) [][]byte {
	cloned := make([][]byte, len(values))
	for i, v := range values {
		cloned[i] = slices.Clone(v)
	}
	return cloned
}

// visible returns the newest version visible to txn, or nil. Caller holds
// the slot lock.
func (rec *slotRecord) visible(txn *TransactionContext) *versionNode {
	for node := rec.chain; node != nil; node = node.next {
		if node.visibleTo(txn) {
			return node
		}
	}
	return nil
}

// writable returns the base version a write by txn would build on, or false
// on a write-write conflict, a missing tuple, or a tombstone. Caller holds
// the slot lock.
func (rec *slotRecord) writable(txn *TransactionContext) (*versionNode, bool) {
	head := rec.chain
	if head == nil {
		return nil, false
	}
	if head.owner != nil && head.owner != txn {
		return nil, false
	}
	if head.owner == nil && head.commitTS > txn.startTS {
		return nil, false
	}
	if head.deleted {
		return nil, false
	}
	return head, true
}

// unlink removes the given version from the slot's chain, used by abort.
func (rec *slotRecord) unlink(target *versionNode) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.chain == target {
		rec.chain = target.next
		return
	}
	for node := rec.chain; node != nil; node = node.next {
		if node.next == target {
			node.next = target.next
			return
		}
	}
}
