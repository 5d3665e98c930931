package storage

import (
	"slices"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
)

// ProjectedColumns is the batch counterpart of ProjectedRow: one shared
// header plus per-tuple value slots, filled incrementally by Scan up to its
// capacity.
type ProjectedColumns struct {
	colIDs    []ColumnID
	sizes     []uint16
	maxTuples int

	numTuples int
	values    [][][]byte // [tuple][position]
	nulls     [][]bool
	slots     []TupleSlot
}

// ProjectedColumnsInitializer pre-computes the header and slot sizes for a
// batch projection.
type ProjectedColumnsInitializer struct {
	colIDs    []ColumnID
	sizes     []uint16
	maxTuples int
}

// NewProjectedColumnsInitializer builds a batch initializer for the given
// column ids under the given layout.
func NewProjectedColumnsInitializer(layout BlockLayout, colIDs []ColumnID, maxTuples int) ProjectedColumnsInitializer {
	sorted := slices.Clone(colIDs)
	slices.Sort(sorted)
	sizes := make([]uint16, len(sorted))
	for i, id := range sorted {
		sizes[i] = layout.AttrSize(id)
	}
	return ProjectedColumnsInitializer{colIDs: sorted, sizes: sizes, maxTuples: maxTuples}
}

// Initialize allocates an empty batch buffer for this projection.
func (ci ProjectedColumnsInitializer) Initialize() *ProjectedColumns {
	return &ProjectedColumns{
		colIDs:    slices.Clone(ci.colIDs),
		sizes:     slices.Clone(ci.sizes),
		maxTuples: ci.maxTuples,
		values:    make([][][]byte, 0, ci.maxTuples),
		nulls:     make([][]bool, 0, ci.maxTuples),
		slots:     make([]TupleSlot, 0, ci.maxTuples),
	}
}

// NumColumns returns the number of projection positions.
func (pc *ProjectedColumns) NumColumns() int { return len(pc.colIDs) }

// ColumnIDs returns the mutable shared projection header.
func (pc *ProjectedColumns) ColumnIDs() []ColumnID { return pc.colIDs }

// NumTuples returns the number of tuples materialized so far.
func (pc *ProjectedColumns) NumTuples() int { return pc.numTuples }

// MaxTuples returns the buffer capacity.
func (pc *ProjectedColumns) MaxTuples() int { return pc.maxTuples }

// Reset empties the buffer for reuse.
func (pc *ProjectedColumns) Reset() {
	pc.numTuples = 0
	pc.values = pc.values[:0]
	pc.nulls = pc.nulls[:0]
	pc.slots = pc.slots[:0]
}

// appendTuple reserves the next tuple's slots and records its source slot.
// Returns the new tuple's index.
func (pc *ProjectedColumns) appendTuple(slot TupleSlot) int {
	values := make([][]byte, len(pc.colIDs))
	nulls := make([]bool, len(pc.colIDs))
	for i, size := range pc.sizes {
		if size != catalog.VarlenColumn {
			values[i] = make([]byte, size)
		}
		nulls[i] = true
	}
	pc.values = append(pc.values, values)
	pc.nulls = append(pc.nulls, nulls)
	pc.slots = append(pc.slots, slot)
	pc.numTuples++
	return pc.numTuples - 1
}

// TupleSlot returns the source slot of the tuple at the given index.
func (pc *ProjectedColumns) TupleSlot(tuple int) TupleSlot { return pc.slots[tuple] }

// Row returns a row view over the tuple at the given index. The view shares
// the batch's header and storage.
func (pc *ProjectedColumns) Row(tuple int) *ProjectedColumnsRow {
	return &ProjectedColumnsRow{pc: pc, tuple: tuple}
}

// ProjectedColumnsRow is a single-tuple view into a ProjectedColumns batch.
type ProjectedColumnsRow struct {
	pc    *ProjectedColumns
	tuple int
}

// NumColumns returns the number of projection positions.
func (r *ProjectedColumnsRow) NumColumns() int { return len(r.pc.colIDs) }

// ColumnIDs returns the batch's shared header.
func (r *ProjectedColumnsRow) ColumnIDs() []ColumnID { return r.pc.colIDs }

// AttrSize returns the slot size at the given position.
func (r *ProjectedColumnsRow) AttrSize(pos int) uint16 { return r.pc.sizes[pos] }

// IsNull reports whether the slot at the given position is null.
func (r *ProjectedColumnsRow) IsNull(pos int) bool { return r.pc.nulls[r.tuple][pos] }

// SetNull marks the slot at the given position null.
func (r *ProjectedColumnsRow) SetNull(pos int) { r.pc.nulls[r.tuple][pos] = true }

// Value returns the slot bytes at the given position, or nil if null.
func (r *ProjectedColumnsRow) Value(pos int) []byte {
	if r.pc.nulls[r.tuple][pos] {
		return nil
	}
	return r.pc.values[r.tuple][pos]
}

// SetValue stores src into the slot at the given position and clears its
// null bit, with the same size semantics as ProjectedRow.SetValue.
func (r *ProjectedColumnsRow) SetValue(pos int, src []byte) {
	r.pc.nulls[r.tuple][pos] = false
	if r.pc.sizes[pos] == catalog.VarlenColumn {
		r.pc.values[r.tuple][pos] = slices.Clone(src)
		return
	}
	copyFixedAttr(r.pc.values[r.tuple][pos], src)
}
