package storage

import (
	"slices"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
)

// ProjectedRow is a single-tuple materialization buffer: an ordered header
// of physical column ids plus a value slot and null bit per position. The
// header is rewritten in place during cross-version translation and restored
// afterwards, so ColumnIDs exposes the mutable backing slice.
type ProjectedRow struct {
	colIDs []ColumnID
	sizes  []uint16
	values [][]byte
	nulls  []bool
}

// NumColumns returns the number of projection positions.
func (r *ProjectedRow) NumColumns() int { return len(r.colIDs) }

// ColumnIDs returns the mutable projection header.
func (r *ProjectedRow) ColumnIDs() []ColumnID { return r.colIDs }

// AttrSize returns the slot size at the given position (catalog.VarlenColumn
// for variable-length slots).
func (r *ProjectedRow) AttrSize(pos int) uint16 { return r.sizes[pos] }

// IsNull reports whether the slot at the given position is null.
func (r *ProjectedRow) IsNull(pos int) bool { return r.nulls[pos] }

// SetNull marks the slot at the given position null.
func (r *ProjectedRow) SetNull(pos int) { r.nulls[pos] = true }

// Value returns the slot bytes at the given position, or nil if null.
func (r *ProjectedRow) Value(pos int) []byte {
	if r.nulls[pos] {
		return nil
	}
	return r.values[pos]
}

// SetValue stores src into the slot at the given position and clears its
// null bit. Fixed slots are zeroed first and receive at most their width of
// leading bytes; varlen slots take a copy of src whole.
func (r *ProjectedRow) SetValue(pos int, src []byte) {
	r.nulls[pos] = false
	if r.sizes[pos] == catalog.VarlenColumn {
		r.values[pos] = slices.Clone(src)
		return
	}
	copyFixedAttr(r.values[pos], src)
}

// copyFixedAttr zeroes dst, then copies the leading min(len(dst), len(src))
// bytes of src. Values are little-endian, so leading bytes are the low-order
// bytes: a wider destination is zero-extended, a narrower one truncated.
func copyFixedAttr(dst, src []byte) {
	clear(dst)
	copy(dst, src)
}

// ProjectedRowInitializer pre-computes the header and slot sizes for a
// projection so rows can be allocated without consulting the layout again.
// Column ids are kept sorted ascending, which matches physical block order.
type ProjectedRowInitializer struct {
	colIDs []ColumnID
	sizes  []uint16
}

// NewProjectedRowInitializer builds an initializer for the given column ids
// under the given layout.
func NewProjectedRowInitializer(layout BlockLayout, colIDs []ColumnID) ProjectedRowInitializer {
	sorted := slices.Clone(colIDs)
	slices.Sort(sorted)
	sizes := make([]uint16, len(sorted))
	for i, id := range sorted {
		sizes[i] = layout.AttrSize(id)
	}
	return ProjectedRowInitializer{colIDs: sorted, sizes: sizes}
}

// NumColumns returns the number of projection positions.
func (ri ProjectedRowInitializer) NumColumns() int { return len(ri.colIDs) }

// ColumnIDs returns the sorted column ids of the projection.
func (ri ProjectedRowInitializer) ColumnIDs() []ColumnID { return slices.Clone(ri.colIDs) }

// InitializeRow allocates a fresh all-null row for this projection.
func (ri ProjectedRowInitializer) InitializeRow() *ProjectedRow {
	row := &ProjectedRow{
		colIDs: slices.Clone(ri.colIDs),
		sizes:  slices.Clone(ri.sizes),
		values: make([][]byte, len(ri.colIDs)),
		nulls:  make([]bool, len(ri.colIDs)),
	}
	for i, size := range ri.sizes {
		if size != catalog.VarlenColumn {
			row.values[i] = make([]byte, size)
		}
		row.nulls[i] = true
	}
	return row
}

// projectionMapForIDs builds the oid→position map for a sorted id header.
func projectionMapForIDs(colIDs []ColumnID, idToOid ColumnIDToOidMap) ProjectionMap {
	pm := make(ProjectionMap, len(colIDs))
	for pos, id := range colIDs {
		pm[idToOid[id]] = pos
	}
	return pm
}
