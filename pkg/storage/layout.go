package storage

import (
	"fmt"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
)

// BlockLayout describes the physical shape of one layout version: the
// attribute size of every physical column, reserved prefix included.
// Immutable after construction.
type BlockLayout struct {
	attrSizes []uint16
}

// NumColumns returns the number of physical columns, reserved included.
func (l BlockLayout) NumColumns() int { return len(l.attrSizes) }

// AttrSize returns the attribute size of the given physical column.
func (l BlockLayout) AttrSize(id ColumnID) uint16 { return l.attrSizes[id] }

// IsVarlen reports whether the given physical column is variable-length.
func (l BlockLayout) IsVarlen(id ColumnID) bool {
	return l.attrSizes[id] == catalog.VarlenColumn
}

// AllColumnIDs returns every non-reserved physical column id in the layout.
func (l BlockLayout) AllColumnIDs() []ColumnID {
	ids := make([]ColumnID, 0, len(l.attrSizes)-NumReservedColumns)
	for i := NumReservedColumns; i < len(l.attrSizes); i++ {
		ids = append(ids, ColumnID(i))
	}
	return ids
}

// computeBaseAttributeOffsets computes the first physical id of each size
// class, given the full attribute size list (reserved prefix included).
// Class order is varlen, 8, 4, 2, 1; reserved columns occupy the ids below
// the varlen base.
func computeBaseAttributeOffsets(attrSizes []uint16, numReserved int) ([5]uint16, error) {
	var counts [5]int
	for _, size := range attrSizes[numReserved:] {
		switch size {
		case catalog.VarlenColumn:
			counts[0]++
		case 8:
			counts[1]++
		case 4:
			counts[2]++
		case 2:
			counts[3]++
		case 1:
			counts[4]++
		default:
			return [5]uint16{}, fmt.Errorf("%w: %d bytes", ErrUnsupportedAttrSize, size)
		}
	}

	var offsets [5]uint16
	offsets[0] = uint16(numReserved)
	for i := 1; i < 5; i++ {
		offsets[i] = offsets[i-1] + uint16(counts[i-1])
	}
	return offsets, nil
}

// buildBlockLayout buckets the schema's columns into the five size classes
// and assigns physical ids in enumeration order within each class. Returns
// the block layout together with both directional column maps.
func buildBlockLayout(schema *catalog.Schema) (BlockLayout, ColumnOidToIDMap, ColumnIDToOidMap, error) {
	attrSizes := make([]uint16, 0, NumReservedColumns+schema.NumColumns())
	for i := 0; i < NumReservedColumns; i++ {
		attrSizes = append(attrSizes, 8)
	}
	for _, col := range schema.Columns() {
		attrSizes = append(attrSizes, col.AttrSize())
	}

	offsets, err := computeBaseAttributeOffsets(attrSizes, NumReservedColumns)
	if err != nil {
		return BlockLayout{}, nil, nil, err
	}

	oidToID := make(ColumnOidToIDMap, schema.NumColumns())
	idToOid := make(ColumnIDToOidMap, schema.NumColumns())
	sorted := make([]uint16, len(attrSizes))
	copy(sorted, attrSizes[:NumReservedColumns])

	for _, col := range schema.Columns() {
		var class int
		switch col.AttrSize() {
		case catalog.VarlenColumn:
			class = 0
		case 8:
			class = 1
		case 4:
			class = 2
		case 2:
			class = 3
		case 1:
			class = 4
		}
		id := ColumnID(offsets[class])
		offsets[class]++
		oidToID[col.Oid] = id
		idToOid[id] = col.Oid
		sorted[id] = col.AttrSize()
	}

	return BlockLayout{attrSizes: sorted}, oidToID, idToOid, nil
}
