package storage

import (
	"errors"
	"math"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
)

// ColumnID is a physical column slot within one block layout. It is not
// stable across layout versions; the stable identity is catalog.ColumnOid.
type ColumnID uint16

// LayoutVersion identifies an immutable physical layout of a table. Versions
// are dense, starting at 0 and growing by one per schema change.
type LayoutVersion uint32

const (
	// MaxNumVersions caps the number of layout versions a table may hold.
	// Shared by all tables; the registry is sized to it at construction.
	MaxNumVersions = 4

	// NumReservedColumns is the fixed prefix of reserved 8-byte columns in
	// every block layout.
	NumReservedColumns = 1

	// VersionPointerColumnID is the reserved slot holding the MVCC version
	// pointer. It must never appear in a projection header.
	VersionPointerColumnID ColumnID = 0

	// IgnoreColumnID tells the data table to skip a projection position,
	// leaving the slot untouched and marked null.
	IgnoreColumnID ColumnID = math.MaxUint16
)

var (
	// ErrUnknownVersion is returned when a caller names a layout version the
	// registry does not hold. Caller bug; abort the transaction.
	ErrUnknownVersion = errors.New("unknown layout version")

	// ErrVersionSkew is returned when a tuple's version exceeds the desired
	// version. Caller bug; the iterator or snapshot leaked a newer tuple.
	ErrVersionSkew = errors.New("tuple version newer than desired version")

	// ErrAtCapacity is returned when a schema change would exceed
	// MaxNumVersions. Recoverable; the registry is left unchanged.
	ErrAtCapacity = errors.New("layout version registry at capacity")

	// ErrUnsupportedAttrSize is returned when a schema column's attribute
	// size is outside the five known classes.
	ErrUnsupportedAttrSize = errors.New("unsupported attribute size")

	// ErrUnsupportedDefault is returned when a column default is not a
	// constant expression.
	ErrUnsupportedDefault = errors.New("unsupported non-constant default")

	// ErrUnsupportedAttrChange is returned when the same column changes
	// between a varlen and a fixed size class across versions. Only
	// fixed-to-fixed widening has defined byte semantics.
	ErrUnsupportedAttrChange = errors.New("unsupported attribute size-class change")

	// ErrWriteConflict is returned when the underlying data table refuses a
	// write. The transaction has been marked must-abort.
	ErrWriteConflict = errors.New("write-write conflict")

	// ErrSlotOccupied is returned when an insert is staged against a redo
	// record that already carries a slot.
	ErrSlotOccupied = errors.New("redo record slot already assigned")
)

// TupleSlot names a physical record: a block and an offset within it. The
// block's data table carries the layout version the tuple was written under.
type TupleSlot struct {
	block  *Block
	offset uint32
}

// Valid reports whether the slot names a record.
func (s TupleSlot) Valid() bool { return s.block != nil }

// Block returns the block holding the tuple.
func (s TupleSlot) Block() *Block { return s.block }

// Offset returns the slot index within the block.
func (s TupleSlot) Offset() uint32 { return s.offset }

// TupleVersion returns the layout version the tuple was physically written
// under.
func (s TupleSlot) TupleVersion() LayoutVersion {
	return s.block.dataTable.layoutVersion
}

// ColumnOidToIDMap maps logical column oids to physical ids for one layout.
type ColumnOidToIDMap map[catalog.ColumnOid]ColumnID

// ColumnIDToOidMap is the inverse of ColumnOidToIDMap.
type ColumnIDToOidMap map[ColumnID]catalog.ColumnOid

// AttrSizeMap overrides the materialization size for tuple-version column
// ids whose attribute size differs from the projection buffer's.
type AttrSizeMap map[ColumnID]uint16

// ProjectionMap maps a column oid to its position within a projection.
type ProjectionMap map[catalog.ColumnOid]int
