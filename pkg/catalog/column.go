package catalog

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ColumnOid is the stable logical identity of a column. It is assigned once
// by the catalog and survives layout changes and renames.
type ColumnOid uint32

// TypeID enumerates the SQL value types the storage layer can hold.
type TypeID uint8

const (
	TypeBoolean TypeID = iota
	TypeTinyInt
	TypeSmallInt
	TypeInteger
	TypeDate
	TypeBigInt
	TypeDecimal
	TypeTimestamp
	TypeVarchar
	TypeVarbinary
)

// VarlenColumn is the attribute-size sentinel for variable-length columns.
const VarlenColumn uint16 = math.MaxUint16

// AttrSize returns the physical attribute size of the type: one of the five
// size classes (1, 2, 4, 8, VarlenColumn).
func (t TypeID) AttrSize() uint16 {
	switch t {
	case TypeBoolean, TypeTinyInt:
		return 1
	case TypeSmallInt:
		return 2
	case TypeInteger, TypeDate:
		return 4
	case TypeBigInt, TypeDecimal, TypeTimestamp:
		return 8
	case TypeVarchar, TypeVarbinary:
		return VarlenColumn
	default:
		return 0
	}
}

// String returns the SQL name of the type.
func (t TypeID) String() string {
	switch t {
	case TypeBoolean:
		return "BOOLEAN"
	case TypeTinyInt:
		return "TINYINT"
	case TypeSmallInt:
		return "SMALLINT"
	case TypeInteger:
		return "INTEGER"
	case TypeDate:
		return "DATE"
	case TypeBigInt:
		return "BIGINT"
	case TypeDecimal:
		return "DECIMAL"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeVarchar:
		return "VARCHAR"
	case TypeVarbinary:
		return "VARBINARY"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Expression is a stored expression attached to a column, e.g. a default.
// Only constant expressions are admissible as defaults at this layer.
type Expression interface {
	Constant() bool
}

// ConstantValue is a constant expression holding the raw little-endian bytes
// of the value, or the null marker.
type ConstantValue struct {
	Null  bool
	Bytes []byte
}

// Constant reports that a ConstantValue is constant.
func (ConstantValue) Constant() bool { return true }

// NullConstant returns the constant null marker.
func NullConstant() ConstantValue { return ConstantValue{Null: true} }

// IntConstant returns a constant holding v encoded little-endian at the
// given attribute size.
func IntConstant(v int64, attrSize uint16) ConstantValue {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(v))
	b := make([]byte, attrSize)
	copy(b, scratch[:])
	return ConstantValue{Bytes: b}
}

// BytesConstant returns a constant holding a varlen value.
func BytesConstant(b []byte) ConstantValue {
	c := make([]byte, len(b))
	copy(c, b)
	return ConstantValue{Bytes: c}
}

// FunctionCall is a non-constant stored expression. The storage layer
// rejects it as a default; it exists so callers get a deterministic
// unsupported error instead of a silently null column.
type FunctionCall struct {
	Name string
	Args []Expression
}

// Constant reports that a FunctionCall is not constant.
func (FunctionCall) Constant() bool { return false }

// Column describes a single column of a schema snapshot.
type Column struct {
	Name     string
	Type     TypeID
	Nullable bool
	Oid      ColumnOid

	// attrSize is normally derived from Type; tests may override it to an
	// unsupported value through NewColumnWithSize.
	attrSize uint16

	// StoredExpression is the column default, if any.
	StoredExpression Expression
}

// NewColumn builds a column whose attribute size is derived from its type.
func NewColumn(name string, typ TypeID, nullable bool, oid ColumnOid) Column {
	return Column{Name: name, Type: typ, Nullable: nullable, Oid: oid, attrSize: typ.AttrSize()}
}

// NewColumnWithDefault builds a column carrying a stored default expression.
func NewColumnWithDefault(name string, typ TypeID, nullable bool, oid ColumnOid, def Expression) Column {
	c := NewColumn(name, typ, nullable, oid)
	c.StoredExpression = def
	return c
}

// NewColumnWithSize builds a column with an explicit attribute size,
// bypassing the type mapping.
func NewColumnWithSize(name string, typ TypeID, nullable bool, oid ColumnOid, attrSize uint16) Column {
	c := NewColumn(name, typ, nullable, oid)
	c.attrSize = attrSize
	return c
}

// AttrSize returns the physical attribute size of the column.
func (c Column) AttrSize() uint16 {
	if c.attrSize == 0 {
		return c.Type.AttrSize()
	}
	return c.attrSize
}
