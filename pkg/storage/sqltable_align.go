package storage

import (
	"fmt"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
)

// missingColumn marks a projection position whose column does not exist in
// the tuple's layout version.
type missingColumn struct {
	pos int
	oid catalog.ColumnOid
}

// alignHeaderToVersion rewrites the header from desired-version column ids
// to tuple-version column ids in place, after saving the original into
// scratch (len(scratch) == len(header)). Positions whose column has no
// counterpart in the tuple version become IgnoreColumnID and are reported
// in the missing list. Columns whose fixed attribute size differs between
// the versions are reported in the size map, keyed by the tuple-version id
// and carrying the desired (projection slot) size.
//
// On error the header may be partially rewritten; the caller restores it
// from scratch unconditionally.
func alignHeaderToVersion(header []ColumnID, tupleVersion, desiredVersion *dataTableVersion, scratch []ColumnID) ([]missingColumn, AttrSizeMap, error) {
	copy(scratch, header)

	var missing []missingColumn
	var sizeMap AttrSizeMap
	for i, cid := range scratch {
		if cid == VersionPointerColumnID {
			return nil, nil, fmt.Errorf("projection header must not reference the version pointer column")
		}
		oid, ok := desiredVersion.idToOid[cid]
		if !ok {
			return nil, nil, fmt.Errorf("column id %d not present in desired layout", cid)
		}
		tupleID, ok := tupleVersion.oidToID[oid]
		if !ok {
			header[i] = IgnoreColumnID
			missing = append(missing, missingColumn{pos: i, oid: oid})
			continue
		}

		desiredSize := desiredVersion.layout.AttrSize(cid)
		tupleSize := tupleVersion.layout.AttrSize(tupleID)
		if tupleSize != desiredSize {
			if tupleSize == catalog.VarlenColumn || desiredSize == catalog.VarlenColumn {
				return nil, nil, fmt.Errorf("%w: column %d", ErrUnsupportedAttrChange, oid)
			}
			if sizeMap == nil {
				sizeMap = make(AttrSizeMap)
			}
			sizeMap[tupleID] = desiredSize
		}
		header[i] = tupleID
	}
	return missing, sizeMap, nil
}

// restoreHeader copies the saved header back over the translated one.
func restoreHeader(header, scratch []ColumnID) {
	copy(header, scratch)
}

// fillMissingColumns fills projection positions absent from the tuple's
// version with the nearest forward default: the first layout version in
// (tupleVersion, desiredVersion] whose default map holds the column wins.
// A constant null default, or no default at all, leaves the slot null.
func (t *SqlTable) fillMissingColumns(row RowBuffer, missing []missingColumn, tupleVersion, desiredVersion LayoutVersion) {
	for _, mc := range missing {
		for v := tupleVersion + 1; v <= desiredVersion; v++ {
			def, ok := t.tables[v].defaults[mc.oid]
			if !ok {
				continue
			}
			if !def.Null {
				row.SetValue(mc.pos, def.Bytes)
			}
			break
		}
	}
}
