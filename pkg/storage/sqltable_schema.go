package storage

import (
	"fmt"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
	"github.com/dd0wney/cluso-tablestore/pkg/logging"
)

// createTableVersion builds the layout, column maps, default map, and data
// table for one schema snapshot.
func (t *SqlTable) createTableVersion(schema *catalog.Schema, version LayoutVersion) (*dataTableVersion, error) {
	layout, oidToID, idToOid, err := buildBlockLayout(schema)
	if err != nil {
		return nil, err
	}

	defaults := make(map[catalog.ColumnOid]catalog.ConstantValue)
	for _, col := range schema.Columns() {
		if col.StoredExpression == nil {
			continue
		}
		constant, ok := col.StoredExpression.(catalog.ConstantValue)
		if !ok || !col.StoredExpression.Constant() {
			return nil, fmt.Errorf("%w: column %s", ErrUnsupportedDefault, col.Name)
		}
		defaults[col.Oid] = constant
	}

	return &dataTableVersion{
		dataTable: NewDataTable(t.store, layout, version),
		layout:    layout,
		oidToID:   oidToID,
		idToOid:   idToOid,
		schema:    schema,
		defaults:  defaults,
	}, nil
}

// UpdateSchema registers a new layout version built from the schema. The
// version must be the next dense id; the registry refuses with ErrAtCapacity
// once MaxNumVersions versions exist. Write-write conflicts between
// concurrent schema changes are resolved by the catalog layer, so only the
// winning transaction calls this; losers leave the registry untouched.
func (t *SqlTable) UpdateSchema(txn *TransactionContext, schema *catalog.Schema, version LayoutVersion) error {
	t.schemaMu.Lock()
	defer t.schemaMu.Unlock()

	count := t.numVersions.Load()
	if count == MaxNumVersions {
		return ErrAtCapacity
	}
	if uint32(version) != count {
		return fmt.Errorf("%w: expected next version %d, got %d", ErrUnknownVersion, count, version)
	}

	dv, err := t.createTableVersion(schema, version)
	if err != nil {
		return err
	}

	// Publish the entry before advancing the counter; readers snapshot the
	// counter with an atomic load and never observe an unset entry.
	t.tables[version] = dv
	t.numVersions.Store(count + 1)

	txn.stageSchemaChange(t.oid, version)

	if t.metrics != nil {
		t.metrics.SetSchemaVersionCount(t.name, int(count+1))
	}
	if t.logger != nil {
		t.logger.Info("schema updated",
			logging.Field{Key: "table", Value: t.name},
			logging.Field{Key: "version", Value: uint32(version)},
			logging.Field{Key: "columns", Value: schema.NumColumns()},
		)
	}
	return nil
}

// NumVersions returns the number of registered layout versions.
func (t *SqlTable) NumVersions() int {
	return int(t.numVersions.Load())
}

// LatestVersion returns the newest registered layout version.
func (t *SqlTable) LatestVersion() LayoutVersion {
	return LayoutVersion(t.numVersions.Load() - 1)
}

// OldestVersion returns the oldest registered layout version. Versions are
// never collapsed, so this is always 0.
func (t *SqlTable) OldestVersion() LayoutVersion { return 0 }

// GetSchema returns the schema snapshot a layout version was built from.
func (t *SqlTable) GetSchema(version LayoutVersion) (*catalog.Schema, error) {
	dv, err := t.version(version)
	if err != nil {
		return nil, err
	}
	return dv.schema, nil
}

// GetBlockLayout returns a layout version's block layout.
func (t *SqlTable) GetBlockLayout(version LayoutVersion) (BlockLayout, error) {
	dv, err := t.version(version)
	if err != nil {
		return BlockLayout{}, err
	}
	return dv.layout, nil
}

// GetColumnOidToIDMap returns a layout version's oid→id map. Read-only.
func (t *SqlTable) GetColumnOidToIDMap(version LayoutVersion) (ColumnOidToIDMap, error) {
	dv, err := t.version(version)
	if err != nil {
		return nil, err
	}
	return dv.oidToID, nil
}

// GetColumnIDToOidMap returns a layout version's id→oid map. Read-only.
func (t *SqlTable) GetColumnIDToOidMap(version LayoutVersion) (ColumnIDToOidMap, error) {
	dv, err := t.version(version)
	if err != nil {
		return nil, err
	}
	return dv.idToOid, nil
}

// colIDsForOids translates logical column oids to the physical ids of one
// layout version.
func (t *SqlTable) colIDsForOids(oids []catalog.ColumnOid, version LayoutVersion) ([]ColumnID, error) {
	dv, err := t.version(version)
	if err != nil {
		return nil, err
	}
	ids := make([]ColumnID, len(oids))
	for i, oid := range oids {
		id, ok := dv.oidToID[oid]
		if !ok {
			return nil, fmt.Errorf("column oid %d not present in layout version %d", oid, version)
		}
		ids[i] = id
	}
	return ids, nil
}

// InitializerForProjectedRow translates a logical column oid list into a
// row initializer for the given layout version, plus the map from oid to
// position within the projection. oids must contain no duplicates.
func (t *SqlTable) InitializerForProjectedRow(oids []catalog.ColumnOid, version LayoutVersion) (ProjectedRowInitializer, ProjectionMap, error) {
	dv, err := t.version(version)
	if err != nil {
		return ProjectedRowInitializer{}, nil, err
	}
	ids, err := t.colIDsForOids(oids, version)
	if err != nil {
		return ProjectedRowInitializer{}, nil, err
	}
	initializer := NewProjectedRowInitializer(dv.layout, ids)
	return initializer, projectionMapForIDs(initializer.colIDs, dv.idToOid), nil
}

// InitializerForProjectedColumns is the batch counterpart of
// InitializerForProjectedRow.
func (t *SqlTable) InitializerForProjectedColumns(oids []catalog.ColumnOid, maxTuples int, version LayoutVersion) (ProjectedColumnsInitializer, ProjectionMap, error) {
	dv, err := t.version(version)
	if err != nil {
		return ProjectedColumnsInitializer{}, nil, err
	}
	ids, err := t.colIDsForOids(oids, version)
	if err != nil {
		return ProjectedColumnsInitializer{}, nil, err
	}
	initializer := NewProjectedColumnsInitializer(dv.layout, ids, maxTuples)
	return initializer, projectionMapForIDs(initializer.colIDs, dv.idToOid), nil
}
