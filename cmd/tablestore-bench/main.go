package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/dd0wney/cluso-tablestore/pkg/catalog"
	"github.com/dd0wney/cluso-tablestore/pkg/config"
	"github.com/dd0wney/cluso-tablestore/pkg/logging"
	"github.com/dd0wney/cluso-tablestore/pkg/metrics"
	"github.com/dd0wney/cluso-tablestore/pkg/storage"
	"github.com/dd0wney/cluso-tablestore/pkg/wal"
)

func main() {
	rows := flag.Int("rows", 10000, "Number of rows to insert")
	updates := flag.Int("updates", 2500, "Number of rows to update after the schema change (forces migration)")
	configPath := flag.String("config", "", "Optional YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	logger := logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	var registry *metrics.Registry
	if cfg.EnableMetrics {
		registry = metrics.NewRegistry()
	}

	fmt.Printf("Cluso TableStore Benchmark\n")
	fmt.Printf("==========================\n\n")
	fmt.Printf("Configuration:\n")
	fmt.Printf("  Rows: %d\n", *rows)
	fmt.Printf("  Updates: %d\n", *updates)
	fmt.Printf("  Data Directory: %s\n\n", cfg.DataDir)

	manager := storage.NewTransactionManager()
	manager.SetLogger(logger)
	if registry != nil {
		manager.SetMetrics(registry)
	}
	if cfg.RedoLog.Enabled {
		redoLog, err := wal.Open(filepath.Join(cfg.DataDir, "redo"), wal.Options{
			Compress:     cfg.RedoLog.Compress,
			SyncOnAppend: cfg.RedoLog.SyncOnAppend,
		})
		if err != nil {
			log.Fatalf("Failed to open redo log: %v", err)
		}
		defer redoLog.Close()
		manager.SetRedoLog(redoLog)
		defer func() {
			stats := redoLog.Stats()
			fmt.Printf("\nRedo log: %d entries, %.1f%% compression savings\n",
				stats.TotalWrites, stats.CompressionRatio*100)
		}()
	}

	store := storage.NewBlockStore(cfg.BlockSlotCapacity)
	schemaV0 := catalog.MustNewSchema([]catalog.Column{
		catalog.NewColumn("id", catalog.TypeBigInt, false, 1),
		catalog.NewColumn("balance", catalog.TypeInteger, false, 2),
		catalog.NewColumn("name", catalog.TypeVarchar, true, 3),
	})
	table, err := storage.NewSqlTableWithConfig(store, schemaV0, 100, storage.TableConfig{
		Name:    "accounts",
		Logger:  logger,
		Metrics: registry,
	})
	if err != nil {
		log.Fatalf("Failed to create table: %v", err)
	}

	// Benchmark 1: inserts under version 0
	fmt.Printf("Benchmark 1: Insert\n")
	initializer, pm, err := table.InitializerForProjectedRow(schemaV0.Oids(), 0)
	if err != nil {
		log.Fatalf("Failed to build initializer: %v", err)
	}
	slots := make([]storage.TupleSlot, *rows)
	start := time.Now()
	txn := manager.Begin()
	for i := 0; i < *rows; i++ {
		row := initializer.InitializeRow()
		row.SetValue(pm[1], encodeInt(int64(i), 8))
		row.SetValue(pm[2], encodeInt(int64(rand.Intn(100000)), 4))
		row.SetValue(pm[3], []byte(fmt.Sprintf("account-%d", i)))
		redo := txn.StageWrite(table.Oid(), storage.TupleSlot{}, row)
		slot, err := table.Insert(txn, redo, 0)
		if err != nil {
			log.Fatalf("Insert failed: %v", err)
		}
		slots[i] = slot
	}
	if err := manager.Commit(txn); err != nil {
		log.Fatalf("Commit failed: %v", err)
	}
	elapsed := time.Since(start)
	fmt.Printf("  %d inserts in %v (%.0f rows/sec)\n", *rows, elapsed, float64(*rows)/elapsed.Seconds())

	// Benchmark 2: schema change adding a defaulted column
	fmt.Printf("Benchmark 2: Schema change\n")
	schemaV1 := catalog.MustNewSchema([]catalog.Column{
		catalog.NewColumn("id", catalog.TypeBigInt, false, 1),
		catalog.NewColumn("balance", catalog.TypeInteger, false, 2),
		catalog.NewColumn("name", catalog.TypeVarchar, true, 3),
		catalog.NewColumnWithDefault("status", catalog.TypeInteger, false, 4,
			catalog.IntConstant(1, catalog.TypeInteger.AttrSize())),
	})
	txn = manager.Begin()
	if err := table.UpdateSchema(txn, schemaV1, 1); err != nil {
		log.Fatalf("UpdateSchema failed: %v", err)
	}
	if err := manager.Commit(txn); err != nil {
		log.Fatalf("Commit failed: %v", err)
	}

	// Benchmark 3: updates touching the new column (tuple migration)
	fmt.Printf("Benchmark 3: Migrating updates\n")
	statusInit, statusPM, err := table.InitializerForProjectedRow([]catalog.ColumnOid{4}, 1)
	if err != nil {
		log.Fatalf("Failed to build initializer: %v", err)
	}
	start = time.Now()
	txn = manager.Begin()
	for i := 0; i < *updates && i < len(slots); i++ {
		delta := statusInit.InitializeRow()
		delta.SetValue(statusPM[4], encodeInt(2, 4))
		redo := txn.StageWrite(table.Oid(), slots[i], delta)
		if _, err := table.Update(txn, redo, 1); err != nil {
			log.Fatalf("Update failed: %v", err)
		}
	}
	if err := manager.Commit(txn); err != nil {
		log.Fatalf("Commit failed: %v", err)
	}
	elapsed = time.Since(start)
	fmt.Printf("  %d migrating updates in %v (%.0f rows/sec)\n", *updates, elapsed, float64(*updates)/elapsed.Seconds())

	// Benchmark 4: full scan at the new version
	fmt.Printf("Benchmark 4: Scan\n")
	scanInit, _, err := table.InitializerForProjectedColumns(schemaV1.Oids(), 1024, 1)
	if err != nil {
		log.Fatalf("Failed to build initializer: %v", err)
	}
	start = time.Now()
	txn = manager.Begin()
	it := table.Begin()
	total := 0
	for {
		batch := scanInit.Initialize()
		if err := table.Scan(txn, &it, batch, 1); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		if batch.NumTuples() == 0 {
			break
		}
		total += batch.NumTuples()
	}
	if err := manager.Commit(txn); err != nil {
		log.Fatalf("Commit failed: %v", err)
	}
	elapsed = time.Since(start)
	fmt.Printf("  Scanned %d rows in %v (%.0f rows/sec)\n", total, elapsed, float64(total)/elapsed.Seconds())

	fmt.Printf("\nBlocks allocated: %d, layout versions: %d\n", store.BlocksAllocated(), table.NumVersions())
}

func encodeInt(v int64, attrSize uint16) []byte {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(v))
	return scratch[:attrSize]
}
