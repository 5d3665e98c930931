package wal

import (
	"bufio"
	"errors"
	"os"
	"sync"

	"github.com/google/uuid"
)

// OpType identifies the kind of operation a redo entry describes.
type OpType uint8

const (
	OpInsert OpType = iota + 1
	OpUpdate
	OpDelete
	OpSchemaChange
	OpCommit
	OpAbort
)

// String returns the name of the op type.
func (op OpType) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpSchemaChange:
		return "schema_change"
	case OpCommit:
		return "commit"
	case OpAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Entry is one redo-log record.
type Entry struct {
	LSN      uint64
	Op       OpType
	TxnID    uint64
	Data     []byte
	Checksum uint32
}

// Options configures a redo log.
type Options struct {
	// Compress snappy-compresses each record payload.
	Compress bool
	// SyncOnAppend fsyncs after every append for durability.
	SyncOnAppend bool
}

// RedoLog is an append-only log of redo entries, one segment file per
// directory. Entries are length-and-CRC framed; the segment header carries a
// magic, a format version, and a unique segment id.
type RedoLog struct {
	file       *os.File
	writer     *bufio.Writer
	currentLSN uint64
	segmentID  uuid.UUID
	opts       Options
	mu         sync.Mutex

	// Statistics
	totalWrites       uint64
	bytesUncompressed uint64
	bytesCompressed   uint64
}

// Stats holds redo-log write statistics.
type Stats struct {
	TotalWrites       uint64
	BytesUncompressed uint64
	BytesCompressed   uint64
	CompressionRatio  float64
}

var (
	// ErrBadSegmentHeader is returned when the segment file's header does
	// not carry the expected magic or format version.
	ErrBadSegmentHeader = errors.New("bad redo segment header")

	// ErrLSNExhausted is returned when the LSN space wraps around.
	ErrLSNExhausted = errors.New("redo log LSN space exhausted")
)
