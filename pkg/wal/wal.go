package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

const (
	segmentMagic   = "CTRL" // cluso-tablestore redo log
	segmentVersion = 1
	segmentFile    = "redo.log"

	flagCompressed = 1 << 0
)

// segment header: magic(4) version(1) uuid(16)
const segmentHeaderSize = 4 + 1 + 16

// Open opens (or creates) the redo log in the given directory.
func Open(dir string, opts Options) (*RedoLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create redo log directory: %w", err)
	}

	path := filepath.Join(dir, segmentFile)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open redo log file: %w", err)
	}

	l := &RedoLog{file: file, opts: opts}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		l.segmentID = uuid.New()
		if err := l.writeSegmentHeader(); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		if err := l.readSegmentHeader(); err != nil {
			file.Close()
			return nil, err
		}
		if err := l.recoverLSN(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to recover LSN: %w", err)
		}
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, err
	}
	l.writer = bufio.NewWriter(file)
	return l, nil
}

// SegmentID returns the unique id of the current segment.
func (l *RedoLog) SegmentID() uuid.UUID { return l.segmentID }

// Append frames and writes one redo entry, returning its LSN.
func (l *RedoLog) Append(op OpType, txnID uint64, data []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentLSN == math.MaxUint64 {
		return 0, ErrLSNExhausted
	}
	l.currentLSN++
	lsn := l.currentLSN

	entry := Entry{LSN: lsn, Op: op, TxnID: txnID, Data: data}
	if err := l.writeEntry(&entry); err != nil {
		l.currentLSN--
		return 0, err
	}

	if err := l.writer.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush redo log: %w", err)
	}
	if l.opts.SyncOnAppend {
		if err := l.file.Sync(); err != nil {
			return 0, fmt.Errorf("failed to sync redo log: %w", err)
		}
	}
	l.totalWrites++
	return lsn, nil
}

// ReadAll reads every valid entry in the segment. A corrupt or truncated
// tail ends the read without error so partial recovery is possible.
func (l *RedoLog) ReadAll() ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return nil, err
	}
	if _, err := l.file.Seek(segmentHeaderSize, io.SeekStart); err != nil {
		return nil, err
	}
	defer l.file.Seek(0, io.SeekEnd)

	reader := bufio.NewReader(l.file)
	var entries []*Entry
	for {
		entry, err := readEntry(reader)
		if err != nil {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stats returns write statistics for the segment.
func (l *RedoLog) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		TotalWrites:       l.totalWrites,
		BytesUncompressed: l.bytesUncompressed,
		BytesCompressed:   l.bytesCompressed,
	}
	if l.bytesUncompressed > 0 {
		s.CompressionRatio = 1 - float64(l.bytesCompressed)/float64(l.bytesUncompressed)
	}
	return s
}

// Close flushes and closes the segment file.
func (l *RedoLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}

func (l *RedoLog) writeSegmentHeader() error {
	var header [segmentHeaderSize]byte
	copy(header[:4], segmentMagic)
	header[4] = segmentVersion
	copy(header[5:], l.segmentID[:])
	if _, err := l.file.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write segment header: %w", err)
	}
	return l.file.Sync()
}

func (l *RedoLog) readSegmentHeader() error {
	var header [segmentHeaderSize]byte
	if _, err := l.file.ReadAt(header[:], 0); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSegmentHeader, err)
	}
	if string(header[:4]) != segmentMagic || header[4] != segmentVersion {
		return ErrBadSegmentHeader
	}
	copy(l.segmentID[:], header[5:])
	return nil
}

func (l *RedoLog) recoverLSN() error {
	if _, err := l.file.Seek(segmentHeaderSize, io.SeekStart); err != nil {
		return err
	}
	reader := bufio.NewReader(l.file)
	for {
		entry, err := readEntry(reader)
		if err != nil {
			break
		}
		l.currentLSN = entry.LSN
	}
	return nil
}

// writeEntry frames one entry: flags(1) payloadLen(4) crc(4) payload.
func (l *RedoLog) writeEntry(entry *Entry) error {
	payload := encodeEntry(entry)
	l.bytesUncompressed += uint64(len(payload))

	var flags byte
	if l.opts.Compress {
		payload = snappy.Encode(nil, payload)
		flags |= flagCompressed
	}
	l.bytesCompressed += uint64(len(payload))

	var frame [9]byte
	frame[0] = flags
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[5:9], crc32.ChecksumIEEE(payload))
	if _, err := l.writer.Write(frame[:]); err != nil {
		return err
	}
	if _, err := l.writer.Write(payload); err != nil {
		return err
	}
	return nil
}

func readEntry(reader *bufio.Reader) (*Entry, error) {
	var frame [9]byte
	if _, err := io.ReadFull(reader, frame[:]); err != nil {
		return nil, err
	}
	flags := frame[0]
	length := binary.LittleEndian.Uint32(frame[1:5])
	checksum := binary.LittleEndian.Uint32(frame[5:9])

	payload := make([]byte, length)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return nil, fmt.Errorf("redo entry checksum mismatch")
	}

	if flags&flagCompressed != 0 {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress redo entry: %w", err)
		}
		payload = decoded
	}

	entry, err := decodeEntry(payload)
	if err != nil {
		return nil, err
	}
	entry.Checksum = checksum
	return entry, nil
}

// entry payload: lsn(8) txnID(8) op(1) dataLen(4) data
func encodeEntry(entry *Entry) []byte {
	buf := make([]byte, 8+8+1+4+len(entry.Data))
	binary.LittleEndian.PutUint64(buf[0:8], entry.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], entry.TxnID)
	buf[16] = byte(entry.Op)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(entry.Data)))
	copy(buf[21:], entry.Data)
	return buf
}

func decodeEntry(payload []byte) (*Entry, error) {
	if len(payload) < 21 {
		return nil, fmt.Errorf("redo entry payload too short: %d bytes", len(payload))
	}
	entry := &Entry{
		LSN:   binary.LittleEndian.Uint64(payload[0:8]),
		TxnID: binary.LittleEndian.Uint64(payload[8:16]),
		Op:    OpType(payload[16]),
	}
	dataLen := binary.LittleEndian.Uint32(payload[17:21])
	if int(dataLen) != len(payload)-21 {
		return nil, fmt.Errorf("redo entry data length mismatch")
	}
	entry.Data = make([]byte, dataLen)
	copy(entry.Data, payload[21:])
	return entry, nil
}
