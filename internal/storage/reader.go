package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/engine"
)

var (
	ErrInvalidHeader = errors.New("invalid snapshot header")
	ErrCorrupt       = errors.New("corrupt snapshot")
)

// RowIterator provides a row-by-row view of a snapshot.
type RowIterator interface {
	Next() bool
	Row() engine.LogRow
	Error() error
}

type SnapshotReader struct {
	decoder *zstd.Decoder
}

func NewSnapshotReader() (*SnapshotReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &SnapshotReader{decoder: dec}, nil
}

// Close releases the decoder.
func (sr *SnapshotReader) Close() {
	sr.decoder.Close()
}

// ReadSnapshot reads filename and returns the rows matching filter, oldest
// first.
func (sr *SnapshotReader) ReadSnapshot(filename string, filter engine.Filter) ([]engine.LogRow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	it, err := sr.NewIterator(data, filter)
	if err != nil {
		return nil, err
	}

	var rows []engine.LogRow
	for it.Next() {
		rows = append(rows, it.Row())
	}
	return rows, it.Error()
}

// NewIterator validates data and returns an iterator over its rows.
func (sr *SnapshotReader) NewIterator(data []byte, filter engine.Filter) (RowIterator, error) {
	it := &snapshotIterator{filter: filter, cursor: -1}
	if err := it.init(sr, data); err != nil {
		return nil, err
	}
	return it, nil
}

type snapshotIterator struct {
	filter engine.Filter

	timestamps []int64
	kinds      []byte
	lines      []string

	rowCount int
	cursor   int
	currRow  engine.LogRow
	err      error
}

func (it *snapshotIterator) init(sr *SnapshotReader, data []byte) error {
	// 1. Validate header
	if len(data) < len(MagicHeader) || !bytes.Equal(data[:len(MagicHeader)], MagicHeader) {
		return ErrInvalidHeader
	}
	if len(data) < len(MagicHeader)+footerSize {
		return ErrCorrupt
	}

	// 2. Footer
	footer := data[len(data)-footerSize:]
	rowCount := binary.LittleEndian.Uint32(footer[0:4])
	minTs := int64(binary.LittleEndian.Uint64(footer[4:12]))
	maxTs := int64(binary.LittleEndian.Uint64(footer[12:20]))
	if rowCount == 0 {
		return nil
	}

	// Whole-file skip on time range
	if it.filter.MinTime > 0 && maxTs < it.filter.MinTime {
		return nil
	}
	if it.filter.MaxTime > 0 && minTs > it.filter.MaxTime {
		return nil
	}

	// 3. Columns
	body := bytes.NewReader(data[len(MagicHeader) : len(data)-footerSize])
	tsData, err := sr.readAndDecompress(body)
	if err != nil {
		return err
	}
	kinds, err := sr.readAndDecompress(body)
	if err != nil {
		return err
	}
	lineData, err := sr.readAndDecompress(body)
	if err != nil {
		return err
	}

	it.timestamps = bytesToInt64Slice(tsData)
	it.kinds = kinds
	it.lines, err = bytesToStringSlice(lineData)
	if err != nil {
		return err
	}

	n := int(rowCount)
	if len(it.timestamps) != n || len(it.kinds) != n || len(it.lines) != n {
		return ErrCorrupt
	}
	it.rowCount = n
	return nil
}

func (it *snapshotIterator) Next() bool {
	for {
		it.cursor++
		if it.cursor >= it.rowCount {
			return false
		}

		ts := it.timestamps[it.cursor]
		if it.filter.MinTime > 0 && ts < it.filter.MinTime {
			continue
		}
		if it.filter.MaxTime > 0 && ts > it.filter.MaxTime {
			continue
		}

		row := engine.LogRow{
			Timestamp: ts,
			Kind:      codec.Kind(it.kinds[it.cursor]),
			Raw:       it.lines[it.cursor],
		}
		if it.filter.Class != "" {
			if class, ok := row.Field("class"); !ok || class != string(it.filter.Class) {
				continue
			}
		}
		it.currRow = row
		return true
	}
}

func (it *snapshotIterator) Row() engine.LogRow {
	return it.currRow
}

func (it *snapshotIterator) Error() error {
	return it.err
}

// readAndDecompress reads a compressed block (size + data) and
// decompresses it.
func (sr *SnapshotReader) readAndDecompress(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, err
	}
	return sr.decoder.DecodeAll(compressed, nil)
}

// bytesToInt64Slice converts a byte slice to []int64 (LittleEndian).
func bytesToInt64Slice(data []byte) []int64 {
	result := make([]int64, len(data)/8)
	for i := range result {
		result[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return result
}

// bytesToStringSlice converts a byte slice to []string.
// Format: [Len uint32][Bytes]...
func bytesToStringSlice(data []byte) ([]string, error) {
	var result []string
	for off := 0; off < len(data); {
		if off+4 > len(data) {
			return nil, ErrCorrupt
		}
		n := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if off+n > len(data) {
			return nil, ErrCorrupt
		}
		result = append(result, string(data[off:off+n]))
		off += n
	}
	return result, nil
}
