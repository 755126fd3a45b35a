package storage

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/coffersTech/callspy/internal/engine"
)

// MagicHeader opens every snapshot file.
var MagicHeader = []byte("CALLSPY1")

// footerSize is RowCount(4) + MinTs(8) + MaxTs(8).
const footerSize = 20

// SnapshotWriter writes log rows as compressed columns.
type SnapshotWriter struct {
	encoder *zstd.Encoder
}

func NewSnapshotWriter() (*SnapshotWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &SnapshotWriter{encoder: enc}, nil
}

// WriteSnapshot writes rows, oldest first, to filename. The file is
// written beside the target and renamed into place.
func (sw *SnapshotWriter) WriteSnapshot(filename string, rows []engine.LogRow) error {
	tmp := filename + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := sw.Write(f, rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filename)
}

// Write encodes rows to w.
func (sw *SnapshotWriter) Write(w io.Writer, rows []engine.LogRow) error {
	// 1. Header
	if _, err := w.Write(MagicHeader); err != nil {
		return err
	}

	rowCount := uint32(len(rows))
	if rowCount == 0 {
		return sw.writeFooter(w, 0, 0, 0)
	}

	// 2. Split into columns
	ts := make([]int64, len(rows))
	kinds := make([]uint8, len(rows))
	lines := make([]string, len(rows))
	for i, r := range rows {
		ts[i] = r.Timestamp
		kinds[i] = uint8(r.Kind)
		lines[i] = r.Raw
	}

	// 3. Compress and write columns
	if err := sw.writeInt64Col(w, ts); err != nil {
		return err
	}
	if err := sw.compressAndWrite(w, kinds); err != nil {
		return err
	}
	if err := sw.writeStringCol(w, lines); err != nil {
		return err
	}

	// 4. Footer
	return sw.writeFooter(w, rowCount, ts[0], ts[len(ts)-1])
}

func (sw *SnapshotWriter) writeInt64Col(w io.Writer, data []int64) error {
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return sw.compressAndWrite(w, buf)
}

func (sw *SnapshotWriter) writeStringCol(w io.Writer, data []string) error {
	// Serialize: [Len uint32][Bytes]...
	buf := new(bytes.Buffer)
	var n [4]byte
	for _, s := range data {
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	return sw.compressAndWrite(w, buf.Bytes())
}

func (sw *SnapshotWriter) compressAndWrite(w io.Writer, raw []byte) error {
	compressed := sw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))

	// Compressed size (uint32), then data
	if err := binary.Write(w, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

func (sw *SnapshotWriter) writeFooter(w io.Writer, rowCount uint32, minTs, maxTs int64) error {
	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[0:4], rowCount)
	binary.LittleEndian.PutUint64(footer[4:12], uint64(minTs))
	binary.LittleEndian.PutUint64(footer[12:20], uint64(maxTs))
	_, err := w.Write(footer[:])
	return err
}
