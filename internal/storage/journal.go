package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/callspy/internal/codec"
	"github.com/coffersTech/callspy/internal/engine"
)

// Journal mirrors appended log lines to disk so a crashed session can be
// restored.
type Journal struct {
	file  *os.File
	path  string
	mu    sync.Mutex
	arena fastjson.Arena
	buf   []byte
}

// OpenJournal opens or creates a journal file at path.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{
		file: f,
		path: path,
	}, nil
}

// Path returns the journal file name.
func (j *Journal) Path() string {
	return j.path
}

// Write records one line.
func (j *Journal) Write(kind codec.Kind, line string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	obj := j.arena.NewObject()
	obj.Set("timestamp", j.arena.NewNumberString(strconv.FormatInt(time.Now().UnixNano(), 10)))
	obj.Set("kind", j.arena.NewNumberInt(int(kind)))
	obj.Set("line", j.arena.NewString(line))

	// Format: [Len uint32][JSON Bytes]
	j.buf = obj.MarshalTo(j.buf[:0])
	j.arena.Reset()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(j.buf)))
	if _, err := j.file.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := j.file.Write(j.buf)
	return err
}

// Sync flushes the journal to disk.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Sync()
}

// Reset truncates the journal.
func (j *Journal) Reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return err
	}
	_, err := j.file.Seek(0, 0)
	return err
}

func (j *Journal) Close() error {
	return j.file.Close()
}

// Replay reads every record in the journal, oldest first. A torn final
// record is reported along with the rows read before it.
func (j *Journal) Replay() ([]engine.LogRow, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var (
		rows []engine.LogRow
		p    fastjson.Parser
	)
	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(j.file, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("journal replay error (len): %w", err)
		}

		data := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
		if _, err := io.ReadFull(j.file, data); err != nil {
			return rows, fmt.Errorf("journal replay error (data): %w", err)
		}

		v, err := p.ParseBytes(data)
		if err != nil {
			return rows, fmt.Errorf("journal replay error (parse): %w", err)
		}
		rows = append(rows, engine.LogRow{
			Timestamp: v.GetInt64("timestamp"),
			Kind:      codec.Kind(v.GetUint("kind")),
			Raw:       string(v.GetStringBytes("line")),
		})
	}

	return rows, nil
}
