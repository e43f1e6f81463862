package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	rawLogMagic     = "STXMRAW2"
	rawHeaderSize   = 20
	maxRawRecordLen = 1 << 30
)

var (
	ErrBadMagic = errors.New("rawlog: bad magic")
	ErrChecksum = errors.New("rawlog: checksum mismatch")
)

// RawLogWriter appends every received message with its receive time, its
// length and an xxhash64 checksum. It is safe for concurrent use by all
// workers.
type RawLogWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
	now  func() time.Time
}

func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(rawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{f: f, w: w, path: filename, now: time.Now}, nil
}

func (r *RawLogWriter) Path() string {
	return r.path
}

func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	var header [rawHeaderSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(r.now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint64(header[12:20], xxhash.Sum64(payload))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

type RawRecord struct {
	Received time.Time
	Payload  []byte
}

// ReadRawLog calls fn for every record in order. It stops at the first
// error from fn, a corrupt record, or a truncated tail.
func ReadRawLog(r io.Reader, fn func(RawRecord) error) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(rawLogMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != rawLogMagic {
		return ErrBadMagic
	}
	var header [rawHeaderSize]byte
	for n := 0; ; n++ {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("record %d header: %w", n, err)
		}
		size := binary.LittleEndian.Uint32(header[8:12])
		if size > maxRawRecordLen {
			return fmt.Errorf("record %d: length %d too large", n, size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return fmt.Errorf("record %d payload: %w", n, err)
		}
		if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(header[12:20]) {
			return fmt.Errorf("record %d: %w", n, ErrChecksum)
		}
		rec := RawRecord{
			Received: time.Unix(0, int64(binary.LittleEndian.Uint64(header[:8]))),
			Payload:  payload,
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
