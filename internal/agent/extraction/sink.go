package extraction

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
)

var (
	ErrSinkClosed = errors.New("archive sink is closed")
	// ErrSinkBroken is returned once the underlying writer has failed. The
	// archive bytes written so far cannot be trusted after that.
	ErrSinkBroken = errors.New("archive sink is broken")
)

// entrySink receives the encoded images of page tasks.
type entrySink interface {
	WriteEntry(name string, data []byte) error
}

// ArchiveSink is the single zip writer shared by all page tasks. Entries are
// deflated at the best compression level.
type ArchiveSink struct {
	mu      sync.Mutex
	zw      *zip.Writer
	names   map[string]struct{}
	entries int
	closed  bool
	err     error
	now     func() time.Time
}

func NewArchiveSink(w io.Writer) *ArchiveSink {
	return &ArchiveSink{
		zw:    zip.NewWriter(w),
		names: make(map[string]struct{}),
		now:   time.Now,
	}
}

// WriteEntry writes one complete entry. Concurrent callers are serialized.
//
// data is compressed in memory before the archive is touched, so a
// compression failure never leaves a partial entry. A failure of the
// underlying writer breaks the sink: later writes and Close return
// ErrSinkBroken.
func (s *ArchiveSink) WriteEntry(name string, data []byte) error {
	compressed, err := deflate(data)
	if err != nil {
		return fmt.Errorf("failed to compress archive entry %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.err != nil {
		return s.err
	}
	if _, ok := s.names[name]; ok {
		return fmt.Errorf("duplicate archive entry %q", name)
	}

	fh := &zip.FileHeader{
		Name:               name,
		Method:             zip.Deflate,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(compressed)),
		UncompressedSize64: uint64(len(data)),
	}
	fh.ModifiedDate, fh.ModifiedTime = msDosTime(s.now())

	w, err := s.zw.CreateRaw(fh)
	if err != nil {
		s.err = fmt.Errorf("%w: %w", ErrSinkBroken, err)
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := w.Write(compressed); err != nil {
		s.err = fmt.Errorf("%w: %w", ErrSinkBroken, err)
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}

	s.names[name] = struct{}{}
	s.entries++
	return nil
}

// Entries returns the number of entries written so far.
func (s *ArchiveSink) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// Close writes the central directory. Further writes fail with ErrSinkClosed.
func (s *ArchiveSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.err != nil {
		return s.err
	}
	if err := s.zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// msDosTime packs t into the date and time fields of a zip header.
func msDosTime(t time.Time) (date, clock uint16) {
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, t.Location())
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	clock = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return date, clock
}
