package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robert-malhotra/go-prf/internal/binfile"
	"github.com/robert-malhotra/go-prf/internal/chunk"
)

const (
	// fileMagic identifies a flat float32 store file ("FPRF").
	fileMagic      = 0x46505246
	fileVersion    = 1
	fileHeaderSize = 64
	// checksummedLen covers magic, version, nTime and nUnit.
	checksummedLen = 24
)

// FileStore is an on-disk Store: a fixed header followed by the time-major
// float32 payload. It backs the out-of-core execution mode.
type FileStore struct {
	path   string
	file   *os.File
	reader *binfile.Reader
	writer *binfile.Writer
	nTime  int
	nUnit  int
	closed bool
}

// Create creates a zero-filled store file of the given shape, truncating any
// existing file at path.
func Create(path string, nTime, nUnit int) (*FileStore, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	size := int64(fileHeaderSize) + 4*int64(nTime)*int64(nUnit)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing store: %w", err)
	}

	s := &FileStore{
		path:   path,
		file:   f,
		reader: binfile.NewReader(f),
		writer: binfile.NewWriter(f),
		nTime:  nTime,
		nUnit:  nUnit,
	}
	if err := s.writeHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing store header: %w", err)
	}
	return s, nil
}

// Open opens an existing store file and validates its header.
func Open(path string) (*FileStore, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingStore, path)
		}
		return nil, fmt.Errorf("opening store: %w", err)
	}
	s := &FileStore{
		path:   path,
		file:   f,
		reader: binfile.NewReader(f),
	}
	if err := s.readHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading store header: %w", err)
	}
	return s, nil
}

// OpenRW opens an existing store file for reading and writing.
func OpenRW(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingStore, path)
		}
		return nil, fmt.Errorf("opening store: %w", err)
	}
	s := &FileStore{
		path:   path,
		file:   f,
		reader: binfile.NewReader(f),
		writer: binfile.NewWriter(f),
	}
	if err := s.readHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading store header: %w", err)
	}
	return s, nil
}

func (s *FileStore) writeHeader() error {
	head := make([]byte, 0, checksummedLen)
	head = appendUint32(head, fileMagic)
	head = appendUint32(head, fileVersion)
	head = appendUint64(head, uint64(s.nTime))
	head = appendUint64(head, uint64(s.nUnit))

	w := s.writer.At(0)
	if err := w.WriteBytes(head); err != nil {
		return err
	}
	return w.WriteUint32(binfile.Fletcher32(head))
}

func (s *FileStore) readHeader() error {
	r := s.reader.At(0)
	head, err := r.ReadBytes(checksummedLen)
	if err != nil {
		return err
	}
	sum, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if sum != binfile.Fletcher32(head) {
		return fmt.Errorf("header checksum mismatch in %s", s.path)
	}

	hr := s.reader.At(0)
	magic, _ := hr.ReadUint32()
	if magic != fileMagic {
		return fmt.Errorf("%s is not a store file", s.path)
	}
	version, _ := hr.ReadUint32()
	if version != fileVersion {
		return fmt.Errorf("unsupported store version %d", version)
	}
	nTime, _ := hr.ReadUint64()
	nUnit, _ := hr.ReadUint64()
	s.nTime = int(nTime)
	s.nUnit = int(nUnit)
	return nil
}

// Path returns the file path of the store.
func (s *FileStore) Path() string {
	return s.path
}

// Shape returns the number of time points and units.
func (s *FileStore) Shape() (int, int) {
	return s.nTime, s.nUnit
}

func (s *FileStore) offset(t, u int) int64 {
	return fileHeaderSize + 4*(int64(t)*int64(s.nUnit)+int64(u))
}

// Read returns the chunk covering r along the given axis. Time-axis chunks
// are a single contiguous read; unit-axis chunks read one row segment per
// time point.
func (s *FileStore) Read(axis Axis, r chunk.Range) ([]float32, error) {
	if s.closed {
		return nil, ErrClosed
	}
	width, err := checkRange(axis, r, s.nTime, s.nUnit, -1)
	if err != nil {
		return nil, err
	}
	out := make([]float32, r.Len()*width)
	if axis == AxisTime {
		if err := s.reader.At(s.offset(r.Start, 0)).ReadFloat32s(out); err != nil {
			return nil, fmt.Errorf("reading volumes %s: %w", r, err)
		}
		return out, nil
	}
	w := r.Len()
	for t := 0; t < s.nTime; t++ {
		if err := s.reader.At(s.offset(t, r.Start)).ReadFloat32s(out[t*w : (t+1)*w]); err != nil {
			return nil, fmt.Errorf("reading units %s at volume %d: %w", r, t, err)
		}
	}
	return out, nil
}

// Write stores a chunk at range r along the given axis.
func (s *FileStore) Write(axis Axis, r chunk.Range, data []float32) error {
	if s.closed {
		return ErrClosed
	}
	if s.writer == nil {
		return fmt.Errorf("store %s is read-only", s.path)
	}
	if _, err := checkRange(axis, r, s.nTime, s.nUnit, len(data)); err != nil {
		return err
	}
	if axis == AxisTime {
		if err := s.writer.At(s.offset(r.Start, 0)).WriteFloat32s(data); err != nil {
			return fmt.Errorf("writing volumes %s: %w", r, err)
		}
		return nil
	}
	w := r.Len()
	for t := 0; t < s.nTime; t++ {
		if err := s.writer.At(s.offset(t, r.Start)).WriteFloat32s(data[t*w : (t+1)*w]); err != nil {
			return fmt.Errorf("writing units %s at volume %d: %w", r, t, err)
		}
	}
	return nil
}

// Derive creates the sibling store "<base>_masked" next to this one.
func (s *FileStore) Derive(nTime, nUnit int) (Store, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return Create(MaskedPath(s.path), nTime, nUnit)
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// MaskedPath returns the conventional name of the masked sibling of a store
// file: the "_masked" suffix is inserted before the extension.
func MaskedPath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "_masked" + ext
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint64(b []byte, v uint64) []byte {
	b = appendUint32(b, uint32(v))
	return appendUint32(b, uint32(v>>32))
}
