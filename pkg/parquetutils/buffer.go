package parquetutils

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/xitongsys/parquet-go/source"
)

var _ source.ParquetFile = (*Buffer)(nil)

// Buffer is an in memory parquet file.
type Buffer struct {
	mu  sync.Mutex
	buf []byte
	loc int
}

func NewBuffer() *Buffer {
	return &Buffer{buf: make([]byte, 0, 4096)}
}

// NewBufferFrom wraps data without copying it.
func NewBufferFrom(data []byte) *Buffer {
	return &Buffer{buf: data}
}

func (b *Buffer) Create(string) (source.ParquetFile, error) {
	return NewBuffer(), nil
}

// Open returns an independent reader over the same bytes.
func (b *Buffer) Open(string) (source.ParquetFile, error) {
	return NewBufferFrom(b.Bytes()), nil
}

func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc := b.loc
	switch whence {
	case io.SeekStart:
		loc = int(offset)
	case io.SeekCurrent:
		loc += int(offset)
	case io.SeekEnd:
		loc = len(b.buf) + int(offset)
	default:
		return int64(b.loc), errors.New("seek: invalid whence")
	}
	if loc < 0 {
		return int64(b.loc), errors.New("seek: negative position")
	}
	b.loc = min(loc, len(b.buf))
	return int64(b.loc), nil
}

func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loc >= len(b.buf) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.loc:])
	b.loc += n
	return n, nil
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := b.loc + len(p)
	if end > len(b.buf) {
		if end > cap(b.buf) {
			grown := make([]byte, end, max(end, 2*cap(b.buf)))
			copy(grown, b.buf)
			b.buf = grown
		}
		b.buf = b.buf[:end]
	}
	copy(b.buf[b.loc:], p)
	b.loc = end
	return len(p), nil
}

func (*Buffer) Close() error {
	return nil
}

func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}
