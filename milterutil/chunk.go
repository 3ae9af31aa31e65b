package milterutil

import (
	"errors"
	"io"
)

// ChunkReader cuts the data of an [io.Reader] into chunks of a fixed size.
// Only the last chunk can be smaller.
type ChunkReader struct {
	r   io.Reader
	buf []byte
	err error
}

// NewChunkReader returns a ChunkReader that reads chunks of size bytes from r.
// It panics if size is not positive.
func NewChunkReader(r io.Reader, size int) *ChunkReader {
	if size <= 0 {
		panic("milterutil: chunk size must be positive")
	}
	return &ChunkReader{r: r, buf: make([]byte, size)}
}

// Next returns the next chunk. It returns [io.EOF] (and no data) after the last chunk.
// The returned slice is only valid until the next call to Next.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	n, err := io.ReadFull(c.r, c.buf)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.err = io.EOF
	case err != nil:
		c.err = err
		if n == 0 {
			return nil, err
		}
	}
	return c.buf[:n], nil
}
