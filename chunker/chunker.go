package chunker

import (
	"errors"
	"io"

	"golang.org/x/xerrors"

	"github.com/aster-network/aster/build"
	"github.com/aster-network/aster/types"
)

// ErrUnreadableInput wraps any read failure from the source. Chunking
// itself cannot fail; only the input can.
var ErrUnreadableInput = errors.New("input could not be read")

// Stream yields the chunks of an input one at a time, so an upload can
// start before the whole input has been read. Chunking is a pure
// function of the bytes: identical input always produces identical
// chunks with identical addresses.
type Stream struct {
	r    io.Reader
	size int

	count int
	done  bool
}

// Split chunks the input at the default chunk size.
func Split(r io.Reader) (*Stream, error) {
	return SplitSize(r, build.ChunkSize)
}

// SplitSize chunks the input at a caller-chosen size.
func SplitSize(r io.Reader, size uint64) (*Stream, error) {
	if r == nil {
		return nil, xerrors.New("nil input reader")
	}
	if size == 0 {
		return nil, xerrors.New("chunk size must be positive")
	}
	return &Stream{
		r:    r,
		size: int(size),
	}, nil
}

// Next returns the next chunk, or io.EOF when the input is exhausted.
// The final chunk may be shorter than the chunk size; an empty input
// has no chunks at all.
func (s *Stream) Next() (*types.Chunk, error) {
	if s.done {
		return nil, io.EOF
	}

	buf := make([]byte, s.size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == io.EOF:
		s.done = true
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		// short final chunk
		s.done = true
	case err != nil:
		s.done = true
		return nil, xerrors.Errorf("%w at chunk %d: %v", ErrUnreadableInput, s.count, err)
	}

	s.count++
	return types.NewChunk(buf[:n]), nil
}

// Chunked reports how many chunks have been produced so far.
func (s *Stream) Chunked() int {
	return s.count
}

// ChunkBytes splits an in-memory payload at the default chunk size.
func ChunkBytes(data []byte) []*types.Chunk {
	size := int(build.ChunkSize)

	var out []*types.Chunk
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, end-off)
		copy(chunk, data[off:end])
		out = append(out, types.NewChunk(chunk))
	}
	return out
}
