package chunker

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aster-network/aster/build"
)

func collect(t *testing.T, r io.Reader, size uint64) []cid.Cid {
	t.Helper()

	s, err := SplitSize(r, size)
	require.NoError(t, err)

	var keys []cid.Cid
	for {
		c, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, c.Key())
	}
	return keys
}

func TestSplitDeterministic(t *testing.T) {
	data := make([]byte, 10_000)
	_, err := rand.New(rand.NewSource(42)).Read(data)
	require.NoError(t, err)

	a := collect(t, bytes.NewReader(data), 1024)
	b := collect(t, bytes.NewReader(data), 1024)

	require.NotEmpty(t, a)
	require.Equal(t, a, b)
}

func TestSplitSizes(t *testing.T) {
	data := make([]byte, 2560) // 2.5 chunks at 1024
	s, err := SplitSize(bytes.NewReader(data), 1024)
	require.NoError(t, err)

	var sizes []int
	for {
		c, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, c.Size())
	}

	require.Equal(t, []int{1024, 1024, 512}, sizes)
	require.Equal(t, 3, s.Chunked())
}

func TestSplitEmptyInput(t *testing.T) {
	s, err := SplitSize(bytes.NewReader(nil), 1024)
	require.NoError(t, err)

	_, err = s.Next()
	require.Equal(t, io.EOF, err)
}

type failingReader struct {
	data []byte
	off  int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.off >= len(f.data) {
		return 0, xerrors.New("disk on fire")
	}
	n := copy(p, f.data[f.off:])
	f.off += n
	return n, nil
}

func TestSplitUnreadableInput(t *testing.T) {
	s, err := SplitSize(&failingReader{data: make([]byte, 1024)}, 1024)
	require.NoError(t, err)

	// the first chunk is intact
	c, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, 1024, c.Size())

	// then the source fails
	_, err = s.Next()
	require.True(t, xerrors.Is(err, ErrUnreadableInput))

	// the stream stays failed
	_, err = s.Next()
	require.Equal(t, io.EOF, err)
}

func TestChunkBytesMatchesSplit(t *testing.T) {
	data := make([]byte, build.ChunkSize*2+build.ChunkSize/2)
	_, err := rand.New(rand.NewSource(7)).Read(data)
	require.NoError(t, err)

	chunks := ChunkBytes(data)
	require.Len(t, chunks, 3)

	keys := collect(t, bytes.NewReader(data), build.ChunkSize)
	require.Len(t, keys, len(chunks))
	for i := range chunks {
		require.Equal(t, keys[i], chunks[i].Key())
	}

	// reassembly gives back the input
	var joined []byte
	for _, c := range chunks {
		joined = append(joined, c.Data()...)
	}
	require.True(t, bytes.Equal(data, joined))
}
