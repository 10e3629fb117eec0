package types

import (
	"sync"

	"github.com/ipfs/go-cid"
)

// Chunk is an immutable content-addressed payload. The address is
// derived from the content on first use and cached; identical content
// always maps to the same address.
type Chunk struct {
	data []byte

	once sync.Once
	key  cid.Cid
}

func NewChunk(data []byte) *Chunk {
	return &Chunk{data: data}
}

func (c *Chunk) Key() cid.Cid {
	c.once.Do(func() {
		k, err := ChunkKey(c.data)
		if err != nil {
			panic(err)
		}
		c.key = k
	})
	return c.key
}

func (c *Chunk) Data() []byte {
	return c.data
}

func (c *Chunk) Size() int {
	return len(c.data)
}

// Record wraps the chunk as a network record.
func (c *Chunk) Record() *Record {
	return &Record{
		Key:   c.Key(),
		Type:  RecordChunk,
		Value: c.data,
	}
}
