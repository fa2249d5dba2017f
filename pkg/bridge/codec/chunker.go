package codec

import (
	"sync"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
)

// Chunker slices a continuous capture stream into fixed-interval media chunks.
// The capture pipeline drives the cadence by calling Write as samples arrive;
// complete chunks are returned as they fill.
type Chunker struct {
	mu        sync.Mutex
	cfg       AudioConfig
	chunkSize int
	pending   []byte
}

// NewChunker returns a chunker emitting intervalMs-sized chunks of the given
// format. Intervals below 1ms fall back to 100ms.
func NewChunker(cfg AudioConfig, intervalMs int) *Chunker {
	if intervalMs <= 0 {
		intervalMs = 100
	}
	size := cfg.BytesForDurationMs(intervalMs)
	if size < 2 {
		size = 2
	}
	return &Chunker{cfg: cfg, chunkSize: size}
}

// Write appends captured samples and returns every chunk completed by this
// write, in capture order.
func (c *Chunker) Write(samples []float32) []protocol.MediaChunk {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, EncodePCM16(samples)...)

	var chunks []protocol.MediaChunk
	for len(c.pending) >= c.chunkSize {
		raw := c.pending[:c.chunkSize]
		chunks = append(chunks, protocol.NewMediaChunk(c.cfg.MimeType(), raw))
		c.pending = c.pending[c.chunkSize:]
	}
	return chunks
}

// Flush returns any partial chunk still buffered, or ok=false when empty.
// Called when capture stops so the tail is not lost.
func (c *Chunker) Flush() (protocol.MediaChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return protocol.MediaChunk{}, false
	}
	chunk := protocol.NewMediaChunk(c.cfg.MimeType(), c.pending)
	c.pending = nil
	return chunk, true
}
