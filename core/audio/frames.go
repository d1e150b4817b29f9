package audio

import (
	"sync"
	"time"
)

// Frame is a fixed-duration block of mono PCM captured from a source. A
// frame is never modified after it has been emitted.
type Frame struct {
	Audio    []byte
	Duration time.Duration
	Seq      uint64
}

// Clip is one decoded piece of synthesized speech.
type Clip struct {
	Audio        []byte
	EncodingInfo EncodingInfo
}

func (c Clip) Duration() time.Duration {
	return c.EncodingInfo.Duration(len(c.Audio))
}

// FrameChunker cuts an arbitrarily sized capture stream into fixed-size
// frames. Capture callbacks hand over whatever the device delivered, the
// transcriber expects constant frames.
type FrameChunker struct {
	mu       sync.Mutex
	size     int
	duration time.Duration
	pending  []byte
	seq      uint64
	onFrame  func(Frame)
}

func NewFrameChunker(encoding EncodingInfo, duration time.Duration, onFrame func(Frame)) *FrameChunker {
	if duration <= 0 {
		duration = DefaultFrameDuration
	}
	if onFrame == nil {
		onFrame = func(Frame) {}
	}
	size := encoding.BytesPerDuration(duration)
	if size <= 0 {
		size = GetDefaultEncodingInfo().BytesPerDuration(duration)
	}

	return &FrameChunker{
		size:     size,
		duration: duration,
		onFrame:  onFrame,
	}
}

func (c *FrameChunker) FrameSize() int { return c.size }

// Write never blocks on anything but the chunker's own lock and emits every
// complete frame synchronously.
func (c *FrameChunker) Write(p []byte) {
	c.mu.Lock()
	c.pending = append(c.pending, p...)
	var frames []Frame
	for len(c.pending) >= c.size {
		frame := make([]byte, c.size)
		copy(frame, c.pending[:c.size])
		c.pending = c.pending[c.size:]
		frames = append(frames, Frame{Audio: frame, Duration: c.duration, Seq: c.seq})
		c.seq++
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	c.mu.Unlock()

	for _, frame := range frames {
		c.onFrame(frame)
	}
}

// Reset drops a partially filled frame.
func (c *FrameChunker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}
