package miniaudio

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

// queuedClip is audio waiting for the device. done is closed once the device
// has taken the last byte.
type queuedClip struct {
	remaining []byte
	done      chan struct{}
}

// speaker drains queued clips in order, padding with silence when the queue
// is empty.
type speaker struct {
	device *malgo.Device

	mu    sync.Mutex
	queue []*queuedClip
}

func newSpeaker(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) (*speaker, error) {
	s := &speaker{}
	frameSize := bytesPerDeviceFrame()

	device, err := openDevice(audioContext, malgo.Playback, encoding, func(output, _ []byte, frameCount uint32) {
		s.fill(output[:int(frameCount)*frameSize])
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	s.device = device
	return s, nil
}

func (s *speaker) fill(output []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	written := 0
	for written < len(output) && len(s.queue) > 0 {
		head := s.queue[0]
		n := copy(output[written:], head.remaining)
		head.remaining = head.remaining[n:]
		written += n
		if len(head.remaining) == 0 {
			close(head.done)
			s.queue = s.queue[1:]
		}
	}
	clear(output[written:])
}

// play blocks until the device has consumed the clip. When ctx ends first
// the clip's unplayed audio is dropped from the queue.
func (s *speaker) play(ctx context.Context, pcm []byte) error {
	clip := &queuedClip{remaining: pcm, done: make(chan struct{})}

	s.mu.Lock()
	s.queue = append(s.queue, clip)
	s.mu.Unlock()

	select {
	case <-clip.done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.queue = slices.DeleteFunc(s.queue, func(queued *queuedClip) bool { return queued == clip })
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *speaker) close() {
	s.device.Uninit()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, clip := range s.queue {
		close(clip.done)
	}
	s.queue = nil
}
