package miniaudio

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

// microphone forwards captured blocks to whichever handler the current
// Stream call installed. Blocks arriving with no handler are discarded.
type microphone struct {
	device    *malgo.Device
	handler   atomic.Pointer[func([]byte)]
	streaming atomic.Bool
}

func newMicrophone(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) (*microphone, error) {
	m := &microphone{}
	frameSize := bytesPerDeviceFrame()

	device, err := openDevice(audioContext, malgo.Capture, encoding, func(_, input []byte, frameCount uint32) {
		size := int(frameCount) * frameSize
		if size == 0 || len(input) < size {
			return
		}
		if handler := m.handler.Load(); handler != nil {
			(*handler)(input[:size])
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	m.device = device
	return m, nil
}

// stream captures until ctx is done. Only one stream may run at a time.
func (m *microphone) stream(ctx context.Context, onAudio func([]byte)) error {
	if !m.streaming.CompareAndSwap(false, true) {
		return fmt.Errorf("capture already streaming")
	}
	defer m.streaming.Store(false)

	m.handler.Store(&onAudio)
	defer m.handler.Store(nil)

	if err := m.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	<-ctx.Done()

	// The handler is cleared first so a late callback cannot reach a caller
	// that has already returned.
	m.handler.Store(nil)
	if err := m.device.Stop(); err != nil {
		logger.Warn("failed to stop capture device", "error", err)
	}
	return nil
}

func (m *microphone) close() {
	m.handler.Store(nil)
	m.device.Uninit()
}
