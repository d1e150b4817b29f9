package miniaudio

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Devices are always opened mono and signed 16-bit; other encodings are
// converted before they reach the speaker.
const (
	deviceChannels = 1
	deviceFormat   = malgo.FormatS16
)

func bytesPerDeviceFrame() int {
	return malgo.SampleSizeInBytes(deviceFormat) * deviceChannels
}

func openDevice(audioContext *malgo.AllocatedContext, kind malgo.DeviceType, encoding audio.EncodingInfo, data malgo.DataProc) (*malgo.Device, error) {
	if encoding.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported device encoding: %s", encoding.Format.Name())
	}

	config := malgo.DefaultDeviceConfig(kind)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Alsa.NoMMap = 1
	switch kind {
	case malgo.Capture:
		config.Capture.Format = deviceFormat
		config.Capture.Channels = deviceChannels
		config.PerformanceProfile = malgo.LowLatency
		config.PeriodSizeInFrames = uint32(encoding.SampleRate / 100 * 3) // 30ms
		config.Periods = 3
	case malgo.Playback:
		config.Playback.Format = deviceFormat
		config.Playback.Channels = deviceChannels
		config.PeriodSizeInFrames = uint32(encoding.SampleRate / 10) // 100ms
		config.Periods = 4
	}

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{Data: data})
	if err != nil {
		return nil, err
	}
	return device, nil
}
