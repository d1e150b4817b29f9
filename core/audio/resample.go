package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts a mono linear16 clip to the target sample rate. Clips
// already at the target rate are returned unchanged.
func Resample(clip Clip, sampleRate int) (Clip, error) {
	if clip.EncodingInfo.SampleRate == sampleRate || len(clip.Audio) == 0 {
		return clip, nil
	}
	if clip.EncodingInfo.Format != EncodingLinear16 {
		return Clip{}, fmt.Errorf("unsupported encoding for resampling: %s", clip.EncodingInfo.Format.Name())
	}
	if clip.EncodingInfo.SampleRate <= 0 || sampleRate <= 0 {
		return Clip{}, fmt.Errorf("invalid sample rates: %d -> %d", clip.EncodingInfo.SampleRate, sampleRate)
	}

	resampler, err := resampling.New(&resampling.Config{
		InputRate:  float64(clip.EncodingInfo.SampleRate),
		OutputRate: float64(sampleRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return Clip{}, fmt.Errorf("failed to create resampler: %w", err)
	}

	numSamples := len(clip.Audio) / 2
	input := make([]float64, numSamples)
	for i := range numSamples {
		sample := int16(clip.Audio[i*2]) | int16(clip.Audio[i*2+1])<<8
		input[i] = float64(sample) / 32768.0
	}

	output, err := resampler.Process(input)
	if err != nil {
		return Clip{}, fmt.Errorf("resample error: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, s := range output {
		sample := int16(s * 32767.0)
		if s > 1.0 {
			sample = 32767
		} else if s < -1.0 {
			sample = -32768
		}
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}

	return Clip{
		Audio:        out,
		EncodingInfo: EncodingInfo{SampleRate: sampleRate, Format: EncodingLinear16},
	}, nil
}
