package miniaudio

import (
	"context"
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Client owns one malgo context with a capture and a playback device opened
// on the same encoding.
type Client struct {
	audioContext *malgo.AllocatedContext
	encodingInfo audio.EncodingInfo

	mic     *microphone
	speaker *speaker
}

type ClientOption func(*Client)

func WithSampleRate(sampleRate int) ClientOption {
	return func(c *Client) {
		if sampleRate > 0 {
			c.encodingInfo.SampleRate = sampleRate
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	client := &Client{
		audioContext: audioCtx,
		encodingInfo: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.speaker, err = newSpeaker(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, err
	}
	if client.mic, err = newMicrophone(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// Stream pushes captured audio to onAudio until ctx is done.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	return c.mic.stream(ctx, onAudio)
}

// PlayBlocking returns once the playback device has consumed the whole clip.
// If ctx ends first the rest of the clip is dropped and ctx's error returned.
func (c *Client) PlayBlocking(ctx context.Context, clip audio.Clip) error {
	clip, err := audio.Resample(clip, c.encodingInfo.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to convert clip: %w", err)
	}
	if len(clip.Audio) == 0 {
		return nil
	}
	return c.speaker.play(ctx, clip.Audio)
}

func (c *Client) Close() {
	if c.mic != nil {
		c.mic.close()
	}
	if c.speaker != nil {
		c.speaker.close()
	}
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}

type DeviceInfo struct {
	Name      string
	IsDefault bool
}

// ListDevices enumerates capture and playback devices.
func ListDevices() (capture []DeviceInfo, playback []DeviceInfo, err error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}
	defer func() {
		err = errors.Join(err, audioCtx.Uninit())
		audioCtx.Free()
	}()

	captureDevices, err := audioCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list capture devices: %w", err)
	}
	for _, device := range captureDevices {
		capture = append(capture, DeviceInfo{Name: device.Name(), IsDefault: device.IsDefault != 0})
	}

	playbackDevices, err := audioCtx.Devices(malgo.Playback)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list playback devices: %w", err)
	}
	for _, device := range playbackDevices {
		playback = append(playback, DeviceInfo{Name: device.Name(), IsDefault: device.IsDefault != 0})
	}

	return capture, playback, nil
}
