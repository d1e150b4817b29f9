package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voice/core/audio"
)

// Client drives the default input and output devices through the blocking
// PortAudio API. Capture and playback use separate streams so reading and
// writing never share one.
type Client struct {
	bufferSize int
	encoding   audio.EncodingInfo

	input  *portaudio.Stream
	output *portaudio.Stream

	in  []int16
	out []int16

	writeMu sync.Mutex
}

func NewClient(bufferSize int, sampleRate int) (*Client, error) {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	c := &Client{
		bufferSize: bufferSize,
		encoding:   audio.EncodingInfo{SampleRate: sampleRate, Format: audio.EncodingLinear16},
		in:         make([]int16, bufferSize),
		out:        make([]int16, bufferSize),
	}

	var err error
	if c.input, err = portaudio.OpenDefaultStream(1, 0, float64(sampleRate), bufferSize, c.in); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open PortAudio input stream: %w", err)
	}
	if c.output, err = portaudio.OpenDefaultStream(0, 1, float64(sampleRate), bufferSize, c.out); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open PortAudio output stream: %w", err)
	}
	if err := c.output.Start(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start PortAudio output stream: %w", err)
	}

	return c, nil
}

// Stream reads the input device on its own goroutine until ctx is done.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.input.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio input stream: %w", err)
	}

	go func() {
		defer func() {
			if err := c.input.Stop(); err != nil {
				logger.Warn("failed to stop PortAudio input stream", "error", err)
			}
		}()

		buf := make([]byte, len(c.in)*2)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := c.input.Read(); err != nil {
				logger.Warn("failed to read from PortAudio stream", "error", err)
				continue
			}
			for i, sample := range c.in {
				binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
			}
			chunk := make([]byte, len(buf))
			copy(chunk, buf)
			onAudio(chunk)
		}
	}()

	return nil
}

// PlayBlocking writes the clip buffer by buffer. The blocking writes pace
// the call to real time, ctx is checked between buffers.
func (c *Client) PlayBlocking(ctx context.Context, clip audio.Clip) error {
	clip, err := audio.Resample(clip, c.encoding.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to convert clip: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	bufferBytes := c.bufferSize * 2
	for offset := 0; offset < len(clip.Audio); offset += bufferBytes {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(offset+bufferBytes, len(clip.Audio))
		chunk := clip.Audio[offset:end]
		for i := range c.out {
			if i*2+1 < len(chunk) {
				c.out[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
			} else {
				c.out[i] = 0
			}
		}
		if err := c.output.Write(); err != nil {
			return fmt.Errorf("failed to write to PortAudio stream: %w", err)
		}
	}

	return nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

func (c *Client) Close() error {
	var err error
	if c.input != nil {
		err = errors.Join(err, c.input.Close())
	}
	if c.output != nil {
		err = errors.Join(err, c.output.Stop(), c.output.Close())
	}
	return errors.Join(err, portaudio.Terminate())
}
