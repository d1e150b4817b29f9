package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultVoice   = "JBFqnCBsd6RMkjVDRZzb"
	defaultModel   = "eleven_flash_v2_5"
)

// TextToSpeechClient turns one piece of text into one raw PCM clip with a
// single request.
type TextToSpeechClient struct {
	options texttospeech.TextToSpeechOptions
}

func NewTextToSpeechClient(opts ...texttospeech.TextToSpeechOption) (*TextToSpeechClient, error) {
	options := texttospeech.NewOptions(texttospeech.TextToSpeechOptions{
		Voice:   defaultVoice,
		Model:   defaultModel,
		BaseURL: defaultBaseURL,
	}, opts...)
	if options.APIKey == "" {
		options.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if options.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs api key not found")
	}
	if _, err := outputFormat(options.EncodingInfo); err != nil {
		return nil, err
	}

	return &TextToSpeechClient{options: options}, nil
}

func outputFormat(encoding audio.EncodingInfo) (string, error) {
	if encoding.Format != audio.EncodingLinear16 {
		return "", fmt.Errorf("unsupported encoding: %s", encoding.Format.Name())
	}
	switch encoding.SampleRate {
	case 8000, 16000, 22050, 24000, 44100, 48000:
		return "pcm_" + strconv.Itoa(encoding.SampleRate), nil
	default:
		return "", fmt.Errorf("unsupported sample rate: %d", encoding.SampleRate)
	}
}

func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string) (*audio.Clip, error) {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.voice", c.options.Voice),
		attribute.Int("request.text_length", len(text)),
	)

	clip, err := c.synthesize(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.audio_bytes", len(clip.Audio)))
	return clip, nil
}

func (c *TextToSpeechClient) synthesize(ctx context.Context, text string) (*audio.Clip, error) {
	format, err := outputFormat(c.options.EncodingInfo)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(strings.TrimSuffix(c.options.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(c.options.Voice))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("output_format", format)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: c.options.Model})
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("xi-api-key", c.options.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.options.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs http status=%d body=%s", resp.StatusCode, string(b))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs read error: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("elevenlabs returned no audio")
	}
	// Drop a trailing half sample so the clip stays sample aligned.
	pcm = pcm[:len(pcm)-len(pcm)%2]

	return &audio.Clip{Audio: pcm, EncodingInfo: c.options.EncodingInfo}, nil
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}
