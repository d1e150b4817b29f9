package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultSpeakURL = "wss://api.deepgram.com/v1/speak"

// TextToSpeechClient synthesizes one clip per call over the speak socket:
// Speak, Flush, collect audio until Flushed, Close.
type TextToSpeechClient struct {
	options texttospeech.TextToSpeechOptions
	voice   deepgramVoice
}

func NewTextToSpeechClient(opts ...texttospeech.TextToSpeechOption) (*TextToSpeechClient, error) {
	options := texttospeech.NewOptions(texttospeech.TextToSpeechOptions{
		Voice:   string(defaultVoice),
		BaseURL: defaultSpeakURL,
	}, opts...)
	if options.APIKey == "" {
		options.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	if options.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}

	voice := deepgramVoice(options.Voice)
	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice: %s", options.Voice)
	}
	if options.EncodingInfo.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported encoding: %s", options.EncodingInfo.Format.Name())
	}

	return &TextToSpeechClient{options: options, voice: voice}, nil
}

func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string) (*audio.Clip, error) {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.voice", string(c.voice)),
		attribute.Int("request.text_length", len(text)),
	)

	pcm, err := c.synthesize(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.audio_bytes", len(pcm)))
	return &audio.Clip{Audio: pcm, EncodingInfo: c.options.EncodingInfo}, nil
}

func (c *TextToSpeechClient) synthesize(ctx context.Context, text string) ([]byte, error) {
	conn, err := c.connectWebsocket(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
		return nil, fmt.Errorf("failed to send text to deepgram through websocket: %w", err)
	}
	if err := conn.WriteJSON(websocketMessage{Type: "Flush"}); err != nil {
		return nil, fmt.Errorf("failed to flush deepgram buffer through websocket: %w", err)
	}

	var pcm []byte
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("websocket read error: %w", err)
		}

		if msgType == websocket.BinaryMessage {
			pcm = append(pcm, msg...)
			continue
		}

		var parsedMsg websocketMessage
		if err := json.Unmarshal(msg, &parsedMsg); err != nil {
			logger.Warn("failed to unmarshal deepgram message", "error", err)
			continue
		}
		if parsedMsg.Type == "Flushed" {
			break
		}
	}

	if err := conn.WriteJSON(websocketMessage{Type: "Close"}); err != nil {
		logger.Debug("failed to send close message to deepgram websocket", "error", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("deepgram returned no audio")
	}
	return pcm[:len(pcm)-len(pcm)%2], nil
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context) (*websocket.Conn, error) {
	speakURL, err := url.Parse(c.options.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}
	urlValues := url.Values{}
	urlValues.Set("encoding", c.options.EncodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(c.options.EncodingInfo.SampleRate))
	urlValues.Set("model", string(c.voice))
	speakURL.RawQuery = urlValues.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + c.options.APIKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

