package texttospeech

import (
	"net/http"

	"github.com/koscakluka/ema-voice/core/audio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type TextToSpeechOptions struct {
	APIKey  string
	Voice   string
	Model   string
	BaseURL string

	// EncodingInfo is the format clips are requested in. Only linear16 is
	// supported by every synthesizer.
	EncodingInfo audio.EncodingInfo

	HTTPClient *http.Client
}

type TextToSpeechOption func(*TextToSpeechOptions)

// NewOptions applies opts on top of the given defaults.
func NewOptions(defaults TextToSpeechOptions, opts ...TextToSpeechOption) TextToSpeechOptions {
	options := defaults
	if options.EncodingInfo.IsZero() {
		options.EncodingInfo = audio.GetDefaultEncodingInfo()
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return options
}

func WithAPIKey(apiKey string) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.APIKey = apiKey }
}

func WithVoice(voice string) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if voice != "" {
			o.Voice = voice
		}
	}
}

func WithModel(model string) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if model != "" {
			o.Model = model
		}
	}
}

func WithBaseURL(baseURL string) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.BaseURL = baseURL }
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TextToSpeechOption {
	return func(o *TextToSpeechOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

func WithHTTPClient(client *http.Client) TextToSpeechOption {
	return func(o *TextToSpeechOptions) { o.HTTPClient = client }
}
