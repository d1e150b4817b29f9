package deepgram

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/koscakluka/ema-voice/core/audio"
)

var listenSampleRates = []int{8000, 16000, 24000, 32000, 48000}

// listenURL adds the stream description and recognition settings to base.
// Companded encodings are only accepted at telephony rate.
func listenURL(base string, options listenOptions) (string, error) {
	encoding := options.encoding
	if !slices.Contains(listenSampleRates, encoding.SampleRate) {
		return "", fmt.Errorf("unsupported sample rate: %d", encoding.SampleRate)
	}
	switch encoding.Format {
	case audio.EncodingLinear16:
	case audio.EncodingALaw, audio.EncodingMulaw:
		if encoding.SampleRate != 8000 {
			return "", fmt.Errorf("unsupported sample rate for %s encoding: %d", encoding.Format.Name(), encoding.SampleRate)
		}
	default:
		return "", fmt.Errorf("unsupported encoding: %s", encoding.Format.Name())
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid listen url: %w", err)
	}
	query := u.Query()
	query.Set("encoding", encoding.Format.Name())
	query.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	query.Set("channels", "1")
	query.Set("model", options.model)
	query.Set("language", options.language)
	query.Set("smart_format", "true")
	query.Set("interim_results", "true")
	u.RawQuery = query.Encode()
	return u.String(), nil
}

type listenOptions struct {
	encoding audio.EncodingInfo
	model    string
	language string
}
