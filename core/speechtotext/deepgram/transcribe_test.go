package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
)

func result(transcript string, isFinal bool, start, duration string) []byte {
	final := "false"
	if isFinal {
		final = "true"
	}
	return []byte(`{"type":"Results","start":` + start + `,"duration":` + duration +
		`,"is_final":` + final +
		`,"channel":{"alternatives":[{"transcript":"` + transcript + `"}]}}`)
}

func TestProcessMessageAccumulatesFinalAndInterimResults(t *testing.T) {
	client := NewTranscriptionClient(speechtotext.WithAPIKey("test"))

	client.processMessage(result("hello", true, "0", "0.5"))
	client.processMessage(result("wor", false, "0.5", "0.3"))

	if got := client.transcriptLocked(); got != "hello wor" {
		t.Fatalf("expected %q, got %q", "hello wor", got)
	}

	client.processMessage(result("world", true, "0.5", "0.5"))
	if got := client.transcriptLocked(); got != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", got)
	}
}

func TestProcessMessageIgnoresNonResultMessages(t *testing.T) {
	client := NewTranscriptionClient(speechtotext.WithAPIKey("test"))

	client.processMessage([]byte(`{"type":"Metadata","request_id":"abc"}`))
	client.processMessage([]byte(`not json`))

	if got := client.transcriptLocked(); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestResetDropsResultsForAudioSentBeforeIt(t *testing.T) {
	client := NewTranscriptionClient(speechtotext.WithAPIKey("test"))
	client.processMessage(result("hello", true, "0", "1"))

	client.sentSeconds = 1.6
	if err := client.Reset(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := client.transcriptLocked(); got != "" {
		t.Fatalf("expected empty transcript after reset, got %q", got)
	}

	client.processMessage(result("hello again", true, "1", "0.6"))
	if got := client.transcriptLocked(); got != "" {
		t.Fatalf("expected stale result to be ignored, got %q", got)
	}

	client.processMessage(result("next", false, "1.6", "0.3"))
	if got := client.transcriptLocked(); got != "next" {
		t.Fatalf("expected %q, got %q", "next", got)
	}
}

func TestPartialCallbackReceivesFullHypothesis(t *testing.T) {
	var got []string
	client := NewTranscriptionClient(
		speechtotext.WithAPIKey("test"),
		speechtotext.WithPartialTranscriptionCallback(func(transcript string) {
			got = append(got, transcript)
		}),
	)

	client.processMessage(result("good", true, "0", "0.4"))
	client.processMessage(result("morning", false, "0.4", "0.4"))

	if len(got) != 2 || got[0] != "good" || got[1] != "good morning" {
		t.Fatalf("expected [good, good morning], got %v", got)
	}
}

func TestTranscribeWithoutConnectionFails(t *testing.T) {
	client := NewTranscriptionClient(speechtotext.WithAPIKey("test"))

	_, err := client.Transcribe(context.Background(), audio.Frame{Audio: []byte{0, 0}, Duration: time.Millisecond})
	if err == nil {
		t.Fatalf("expected error when not connected")
	}
}

func TestConnectStreamsFramesAndReadsResults(t *testing.T) {
	upgrader := websocket.Upgrader{}
	requests := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				if err := conn.WriteMessage(websocket.TextMessage, result("hello", true, "0", "0.16")); err != nil {
					return
				}
			}
		}
	}))
	defer server.Close()

	partials := make(chan string, 8)
	client := NewTranscriptionClient(
		speechtotext.WithAPIKey("secret"),
		speechtotext.WithPartialTranscriptionCallback(func(transcript string) {
			partials <- transcript
		}),
	)
	client.listenURL = "ws" + strings.TrimPrefix(server.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	defer client.Close()

	frame := audio.Frame{Audio: make([]byte, 5120), Duration: audio.DefaultFrameDuration}
	if _, err := client.Transcribe(ctx, frame); err != nil {
		t.Fatalf("expected transcribe to succeed, got %v", err)
	}

	select {
	case partial := <-partials:
		if partial != "hello" {
			t.Fatalf("expected %q, got %q", "hello", partial)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a transcription result")
	}

	got, err := client.Transcribe(ctx, frame)
	if err != nil {
		t.Fatalf("expected transcribe to succeed, got %v", err)
	}
	if !strings.HasPrefix(got, "hello") {
		t.Fatalf("expected transcript to start with hello, got %q", got)
	}

	request := <-requests
	gotAuth := request.Header.Get("Authorization")
	gotQuery := request.URL.RawQuery
	if gotAuth != "Token secret" {
		t.Fatalf("expected token auth header, got %q", gotAuth)
	}
	for _, param := range []string{"encoding=linear16", "sample_rate=16000", "interim_results=true", "model=nova-3"} {
		if !strings.Contains(gotQuery, param) {
			t.Fatalf("expected query to contain %q, got %q", param, gotQuery)
		}
	}
}

func TestListenURLRejectsUnsupportedEncodings(t *testing.T) {
	cases := []audio.EncodingInfo{
		{SampleRate: 11025, Format: audio.EncodingLinear16},
		{SampleRate: 16000, Format: audio.EncodingMulaw},
		{SampleRate: 16000, Format: audio.EncodingALaw},
	}
	for _, encoding := range cases {
		if _, err := listenURL(defaultListenURL, listenOptions{encoding: encoding}); err == nil {
			t.Fatalf("expected %v to be rejected", encoding)
		}
	}

	got, err := listenURL(defaultListenURL, listenOptions{
		encoding: audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw},
		model:    "nova-3",
		language: "en-US",
	})
	if err != nil {
		t.Fatalf("expected mulaw at 8kHz to be accepted, got %v", err)
	}
	if !strings.Contains(got, "encoding=mulaw") || !strings.Contains(got, "sample_rate=8000") {
		t.Fatalf("expected mulaw query parameters, got %q", got)
	}
}
