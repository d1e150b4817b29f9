package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voice/core/audio"
	"github.com/koscakluka/ema-voice/core/speechtotext"
)

const defaultListenURL = "wss://api.deepgram.com/v1/listen"

// TranscriptionClient keeps a live listen socket and exposes it as a
// per-frame transcriber: every sent frame returns the running hypothesis
// for the current utterance.
type TranscriptionClient struct {
	options   speechtotext.TranscriptionOptions
	listenURL string

	conn   *websocket.Conn
	connMu sync.Mutex

	stateMu   sync.Mutex
	finalized []string
	interim   string
	// resetAt is the audio offset, in seconds, of the last reset. Results
	// that end before it belong to an already finalized utterance.
	resetAt     float64
	sentSeconds float64
	lastMsgTs   time.Time
}

func NewTranscriptionClient(opts ...speechtotext.TranscriptionOption) *TranscriptionClient {
	options := speechtotext.TranscriptionOptions{
		Model:        "nova-3",
		Language:     "en-US",
		EncodingInfo: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.APIKey == "" {
		options.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	return &TranscriptionClient{
		options:   options,
		listenURL: defaultListenURL,
	}
}

// Connect opens the listen socket and starts reading results until ctx is
// done or the socket closes.
func (s *TranscriptionClient) Connect(ctx context.Context) error {
	if s.options.APIKey == "" {
		return fmt.Errorf("deepgram api key not found")
	}

	endpoint, err := listenURL(s.listenURL, listenOptions{
		encoding: s.options.EncodingInfo,
		model:    s.options.Model,
		language: s.options.Language,
	})
	if err != nil {
		return fmt.Errorf("invalid listen settings: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint,
		http.Header{"Authorization": {"Token " + s.options.APIKey}})
	if err != nil {
		return fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	go s.readAndProcessMessages(ctx, conn)
	go s.keepAlive(ctx)

	return nil
}

// Transcribe sends one frame and returns the hypothesis accumulated since
// the last Reset. Results for the frame itself usually arrive later and
// show up in a following call.
func (s *TranscriptionClient) Transcribe(ctx context.Context, frame audio.Frame) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.sendAudio(frame.Audio); err != nil {
		return "", err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.sentSeconds += frame.Duration.Seconds()
	return s.transcriptLocked(), nil
}

// Reset forgets the current hypothesis. Results still in flight for audio
// sent before the reset are ignored when they arrive.
func (s *TranscriptionClient) Reset() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.finalized = nil
	s.interim = ""
	s.resetAt = s.sentSeconds
	return nil
}

func (s *TranscriptionClient) transcriptLocked() string {
	parts := make([]string, 0, len(s.finalized)+1)
	parts = append(parts, s.finalized...)
	if s.interim != "" {
		parts = append(parts, s.interim)
	}
	return strings.Join(parts, " ")
}

func (s *TranscriptionClient) sendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("deepgram connection not open")
	}
	s.lastMsgTs = time.Now()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) sendKeepAlive() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	if err := s.conn.WriteJSON(
		struct {
			Type string `json:"type"`
		}{
			Type: "KeepAlive",
		}); err != nil {
		logger.Warn("failed to write keepalive to deepgram", "error", err)
	}
}

// keepAlive holds the socket open while no audio is flowing, e.g. when
// frames are being dropped upstream.
func (s *TranscriptionClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			idle := s.conn != nil && time.Since(s.lastMsgTs) >= 5*time.Second
			s.connMu.Unlock()
			if idle {
				s.sendKeepAlive()
			}
		}
	}
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		conn.Close()
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Error("failed to read deepgram websocket message", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg)
		}
	}
}

func (s *TranscriptionClient) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	if api.TypeResponse(parsedMsg.Type) != api.TypeMessageResponse {
		return
	}

	var msgResp api.MessageResponse
	if err := json.Unmarshal(msg, &msgResp); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "error", err)
		return
	}

	transcript := ""
	if len(msgResp.Channel.Alternatives) > 0 {
		transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
	}

	s.stateMu.Lock()
	if s.resetAt > 0 && msgResp.Start+msgResp.Duration <= s.resetAt {
		s.stateMu.Unlock()
		return
	}
	if msgResp.IsFinal {
		if transcript != "" {
			s.finalized = append(s.finalized, transcript)
		}
		s.interim = ""
	} else {
		s.interim = transcript
	}
	current := s.transcriptLocked()
	s.stateMu.Unlock()

	if s.options.PartialTranscriptionCallback != nil {
		s.options.PartialTranscriptionCallback(current)
	}
}

// Close asks the server to flush and close the stream, then closes the
// socket.
func (s *TranscriptionClient) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
	closeErr := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return closeErr
}
