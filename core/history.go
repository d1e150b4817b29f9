package orchestration

import (
	"sync"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-voice/core/llms"
)

// History is the dialogue so far. It is shared by overlapping turns, so
// every access goes through its lock and the backend only ever sees a
// snapshot.
type History struct {
	mu       sync.Mutex
	messages []llms.Message
}

func NewHistory(messages ...llms.Message) *History {
	h := &History{}
	h.messages = append(h.messages, messages...)
	return h
}

func (h *History) Append(messages ...llms.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, messages...)
}

// AppendIf appends message only when keep still holds while the lock is
// held, so a turn cancelled in the meantime cannot sneak its reply in.
func (h *History) AppendIf(message llms.Message, keep func() bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !keep() {
		return false
	}
	h.messages = append(h.messages, message)
	return true
}

func (h *History) Snapshot() []llms.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := []llms.Message{}
	if err := copier.CopyWithOption(&snapshot, h.messages, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to copy history, falling back to shallow copy", "error", err)
		snapshot = append(snapshot[:0], h.messages...)
	}
	return snapshot
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
