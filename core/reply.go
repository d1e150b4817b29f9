package orchestration

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

type ReplyKind string

const (
	ReplyKindChat     ReplyKind = "chat"
	ReplyKindDemo     ReplyKind = "demo"
	ReplyKindEnd      ReplyKind = "end"
	ReplyKindFallback ReplyKind = "fallback"
)

// Reply is the classified output of the generation backend.
type Reply interface {
	Kind() ReplyKind
	// Fragments are the sentences to speak, in order.
	Fragments() []string
}

type ChatReply struct {
	Messages []string
}

func (r ChatReply) Kind() ReplyKind     { return ReplyKindChat }
func (r ChatReply) Fragments() []string { return r.Messages }

// ActionReply asks for a demo to be booked before its messages are spoken.
type ActionReply struct {
	Messages []string
	Request  DemoRequest

	// Set once the action has run.
	Booking *Booking
	Err     error
}

func (r ActionReply) Kind() ReplyKind     { return ReplyKindDemo }
func (r ActionReply) Fragments() []string { return r.Messages }

// EndReply ends the conversation once its messages have been played.
type EndReply struct {
	Messages []string
}

func (r EndReply) Kind() ReplyKind     { return ReplyKindEnd }
func (r EndReply) Fragments() []string { return r.Messages }

// FallbackReply carries backend output that could not be classified. It is
// spoken as is.
type FallbackReply struct {
	Text string
}

func (r FallbackReply) Kind() ReplyKind { return ReplyKindFallback }
func (r FallbackReply) Fragments() []string {
	if strings.TrimSpace(r.Text) == "" {
		return nil
	}
	return []string{r.Text}
}

// ReplyFormat is the wire format the backend is asked to produce. Pass it
// to llms.WithResponseSchema to constrain structured output.
type ReplyFormat struct {
	Type     string   `json:"type" jsonschema:"enum=chat,enum=demo,enum=end" jsonschema_description:"chat to keep talking, demo to book a demo, end to finish the call"`
	Messages []string `json:"messages" jsonschema_description:"Sentences to speak, in order"`
	Time     string   `json:"time" jsonschema_description:"Demo time including the timezone, empty unless type is demo"`
	Email    string   `json:"email" jsonschema_description:"Email to send the demo invitation to, empty unless type is demo"`
}

// ParseReply classifies raw backend output. Malformed JSON is repaired
// when possible; anything still unusable becomes a FallbackReply so the
// turn always has something to say.
func ParseReply(raw string) (Reply, error) {
	var format ReplyFormat
	if err := unmarshalReply(raw, &format); err != nil {
		return FallbackReply{Text: raw}, fmt.Errorf("failed to parse reply: %w", err)
	}

	switch ReplyKind(strings.ToLower(strings.TrimSpace(format.Type))) {
	case ReplyKindChat:
		return ChatReply{Messages: format.Messages}, nil
	case ReplyKindDemo, "action":
		return ActionReply{
			Messages: format.Messages,
			Request:  DemoRequest{Time: format.Time, Email: format.Email},
		}, nil
	case ReplyKindEnd:
		return EndReply{Messages: format.Messages}, nil
	default:
		return FallbackReply{Text: raw}, fmt.Errorf("unknown reply type %q", format.Type)
	}
}

func unmarshalReply(raw string, v *ReplyFormat) error {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return fmt.Errorf("reply is not a json object")
	}

	err := json.Unmarshal([]byte(trimmed), v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); !ok {
		return err
	}

	fixed, repairErr := jsonrepair.JSONRepair(trimmed)
	if repairErr != nil {
		return fmt.Errorf("%w (repair failed: %v)", err, repairErr)
	}
	return json.Unmarshal([]byte(fixed), v)
}
