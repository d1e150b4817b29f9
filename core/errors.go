package orchestration

import "errors"

// Failures inside a turn are degraded into a shorter or generic reply and
// never stop the conversation. The sentinels let callers and logs tell the
// kinds apart.
var (
	ErrTranscriptionGap = errors.New("transcription gap")
	ErrGenerationFailed = errors.New("generation failed")
	ErrSynthesisFailed  = errors.New("synthesis failed")
	ErrActionFailed     = errors.New("action failed")
)
