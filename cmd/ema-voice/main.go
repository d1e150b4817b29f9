// Command ema-voice runs the voice sales assistant.
//
// Usage:
//
//	ema-voice [flags] [command]
//
// Commands:
//
//	run      - Talk to the assistant through the microphone (default)
//	chat     - Type to the assistant, replies are spoken
//	devices  - List capture and playback devices
package main

import (
	"fmt"
	"os"

	"github.com/koscakluka/ema-voice/cmd/ema-voice/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
