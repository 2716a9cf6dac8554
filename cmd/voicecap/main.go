// Package main is the entry point for the voicecap CLI.
//
// Usage:
//
//	voicecap [--config FILE] [--env-file FILE] <command> [args]
//
// Commands:
//
//	record      - Record once and transcribe the result
//	transcribe  - Upload an existing recording for transcription
//	inspect     - Decode a recording and print its format
//	run         - Record and transcribe in a loop, with the HTTP API
package main

import (
	"fmt"
	"os"

	"github.com/skypro1111/voicecap/cmd/voicecap/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
