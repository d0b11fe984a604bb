// Command minutes records meetings and turns them into transcripts,
// summaries and action items.
//
// Usage:
//
//	minutes [--config minutes.yaml] <command> [args]
//
// Commands:
//
//	serve        - HTTP API, live WebSocket, MCP over HTTP, metrics, health
//	record       - record from the terminal; Enter stops and prints the record
//	transcribe   - process a WAV file as if it had been recorded
//	devices      - list capture devices of the configured source
//	meetings     - list stored meetings
//	actions      - list action items or change their status
//	mcp          - serve the MCP tools over stdio
package main

import (
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "minutes:", err)
		os.Exit(1)
	}
}
