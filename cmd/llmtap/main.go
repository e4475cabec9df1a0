// llmtap is a transparent recording proxy for LLM HTTP APIs.
//
// It forwards every request to one upstream server byte for byte,
// streams the response back as it arrives, and can record each exchange
// with per-chunk timestamps so it can be replayed later with the
// original pacing.
//
// Usage:
//
//	# Forward localhost:8080 to a local Ollama
//	llmtap serve
//
//	# Forward to another upstream and record every exchange
//	llmtap serve --upstream http://gpu-box:11434 --capture
//
//	# Replay a recorded stream to stdout at double speed
//	llmtap replay Data/ReplayableRequest-20240101T120000.000000000-3f2a9c1b.json --speed 2
//
//	# List recorded captures
//	llmtap captures list
package main

func main() {
	Execute()
}
