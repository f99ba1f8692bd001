package testutil

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"
)

// WriteSSE writes each payload as a "data:" event and flushes after every one,
// the way model providers stream completions.
func WriteSSE(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// SSEData returns the data payloads of an SSE body in order. Comment lines
// (": ping") are skipped.
func SSEData(body string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			out = append(out, payload)
		}
	}
	return out
}
