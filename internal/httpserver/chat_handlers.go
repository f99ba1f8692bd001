package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tokligence/walletchat/internal/adapter"
	"github.com/tokligence/walletchat/internal/assistant"
	"github.com/tokligence/walletchat/internal/chat"
	"github.com/tokligence/walletchat/internal/metrics"
)

type chatRequest struct {
	Messages    []chat.Message  `json:"messages"`
	WalletState json.RawMessage `json:"walletState,omitempty"`
}

type sseDelta struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type sseError struct {
	Error string `json:"error"`
}

// HandleChat relays a streamed completion to the client as Server-Sent Events.
// Validation errors are plain JSON 400s; anything after that is reported in-stream.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()

	var req chatRequest
	if status, err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, status, err)
		return
	}

	ch, err := s.assistant.StreamChat(r.Context(), assistant.ChatInput{Messages: req.Messages, WalletState: req.WalletState})
	if err != nil && errors.Is(err, assistant.ErrInvalidRequest) {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := newSSEWriter(w)
	if err != nil {
		s.logger.Warn("chat stream open failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		s.metrics.RecordUpstream("chat", time.Since(reqStart), err)
		s.metrics.RecordStream(metrics.StreamOutcome{Errored: true})
		_ = sw.event(sseError{Error: err.Error()})
		return
	}

	out := s.relay(r, sw, ch)

	total := time.Since(reqStart)
	var streamErr error
	if out.Errored {
		streamErr = errors.New("stream error")
	}
	s.metrics.RecordUpstream("chat", total, streamErr)
	s.metrics.RecordStream(out)
	s.logger.Info("chat stream finished",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("model", s.assistant.ChatModel()),
		zap.Duration("total", total),
		zap.Duration("ttft", out.FirstToken),
		zap.Int("chunks", out.Chunks),
		zap.Bool("errored", out.Errored),
		zap.Bool("disconnected", out.Disconnected),
	)
}

// relay copies stream events to the client until the stream ends, fails or the
// client goes away. It returns once nothing more will be written.
func (s *Server) relay(r *http.Request, sw *sseWriter, ch <-chan adapter.StreamEvent) metrics.StreamOutcome {
	ctx := r.Context()
	start := time.Now()
	streamID := "wc-" + uuid.NewString()
	var out metrics.StreamOutcome

	var ping <-chan time.Time
	var ticker *time.Ticker
	if s.ssePingInterval > 0 {
		ticker = time.NewTicker(s.ssePingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			out.Disconnected = true
			return out
		case <-ping:
			if err := sw.comment("ping"); err != nil {
				out.Disconnected = true
				return out
			}
		case ev, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					out.Disconnected = true
					return out
				}
				if err := sw.done(); err != nil {
					out.Disconnected = true
				}
				return out
			}
			if ev.IsError() {
				if ctx.Err() != nil {
					out.Disconnected = true
					return out
				}
				out.Errored = true
				s.logger.Warn("chat stream failed", zap.Error(ev.Error), zap.Int("chunks", out.Chunks))
				_ = sw.event(sseError{Error: ev.Error.Error()})
				return out
			}
			if ev.Chunk == nil || ev.Chunk.Delta == "" {
				continue
			}
			if out.Chunks == 0 {
				out.FirstToken = time.Since(start)
			}
			out.Chunks++
			if ticker != nil {
				ticker.Reset(s.ssePingInterval)
			}
			if err := sw.event(sseDelta{ID: streamID, Content: ev.Chunk.Delta}); err != nil {
				out.Disconnected = true
				return out
			}
		}
	}
}

// sseWriter writes and flushes individual SSE frames.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (sw *sseWriter) event(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sw.write("data: " + string(payload) + "\n\n")
}

func (sw *sseWriter) comment(text string) error {
	return sw.write(": " + text + "\n\n")
}

func (sw *sseWriter) done() error {
	return sw.write("data: [DONE]\n\n")
}

func (sw *sseWriter) write(frame string) error {
	if _, err := io.WriteString(sw.w, frame); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
