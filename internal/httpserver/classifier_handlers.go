package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tokligence/walletchat/internal/assistant"
	"github.com/tokligence/walletchat/internal/chat"
)

type suggestionRequest struct {
	Messages    []chat.Message  `json:"messages"`
	WalletState json.RawMessage `json:"walletState,omitempty"`
}

type suggestionResponse struct {
	Suggestions []string `json:"suggestions"`
}

type actionRequest struct {
	Message     string          `json:"message"`
	WalletState json.RawMessage `json:"walletState,omitempty"`
}

// HandleSuggestions returns follow-up questions for the conversation.
func (s *Server) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionRequest
	if status, err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, status, err)
		return
	}

	start := time.Now()
	suggestions, err := s.assistant.Suggest(r.Context(), assistant.SuggestionInput{Messages: req.Messages, WalletState: req.WalletState})
	if err != nil {
		s.classifierFailed(w, r, "suggestions", start, err)
		return
	}
	s.metrics.RecordUpstream("suggestions", time.Since(start), nil)

	outcome := "ok"
	if len(suggestions) == 0 {
		outcome = "empty"
	}
	s.metrics.RecordClassifierOutcome("suggestions", outcome)
	s.respondJSON(w, http.StatusOK, suggestionResponse{Suggestions: suggestions})
}

// HandleAction classifies a user message into a wallet action.
func (s *Server) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if status, err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, status, err)
		return
	}

	start := time.Now()
	action, err := s.assistant.DetectAction(r.Context(), assistant.ActionInput{Message: req.Message, WalletState: req.WalletState})
	if err != nil {
		s.classifierFailed(w, r, "action", start, err)
		return
	}
	s.metrics.RecordUpstream("action", time.Since(start), nil)
	s.metrics.RecordClassifierOutcome("action", action.Action)
	s.respondJSON(w, http.StatusOK, action)
}

func (s *Server) classifierFailed(w http.ResponseWriter, r *http.Request, call string, start time.Time, err error) {
	status := statusForError(err)
	if !errors.Is(err, assistant.ErrInvalidRequest) {
		s.metrics.RecordUpstream(call, time.Since(start), err)
		s.logger.Warn("classifier call failed",
			zap.String("call", call),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	s.respondError(w, status, err)
}
