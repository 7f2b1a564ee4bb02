package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"bananastore/internal/util"
	"bananastore/services/storefront/internal/apperr"
	"bananastore/services/storefront/internal/reveal"
	"bananastore/services/storefront/internal/security"
)

type chatRequest struct {
	Message string `json:"message"`
}

type revealFrame struct {
	Frame string `json:"frame"`
	Done  bool   `json:"done"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	view, err := s.dashboard.Load(r.Context(), sessionScope(r))
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleReveal streams the scramble animation of one credential as
// server-sent events. The final event carries the plain value.
func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	orderID := strings.TrimSpace(q.Get("orderId"))
	itemID := strings.TrimSpace(q.Get("itemId"))
	if orderID == "" || itemID == "" {
		writeError(w, http.StatusBadRequest, "orderId and itemId are required")
		return
	}
	value, err := s.dashboard.Credential(r.Context(), sessionScope(r), orderID, itemID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusOK, revealFrame{Frame: value, Done: true})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	err = reveal.Play(r.Context(), value, s.revealInterval, func(frame string, done bool) error {
		data, err := json.Marshal(revealFrame{Frame: frame, Done: done})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: frame\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && r.Context().Err() == nil {
		util.LoggerFromContext(r.Context()).Warn("reveal stream failed", "order_id", orderID, "err", err)
	}
}

func (s *Server) handleDashboardConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	target, err := s.dashboard.Connect(r.Context(), sessionScope(r))
	if err != nil {
		s.audit(r, "dashboard.discord.connect", security.OutcomeFail, "reason", apperr.UserMessage(err))
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "dashboard.discord.connect", security.OutcomeSuccess)
	writeJSON(w, http.StatusOK, map[string]string{"redirectUrl": target})
}

func (s *Server) handleDashboardUnlink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, err := s.dashboard.Unlink(r.Context(), sessionScope(r))
	if err != nil {
		s.audit(r, "dashboard.discord.unlink", security.OutcomeFail, "reason", apperr.UserMessage(err))
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "dashboard.discord.unlink", security.OutcomeSuccess, "user_id", user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	scope := sessionScope(r)
	switch r.Method {
	case http.MethodGet:
		history, err := s.assistant.History(r.Context(), scope)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": history})
	case http.MethodPost:
		if !s.allowRate(w, r, s.chatLimiter, "too many messages") {
			s.audit(r, "chat.send", security.OutcomeRateLimited)
			return
		}
		var req chatRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		added, err := s.assistant.Send(r.Context(), scope, req.Message)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": added})
	case http.MethodDelete:
		if err := s.assistant.Clear(r.Context(), scope); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}
