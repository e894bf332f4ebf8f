package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/obfuscation"
	"github.com/raaihank/pii-veil/internal/session"
	"github.com/raaihank/pii-veil/internal/websocket"
)

// ObfuscateRequest is the body of POST /v1/obfuscate
type ObfuscateRequest struct {
	Text        string   `json:"text"`
	CustomWords []string `json:"custom_words"`
}

// ObfuscateResponse is returned by the obfuscate endpoints
type ObfuscateResponse struct {
	Obfuscated string                     `json:"obfuscated"`
	Mappings   []obfuscation.MappingEntry `json:"mappings"`
	Findings   []obfuscation.Finding      `json:"findings"`
}

// DeobfuscateRequest is the body of POST /v1/deobfuscate
type DeobfuscateRequest struct {
	Text     string                     `json:"text"`
	Mappings []obfuscation.MappingEntry `json:"mappings"`
}

// DeobfuscateResponse is returned by the deobfuscate endpoints
type DeobfuscateResponse struct {
	Restored            string   `json:"restored"`
	MissingPlaceholders []string `json:"missing_placeholders"`
	UnknownPlaceholders []string `json:"unknown_placeholders"`
}

type textRequest struct {
	Text string `json:"text"`
}

type wordsRequest struct {
	Words []string `json:"words"`
}

type wordRequest struct {
	Word string `json:"word"`
}

func (s *Server) handleObfuscate(w http.ResponseWriter, r *http.Request) {
	var req ObfuscateRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	result := s.engine.Obfuscate(req.Text, req.CustomWords)
	s.broadcastMasking(r, "api", "", result.Mappings, start)

	writeJSON(w, http.StatusOK, newObfuscateResponse(result.Obfuscated, result.Mappings))
}

func (s *Server) handleDeobfuscate(w http.ResponseWriter, r *http.Request) {
	var req DeobfuscateRequest
	if !s.decode(w, r, &req) {
		return
	}

	start := time.Now()
	resp := s.restore(req.Text, req.Mappings)
	s.broadcastRestore(r, "api", "", len(req.Mappings), resp, start)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Create(r.Context())
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.sessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionObfuscate(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := mux.Vars(r)["id"]
	start := time.Now()
	sess, err := s.sessions.Obfuscate(r.Context(), id, req.Text)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	s.broadcastMasking(r, "session", id, sess.Mappings, start)

	writeJSON(w, http.StatusOK, newObfuscateResponse(sess.MaskedText, sess.Mappings))
}

func (s *Server) handleSessionDeobfuscate(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := mux.Vars(r)["id"]
	start := time.Now()
	restored, mappings, err := s.sessions.Deobfuscate(r.Context(), id, req.Text)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}

	resp := DeobfuscateResponse{
		Restored:            restored,
		MissingPlaceholders: obfuscation.MissingPlaceholders(req.Text, mappings),
		UnknownPlaceholders: obfuscation.UnknownPlaceholders(req.Text, mappings),
	}
	s.broadcastRestore(r, "session", id, len(mappings), resp, start)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Clear(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSetCustomWords(w http.ResponseWriter, r *http.Request) {
	var req wordsRequest
	if !s.decode(w, r, &req) {
		return
	}

	sess, err := s.sessions.SetCustomWords(r.Context(), mux.Vars(r)["id"], req.Words)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAddCustomWord(w http.ResponseWriter, r *http.Request) {
	var req wordRequest
	if !s.decode(w, r, &req) {
		return
	}

	sess, err := s.sessions.AddCustomWord(r.Context(), mux.Vars(r)["id"], req.Word)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRemoveCustomWord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid index: %s", vars["index"]))
		return
	}

	sess, err := s.sessions.RemoveCustomWord(r.Context(), vars["id"], index)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// restore runs the reverse transform and reports placeholder drift
func (s *Server) restore(text string, mappings []obfuscation.MappingEntry) DeobfuscateResponse {
	return DeobfuscateResponse{
		Restored:            s.engine.Deobfuscate(text, mappings),
		MissingPlaceholders: obfuscation.MissingPlaceholders(text, mappings),
		UnknownPlaceholders: obfuscation.UnknownPlaceholders(text, mappings),
	}
}

func newObfuscateResponse(masked string, mappings []obfuscation.MappingEntry) ObfuscateResponse {
	if mappings == nil {
		mappings = []obfuscation.MappingEntry{}
	}
	return ObfuscateResponse{
		Obfuscated: masked,
		Mappings:   mappings,
		Findings:   obfuscation.Summarize(mappings),
	}
}

func (s *Server) broadcastMasking(r *http.Request, source, sessionID string, mappings []obfuscation.MappingEntry, start time.Time) {
	findings := obfuscation.Summarize(mappings)
	if len(findings) > 0 {
		s.requestLogger(r).Info("Sensitive data masked",
			zap.String("source", source),
			zap.Int("mappings", len(mappings)),
			zap.Any("findings", findings))
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeMasking,
		RequestID: getRequestID(r.Context()),
		Data: websocket.MaskingEvent{
			Source:        source,
			SessionID:     sessionID,
			Findings:      findings,
			TotalFindings: len(mappings),
			ProcessingMS:  float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

func (s *Server) broadcastRestore(r *http.Request, source, sessionID string, mappings int, resp DeobfuscateResponse, start time.Time) {
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRestore,
		RequestID: getRequestID(r.Context()),
		Data: websocket.RestoreEvent{
			Source:              source,
			SessionID:           sessionID,
			Mappings:            mappings,
			MissingPlaceholders: len(resp.MissingPlaceholders),
			UnknownPlaceholders: len(resp.UnknownPlaceholders),
			ProcessingMS:        float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

// decode reads a JSON body, writing the error response itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrIndexOutOfRange), errors.Is(err, session.ErrBlankWord):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.requestLogger(r).WithSession(mux.Vars(r)["id"]).Error("Session operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
