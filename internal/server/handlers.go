package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/bankabc/voicegate/internal/agent"
	"github.com/bankabc/voicegate/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

type callStartRequest struct {
	EnvKey string `json:"env_key"`
}

func (s *Server) handleCallStart(w http.ResponseWriter, r *http.Request) {
	var req callStartRequest
	if r.Body != nil {
		// An empty body means the default environment.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	res, err := s.orch.StartCall(r.Context(), req.EnvKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not start call")
		return
	}

	resp := map[string]interface{}{
		"session_id":  res.SessionID,
		"greeting":    res.Greeting,
		"is_verified": res.IsVerified,
	}
	if audio := s.synthesizer.Synthesize(r.Context(), res.Greeting); len(audio) > 0 {
		resp["audio_base64"] = base64.StdEncoding.EncodeToString(audio)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCallTurn(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxAudioBytes+(1<<16))
	if err := r.ParseMultipartForm(s.maxAudioBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio_too_large",
			fmt.Sprintf("audio must be at most %d bytes", s.maxAudioBytes))
		return
	}
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_session_id", "session_id form field required")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_audio", "audio file field required")
		return
	}
	defer file.Close()

	// Size gates run before any upstream call.
	if header.Size > s.maxAudioBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "audio_too_large",
			fmt.Sprintf("audio must be at most %d bytes", s.maxAudioBytes))
		return
	}
	if header.Size < s.minAudioBytes {
		writeError(w, http.StatusBadRequest, "audio_too_short",
			fmt.Sprintf("audio must be at least %d bytes", s.minAudioBytes))
		return
	}
	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_audio", "could not read audio")
		return
	}

	transcript := s.transcriber.Transcribe(r.Context(), audio)
	result, err := s.orch.Turn(r.Context(), sessionID, transcript)
	if err != nil {
		s.writeTurnError(w, err)
		return
	}

	resp := map[string]interface{}{
		"user_transcript": result.UserTranscript,
		"agent_response":  result.AgentResponse,
		"is_verified":     result.IsVerified,
	}
	if out := s.synthesizer.Synthesize(r.Context(), result.AgentResponse); len(out) > 0 {
		resp["audio_base64"] = base64.StdEncoding.EncodeToString(out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeTurnError maps orchestrator failures to API responses. Upstream error
// text never reaches the caller.
func (s *Server) writeTurnError(w http.ResponseWriter, err error) {
	var ue *agent.UpstreamUnavailableError
	switch {
	case errors.Is(err, agent.ErrEmptyTranscript):
		writeError(w, http.StatusBadRequest, "empty_transcript", "could not understand the audio, please try again")
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session")
	case errors.Is(err, session.ErrSessionEnded):
		writeError(w, http.StatusBadRequest, "session_ended", "this call has already ended")
	case errors.As(err, &ue):
		msg := "the service is busy, please try again shortly"
		if ue.RetryAfter > 0 {
			msg = fmt.Sprintf("the service is busy, please try again in %s", ue.RetryAfter.Round(time.Second))
		}
		log.Warn().Err(err).Bool("rate_limited", ue.RateLimited).Msg("turn_upstream_unavailable")
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", msg)
	default:
		log.Error().Err(err).Msg("turn_failed")
		writeError(w, http.StatusInternalServerError, "internal", "could not process the turn")
	}
}

type callEndRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleCallEnd(w http.ResponseWriter, r *http.Request) {
	var req callEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id required")
		return
	}

	closing, err := s.orch.EndCall(r.Context(), req.SessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session")
		return
	case errors.Is(err, session.ErrSessionEnded):
		writeError(w, http.StatusBadRequest, "session_ended", "this call has already ended")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", "could not end call")
		return
	}

	resp := map[string]interface{}{"message": closing}
	if audio := s.synthesizer.Synthesize(r.Context(), closing); len(audio) > 0 {
		resp["audio_base64"] = base64.StdEncoding.EncodeToString(audio)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not list sessions")
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	sess, err := s.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not read session")
		return
	}
	turns, err := s.store.Turns(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not read turns")
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"turns":   turns,
	})
}

func (s *Server) envKeyFrom(r *http.Request) string {
	if env := r.URL.Query().Get("env"); env != "" {
		return env
	}
	return s.defaultEnv
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	envKey := s.envKeyFrom(r)
	cfg, err := s.store.EnsureEnvConfig(r.Context(), envKey, agent.DefaultRuntimeConfig(envKey))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not read config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type configPatchRequest struct {
	BaseSystemPrompt *string           `json:"base_system_prompt"`
	RouterPrompt     *string           `json:"router_prompt"`
	ToolFlags        map[string]bool   `json:"tool_flags"`
	RoutingRules     map[string]string `json:"routing_rules"`
}

// handleConfigPatch applies a partial update: only the fields present in the
// request change; tool_flags entries merge into the stored map.
func (s *Server) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	envKey := s.envKeyFrom(r)
	var req configPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON")
		return
	}

	cfg, err := s.store.EnsureEnvConfig(r.Context(), envKey, agent.DefaultRuntimeConfig(envKey))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not read config")
		return
	}
	if req.BaseSystemPrompt != nil {
		cfg.BaseSystemPrompt = *req.BaseSystemPrompt
	}
	if req.RouterPrompt != nil {
		cfg.RouterPrompt = *req.RouterPrompt
	}
	for name, enabled := range req.ToolFlags {
		cfg.ToolFlags[name] = enabled
	}
	for k, v := range req.RoutingRules {
		cfg.RoutingRules[k] = v
	}
	if err := s.store.SaveConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not save config")
		return
	}

	log.Info().Str("env_key", envKey).Msg("config_updated")
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleConfigEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := s.store.ListEnvironments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "could not list environments")
		return
	}
	if envs == nil {
		envs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"environments": envs})
}
