package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/bankabc/voicegate/internal/agent"
	"github.com/bankabc/voicegate/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 12,
	WriteBufferSize: 1 << 12,
	// Browser clients connect cross-origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsTurnRequest struct {
	Text string `json:"text"`
}

type wsTurnResponse struct {
	UserTranscript string `json:"user_transcript"`
	AgentResponse  string `json:"agent_response"`
	IsVerified     bool   `json:"is_verified"`
	AudioBase64    string `json:"audio_base64,omitempty"`
	Error          string `json:"error,omitempty"`
}

// handleChatSocket runs turns over a websocket. Text frames carry a JSON
// {"text": ...} turn; binary frames carry raw audio that goes through the
// same size gates and transcription as the HTTP turn endpoint.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "unknown session")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", "could not read session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws_upgrade_failed")
		return
	}
	defer conn.Close()
	log.Info().Str("session_id", sessionID).Msg("ws_connected")

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var transcript string
		switch msgType {
		case websocket.TextMessage:
			var req wsTurnRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				s.writeSocket(conn, wsTurnResponse{Error: "invalid_request"})
				continue
			}
			transcript = req.Text
		case websocket.BinaryMessage:
			if int64(len(payload)) > s.maxAudioBytes {
				s.writeSocket(conn, wsTurnResponse{Error: "audio_too_large"})
				continue
			}
			if int64(len(payload)) < s.minAudioBytes {
				s.writeSocket(conn, wsTurnResponse{Error: "audio_too_short"})
				continue
			}
			transcript = s.transcriber.Transcribe(r.Context(), payload)
		default:
			continue
		}

		result, err := s.orch.Turn(r.Context(), sessionID, transcript)
		if err != nil {
			s.writeSocket(conn, wsTurnResponse{Error: socketErrorCode(err)})
			if errors.Is(err, session.ErrSessionEnded) {
				return
			}
			continue
		}

		resp := wsTurnResponse{
			UserTranscript: result.UserTranscript,
			AgentResponse:  result.AgentResponse,
			IsVerified:     result.IsVerified,
		}
		if audio := s.synthesizer.Synthesize(r.Context(), result.AgentResponse); len(audio) > 0 {
			resp.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
		}
		s.writeSocket(conn, resp)
	}
}

func (s *Server) writeSocket(conn *websocket.Conn, resp wsTurnResponse) {
	if err := conn.WriteJSON(resp); err != nil {
		log.Warn().Err(err).Msg("ws_write_failed")
	}
}

func socketErrorCode(err error) string {
	var ue *agent.UpstreamUnavailableError
	switch {
	case errors.Is(err, agent.ErrEmptyTranscript):
		return "empty_transcript"
	case errors.Is(err, session.ErrSessionEnded):
		return "session_ended"
	case errors.As(err, &ue):
		return "upstream_unavailable"
	default:
		return "internal"
	}
}
